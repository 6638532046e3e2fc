package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskType selects the handler that executes a PasteTask.
type TaskType string

const (
	TaskTypeSync     TaskType = "sync"
	TaskTypeDelete   TaskType = "delete"
	TaskTypePullFile TaskType = "pull_file"
	TaskTypePullIcon TaskType = "pull_icon"
	TaskTypeCleanup  TaskType = "cleanup"
	TaskTypeRender   TaskType = "render"
)

// TaskStatus moves pending → running → succeeded|failed. Only Requeue may
// move a failed task back to pending.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
)

// Finished reports whether s is a terminal status.
func (s TaskStatus) Finished() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed
}

// PasteTask is a persisted unit of background work.
type PasteTask struct {
	ID         string
	PasteID    *int64
	Type       TaskType
	Status     TaskStatus
	CreateTime time.Time
	ModifyTime time.Time
	Extra      ExtraInfo
}

// Attempts is the number of executions recorded so far.
func (t *PasteTask) Attempts() int {
	return len(t.Extra.ExecutionHistories)
}

// ExtraKind is the discriminator of ExtraInfo.
type ExtraKind string

const (
	ExtraKindBase          ExtraKind = "base"
	ExtraKindPull          ExtraKind = "pull"
	ExtraKindSync          ExtraKind = "sync"
	ExtraKindDelayedDelete ExtraKind = "delayedDelete"
)

// ExecutionHistory records one execution of a task.
type ExecutionHistory struct {
	StartTime time.Time  `json:"startTime"`
	EndTime   time.Time  `json:"endTime"`
	Status    TaskStatus `json:"status"`
	Message   string     `json:"message,omitempty"`
}

// SyncExtra is the variant for sync tasks. An empty AppInstanceID means
// every connected peer that allows sending.
type SyncExtra struct {
	AppInstanceID string   `json:"appInstanceId,omitempty"`
	SyncFails     []string `json:"syncFails,omitempty"`
}

// PullExtra is the variant for pull_file and pull_icon tasks.
type PullExtra struct {
	FromAppInstanceID string `json:"fromAppInstanceId"`
	RemotePasteID     int64  `json:"remotePasteId,omitempty"`
	IconSource        string `json:"iconSource,omitempty"`
	ChunkSize         int64  `json:"chunkSize,omitempty"`
	// PullChunks[i] is true once chunk i has been written locally.
	PullChunks []bool `json:"pullChunks,omitempty"`
}

// DelayedDeleteExtra is the variant for delete tasks that wait.
type DelayedDeleteExtra struct {
	DeleteAt time.Time `json:"deleteAt"`
}

// ExtraInfo is a tagged union: Kind selects which variant pointer is set.
// Every variant shares ExecutionHistories.
type ExtraInfo struct {
	Kind               ExtraKind           `json:"type"`
	ExecutionHistories []ExecutionHistory  `json:"executionHistories"`
	Sync               *SyncExtra          `json:"sync,omitempty"`
	Pull               *PullExtra          `json:"pull,omitempty"`
	DelayedDelete      *DelayedDeleteExtra `json:"delayedDelete,omitempty"`
}

func NewBaseExtra() ExtraInfo {
	return ExtraInfo{Kind: ExtraKindBase}
}

func NewSyncExtra(target string) ExtraInfo {
	return ExtraInfo{Kind: ExtraKindSync, Sync: &SyncExtra{AppInstanceID: target}}
}

func NewPullExtra(from string, remotePasteID int64) ExtraInfo {
	return ExtraInfo{Kind: ExtraKindPull, Pull: &PullExtra{FromAppInstanceID: from, RemotePasteID: remotePasteID}}
}

func NewDelayedDeleteExtra(at time.Time) ExtraInfo {
	return ExtraInfo{Kind: ExtraKindDelayedDelete, DelayedDelete: &DelayedDeleteExtra{DeleteAt: at}}
}

// Validate checks that exactly the variant named by Kind is present.
func (e *ExtraInfo) Validate() error {
	set := map[ExtraKind]bool{
		ExtraKindSync:          e.Sync != nil,
		ExtraKindPull:          e.Pull != nil,
		ExtraKindDelayedDelete: e.DelayedDelete != nil,
	}
	switch e.Kind {
	case ExtraKindBase, ExtraKindSync, ExtraKindPull, ExtraKindDelayedDelete:
	default:
		return fmt.Errorf("unknown extra info kind %q", e.Kind)
	}
	for kind, present := range set {
		if kind == e.Kind && !present {
			return fmt.Errorf("extra info %q without its variant", e.Kind)
		}
		if kind != e.Kind && present {
			return fmt.Errorf("extra info %q carries a %q variant", e.Kind, kind)
		}
	}
	return nil
}

// UnmarshalJSON decodes and validates the discriminator.
func (e *ExtraInfo) UnmarshalJSON(b []byte) error {
	type plain ExtraInfo
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	if p.Kind == "" {
		p.Kind = ExtraKindBase
	}
	*e = ExtraInfo(p)
	return e.Validate()
}

// AppendHistory adds one execution record at the end.
func (e *ExtraInfo) AppendHistory(h ExecutionHistory) {
	e.ExecutionHistories = append(e.ExecutionHistories, h)
}

// ExtraKindFor returns the variant a task type uses.
func ExtraKindFor(t TaskType) ExtraKind {
	switch t {
	case TaskTypeSync:
		return ExtraKindSync
	case TaskTypePullFile, TaskTypePullIcon:
		return ExtraKindPull
	default:
		return ExtraKindBase
	}
}
