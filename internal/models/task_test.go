package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtraInfo_KeepsDiscriminator(t *testing.T) {
	e := NewSyncExtra("peer-b")
	e.Sync.SyncFails = []string{"peer-b"}
	e.AppendHistory(ExecutionHistory{
		StartTime: time.Unix(10, 0).UTC(),
		EndTime:   time.Unix(11, 0).UTC(),
		Status:    TaskStatusFailed,
		Message:   "connection refused",
	})

	b, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"type":"sync"`)

	var got ExtraInfo
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, ExtraKindSync, got.Kind)
	require.NotNil(t, got.Sync)
	assert.Equal(t, []string{"peer-b"}, got.Sync.SyncFails)
	require.Len(t, got.ExecutionHistories, 1)
	assert.Equal(t, "connection refused", got.ExecutionHistories[0].Message)
}

func TestExtraInfo_RejectsMismatchedVariant(t *testing.T) {
	var e ExtraInfo
	err := json.Unmarshal([]byte(`{"type":"pull","executionHistories":[],"sync":{}}`), &e)
	require.Error(t, err)

	err = json.Unmarshal([]byte(`{"type":"teleport","executionHistories":[]}`), &e)
	require.Error(t, err)
}

func TestExtraInfo_EmptyKindIsBase(t *testing.T) {
	var e ExtraInfo
	require.NoError(t, json.Unmarshal([]byte(`{"executionHistories":null}`), &e))
	assert.Equal(t, ExtraKindBase, e.Kind)
}

func TestExtraKindFor(t *testing.T) {
	assert.Equal(t, ExtraKindSync, ExtraKindFor(TaskTypeSync))
	assert.Equal(t, ExtraKindPull, ExtraKindFor(TaskTypePullFile))
	assert.Equal(t, ExtraKindPull, ExtraKindFor(TaskTypePullIcon))
	assert.Equal(t, ExtraKindBase, ExtraKindFor(TaskTypeCleanup))
}

func TestMergeHostInfo_DedupesByAddress(t *testing.T) {
	got := MergeHostInfo(
		[]HostInfo{{HostAddress: "192.168.1.5", NetworkPrefixLength: 24}},
		[]HostInfo{
			{HostAddress: "192.168.1.5", NetworkPrefixLength: 16},
			{HostAddress: "10.0.0.7", NetworkPrefixLength: 8},
			{HostAddress: "10.0.0.7", NetworkPrefixLength: 8},
		},
	)
	assert.Equal(t, []HostInfo{
		{HostAddress: "192.168.1.5", NetworkPrefixLength: 16},
		{HostAddress: "10.0.0.7", NetworkPrefixLength: 8},
	}, got)
}

func TestCandidateHosts_LastKnownFirst(t *testing.T) {
	p := &PeerRecord{
		HostInfoList:               []HostInfo{{HostAddress: "a"}, {HostAddress: "b"}},
		ConnectHostAddress:         "b",
		ConnectNetworkPrefixLength: 24,
	}
	got := p.CandidateHosts()
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].HostAddress)
	assert.Equal(t, "a", got[1].HostAddress)
}

func TestRemotePaste_FilesStartLoading(t *testing.T) {
	d := PasteData{AppInstanceID: "a", PasteID: 7, Type: PasteTypeFiles, Files: []PasteFile{{Name: "x", Size: 3}}}
	p := d.RemotePaste()
	assert.True(t, p.Remote)
	assert.Equal(t, int64(7), p.RemotePasteID)
	assert.Equal(t, PasteStateLoading, p.State)

	text := PasteData{AppInstanceID: "a", PasteID: 8, Type: PasteTypeText, Text: "hi"}.RemotePaste()
	assert.Equal(t, PasteStateLoaded, text.State)
}
