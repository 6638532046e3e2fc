package models

import "time"

// PasteType classifies clipboard content.
type PasteType string

const (
	PasteTypeText  PasteType = "text"
	PasteTypeURL   PasteType = "url"
	PasteTypeHTML  PasteType = "html"
	PasteTypeFiles PasteType = "files"
	PasteTypeImage PasteType = "image"
)

// HasFiles reports whether the payload is transferred as files.
func (t PasteType) HasFiles() bool {
	return t == PasteTypeFiles || t == PasteTypeImage
}

// PasteState tracks whether a paste's payload is fully present locally.
type PasteState string

const (
	PasteStateLoading PasteState = "loading"
	PasteStateLoaded  PasteState = "loaded"
	PasteStateDeleted PasteState = "deleted"
)

// PasteFile is one file of a file paste. Path is only meaningful on the
// device that holds the bytes.
type PasteFile struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Path string `json:"-"`
}

// PasteItem is one clipboard entry.
type PasteItem struct {
	ID int64
	// AppInstanceID is the device the content was copied on.
	AppInstanceID string
	// RemotePasteID is the id on the origin device for remote pastes.
	RemotePasteID int64
	Type          PasteType
	Text          string
	Files         []PasteFile
	Hash          string
	Size          int64
	Source        string
	Preview       string
	State         PasteState
	Remote        bool
	Favorite      bool
	CreateTime    time.Time
}

// PasteData is the wire form of a paste sent to peers.
type PasteData struct {
	AppInstanceID string      `json:"appInstanceId"`
	PasteID       int64       `json:"pasteId"`
	Type          PasteType   `json:"pasteType"`
	Text          string      `json:"text,omitempty"`
	Files         []PasteFile `json:"files,omitempty"`
	Hash          string      `json:"hash"`
	Size          int64       `json:"size"`
	Source        string      `json:"source,omitempty"`
	CreateTime    time.Time   `json:"createTime"`
	// ChunkSize is the chunk size the origin serves the files with.
	ChunkSize int64 `json:"chunkSize,omitempty"`
}

// ToPasteData converts a local paste to its wire form.
func (p *PasteItem) ToPasteData() PasteData {
	originID := p.ID
	if p.Remote {
		originID = p.RemotePasteID
	}
	return PasteData{
		AppInstanceID: p.AppInstanceID,
		PasteID:       originID,
		Type:          p.Type,
		Text:          p.Text,
		Files:         p.Files,
		Hash:          p.Hash,
		Size:          p.Size,
		Source:        p.Source,
		CreateTime:    p.CreateTime,
	}
}

// RemotePaste builds the local record for a paste received from a peer.
func (d PasteData) RemotePaste() *PasteItem {
	state := PasteStateLoaded
	if d.Type.HasFiles() && len(d.Files) > 0 {
		state = PasteStateLoading
	}
	return &PasteItem{
		AppInstanceID: d.AppInstanceID,
		RemotePasteID: d.PasteID,
		Type:          d.Type,
		Text:          d.Text,
		Files:         append([]PasteFile(nil), d.Files...),
		Hash:          d.Hash,
		Size:          d.Size,
		Source:        d.Source,
		State:         state,
		Remote:        true,
		CreateTime:    d.CreateTime,
	}
}
