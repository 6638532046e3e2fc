package control

import "time"

type Empty struct{}

type PeerInfo struct {
	AppInstanceID string    `json:"appInstanceId"`
	DeviceName    string    `json:"deviceName"`
	NoteName      string    `json:"noteName,omitempty"`
	Platform      string    `json:"platform,omitempty"`
	State         string    `json:"state"`
	Host          string    `json:"host,omitempty"`
	Port          int       `json:"port"`
	AllowSend     bool      `json:"allowSend"`
	AllowReceive  bool      `json:"allowReceive"`
	ModifyTime    time.Time `json:"modifyTime"`
}

type ListPeersResponse struct {
	Peers []PeerInfo `json:"peers"`
}

type PeerRequest struct {
	AppInstanceID string `json:"appInstanceId"`
}

// UpdatePeerRequest changes per-peer settings. Nil fields are left as
// they are.
type UpdatePeerRequest struct {
	AppInstanceID string  `json:"appInstanceId"`
	AllowSend     *bool   `json:"allowSend,omitempty"`
	AllowReceive  *bool   `json:"allowReceive,omitempty"`
	NoteName      *string `json:"noteName,omitempty"`
}

type TokenRequest struct {
	AppInstanceID string `json:"appInstanceId"`
	Token         int    `json:"token"`
}

// GetTokenRequest asks for the verification queue. With Wait set the call
// blocks until the queue changes.
type GetTokenRequest struct {
	Wait bool `json:"wait,omitempty"`
}

// VerifyInfo is one verification entry. Shown entries carry the token this
// device displays; the others wait for the token shown on the peer.
type VerifyInfo struct {
	AppInstanceID string `json:"appInstanceId"`
	DeviceName    string `json:"deviceName"`
	Shown         bool   `json:"shown"`
	Token         int    `json:"token,omitempty"`
}

type GetTokenResponse struct {
	Requests []VerifyInfo `json:"requests"`
}

type ResolveResponse struct {
	State string `json:"state"`
}

type ListTasksRequest struct {
	Limit   int   `json:"limit,omitempty"`
	PasteID int64 `json:"pasteId,omitempty"`
}

type TaskInfo struct {
	ID          string    `json:"id"`
	PasteID     int64     `json:"pasteId,omitempty"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	LastMessage string    `json:"lastMessage,omitempty"`
	SyncFails   []string  `json:"syncFails,omitempty"`
	CreateTime  time.Time `json:"createTime"`
	ModifyTime  time.Time `json:"modifyTime"`
}

type ListTasksResponse struct {
	Tasks []TaskInfo `json:"tasks"`
}

type TaskRequest struct {
	ID string `json:"id"`
}

type AddTextRequest struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

type AddTextResponse struct {
	PasteID int64  `json:"pasteId"`
	Type    string `json:"type"`
}
