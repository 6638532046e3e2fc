// Package wire defines the JSON messages exchanged between peers and the
// helpers that encode them over HTTP. []byte fields travel as base64.
package wire

import (
	"encoding/json"

	"github.com/dmitrijs2005/gophpaste/internal/models"
)

// Route paths served by every peer.
const (
	PathTelnet       = "/sync/telnet"
	PathSyncInfo     = "/sync/syncInfo"
	PathShowToken    = "/sync/showToken"
	PathPair         = "/sync/pair"
	PathTrust        = "/sync/trust"
	PathHeartbeat    = "/sync/heartbeat"
	PathNotifyExit   = "/sync/notifyExit"
	PathNotifyRemove = "/sync/notifyRemove"
	PathPaste        = "/sync/paste"
	PathPullFile     = "/pull/file"
	PathPullIcon     = "/pull/icon"
)

type AppInfo struct {
	AppInstanceID string `json:"appInstanceId"`
	AppVersion    string `json:"appVersion"`
	UserName      string `json:"userName"`
}

type EndpointInfo struct {
	DeviceID     string            `json:"deviceId"`
	DeviceName   string            `json:"deviceName"`
	Platform     models.Platform   `json:"platform"`
	HostInfoList []models.HostInfo `json:"hostInfoList"`
	Port         int               `json:"port"`
}

// SyncInfo is what a device advertises about itself.
type SyncInfo struct {
	AppInfo      AppInfo      `json:"appInfo"`
	EndpointInfo EndpointInfo `json:"endpointInfo"`
}

// PeerRecord builds a fresh record in state CONNECTING from an advertisement.
func (s SyncInfo) PeerRecord() *models.PeerRecord {
	return &models.PeerRecord{
		AppInstanceID: s.AppInfo.AppInstanceID,
		AppVersion:    s.AppInfo.AppVersion,
		UserName:      s.AppInfo.UserName,
		DeviceID:      s.EndpointInfo.DeviceID,
		DeviceName:    s.EndpointInfo.DeviceName,
		Platform:      s.EndpointInfo.Platform,
		HostInfoList:  models.MergeHostInfo(nil, s.EndpointInfo.HostInfoList),
		Port:          s.EndpointInfo.Port,
		State:         models.SyncStateConnecting,
		AllowSend:     true,
		AllowReceive:  true,
	}
}

type TelnetResponse struct {
	AppInstanceID string `json:"appInstanceId"`
}

// PairingRequest is sent by the initiator. Token is the number the
// verifying device shows to its user.
type PairingRequest struct {
	SignPublicKey  []byte `json:"signPublicKey"`
	CryptPublicKey []byte `json:"cryptPublicKey"`
	Token          int    `json:"token"`
	Timestamp      int64  `json:"timestamp"`
}

// PairingResponse carries the verifier's identity. The response body is
// signed with IdentityKey's private half and the signature travels in the
// signature header.
type PairingResponse struct {
	IdentityKey    []byte `json:"identityKey"`
	CryptPublicKey []byte `json:"cryptPublicKey"`
	Timestamp      int64  `json:"timestamp"`
}

// TrustRequest upgrades a pending pairing to trust. Signature covers the
// JSON encoding of PairingRequest.
type TrustRequest struct {
	PairingRequest PairingRequest `json:"pairingRequest"`
	Signature      []byte         `json:"signature"`
}

type TrustResponse struct {
	PairingResponse PairingResponse `json:"pairingResponse"`
	Signature       []byte          `json:"signature"`
}

// HeartbeatRequest carries the sender's SyncInfo sealed with the session.
type HeartbeatRequest struct {
	Data []byte `json:"data"`
}

type PullFileRequest struct {
	ID         int64 `json:"id"`
	ChunkIndex int   `json:"chunkIndex"`
}

type PullIconRequest struct {
	Source string `json:"source"`
}

// FailResponse is the body of every non-2xx reply.
type FailResponse struct {
	ErrorCode int    `json:"errorCode"`
	Message   string `json:"message"`
}

// SigningBytes is the canonical encoding a signature covers.
func SigningBytes(v any) ([]byte, error) {
	return json.Marshal(v)
}
