// Package models defines the records persisted and exchanged by the sync
// engine: peers, paste items and paste tasks.
package models

import "time"

// SyncState is the connection state of one remote device.
type SyncState string

const (
	SyncStateConnected    SyncState = "CONNECTED"
	SyncStateConnecting   SyncState = "CONNECTING"
	SyncStateDisconnected SyncState = "DISCONNECTED"
	// SyncStateUnmatched means the peer's identity no longer matches the stored trust material.
	SyncStateUnmatched SyncState = "UNMATCHED"
	// SyncStateUnverified means a session exists but the user has not confirmed it.
	SyncStateUnverified SyncState = "UNVERIFIED"
)

// Valid reports whether s is one of the known states.
func (s SyncState) Valid() bool {
	switch s {
	case SyncStateConnected, SyncStateConnecting, SyncStateDisconnected,
		SyncStateUnmatched, SyncStateUnverified:
		return true
	}
	return false
}

// Platform describes the remote operating system.
type Platform struct {
	Name    string `json:"name"`
	Arch    string `json:"arch"`
	BitMode int    `json:"bitMode"`
	Version string `json:"version"`
}

// HostInfo is one address a peer can be reached on.
type HostInfo struct {
	NetworkPrefixLength int    `json:"networkPrefixLength"`
	HostAddress         string `json:"hostAddress"`
}

// PeerRecord is the persisted runtime info of one remote device instance.
type PeerRecord struct {
	AppInstanceID string
	AppVersion    string
	UserName      string

	DeviceID     string
	DeviceName   string
	Platform     Platform
	HostInfoList []HostInfo
	Port         int

	// ConnectHostAddress is the address the last successful resolve used.
	ConnectHostAddress         string
	ConnectNetworkPrefixLength int

	State SyncState
	// Unmatched is set when the peer failed an identity check. The peer
	// stays UNMATCHED until a pairing with it succeeds again.
	Unmatched    bool
	AllowSend    bool
	AllowReceive bool
	NoteName     string

	CreateTime time.Time
	ModifyTime time.Time
}

// MergeHostInfo appends the entries of add that are not yet present,
// comparing by address value. Order of existing entries is kept.
func MergeHostInfo(existing, add []HostInfo) []HostInfo {
	seen := make(map[string]int, len(existing)+len(add))
	out := make([]HostInfo, 0, len(existing)+len(add))
	for _, h := range existing {
		if _, ok := seen[h.HostAddress]; ok {
			continue
		}
		seen[h.HostAddress] = len(out)
		out = append(out, h)
	}
	for _, h := range add {
		if i, ok := seen[h.HostAddress]; ok {
			out[i].NetworkPrefixLength = h.NetworkPrefixLength
			continue
		}
		seen[h.HostAddress] = len(out)
		out = append(out, h)
	}
	return out
}

// CandidateHosts returns the addresses to probe, last known good one first.
func (p *PeerRecord) CandidateHosts() []HostInfo {
	out := make([]HostInfo, 0, len(p.HostInfoList)+1)
	if p.ConnectHostAddress != "" {
		out = append(out, HostInfo{HostAddress: p.ConnectHostAddress, NetworkPrefixLength: p.ConnectNetworkPrefixLength})
	}
	for _, h := range p.HostInfoList {
		if h.HostAddress == p.ConnectHostAddress {
			continue
		}
		out = append(out, h)
	}
	return out
}
