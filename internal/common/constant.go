// Package common contains shared constants and sentinel errors used across
// gophpaste components.
package common

// Wire header names used on every peer-to-peer HTTP request.
const (
	// AppInstanceIDHeaderName identifies the calling device instance.
	AppInstanceIDHeaderName = "appInstanceId"
	// TargetAppInstanceIDHeaderName carries the instance the caller expects to reach.
	TargetAppInstanceIDHeaderName = "targetAppInstanceId"
	// SecureHeaderName marks a request whose body is sealed with the peer session.
	SecureHeaderName = "secure"
	// SignatureHeaderName carries a base64 Ed25519 signature over the response body.
	SignatureHeaderName = "signature"
	// PortHeaderName carries the caller's listening port so the callee can
	// reach back to a peer it has not discovered yet.
	PortHeaderName = "appPort"
)

// AccessTokenHeaderName is the gRPC metadata key used to carry the control
// API token on outbound requests.
const AccessTokenHeaderName = "access_token"
