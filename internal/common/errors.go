package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid request")

	// Auth errors (control API token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Trust errors.
	ErrTokenInvalid     = errors.New("pairing token invalid")
	ErrPairingExpired   = errors.New("pairing request expired")
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrIdentityChanged  = errors.New("peer identity changed")
	ErrNotTrusted       = errors.New("peer not trusted")
	ErrNoPendingPairing = errors.New("no pending pairing")

	// Crypto errors.
	ErrDecryptFail = errors.New("decrypt failed")
	ErrEncryptFail = errors.New("encrypt failed")

	// Transport errors.
	ErrPeerUnreachable   = errors.New("peer unreachable")
	ErrInstanceMismatch  = errors.New("app instance id mismatch")
	ErrReceiveNotAllowed = errors.New("receiving from peer is disabled")

	// Connection state errors.
	ErrIllegalTransition = errors.New("illegal sync state transition")
	ErrPeerNotConnected  = errors.New("peer not connected")

	// Chunked transfer errors.
	ErrChunkOutOfRange = errors.New("chunk index out of range")
	ErrInvalidChunk    = errors.New("invalid chunk size")
	ErrPullChunkFail   = errors.New("pull file chunk failed")

	// Task errors.
	ErrUnknownTaskType = errors.New("unknown task type")
	ErrTaskFinished    = errors.New("task already finished")
)
