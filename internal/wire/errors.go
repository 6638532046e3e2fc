package wire

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/gophpaste/internal/common"
)

// ErrorCode identifies a failure across the wire.
type ErrorCode int

const (
	CodeUnknown            ErrorCode = 1000
	CodeInvalidParam       ErrorCode = 1001
	CodeNotFound           ErrorCode = 1002
	CodeTokenInvalid       ErrorCode = 2001
	CodePairingExpired     ErrorCode = 2002
	CodeSignInvalid        ErrorCode = 2003
	CodeInstanceMismatch   ErrorCode = 2004
	CodeIdentityChanged    ErrorCode = 2005
	CodeNotTrusted         ErrorCode = 2006
	CodeNoPendingPairing   ErrorCode = 2007
	CodeDecryptFail        ErrorCode = 3001
	CodeEncryptFail        ErrorCode = 3002
	CodeOutRangeChunkIndex ErrorCode = 4001
	CodePullFileChunkFail  ErrorCode = 4002
	CodeNotAllowReceive    ErrorCode = 4003
)

type codeInfo struct {
	name     string
	status   int
	sentinel error
}

var codes = map[ErrorCode]codeInfo{
	CodeUnknown:            {"UNKNOWN_ERROR", http.StatusInternalServerError, common.ErrorInternal},
	CodeInvalidParam:       {"INVALID_PARAMETER", http.StatusBadRequest, common.ErrInvalidRequest},
	CodeNotFound:           {"NOT_FOUND", http.StatusNotFound, common.ErrorNotFound},
	CodeTokenInvalid:       {"TOKEN_INVALID", http.StatusBadRequest, common.ErrTokenInvalid},
	CodePairingExpired:     {"PAIRING_EXPIRED", http.StatusBadRequest, common.ErrPairingExpired},
	CodeSignInvalid:        {"SIGN_INVALID", http.StatusBadRequest, common.ErrSignatureInvalid},
	CodeInstanceMismatch:   {"NOT_MATCH_APP_INSTANCE_ID", http.StatusBadRequest, common.ErrInstanceMismatch},
	CodeIdentityChanged:    {"IDENTITY_CHANGED", http.StatusConflict, common.ErrIdentityChanged},
	CodeNotTrusted:         {"NOT_TRUSTED", http.StatusUnauthorized, common.ErrNotTrusted},
	CodeNoPendingPairing:   {"NO_PENDING_PAIRING", http.StatusBadRequest, common.ErrNoPendingPairing},
	CodeDecryptFail:        {"DECRYPT_FAIL", http.StatusBadRequest, common.ErrDecryptFail},
	CodeEncryptFail:        {"ENCRYPT_FAIL", http.StatusInternalServerError, common.ErrEncryptFail},
	CodeOutRangeChunkIndex: {"OUT_RANGE_CHUNK_INDEX", http.StatusBadRequest, common.ErrChunkOutOfRange},
	CodePullFileChunkFail:  {"PULL_FILE_CHUNK_TASK_FAIL", http.StatusInternalServerError, common.ErrPullChunkFail},
	CodeNotAllowReceive:    {"NOT_ALLOW_RECEIVE", http.StatusForbidden, common.ErrReceiveNotAllowed},
}

func (c ErrorCode) String() string {
	if info, ok := codes[c]; ok {
		return info.name
	}
	return fmt.Sprintf("ERROR_%d", int(c))
}

// HTTPStatus is the status a responder uses for c.
func (c ErrorCode) HTTPStatus() int {
	if info, ok := codes[c]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// CodeOf maps an error to the code sent to the peer. Unknown errors map to
// CodeUnknown.
func CodeOf(err error) ErrorCode {
	var fe *FailError
	if errors.As(err, &fe) {
		return fe.Code
	}
	for code, info := range codes {
		if code != CodeUnknown && errors.Is(err, info.sentinel) {
			return code
		}
	}
	return CodeUnknown
}

// FailError is a FailResponse received from a peer. It unwraps to the
// matching sentinel in package common, so callers use errors.Is.
type FailError struct {
	Code    ErrorCode
	Message string
	Status  int
}

func (e *FailError) Error() string {
	return fmt.Sprintf("peer replied %s (%d): %s", e.Code, e.Status, e.Message)
}

func (e *FailError) Unwrap() error {
	if info, ok := codes[e.Code]; ok {
		return info.sentinel
	}
	return common.ErrorInternal
}

// NewFailError builds the error for a received FailResponse.
func NewFailError(status int, fr FailResponse) *FailError {
	return &FailError{Code: ErrorCode(fr.ErrorCode), Message: fr.Message, Status: status}
}
