package wire

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrijs2005/gophpaste/internal/common"
)

// MaxBodySize bounds JSON request bodies. Chunk payloads are sent raw.
const MaxBodySize = 1 << 20

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteFail maps err to a FailResponse.
func WriteFail(w http.ResponseWriter, err error) {
	code := CodeOf(err)
	WriteJSON(w, code.HTTPStatus(), FailResponse{ErrorCode: int(code), Message: err.Error()})
}

// DecodeJSON reads a bounded JSON body into v.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodySize))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidRequest, err)
	}
	return nil
}

// ReadFail decodes a non-2xx response into a FailError. Bodies that are not
// a FailResponse still produce a FailError with CodeUnknown.
func ReadFail(resp *http.Response) *FailError {
	var fr FailResponse
	body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err := json.Unmarshal(body, &fr); err != nil || fr.ErrorCode == 0 {
		return &FailError{Code: CodeUnknown, Message: string(body), Status: resp.StatusCode}
	}
	return NewFailError(resp.StatusCode, fr)
}
