package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCode
	}{
		{common.ErrPairingExpired, CodePairingExpired},
		{fmt.Errorf("pair: %w", common.ErrTokenInvalid), CodeTokenInvalid},
		{common.ErrChunkOutOfRange, CodeOutRangeChunkIndex},
		{errors.New("other"), CodeUnknown},
		{&FailError{Code: CodeNotTrusted}, CodeNotTrusted},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CodeOf(tt.err), tt.err.Error())
	}
}

func TestWriteFail_ReadFail_RoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteFail(rec, fmt.Errorf("chunk 9: %w", common.ErrChunkOutOfRange))

	resp := rec.Result()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	fe := ReadFail(resp)
	assert.Equal(t, CodeOutRangeChunkIndex, fe.Code)
	assert.Equal(t, "OUT_RANGE_CHUNK_INDEX", fe.Code.String())
	require.ErrorIs(t, fe, common.ErrChunkOutOfRange)
}

func TestReadFail_NonJSONBody(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusBadGateway, Body: io.NopCloser(strings.NewReader("bad gateway"))}
	fe := ReadFail(resp)
	assert.Equal(t, CodeUnknown, fe.Code)
	require.ErrorIs(t, fe, common.ErrorInternal)
}

func TestPairingRequest_BytesAreBase64(t *testing.T) {
	b, err := json.Marshal(PairingRequest{SignPublicKey: []byte{0xff}, Token: 482913, Timestamp: 1})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"signPublicKey":"/w=="`)
	assert.Contains(t, string(b), `"token":482913`)
}

func TestSyncInfo_PeerRecordDedupesHosts(t *testing.T) {
	info := SyncInfo{
		AppInfo: AppInfo{AppInstanceID: "b"},
		EndpointInfo: EndpointInfo{
			HostInfoList: []models.HostInfo{{HostAddress: "10.0.0.2"}, {HostAddress: "10.0.0.2"}},
			Port:         13129,
		},
	}
	p := info.PeerRecord()
	assert.Equal(t, models.SyncStateConnecting, p.State)
	assert.Len(t, p.HostInfoList, 1)
	assert.True(t, p.AllowSend)
}

func TestDecodeJSON_Invalid(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
	var v PairingRequest
	require.ErrorIs(t, DecodeJSON(req, &v), common.ErrInvalidRequest)
}
