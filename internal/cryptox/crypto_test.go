package cryptox

import (
	"testing"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPair(t *testing.T) (*Session, *Session) {
	t.Helper()
	a, err := GenerateIdentity()
	require.NoError(t, err)
	b, err := GenerateIdentity()
	require.NoError(t, err)

	aPub, err := a.CryptPublic()
	require.NoError(t, err)
	bPub, err := b.CryptPublic()
	require.NoError(t, err)

	sa, err := DeriveSession(a, bPub, "A", "B")
	require.NoError(t, err)
	sb, err := DeriveSession(b, aPub, "B", "A")
	require.NoError(t, err)
	return sa, sb
}

func TestDeriveSession_BothSidesAgree(t *testing.T) {
	sa, sb := newPair(t)
	assert.Equal(t, sa.Fingerprint(), sb.Fingerprint())

	ct, err := sa.Seal([]byte("clipboard"))
	require.NoError(t, err)
	pt, err := sb.Open(ct)
	require.NoError(t, err)
	assert.Equal(t, "clipboard", string(pt))
}

func TestSeal_RandomNonce(t *testing.T) {
	sa, _ := newPair(t)
	c1, err := sa.Seal([]byte("x"))
	require.NoError(t, err)
	c2, err := sa.Seal([]byte("x"))
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2)
}

func TestOpen_ForeignOrTampered(t *testing.T) {
	sa, _ := newPair(t)
	sc, _ := newPair(t)

	ct, err := sa.Seal([]byte("secret"))
	require.NoError(t, err)

	_, err = sc.Open(ct)
	require.ErrorIs(t, err, common.ErrDecryptFail)

	ct[len(ct)-1] ^= 0xff
	_, err = sa.Open(ct)
	require.ErrorIs(t, err, common.ErrDecryptFail)

	_, err = sa.Open([]byte{1, 2, 3})
	require.ErrorIs(t, err, common.ErrDecryptFail)
}

func TestSealJSON_RoundTrip(t *testing.T) {
	sa, sb := newPair(t)
	type msg struct {
		N int    `json:"n"`
		S string `json:"s"`
	}
	ct, err := sa.SealJSON(msg{N: 7, S: "hi"})
	require.NoError(t, err)

	var got msg
	require.NoError(t, sb.OpenJSON(ct, &got))
	assert.Equal(t, msg{N: 7, S: "hi"}, got)
}

func TestSignVerify(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)
	other, err := GenerateIdentity()
	require.NoError(t, err)

	sig := id.Sign([]byte("payload"))
	require.NoError(t, Verify(id.SignPublic(), []byte("payload"), sig))
	require.ErrorIs(t, Verify(id.SignPublic(), []byte("payload!"), sig), common.ErrSignatureInvalid)
	require.ErrorIs(t, Verify(other.SignPublic(), []byte("payload"), sig), common.ErrSignatureInvalid)
	require.ErrorIs(t, Verify([]byte{1}, []byte("payload"), sig), common.ErrSignatureInvalid)
}
