package trust

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/dbx/dbxtest"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPut_ReplacesNeverDuplicates(t *testing.T) {
	r := NewSQLiteRepository(dbxtest.OpenDB(t))
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, &models.TrustedIdentity{AppInstanceID: "b", SignPublicKey: []byte{1}, CryptPublicKey: []byte{2}}))
	require.NoError(t, r.Put(ctx, &models.TrustedIdentity{AppInstanceID: "b", SignPublicKey: []byte{3}, CryptPublicKey: []byte{4}}))

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	got, err := r.Get(ctx, "b")
	require.NoError(t, err)
	assert.True(t, got.SameKeys([]byte{3}, []byte{4}))
}

func TestGetDelete(t *testing.T) {
	r := NewSQLiteRepository(dbxtest.OpenDB(t))
	ctx := context.Background()

	_, err := r.Get(ctx, "b")
	require.ErrorIs(t, err, common.ErrorNotFound)

	require.NoError(t, r.Put(ctx, &models.TrustedIdentity{AppInstanceID: "b", SignPublicKey: []byte{1}, CryptPublicKey: []byte{2}}))
	require.NoError(t, r.Delete(ctx, "b"))

	_, err = r.Get(ctx, "b")
	require.ErrorIs(t, err, common.ErrorNotFound)
}
