package common_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/kessen/internal/pkg/common"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap/zaptest"
)

func TestSignVerify(t *testing.T) {
	t.Parallel()

	authService := &common.AuthService{Secret: []byte("secret"), TokenTTL: time.Hour}

	token, expiresAt, err := authService.Sign(common.Identity{Subject: "alice", Role: common.RoleMinter})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	identity, err := authService.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, common.Identity{Subject: "alice", Role: common.RoleMinter}, identity)

	other := &common.AuthService{Secret: []byte("other"), TokenTTL: time.Hour}
	_, err = other.Verify(token)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestSignDefaultsRole(t *testing.T) {
	t.Parallel()

	authService := &common.AuthService{Secret: []byte("secret"), TokenTTL: time.Hour}

	token, _, err := authService.Sign(common.Identity{Subject: "bob"})
	require.NoError(t, err)

	identity, err := authService.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, common.RoleParticipant, identity.Role)

	_, _, err = authService.Sign(common.Identity{})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestExpiredToken(t *testing.T) {
	t.Parallel()

	authService := &common.AuthService{Secret: []byte("secret"), TokenTTL: -time.Minute}

	token, _, err := authService.Sign(common.Identity{Subject: "alice"})
	require.NoError(t, err)

	_, err = authService.Verify(token)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", common.BearerToken("Bearer abc"))
	assert.Equal(t, "abc", common.BearerToken("  bearer   abc "))
	assert.Empty(t, common.BearerToken("Basic abc"))
	assert.Empty(t, common.BearerToken("abc"))
	assert.Empty(t, common.BearerToken(""))
}

func TestHasRole(t *testing.T) {
	t.Parallel()

	identity := common.Identity{Subject: "alice", Role: common.RoleAdmin}

	assert.True(t, identity.HasRole(common.RoleMinter, common.RoleAdmin))
	assert.False(t, identity.HasRole(common.RoleMinter))
}

func TestHTTPError(t *testing.T) {
	t.Parallel()

	logger := zaptest.NewLogger(t)

	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: asset_a", common.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: battle 5", common.ErrNotFound), http.StatusNotFound},
		{common.ErrParticipantMismatch, http.StatusConflict},
		{common.ErrUnauthorized, http.StatusForbidden},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		var httpErr *echo.HTTPError

		require.ErrorAs(t, common.HTTPError(logger, tt.err), &httpErr)
		assert.Equal(t, tt.status, httpErr.Code, tt.err.Error())
	}
}

func TestOpenDatabaseCreatesBuckets(t *testing.T) {
	t.Parallel()

	databaseService, err := common.OpenDatabase(t.TempDir())
	require.NoError(t, err)

	defer func() {
		_ = databaseService.Shutdown()
	}()

	err = databaseService.DB.View(func(tx *bolt.Tx) error {
		for _, bucket := range common.Buckets {
			assert.NotNil(t, tx.Bucket([]byte(bucket)), bucket)
		}

		return nil
	})
	require.NoError(t, err)
}

func TestKeyEncoding(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint64(42), common.KeyToUint64(common.Uint64ToKey(42)))
	assert.Equal(t, uint64(0), common.KeyToUint64([]byte{1}))
	assert.Less(t, string(common.Uint64ToKey(255)), string(common.Uint64ToKey(256)))

	assert.Equal(t, uint64(7), common.BytesToUint64(common.Uint64ToBytes(7), 0))
	assert.Equal(t, uint64(3), common.BytesToUint64(nil, 3))
}
