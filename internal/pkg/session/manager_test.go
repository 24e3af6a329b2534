package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tableside/internal/pkg/apperr"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewManager(rdb, "test-secret", time.Hour), mr
}

func TestIssueAndVerify(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Issue(ctx, "staff-1", "kitchen", "r1")
	require.NoError(t, err)
	require.NotEmpty(t, sess.Token)

	got, err := m.Verify(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, "kitchen", got.Role)
	assert.Equal(t, "r1", got.RestaurantID)
	assert.Equal(t, "staff-1", got.StaffID)
	assert.WithinDuration(t, sess.ExpiresAt, got.ExpiresAt, time.Second)
}

func TestVerifyRejectsRevokedSession(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Issue(ctx, "staff-1", "staff", "r1")
	require.NoError(t, err)
	require.NoError(t, m.Revoke(ctx, sess.ID))

	_, err = m.Verify(ctx, sess.Token)
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Issue(ctx, "staff-1", "staff", "r1")
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = m.Verify(ctx, sess.Token)
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	m, mr := newTestManager(t)
	other := NewManager(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), "other-secret", time.Hour)

	sess, err := other.Issue(context.Background(), "staff-1", "owner", "r1")
	require.NoError(t, err)

	_, err = m.Verify(context.Background(), sess.Token)
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))
}

func TestClientGateway(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Issue(ctx, "staff-1", "staff", "r1")
	require.NoError(t, err)

	node, err := m.GetClientGateway(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, node)

	require.NoError(t, m.SetClientGateway(ctx, sess, "gw-1"))
	node, err = m.GetClientGateway(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "gw-1", node)

	require.NoError(t, m.ClearClientGateway(ctx, sess.ID))
	node, err = m.GetClientGateway(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, node)
}

func TestParseUnverified(t *testing.T) {
	m, _ := newTestManager(t)
	sess, err := m.Issue(context.Background(), "staff-9", "cashier", "r7")
	require.NoError(t, err)

	got, err := ParseUnverified(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "cashier", got.Role)
	assert.Equal(t, "r7", got.RestaurantID)
	assert.False(t, got.Expired(time.Now()))
	assert.True(t, got.Expired(got.ExpiresAt))

	_, err = ParseUnverified("not-a-token")
	assert.Error(t, err)
}

func TestRequireSession(t *testing.T) {
	m, _ := newTestManager(t)
	sess, err := m.Issue(context.Background(), "staff-1", "staff", "r1")
	require.NoError(t, err)

	var seen Session
	h := RequireSession(m, func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+sess.Token)
	rec = httptest.NewRecorder()
	h(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, sess.ID, seen.ID)
}

func TestPinDirectory(t *testing.T) {
	hash, err := HashPin("123456")
	require.NoError(t, err)
	dir := NewPinDirectory([]StaffCredential{
		{ID: "s1", Role: "kitchen", RestaurantID: "r1", PinHash: hash},
	})

	got, err := dir.Authenticate("r1", "123456")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)

	_, err = dir.Authenticate("r1", "654321")
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))

	_, err = dir.Authenticate("r2", "123456")
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))

	_, err = dir.Authenticate("r1", "12ab")
	var ve *apperr.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "pin", ve.Field)
}
