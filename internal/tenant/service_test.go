package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edusekai/edusekai/internal/apiclient"
	"github.com/edusekai/edusekai/internal/audit"
)

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) Exists(ctx context.Context, label string) (bool, error) {
	args := m.Called(ctx, label)
	return args.Bool(0), args.Error(1)
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Get(ctx context.Context, label string) (bool, bool, error) {
	args := m.Called(ctx, label)
	return args.Bool(0), args.Bool(1), args.Error(2)
}

func (m *mockCache) Set(ctx context.Context, label string, exists bool, ttl time.Duration) error {
	args := m.Called(ctx, label, exists, ttl)
	return args.Error(0)
}

func (m *mockCache) Invalidate(ctx context.Context, label string) error {
	args := m.Called(ctx, label)
	return args.Error(0)
}

type mockAudit struct {
	mock.Mock
}

func (m *mockAudit) Log(ctx context.Context, event audit.Event) {
	m.Called(ctx, event)
}

func TestService_Exists_DirectoryOnly(t *testing.T) {
	ctx := context.Background()
	dir := new(mockDirectory)
	dir.On("Exists", ctx, "greenvale").Return(true, nil).Once()

	svc := NewService(dir, nil)
	ok, err := svc.Exists(ctx, "greenvale")

	require.NoError(t, err)
	assert.True(t, ok)
	dir.AssertExpectations(t)
}

func TestService_Exists_CacheHitSkipsDirectory(t *testing.T) {
	ctx := context.Background()
	dir := new(mockDirectory)
	cache := new(mockCache)
	cache.On("Get", ctx, "ghost").Return(false, true, nil).Once()

	svc := NewService(dir, nil, WithCache(cache, time.Minute))
	ok, err := svc.Exists(ctx, "ghost")

	require.NoError(t, err)
	assert.False(t, ok)
	dir.AssertNotCalled(t, "Exists", mock.Anything, mock.Anything)
	cache.AssertExpectations(t)
}

func TestService_Exists_CacheMissStoresAnswer(t *testing.T) {
	ctx := context.Background()
	dir := new(mockDirectory)
	cache := new(mockCache)
	cache.On("Get", ctx, "greenvale").Return(false, false, nil).Once()
	dir.On("Exists", ctx, "greenvale").Return(true, nil).Once()
	cache.On("Set", ctx, "greenvale", true, time.Minute).Return(nil).Once()

	svc := NewService(dir, nil, WithCache(cache, time.Minute))
	ok, err := svc.Exists(ctx, "greenvale")

	require.NoError(t, err)
	assert.True(t, ok)
	dir.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestService_Exists_CacheFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	dir := new(mockDirectory)
	cache := new(mockCache)
	cache.On("Get", ctx, "greenvale").Return(false, false, errors.New("redis down")).Once()
	dir.On("Exists", ctx, "greenvale").Return(true, nil).Once()
	cache.On("Set", ctx, "greenvale", true, time.Minute).Return(errors.New("redis down")).Once()

	svc := NewService(dir, nil, WithCache(cache, time.Minute))
	ok, err := svc.Exists(ctx, "greenvale")

	require.NoError(t, err)
	assert.True(t, ok)
}

func TestService_Exists_DirectoryErrorNotCached(t *testing.T) {
	ctx := context.Background()
	dir := new(mockDirectory)
	cache := new(mockCache)
	cache.On("Get", ctx, "greenvale").Return(false, false, nil).Once()
	dir.On("Exists", ctx, "greenvale").Return(false, errors.New("timeout")).Once()

	svc := NewService(dir, nil, WithCache(cache, time.Minute))
	_, err := svc.Exists(ctx, "greenvale")

	require.Error(t, err)
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Resolve_AuditsMiss(t *testing.T) {
	ctx := context.Background()
	dir := new(mockDirectory)
	dir.On("Exists", ctx, "ghost").Return(false, nil).Once()
	dir.On("Exists", ctx, "greenvale").Return(true, nil).Once()

	al := new(mockAudit)
	al.On("Log", ctx, mock.MatchedBy(func(e audit.Event) bool {
		return e.Type == audit.TypeTenantNotFound && e.Tenant == "ghost" && e.Host == "ghost.localhost:3555"
	})).Once()

	svc := NewService(dir, al)
	assert.ErrorIs(t, svc.Resolve(ctx, "ghost", "ghost.localhost:3555"), ErrTenantNotFound)
	assert.NoError(t, svc.Resolve(ctx, "greenvale", "greenvale.localhost:3555"))
	al.AssertExpectations(t)
}

func TestValidateLabel(t *testing.T) {
	valid := []string{"greenvale", "st-marys", "school42", "a"}
	for _, l := range valid {
		assert.NoError(t, ValidateLabel(l), l)
	}

	invalid := []string{"", "-lead", "trail-", "Upper", "under_score", "dot.ted", string(make([]byte, 64))}
	for _, l := range invalid {
		assert.ErrorIs(t, ValidateLabel(l), ErrInvalidLabel, l)
	}
}

func TestAPIDirectory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/organizations/check-domain/", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]bool{"exists": r.URL.Query().Get("domain") == "greenvale"})
	}))
	defer srv.Close()

	base := func(string) *url.URL {
		u, _ := url.Parse(srv.URL + "/api")
		return u
	}
	dir := NewAPIDirectory(base, apiclient.Options{})

	ok, err := dir.Exists(context.Background(), "greenvale")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = dir.Exists(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_Forget(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, NewService(new(mockDirectory), nil).Forget(ctx, "greenvale"), "no cache")

	cache := new(mockCache)
	cache.On("Invalidate", ctx, "greenvale").Return(nil).Once()
	cache.On("Invalidate", ctx, "ghost").Return(errors.New("connection refused")).Once()
	svc := NewService(new(mockDirectory), nil, WithCache(cache, time.Minute))

	require.NoError(t, svc.Forget(ctx, "greenvale"))
	err := svc.Forget(ctx, "ghost")
	assert.ErrorContains(t, err, "connection refused")
	cache.AssertExpectations(t)
}
