package license

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikshitha/douyin-live-helper/config"
	"github.com/nikshitha/douyin-live-helper/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	return log
}

func fixedNow(s string) func() time.Time {
	t, _ := time.ParseInLocation("2006-01-02 15:04:05", s, time.Local)
	return func() time.Time { return t }
}

func licensed(expires string) config.LicenseConfig {
	return config.LicenseConfig{
		Key:           "LIVE-1234",
		ExpiresAt:     expires,
		GatedFeatures: []string{"ai_comment"},
	}
}

func TestUngatedFeaturesAlwaysPass(t *testing.T) {
	g, err := NewGate(config.LicenseConfig{GatedFeatures: []string{"ai_comment"}}, testLogger(t))
	require.NoError(t, err)

	assert.True(t, g.Permitted(context.Background(), "like"))
	assert.Equal(t, StatusMissing, g.Check(context.Background(), "ai_comment"))
	assert.False(t, g.Permitted(context.Background(), "ai_comment"))
}

func TestExpiryAgainstLocalClock(t *testing.T) {
	ctx := context.Background()

	g, err := NewGate(licensed("2026-10-15"), testLogger(t), WithNow(fixedNow("2026-10-15 23:00:00")))
	require.NoError(t, err)
	assert.Equal(t, StatusValid, g.Check(ctx, "ai_comment"), "a bare date lasts the whole day")

	g, err = NewGate(licensed("2026-10-15"), testLogger(t), WithNow(fixedNow("2026-10-16 00:00:01")))
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, g.Check(ctx, "ai_comment"))
	assert.False(t, g.Permitted(ctx, "ai_comment"))
}

func TestBadExpiry(t *testing.T) {
	_, err := NewGate(licensed("next tuesday"), testLogger(t))
	assert.ErrorIs(t, err, ErrBadExpiry)
}

func TestNetworkTimeOverridesLocalClock(t *testing.T) {
	remote := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Date", remote.Format(http.TimeFormat))
	}))
	defer srv.Close()

	cfg := licensed("2026-12-31")
	cfg.TimeCheckURL = srv.URL
	g, err := NewGate(cfg, testLogger(t), WithNow(fixedNow("2026-10-15 12:00:00")))
	require.NoError(t, err)

	assert.True(t, g.Now(context.Background()).Equal(remote))
	assert.Equal(t, StatusExpired, g.Check(context.Background(), "ai_comment"),
		"a rolled-back local clock does not extend the license")
}

func TestNetworkTimeFallsBackSilently(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	cfg := licensed("2026-12-31")
	cfg.TimeCheckURL = slow.URL
	cfg.TimeCheckTimeout = 50
	now := fixedNow("2026-10-15 12:00:00")
	g, err := NewGate(cfg, testLogger(t), WithNow(now))
	require.NoError(t, err)

	start := time.Now()
	assert.True(t, g.Permitted(context.Background(), "ai_comment"))
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, g.Now(context.Background()).Equal(now()))
}
