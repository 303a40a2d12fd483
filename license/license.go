// Package license decides whether gated features may run. The check is
// local: a license expiry date compared against the current time, where the
// time may be cross-checked with a network Date header.
package license

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nikshitha/douyin-live-helper/config"
	"github.com/nikshitha/douyin-live-helper/logger"
)

// Status values reported by Check
const (
	StatusUngated = "ungated"
	StatusValid   = "valid"
	StatusExpired = "expired"
	StatusMissing = "missing"
)

// ErrBadExpiry is returned for an unparseable expires_at value
var ErrBadExpiry = errors.New("license: invalid expiry date")

var expiryLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

// Gate implements the feature gate used by the feature machines
type Gate struct {
	key       string
	expiresAt time.Time
	gated     map[string]bool
	timeURL   string
	timeout   time.Duration
	client    *http.Client
	now       func() time.Time
	logger    *logger.Logger

	mu     sync.Mutex
	offset time.Duration
	synced bool
}

// Option customises a Gate
type Option func(*Gate)

// WithHTTPClient replaces the client used for the time check
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gate) { g.client = c }
}

// WithNow replaces the local clock
func WithNow(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate builds a gate from the license config section
func NewGate(cfg config.LicenseConfig, log *logger.Logger, opts ...Option) (*Gate, error) {
	g := &Gate{
		key:     strings.TrimSpace(cfg.Key),
		gated:   make(map[string]bool, len(cfg.GatedFeatures)),
		timeURL: cfg.TimeCheckURL,
		timeout: time.Duration(cfg.TimeCheckTimeout) * time.Millisecond,
		client:  http.DefaultClient,
		now:     time.Now,
		logger:  log.WithModule("license"),
	}
	for _, f := range cfg.GatedFeatures {
		g.gated[strings.TrimSpace(f)] = true
	}
	if g.timeout <= 0 {
		g.timeout = 3 * time.Second
	}

	if exp := strings.TrimSpace(cfg.ExpiresAt); exp != "" {
		t, err := parseExpiry(exp)
		if err != nil {
			return nil, err
		}
		g.expiresAt = t
	}

	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func parseExpiry(s string) (time.Time, error) {
	for _, layout := range expiryLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			if layout == "2006-01-02" {
				// A bare date is valid through the end of that day
				t = t.Add(24*time.Hour - time.Nanosecond)
			}
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadExpiry, s)
}

// Permitted reports whether feature may start
func (g *Gate) Permitted(ctx context.Context, feature string) bool {
	status := g.Check(ctx, feature)
	if status == StatusUngated || status == StatusValid {
		return true
	}
	g.logger.WithFields(map[string]interface{}{
		"feature": feature,
		"status":  status,
	}).Warn("Feature blocked by license")
	return false
}

// Check returns the license status for feature
func (g *Gate) Check(ctx context.Context, feature string) string {
	if !g.gated[feature] {
		return StatusUngated
	}
	if g.key == "" || g.expiresAt.IsZero() {
		return StatusMissing
	}
	if g.Now(ctx).After(g.expiresAt) {
		return StatusExpired
	}
	return StatusValid
}

// ExpiresAt returns the configured expiry, zero when none
func (g *Gate) ExpiresAt() time.Time {
	return g.expiresAt
}

// Now returns the current time, corrected by the network clock when a time
// check URL is configured and reachable. Failures fall back to the local
// clock without surfacing an error.
func (g *Gate) Now(ctx context.Context) time.Time {
	local := g.now()
	if g.timeURL == "" {
		return local
	}

	remote, err := g.fetchTime(ctx)
	if err != nil {
		g.logger.WithError(err).Debug("Network time unavailable, using local clock")
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.synced {
			return local.Add(g.offset)
		}
		return local
	}

	g.mu.Lock()
	g.offset = remote.Sub(local)
	g.synced = true
	g.mu.Unlock()
	return remote
}

func (g *Gate) fetchTime(ctx context.Context) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, g.timeURL, nil)
	if err != nil {
		return time.Time{}, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return time.Time{}, err
	}
	defer resp.Body.Close()

	date := resp.Header.Get("Date")
	if date == "" {
		return time.Time{}, errors.New("response has no Date header")
	}
	return http.ParseTime(date)
}
