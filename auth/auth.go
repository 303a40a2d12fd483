// Package auth keeps the Douyin viewer session alive across runs.
// It restores saved cookies, waits for a manual QR login when they are
// missing or stale, and persists the session once the viewer is signed in.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/nikshitha/douyin-live-helper/config"
	"github.com/nikshitha/douyin-live-helper/logger"
	"github.com/nikshitha/douyin-live-helper/storage"
)

// Douyin URLs whose cookies make up the session
const (
	DouyinBaseURL = "https://www.douyin.com"
	LiveBaseURL   = "https://live.douyin.com"
)

// Error types for authentication
var (
	ErrLoginTimeout = errors.New("timed out waiting for login")
	ErrNoPage       = errors.New("no page attached")
)

// LoginChecker reports whether the page shows a signed-in viewer
type LoginChecker interface {
	IsLoggedIn(ctx context.Context) bool
}

// Navigator opens a URL in the attached page
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

// Authenticator handles the Douyin session
type Authenticator struct {
	config     *config.Config
	logger     *logger.Logger
	db         *storage.Database
	page       *rod.Page
	nav        Navigator
	checker    LoginChecker
	pollEvery  time.Duration
	isLoggedIn bool
}

// NewAuthenticator creates a new authenticator
func NewAuthenticator(cfg *config.Config, log *logger.Logger, db *storage.Database) *Authenticator {
	return &Authenticator{
		config:    cfg,
		logger:    log.WithModule("auth"),
		db:        db,
		pollEvery: 2 * time.Second,
	}
}

// SetPage sets the page, the navigator that drives it and the login probe
func (a *Authenticator) SetPage(page *rod.Page, nav Navigator, checker LoginChecker) {
	a.page = page
	a.nav = nav
	a.checker = checker
}

// Login opens roomURL with any saved session and, when the viewer is not
// signed in, waits for a QR login in the visible window
func (a *Authenticator) Login(ctx context.Context, roomURL string) error {
	if a.page == nil || a.nav == nil || a.checker == nil {
		return ErrNoPage
	}
	a.logger.Info("Starting login process")

	restored := a.restoreSession()

	if err := a.nav.Navigate(ctx, roomURL); err != nil {
		return fmt.Errorf("failed to open live room: %w", err)
	}

	if a.checker.IsLoggedIn(ctx) {
		a.isLoggedIn = true
		a.logger.WithField("restored_cookies", restored).Success("Session restored")
		return a.saveCookies()
	}

	timeout := time.Duration(a.config.Room.LoginTimeoutSec) * time.Second
	a.logger.WithField("timeout", timeout.String()).Warn("Not signed in, scan the QR code in the browser window to log in")

	if err := WaitForLogin(ctx, a.checker, timeout, a.pollEvery); err != nil {
		return err
	}

	a.isLoggedIn = true
	a.logger.Success("Login detected")
	return a.saveCookies()
}

// IsLoggedIn reports the result of the last Login
func (a *Authenticator) IsLoggedIn() bool {
	return a.isLoggedIn
}

// WaitForLogin polls checker until it reports a signed-in viewer. A zero
// timeout waits until ctx is done.
func WaitForLogin(ctx context.Context, checker LoginChecker, timeout, every time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if checker.IsLoggedIn(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrLoginTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// restoreSession loads saved cookies into the browser and returns how many
// were applied
func (a *Authenticator) restoreSession() int {
	cookies, err := a.db.LoadCookies()
	if err != nil {
		a.logger.WithError(err).Debug("Failed to load cookies from database")
	}
	if len(cookies) == 0 {
		cookies, err = storage.LoadCookiesFromFile(a.config.Storage.CookiesPath)
		if err != nil {
			a.logger.WithError(err).Debug("Failed to load cookies from file")
			return 0
		}
	}

	valid := LiveCookies(cookies, time.Now())
	if len(valid) == 0 {
		a.logger.Debug("No usable cookies found")
		return 0
	}

	if err := a.page.SetCookies(ToCookieParams(valid)); err != nil {
		a.logger.WithError(err).Warn("Failed to set cookies")
		return 0
	}
	return len(valid)
}

// saveCookies saves the current session cookies
func (a *Authenticator) saveCookies() error {
	cookies, err := a.page.Cookies([]string{DouyinBaseURL, LiveBaseURL})
	if err != nil {
		return fmt.Errorf("failed to get cookies: %w", err)
	}
	stored := FromNetworkCookies(cookies)

	if err := a.db.SaveCookies(stored); err != nil {
		a.logger.WithError(err).Warn("Failed to save cookies to database")
	}
	if err := storage.SaveCookiesToFile(stored, a.config.Storage.CookiesPath); err != nil {
		a.logger.WithError(err).Warn("Failed to save cookies to file")
		return err
	}

	a.logger.WithField("count", len(stored)).Info("Session cookies saved")
	return nil
}

// LiveCookies drops cookies that expired before now. Session cookies carry no
// expiry and are kept.
func LiveCookies(cookies []*storage.SessionCookie, now time.Time) []*storage.SessionCookie {
	valid := make([]*storage.SessionCookie, 0, len(cookies))
	unix := float64(now.Unix())
	for _, c := range cookies {
		if c.Expires <= 0 || c.Expires > unix {
			valid = append(valid, c)
		}
	}
	return valid
}

// ToCookieParams converts stored cookies into CDP parameters
func ToCookieParams(cookies []*storage.SessionCookie) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, len(cookies))
	for i, c := range cookies {
		params[i] = &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			params[i].Expires = proto.TimeSinceEpoch(c.Expires)
		}
	}
	return params
}

// FromNetworkCookies converts browser cookies into the stored form
func FromNetworkCookies(cookies []*proto.NetworkCookie) []*storage.SessionCookie {
	stored := make([]*storage.SessionCookie, len(cookies))
	for i, c := range cookies {
		stored[i] = &storage.SessionCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
	}
	return stored
}
