// Package browser provides browser automation setup and management using Rod.
// It handles browser initialization, fingerprint masking, and page management.
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"github.com/nikshitha/douyin-live-helper/config"
	"github.com/nikshitha/douyin-live-helper/logger"
	"github.com/nikshitha/douyin-live-helper/stealth"
)

// Browser wraps the Rod browser with additional functionality
type Browser struct {
	config  *config.Config
	logger  *logger.Logger
	stealth *stealth.Manager
	browser *rod.Browser
	page    *rod.Page
}

// NewBrowser creates a new browser instance
func NewBrowser(cfg *config.Config, log *logger.Logger, s *stealth.Manager) *Browser {
	return &Browser{
		config:  cfg,
		logger:  log.WithModule("browser"),
		stealth: s,
	}
}

// LaunchArgs returns the Chrome flags used for every launch
func LaunchArgs() map[string]string {
	return map[string]string{
		"disable-blink-features":           "AutomationControlled",
		"disable-infobars":                 "",
		"disable-dev-shm-usage":            "",
		"no-first-run":                     "",
		"no-default-browser-check":         "",
		"disable-sync":                     "",
		"disable-translate":                "",
		"disable-popup-blocking":           "",
		"autoplay-policy":                  "no-user-gesture-required",
		"metrics-recording-only":           "",
		"safebrowsing-disable-auto-update": "",
		"lang":                             "zh-CN",
	}
}

// Viewport returns the window size for the next launch
func (b *Browser) Viewport() (int, int) {
	if b.config.Stealth.RandomizeViewport {
		return b.stealth.GetRandomViewport()
	}
	return b.config.Browser.ViewportWidth, b.config.Browser.ViewportHeight
}

// Launch initializes and launches the browser with stealth settings
func (b *Browser) Launch() error {
	b.logger.Info("Launching browser")

	// Ensure user data directory exists
	if b.config.Browser.UserDataDir != "" {
		absPath, err := filepath.Abs(b.config.Browser.UserDataDir)
		if err != nil {
			return fmt.Errorf("failed to get absolute path for user data dir: %w", err)
		}
		if err := os.MkdirAll(absPath, 0755); err != nil {
			return fmt.Errorf("failed to create user data directory: %w", err)
		}
		b.config.Browser.UserDataDir = absPath
	}

	l := launcher.New().Headless(b.config.Browser.Headless)
	for flag, value := range LaunchArgs() {
		if value == "" {
			l = l.Set(flags.Flag(flag))
		} else {
			l = l.Set(flags.Flag(flag), value)
		}
	}

	// Set user data directory for session persistence
	if b.config.Browser.UserDataDir != "" {
		l = l.UserDataDir(b.config.Browser.UserDataDir)
	}

	width, height := b.Viewport()
	l = l.Set("window-size", fmt.Sprintf("%d,%d", width, height))

	url, err := l.Launch()
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	b.browser = rod.New().ControlURL(url)
	if b.config.Browser.SlowMotion > 0 {
		b.browser = b.browser.SlowMotion(time.Duration(b.config.Browser.SlowMotion) * time.Millisecond)
	}

	if err := b.browser.Connect(); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	b.logger.Info("Browser launched successfully")

	return b.createPage(width, height)
}

// createPage creates a new page with stealth settings
func (b *Browser) createPage(width, height int) error {
	var err error
	b.page, err = b.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return fmt.Errorf("failed to create page: %w", err)
	}

	err = b.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
		Mobile:            false,
	})
	if err != nil {
		b.logger.WithError(err).Warn("Failed to set viewport")
	}

	if b.config.Stealth.RandomUserAgent {
		userAgent := b.stealth.GetRandomUserAgent()
		err = b.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      userAgent,
			AcceptLanguage: "zh-CN,zh;q=0.9",
		})
		if err != nil {
			b.logger.WithError(err).Warn("Failed to set user agent")
		} else {
			b.logger.WithField("user_agent", userAgent).Debug("User agent set")
		}
	}

	// Apply fingerprint masking on every document
	if _, err := b.page.EvalOnNewDocument(b.stealth.FingerprintScript()); err != nil {
		b.logger.WithError(err).Warn("Failed to install fingerprint script")
	}

	b.logger.Info("Page created with stealth settings")
	return nil
}

// GetPage returns the current page
func (b *Browser) GetPage() *rod.Page {
	return b.page
}

// GetBrowser returns the browser instance
func (b *Browser) GetBrowser() *rod.Browser {
	return b.browser
}

// Navigate opens url and waits for it to load, pausing like a person would
// before anything else happens on the page
func (b *Browser) Navigate(ctx context.Context, url string) error {
	b.logger.BrowserAction("navigate", url)

	timeout := b.config.GetTimeout()
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	page := b.page.Context(navCtx)

	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("page load failed: %w", err)
	}

	return b.stealth.RandomDelay(ctx, 1500, 3000)
}

// CurrentURL returns the page URL, empty when unavailable
func (b *Browser) CurrentURL() string {
	info, err := b.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Close closes the browser
func (b *Browser) Close() error {
	b.logger.Info("Closing browser")

	if b.page != nil {
		_ = b.page.Close()
	}
	if b.browser != nil {
		return b.browser.Close()
	}
	return nil
}
