// Package stealth provides anti-bot detection techniques for browser automation.
// It implements human-like behavior patterns to avoid detection by anti-automation systems.
package stealth

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/nikshitha/douyin-live-helper/config"
	"github.com/nikshitha/douyin-live-helper/logger"
)

// Point represents a 2D coordinate
type Point struct {
	X, Y float64
}

// Pointer is the low level mouse surface of a page
type Pointer interface {
	MoveTo(x, y float64) error
	Scroll(dx, dy float64) error
	Viewport() (width, height float64, err error)
}

// Manager handles the pointer-level anti-detection operations
type Manager struct {
	config  *config.StealthConfig
	logger  *logger.Logger
	rand    *Random
	sleeper Sleeper

	mu     sync.Mutex
	pos    Point
	hasPos bool
}

// NewManager creates a new stealth manager
func NewManager(cfg *config.StealthConfig, log *logger.Logger, rnd *Random, sleeper Sleeper) *Manager {
	if rnd == nil {
		rnd = NewRandom(0)
	}
	if sleeper == nil {
		sleeper = RealSleeper{}
	}
	return &Manager{
		config:  cfg,
		logger:  log.WithModule("stealth"),
		rand:    rnd,
		sleeper: sleeper,
	}
}

// Random returns the manager's randomness source
func (m *Manager) Random() *Random {
	return m.rand
}

// Sleeper returns the manager's sleeper
func (m *Manager) Sleeper() Sleeper {
	return m.sleeper
}

// ==============================================================================
// Human-like Mouse Movement (Bézier curves with variable speed)
// ==============================================================================

// MoveMouse moves the pointer from its last known position to target along a curved path
func (m *Manager) MoveMouse(ctx context.Context, p Pointer, target Point) error {
	start := m.position(p)

	points := m.generateBezierPath(start, target)

	if m.config.MouseOvershoot && m.rand.Float64() < 0.3 {
		points = m.addOvershoot(points, target)
	}

	for i, point := range points {
		// Slower at the ends, faster in the middle
		delay := m.calculateMovementDelay(i, len(points))
		if err := m.sleeper.Sleep(ctx, time.Duration(delay)*time.Millisecond); err != nil {
			return err
		}
		if err := p.MoveTo(point.X, point.Y); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.pos = target
	m.hasPos = true
	m.mu.Unlock()

	m.logger.StealthAction("mouse_move", map[string]interface{}{
		"from_x": start.X, "from_y": start.Y,
		"to_x": target.X, "to_y": target.Y,
		"steps": len(points),
	})

	return nil
}

// generateBezierPath creates a curved path between two points using cubic Bézier
func (m *Manager) generateBezierPath(start, end Point) []Point {
	distance := math.Hypot(end.X-start.X, end.Y-start.Y)
	numSteps := int(distance/10) + 10 // More steps for longer distances

	offsetRange := distance * 0.3
	ctrl1 := Point{
		X: start.X + (end.X-start.X)*0.25 + (m.rand.Float64()-0.5)*offsetRange,
		Y: start.Y + (end.Y-start.Y)*0.25 + (m.rand.Float64()-0.5)*offsetRange,
	}
	ctrl2 := Point{
		X: start.X + (end.X-start.X)*0.75 + (m.rand.Float64()-0.5)*offsetRange,
		Y: start.Y + (end.Y-start.Y)*0.75 + (m.rand.Float64()-0.5)*offsetRange,
	}

	points := make([]Point, numSteps)
	for i := 0; i < numSteps; i++ {
		t := float64(i) / float64(numSteps-1)
		points[i] = cubicBezier(t, start, ctrl1, ctrl2, end)
	}

	return points
}

// cubicBezier calculates a point on a cubic Bézier curve
func cubicBezier(t float64, p0, p1, p2, p3 Point) Point {
	u := 1 - t
	tt := t * t
	uu := u * u
	uuu := uu * u
	ttt := tt * t

	return Point{
		X: uuu*p0.X + 3*uu*t*p1.X + 3*u*tt*p2.X + ttt*p3.X,
		Y: uuu*p0.Y + 3*uu*t*p1.Y + 3*u*tt*p2.Y + ttt*p3.Y,
	}
}

// addOvershoot adds natural overshoot past the target, then corrects back
func (m *Manager) addOvershoot(points []Point, target Point) []Point {
	// Overshoot amount (5-15 pixels)
	overshoot := Point{
		X: target.X + (m.rand.Float64()*10+5)*m.rand.Sign(),
		Y: target.Y + (m.rand.Float64()*10+5)*m.rand.Sign(),
	}
	points = append(points, overshoot)

	correctionSteps := 3 + m.rand.Intn(3)
	for i := 0; i < correctionSteps; i++ {
		t := float64(i+1) / float64(correctionSteps)
		points = append(points, Point{
			X: overshoot.X + (target.X-overshoot.X)*t,
			Y: overshoot.Y + (target.Y-overshoot.Y)*t,
		})
	}

	return points
}

// calculateMovementDelay returns variable delay (ease-in-out effect)
func (m *Manager) calculateMovementDelay(step, totalSteps int) int {
	progress := float64(step) / float64(totalSteps)
	easeFactor := math.Sin(progress * math.Pi)

	minDelay := int(m.config.MouseSpeedMin * 5)
	maxDelay := int(m.config.MouseSpeedMax * 15)

	delay := maxDelay - int(float64(maxDelay-minDelay)*easeFactor)
	return delay + m.rand.Intn(3)
}

// position returns the last known pointer position, defaulting to the viewport centre
func (m *Manager) position(p Pointer) Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasPos {
		return m.pos
	}
	if w, h, err := p.Viewport(); err == nil && w > 0 && h > 0 {
		return Point{X: w / 2, Y: h / 2}
	}
	return Point{X: 683, Y: 384} // Common half-HD viewport center
}

// ==============================================================================
// Random Scrolling Behavior
// ==============================================================================

// HumanScroll scrolls by deltaY pixels in small eased increments
func (m *Manager) HumanScroll(ctx context.Context, p Pointer, deltaY int) error {
	direction := 1.0
	amount := deltaY
	if deltaY < 0 {
		direction = -1
		amount = -deltaY
	}

	scrolled := 0
	for scrolled < amount {
		increment := m.rand.IntBetween(20, 60)
		if scrolled+increment > amount {
			increment = amount - scrolled
		}

		progress := float64(scrolled) / float64(amount)
		speedFactor := math.Sin(progress * math.Pi) // Faster in middle
		delay := int(float64(30) / (speedFactor + 0.3))

		if err := p.Scroll(0, direction*float64(increment)); err != nil {
			return err
		}

		scrolled += increment
		if err := m.sleeper.Sleep(ctx, time.Duration(delay)*time.Millisecond); err != nil {
			return err
		}
	}

	m.logger.StealthAction("scroll", map[string]interface{}{
		"delta_y": deltaY,
	})

	return nil
}

// ==============================================================================
// Randomized Timing Patterns
// ==============================================================================

// RandomDelay waits a uniform delay between min and max milliseconds
func (m *Manager) RandomDelay(ctx context.Context, minMs, maxMs int) error {
	return m.sleeper.Sleep(ctx, m.rand.Millis(minMs, maxMs))
}

// ==============================================================================
// Browser Fingerprint Masking
// ==============================================================================

// FingerprintScript returns the JavaScript injected into every new document
func (m *Manager) FingerprintScript() string {
	var b strings.Builder

	if m.config.DisableWebdriver {
		b.WriteString(`
		Object.defineProperty(navigator, 'webdriver', {
			get: () => undefined
		});
		delete window.cdc_adoQpoasnfa76pfcZLmcfl_Array;
		delete window.cdc_adoQpoasnfa76pfcZLmcfl_Promise;
		delete window.cdc_adoQpoasnfa76pfcZLmcfl_Symbol;
		`)
	}

	b.WriteString(`
		window.chrome = window.chrome || {};
		window.chrome.runtime = window.chrome.runtime || {};
		window.chrome.loadTimes = window.chrome.loadTimes || function() {};
		window.chrome.csi = window.chrome.csi || function() {};

		Object.defineProperty(navigator, 'plugins', {
			get: () => [
				{ name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer' },
				{ name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai' },
				{ name: 'Native Client', filename: 'internal-nacl-plugin' }
			]
		});

		Object.defineProperty(navigator, 'languages', {
			get: () => ['zh-CN', 'zh', 'en']
		});

		const originalQuery = window.navigator.permissions.query;
		window.navigator.permissions.query = (parameters) => (
			parameters.name === 'notifications'
				? Promise.resolve({ state: Notification.permission })
				: originalQuery(parameters)
		);

		Object.defineProperty(screen, 'availWidth', { get: () => screen.width });
		Object.defineProperty(screen, 'availHeight', { get: () => screen.height - 40 });
	`)

	fmt.Fprintf(&b, `
		Object.defineProperty(navigator, 'hardwareConcurrency', {
			get: () => %d
		});
	`, m.randomHardwareConcurrency())

	return b.String()
}

// GetRandomUserAgent returns a random, realistic desktop Chrome user agent
func (m *Manager) GetRandomUserAgent() string {
	userAgents := []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
	}
	return userAgents[m.rand.Intn(len(userAgents))]
}

// GetRandomViewport returns randomized viewport dimensions
func (m *Manager) GetRandomViewport() (int, int) {
	viewports := []struct{ width, height int }{
		{1920, 1080},
		{1366, 768},
		{1536, 864},
		{1440, 900},
		{1600, 900},
	}
	vp := viewports[m.rand.Intn(len(viewports))]
	// Add slight random variation
	return vp.width + m.rand.Intn(20) - 10, vp.height + m.rand.Intn(20) - 10
}

func (m *Manager) randomHardwareConcurrency() int {
	cores := []int{4, 8, 12, 16}
	return cores[m.rand.Intn(len(cores))]
}
