package stealth

import (
	"context"
	"sync"
	"time"

	"github.com/nikshitha/douyin-live-helper/config"
	"github.com/nikshitha/douyin-live-helper/logger"
)

// IdleInjector emits low-frequency mouse and scroll noise while the helper
// is attached, independent of whether any feature is running.
type IdleInjector struct {
	manager *Manager
	config  *config.StealthConfig
	logger  *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewIdleInjector creates an idle injector driven by the given manager
func NewIdleInjector(m *Manager, cfg *config.StealthConfig, log *logger.Logger) *IdleInjector {
	return &IdleInjector{
		manager: m,
		config:  cfg,
		logger:  log.WithModule("idle"),
	}
}

// Start begins injecting on p. It is a no-op when already running or disabled.
func (i *IdleInjector) Start(ctx context.Context, p Pointer) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cancel != nil || !i.config.IdleEnabled {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	i.cancel = cancel

	i.wg.Add(2)
	go i.loop(ctx, "mouse", i.config.IdleMouseMinSec, i.config.IdleMouseMaxSec, func(ctx context.Context) error {
		return i.jitterMouse(ctx, p)
	})
	go i.loop(ctx, "scroll", i.config.IdleScrollMinSec, i.config.IdleScrollMaxSec, func(ctx context.Context) error {
		return i.jitterScroll(ctx, p)
	})

	i.logger.Debug("Idle behavior started")
}

// Stop halts both loops and waits for them to exit
func (i *IdleInjector) Stop() {
	i.mu.Lock()
	cancel := i.cancel
	i.cancel = nil
	i.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	i.wg.Wait()
	i.logger.Debug("Idle behavior stopped")
}

// Running reports whether the loops are active
func (i *IdleInjector) Running() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cancel != nil
}

func (i *IdleInjector) loop(ctx context.Context, kind string, minSec, maxSec int, act func(context.Context) error) {
	defer i.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			i.logger.WithField("kind", kind).Errorf("Idle loop panic: %v", r)
		}
	}()

	rnd := i.manager.Random()
	for {
		wait := rnd.Between(time.Duration(minSec)*time.Second, time.Duration(maxSec)*time.Second)
		if err := i.manager.Sleeper().Sleep(ctx, wait); err != nil {
			return
		}
		if err := act(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			i.logger.WithField("kind", kind).WithError(err).Debug("Idle action failed")
		}
	}
}

// jitterMouse drifts the pointer to a nearby spot inside the viewport
func (i *IdleInjector) jitterMouse(ctx context.Context, p Pointer) error {
	w, h, err := p.Viewport()
	if err != nil {
		return err
	}

	rnd := i.manager.Random()
	from := i.manager.position(p)
	target := Point{
		X: clamp(from.X+rnd.Sign()*rnd.FloatBetween(30, 150), 10, w-10),
		Y: clamp(from.Y+rnd.Sign()*rnd.FloatBetween(30, 150), 10, h-10),
	}
	return i.manager.MoveMouse(ctx, p, target)
}

// jitterScroll nudges the page a short distance up or down
func (i *IdleInjector) jitterScroll(ctx context.Context, p Pointer) error {
	rnd := i.manager.Random()
	delta := int(rnd.Sign()) * rnd.IntBetween(i.config.IdleScrollMinPx, i.config.IdleScrollMaxPx)
	return i.manager.HumanScroll(ctx, p, delta)
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
