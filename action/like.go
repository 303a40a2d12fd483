package action

import (
	"context"
	"fmt"

	"github.com/nikshitha/douyin-live-helper/config"
	"github.com/nikshitha/douyin-live-helper/logger"
	"github.com/nikshitha/douyin-live-helper/stealth"
)

type surface int

const (
	surfaceControl surface = iota
	surfaceContent
	surfaceVideo
)

func (s surface) String() string {
	switch s {
	case surfaceControl:
		return "control"
	case surfaceContent:
		return "content"
	default:
		return "video"
	}
}

// LikeExecutor performs a double-click like on the stream
type LikeExecutor struct {
	config  *config.StealthConfig
	rand    *stealth.Random
	sleeper stealth.Sleeper
	logger  *logger.Logger
}

// NewLikeExecutor creates a like executor
func NewLikeExecutor(cfg *config.StealthConfig, rnd *stealth.Random, sleeper stealth.Sleeper, log *logger.Logger) *LikeExecutor {
	return &LikeExecutor{
		config:  cfg,
		rand:    rnd,
		sleeper: sleeper,
		logger:  log.WithModule("like_executor"),
	}
}

// PerformLike double-clicks the first usable surface of target. It returns
// false with a nil error when there is nothing to click, and false with the
// last error when every surface rejected the events.
func (e *LikeExecutor) PerformLike(ctx context.Context, target *LikeTarget) (bool, error) {
	if target == nil {
		return false, nil
	}

	candidates := []struct {
		kind surface
		el   Clickable
	}{
		{surfaceControl, target.Control},
		{surfaceContent, target.Content},
		{surfaceVideo, target.Video},
	}

	var lastErr error
	for _, c := range candidates {
		if c.el == nil {
			continue
		}

		bounds, err := c.el.Bounds(ctx)
		if err != nil {
			lastErr = fmt.Errorf("%s bounds: %w", c.kind, err)
			continue
		}
		if bounds.Empty() {
			continue
		}

		pt := e.clickPoint(c.kind, bounds)
		err = e.doubleClick(ctx, c.el, pt, target.ScreenOrigin)
		if err == nil {
			e.logger.StealthAction("double_click", map[string]interface{}{
				"surface": c.kind.String(),
				"x":       pt.X,
				"y":       pt.Y,
			})
			return true, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		lastErr = fmt.Errorf("%s dispatch: %w", c.kind, err)
		e.logger.WithError(err).WithField("surface", c.kind.String()).Debug("Like dispatch failed, trying next surface")
	}

	return false, lastErr
}

// clickPoint picks where on the surface the double-click lands. The like
// control is hit dead centre; stream surfaces get an offset point in the
// lower part of the picture, kept away from the edges.
func (e *LikeExecutor) clickPoint(kind surface, r Rect) Point {
	if kind == surfaceControl {
		return r.Center()
	}

	c := r.Center()
	x := c.X + e.rand.Sign()*e.rand.FloatBetween(e.config.LikeOffsetMin, e.config.LikeOffsetMax)
	y := r.Y + r.Height*e.config.LikeVerticalBias + e.rand.Sign()*e.rand.FloatBetween(e.config.LikeOffsetMin, e.config.LikeOffsetMax)

	margin := e.config.LikeEdgeMargin
	return Point{
		X: clampAxis(x, r.X, r.Width, margin),
		Y: clampAxis(y, r.Y, r.Height, margin),
	}
}

func clampAxis(v, start, size, margin float64) float64 {
	lo, hi := start+margin, start+size-margin
	if lo > hi {
		return start + size/2
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// doubleClick emits the seven events of a manual double-click
func (e *LikeExecutor) doubleClick(ctx context.Context, el Clickable, pt Point, origin Point) error {
	ev := func(typ string, detail int) MouseEvent {
		// buttons is the held-button mask: set while pressed, clear once released
		buttons := 0
		if typ == "mousedown" {
			buttons = 1
		}
		return MouseEvent{
			Type:    typ,
			ClientX: pt.X,
			ClientY: pt.Y,
			ScreenX: pt.X + origin.X,
			ScreenY: pt.Y + origin.Y,
			Button:  0,
			Buttons: buttons,
			Detail:  detail,
		}
	}
	hold := func() error {
		return e.sleeper.Sleep(ctx, e.rand.Millis(e.config.PressHoldMinMs, e.config.PressHoldMaxMs))
	}
	release := func() error {
		return e.sleeper.Sleep(ctx, e.rand.Millis(e.config.ReleaseClickMinMs, e.config.ReleaseClickMaxMs))
	}
	gap := func() error {
		return e.sleeper.Sleep(ctx, e.rand.Millis(e.config.DoubleClickGapMin, e.config.DoubleClickGapMax))
	}
	dispatch := func(typ string, detail int) func() error {
		return func() error { return el.DispatchMouse(ctx, ev(typ, detail)) }
	}

	steps := []func() error{
		dispatch("mousedown", 1), hold,
		dispatch("mouseup", 1), release,
		dispatch("click", 1), gap,
		dispatch("mousedown", 2), hold,
		dispatch("mouseup", 2), release,
		dispatch("click", 2),
		dispatch("dblclick", 2),
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}
