package action

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nikshitha/douyin-live-helper/config"
	"github.com/nikshitha/douyin-live-helper/logger"
	"github.com/nikshitha/douyin-live-helper/stealth"
)

// Text entry modes
const (
	EntryTyping  = "typing"
	EntryRewrite = "rewrite"
)

var enterDown = KeyEvent{Type: "keydown", Key: "Enter", Code: "Enter", KeyCode: 13}
var enterUp = KeyEvent{Type: "keyup", Key: "Enter", Code: "Enter", KeyCode: 13}

// CommentExecutor types a comment into the input box and submits it
type CommentExecutor struct {
	config   *config.StealthConfig
	rand     *stealth.Random
	sleeper  stealth.Sleeper
	logger   *logger.Logger
	inFlight atomic.Bool
}

// NewCommentExecutor creates a comment executor
func NewCommentExecutor(cfg *config.StealthConfig, rnd *stealth.Random, sleeper stealth.Sleeper, log *logger.Logger) *CommentExecutor {
	return &CommentExecutor{
		config:  cfg,
		rand:    rnd,
		sleeper: sleeper,
		logger:  log.WithModule("comment_executor"),
	}
}

// InFlight reports whether a submission is in progress
func (e *CommentExecutor) InFlight() bool {
	return e.inFlight.Load()
}

// PerformComment enters text into input and presses Enter. Only one call
// runs at a time; an overlapping call returns ErrActionInFlight and touches
// nothing.
func (e *CommentExecutor) PerformComment(ctx context.Context, input Editable, text string) error {
	if !e.inFlight.CompareAndSwap(false, true) {
		e.logger.Warn("Comment submission already in progress, skipping")
		return ErrActionInFlight
	}
	defer e.inFlight.Store(false)

	if input == nil {
		return ErrTargetNotFound
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"focus", func() error { return input.Focus(ctx) }},
		{"scroll", func() error { return input.ScrollIntoView(ctx) }},
		{"pause", func() error { return e.pauseRange(ctx, e.config.FocusPauseMin, e.config.FocusPauseMax) }},
		{"clear", func() error { return input.Clear(ctx) }},
		{"pause", func() error { return e.pauseAround(ctx, e.config.ClearPauseMs) }},
		{"enter text", func() error { return e.enterText(ctx, input, text) }},
		{"pause", func() error { return e.pauseRange(ctx, e.config.SubmitPauseMin, e.config.SubmitPauseMax) }},
		{"submit", func() error { return input.DispatchKey(ctx, enterDown) }},
		{"submit", func() error { return input.DispatchKey(ctx, enterUp) }},
		{"pause", func() error { return e.pauseAround(ctx, e.config.PostSubmitPauseMs) }},
		{"clear after submit", func() error { return input.Clear(ctx) }},
		{"settle", func() error { return e.pauseAround(ctx, e.config.SettlePauseMs) }},
	}

	for _, step := range steps {
		if err := step.run(); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}

	e.logger.StealthAction("comment_submit", map[string]interface{}{
		"length": len([]rune(text)),
		"mode":   e.entryMode(),
	})
	return nil
}

func (e *CommentExecutor) entryMode() string {
	if e.config.TextEntryMode == EntryRewrite {
		return EntryRewrite
	}
	return EntryTyping
}

// enterText fills the box either key by key or with a set-clear-set rewrite
func (e *CommentExecutor) enterText(ctx context.Context, input Editable, text string) error {
	if e.entryMode() == EntryRewrite {
		if err := input.SetText(ctx, text); err != nil {
			return err
		}
		if err := e.pauseAround(ctx, e.config.ClearPauseMs); err != nil {
			return err
		}
		if err := input.Clear(ctx); err != nil {
			return err
		}
		if err := e.pauseAround(ctx, e.config.PostSubmitPauseMs); err != nil {
			return err
		}
		return input.SetText(ctx, text)
	}

	for _, r := range text {
		if err := input.InsertText(ctx, string(r)); err != nil {
			return err
		}
		if err := e.pauseRange(ctx, e.config.TypingDelayMin, e.config.TypingDelayMax); err != nil {
			return err
		}
	}
	return nil
}

func (e *CommentExecutor) pauseRange(ctx context.Context, minMs, maxMs int) error {
	return e.sleeper.Sleep(ctx, e.rand.Millis(minMs, maxMs))
}

func (e *CommentExecutor) pauseAround(ctx context.Context, baseMs int) error {
	base := time.Duration(baseMs) * time.Millisecond
	return e.sleeper.Sleep(ctx, e.rand.JitteredDelay(base, e.config.PauseVariancePct))
}
