package feature

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nikshitha/douyin-live-helper/action"
	"github.com/nikshitha/douyin-live-helper/comment"
	"github.com/nikshitha/douyin-live-helper/config"
	"github.com/nikshitha/douyin-live-helper/events"
	"github.com/nikshitha/douyin-live-helper/scheduler"
)

// Comment sources reported in comment:success
const (
	SourcePool = "pool"
	SourceAI   = "ai"
)

// DefaultAITimeout bounds one generation when none is configured
const DefaultAITimeout = 30 * time.Second

// CommentOptions configures the generated-comment path
type CommentOptions struct {
	// Generator is required only when AI comments are enabled
	Generator      comment.Generator
	AITimeout      time.Duration
	MaxLength      int
	SendScreenshot bool
}

// Comment runs the auto-comment feature
type Comment struct {
	core
	exec     *action.CommentExecutor
	selector *comment.Selector
	planner  *scheduler.IntervalPlanner
	opts     CommentOptions

	generating atomic.Bool
	sending    atomic.Bool
}

// NewComment creates the comment machine in the stopped state
func NewComment(deps Deps, exec *action.CommentExecutor, opts CommentOptions, settings config.Settings) *Comment {
	if opts.AITimeout <= 0 {
		opts.AITimeout = DefaultAITimeout
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = comment.DefaultMaxLength
	}
	m := &Comment{
		core:     newCore(NameComment, deps, settings),
		exec:     exec,
		selector: comment.NewSelector(deps.Rand, settings.SmartHistorySize),
		opts:     opts,
	}
	m.planner = scheduler.NewIntervalPlanner(deps.Rand, settings.CommentEvery(),
		deps.Schedule.CommentVariancePct, ms(deps.Schedule.CommentMinIntervalMs))
	m.sched = scheduler.New(scheduler.Options{
		Name:    NameComment,
		Clock:   deps.Clock,
		Planner: m.planner,
		Action:  m.tick,
		Running: m.running.Load,
		Logger:  deps.Logger,
	})
	return m
}

// Selector exposes the comment selector, mainly so the host can restore
// the sent-comment history
func (m *Comment) Selector() *comment.Selector {
	return m.selector
}

// Start begins commenting. Pool mode needs a non-empty pool; AI mode needs a
// generator and a license that permits it.
func (m *Comment) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(ctx)
}

func (m *Comment) startLocked(ctx context.Context) error {
	if m.running.Load() {
		m.logger.Warn("Auto-comment is already running")
		return ErrAlreadyRunning
	}
	if !m.settings.CommentEnabled {
		m.logger.Warn("Auto-comment is disabled")
		return ErrDisabled
	}
	off := func(s *config.Settings) { s.CommentEnabled = false }
	if m.settings.CommentEvery() <= 0 {
		return m.rejectLocked(invalid("comment interval %ds", m.settings.CommentInterval), off)
	}

	ai := m.settings.AICommentEnabled
	if ai {
		if m.opts.Generator == nil {
			return m.rejectLocked(invalid("AI comments enabled without a generator"), off)
		}
		if !m.permitted(ctx, NameAIComment) {
			m.logger.Warn("AI comments are not permitted by the current license")
			return ErrNotPermitted
		}
	} else {
		if len(m.settings.Comments) == 0 {
			m.logger.Warn("Comment pool is empty")
			return m.rejectLocked(ErrEmptyPool, off)
		}
		if !m.permitted(ctx, NameComment) {
			m.logger.Warn("Auto-comment is not permitted by the current license")
			return ErrNotPermitted
		}
	}

	m.planner.SetInterval(m.settings.CommentEvery())
	m.planner.SetFastStart(ai, ms(m.schedule.AIFirstDelayMinMs), ms(m.schedule.AIFirstDelayMaxMs))
	m.retry = 0
	m.running.Store(true)
	m.sched.Start()

	m.logger.WithFields(map[string]interface{}{
		"interval": m.settings.CommentEvery().String(),
		"mode":     m.mode(),
	}).Info("Auto-comment started")
	m.bus.Emit(events.CommentStarted, events.Counts{Total: m.total, Today: m.today})
	return nil
}

// Stop halts commenting and clears the in-flight flags
func (m *Comment) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Comment) stopLocked() {
	if !m.running.Load() {
		return
	}
	m.running.Store(false)
	m.sched.Stop()
	m.acting.Store(false)
	m.generating.Store(false)
	m.sending.Store(false)
	m.retry = 0

	m.logger.Info("Auto-comment stopped")
	m.bus.Emit(events.CommentStopped, events.Counts{Total: m.total, Today: m.today})
}

// UpdateConfig merges patch into the machine's settings. Enabling starts,
// disabling stops, switching between pool and AI restarts, and an interval
// change replans the pending cycle. Enabling a stopped machine whose toggle
// is already on retries the start.
func (m *Comment) UpdateConfig(ctx context.Context, patch config.SettingsPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.settings
	m.settings = old.Apply(patch)
	next := m.settings

	if old.SmartHistorySize != next.SmartHistorySize {
		m.selector.SetHistorySize(next.SmartHistorySize)
	}
	if old.CommentMode != next.CommentMode || !sameComments(old.Comments, next.Comments) {
		m.selector.ResetCursor()
	}

	switch {
	case !old.CommentEnabled && next.CommentEnabled:
		return m.startLocked(ctx)
	case old.CommentEnabled && !next.CommentEnabled:
		m.stopLocked()
		return nil
	case !m.running.Load():
		if requested(patch.CommentEnabled) {
			return m.startLocked(ctx)
		}
		return nil
	}

	if old.AICommentEnabled != next.AICommentEnabled ||
		(!next.AICommentEnabled && len(next.Comments) == 0) {
		m.stopLocked()
		return m.startLocked(ctx)
	}

	if old.CommentInterval != next.CommentInterval {
		if next.CommentEvery() <= 0 {
			m.stopLocked()
			return m.rejectLocked(invalid("comment interval %ds", next.CommentInterval),
				func(s *config.Settings) { s.CommentEnabled = false })
		}
		m.planner.SetInterval(next.CommentEvery())
		m.sched.Reschedule()
		m.logger.WithField("interval", next.CommentEvery().String()).Info("Comment interval updated")
	}
	return nil
}

// State returns a snapshot of the machine
func (m *Comment) State() State {
	s := m.state()
	s.Generating = m.generating.Load()
	s.Sending = m.sending.Load()
	return s
}

func (m *Comment) mode() string {
	if m.settings.AICommentEnabled {
		return SourceAI
	}
	return m.settings.CommentMode
}

// tick is one comment cycle: choose or generate the text, then send it
func (m *Comment) tick(ctx context.Context) {
	if m.generating.Load() || m.sending.Load() {
		m.logger.Warn("Previous comment still in progress, skipping")
		return
	}
	if !m.acting.CompareAndSwap(false, true) {
		m.logger.Warn("Previous comment still in progress, skipping")
		return
	}
	defer m.acting.Store(false)

	m.mu.Lock()
	settings := m.settings
	m.mu.Unlock()

	text, source, err := m.compose(ctx, settings)
	if err == nil {
		err = m.send(ctx, text)
	}

	switch {
	case err == nil:
		m.selector.Record(text)
		counts := m.succeed()
		m.logger.WithFields(map[string]interface{}{
			"text":   text,
			"source": source,
		}).Success("Comment sent")
		m.bus.Emit(events.CommentSuccess, events.Comment{Counts: counts, Text: text, Source: source})
		m.sched.Ensure()
	case errors.Is(err, action.ErrActionInFlight):
		m.logger.Warn("Comment executor busy, skipping")
		m.sched.Ensure()
	case errors.Is(err, ErrEmptyPool):
		// retrying cannot refill the pool
		m.logger.Warn("Comment pool is empty, skipping this cycle")
		m.sched.Ensure()
	case ctx.Err() != nil || !m.running.Load():
	default:
		m.fail(err)
	}
}

// compose picks pool text or asks the generator for some
func (m *Comment) compose(ctx context.Context, settings config.Settings) (string, string, error) {
	if !settings.AICommentEnabled {
		text, ok := m.selector.Select(settings.Comments, settings.CommentMode)
		if !ok {
			return "", SourcePool, ErrEmptyPool
		}
		return text, SourcePool, nil
	}

	m.generating.Store(true)
	defer m.generating.Store(false)

	gctx, cancel := context.WithTimeout(ctx, m.opts.AITimeout)
	defer cancel()

	req := comment.Request{Prompt: settings.AIPrompt, MaxLength: m.opts.MaxLength}
	if page, err := m.resolver.CapturePageContext(gctx); err != nil {
		m.logger.WithError(err).Debug("Page context unavailable")
	} else {
		req.PageContext = page
	}
	if m.opts.SendScreenshot {
		if shot, err := m.resolver.Screenshot(gctx); err != nil {
			m.logger.WithError(err).Debug("Screenshot unavailable")
		} else {
			req.Screenshot = shot
		}
	}

	text, err := m.selector.Generate(gctx, m.opts.Generator, req)
	return text, SourceAI, err
}

func (m *Comment) send(ctx context.Context, text string) error {
	m.sending.Store(true)
	defer m.sending.Store(false)

	input, err := m.resolver.FindCommentInput(ctx)
	if err != nil {
		return err
	}
	return m.exec.PerformComment(ctx, input, text)
}

// fail retries the cycle after a linear backoff, or gives up on it and plans
// the next regular cycle once the retries are spent
func (m *Comment) fail(err error) {
	log := m.logger.WithError(err)
	switch {
	case errors.Is(err, action.ErrTargetNotFound):
		log.Warn("Comment input not found")
	case errors.Is(err, comment.ErrEmptyGeneration), errors.Is(err, context.DeadlineExceeded):
		log.Warn("Comment generation failed")
	default:
		log.Error("Comment failed")
	}

	delay, ok := m.nextRetry()
	if !ok {
		m.logger.Warn("Comment retries exhausted, resuming normal schedule")
		m.sched.Ensure()
		return
	}
	m.logger.WithField("delay", delay.String()).Info("Retrying comment")
	m.sched.After(delay, m.tick)
}

func sameComments(a, b []string) bool {
	return strings.Join(a, "\x00") == strings.Join(b, "\x00")
}
