package feature

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikshitha/douyin-live-helper/action"
	"github.com/nikshitha/douyin-live-helper/comment"
	"github.com/nikshitha/douyin-live-helper/config"
	"github.com/nikshitha/douyin-live-helper/events"
	"github.com/nikshitha/douyin-live-helper/logger"
	"github.com/nikshitha/douyin-live-helper/scheduler"
	"github.com/nikshitha/douyin-live-helper/stealth"
)

type instantSleeper struct{}

func (instantSleeper) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type fakeSurface struct {
	mu     sync.Mutex
	events []action.MouseEvent
}

func (s *fakeSurface) Bounds(context.Context) (action.Rect, error) {
	return action.Rect{X: 100, Y: 100, Width: 400, Height: 600}, nil
}

func (s *fakeSurface) DispatchMouse(_ context.Context, ev action.MouseEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeSurface) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type fakeInput struct {
	mu    sync.Mutex
	value string
	sent  []string
}

func (f *fakeInput) Focus(context.Context) error          { return nil }
func (f *fakeInput) ScrollIntoView(context.Context) error { return nil }

func (f *fakeInput) Clear(context.Context) error {
	f.mu.Lock()
	f.value = ""
	f.mu.Unlock()
	return nil
}

func (f *fakeInput) InsertText(_ context.Context, s string) error {
	f.mu.Lock()
	f.value += s
	f.mu.Unlock()
	return nil
}

func (f *fakeInput) SetText(_ context.Context, s string) error {
	f.mu.Lock()
	f.value = s
	f.mu.Unlock()
	return nil
}

func (f *fakeInput) DispatchKey(_ context.Context, ev action.KeyEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev.Type == "keydown" {
		f.sent = append(f.sent, f.value)
	}
	return nil
}

func (f *fakeInput) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeResolver struct {
	surface   *fakeSurface
	targetErr error
	input     *fakeInput
	inputErr  error

	targetCalls atomic.Int32
	inputCalls  atomic.Int32
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{surface: &fakeSurface{}, input: &fakeInput{}}
}

func (r *fakeResolver) FindLikeTarget(context.Context) (*action.LikeTarget, error) {
	r.targetCalls.Add(1)
	if r.targetErr != nil {
		return nil, r.targetErr
	}
	return &action.LikeTarget{Control: r.surface}, nil
}

func (r *fakeResolver) FindCommentInput(context.Context) (action.Editable, error) {
	r.inputCalls.Add(1)
	if r.inputErr != nil {
		return nil, r.inputErr
	}
	return r.input, nil
}

func (r *fakeResolver) CapturePageContext(context.Context) (string, error) {
	return "主播正在介绍羊毛大衣", nil
}

func (r *fakeResolver) Screenshot(context.Context) ([]byte, error) {
	return nil, errors.New("no screenshot")
}

type fakeGate map[string]bool

func (g fakeGate) Permitted(_ context.Context, feature string) bool {
	allowed, ok := g[feature]
	return !ok || allowed
}

type blockingGenerator struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
	seen    comment.Request
}

func (g *blockingGenerator) Generate(ctx context.Context, req comment.Request) (string, error) {
	g.calls.Add(1)
	g.seen = req
	if g.entered != nil {
		g.entered <- struct{}{}
	}
	select {
	case <-g.release:
		return "“这件多少钱”", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type harness struct {
	clock    *scheduler.ManualClock
	resolver *fakeResolver
	deps     Deps
	cfg      *config.Config
}

func newHarness(t *testing.T, gate Gate) *harness {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Schedule.CommentVariancePct = 0
	h := &harness{
		clock:    scheduler.NewManualClock(time.Unix(0, 0)),
		resolver: newFakeResolver(),
		cfg:      cfg,
	}
	h.deps = Deps{
		Resolver: h.resolver,
		Clock:    h.clock,
		Rand:     stealth.NewRandom(7),
		Logger:   log,
		Gate:     gate,
		Schedule: cfg.Schedule,
	}
	return h
}

func (h *harness) like(settings config.Settings) *Like {
	exec := action.NewLikeExecutor(&h.cfg.Stealth, h.deps.Rand, instantSleeper{}, h.deps.Logger)
	return NewLike(h.deps, exec, settings)
}

func (h *harness) comment(settings config.Settings, opts CommentOptions) *Comment {
	exec := action.NewCommentExecutor(&h.cfg.Stealth, h.deps.Rand, instantSleeper{}, h.deps.Logger)
	return NewComment(h.deps, exec, opts, settings)
}

func likeSettings(min, max int) config.Settings {
	s := config.DefaultSettings()
	s.LikeEnabled = true
	s.LikeMinPerMinute = min
	s.LikeMaxPerMinute = max
	return s
}

func commentSettings(pool ...string) config.Settings {
	s := config.DefaultSettings()
	s.CommentEnabled = true
	s.CommentInterval = 10
	s.CommentMode = config.ModeSequence
	s.Comments = pool
	return s
}

// drain returns the events buffered on ch without waiting
func drain(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func types(evs []events.Event) []string {
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Type)
	}
	return out
}

func TestLikeCycleDispatchesDoubleClick(t *testing.T) {
	h := newHarness(t, nil)
	m := h.like(likeSettings(1, 1))
	ch, unsub := m.Events().Subscribe(64)
	defer unsub()

	require.NoError(t, m.Start(context.Background()))
	assert.True(t, m.Running())

	// One planned like plus the repeat timer
	require.Len(t, h.clock.Pending(), 2)
	require.True(t, h.clock.RunNext())

	assert.Equal(t, 7, h.resolver.surface.count())
	evs := drain(ch)
	assert.Equal(t, []string{events.LikeStarted, events.LikeSuccess}, types(evs))
	assert.Equal(t, events.Counts{Total: 1, Today: 1}, evs[1].Data)

	st := m.State()
	assert.Equal(t, 1, st.Total)
	assert.False(t, st.Acting)
	assert.Equal(t, scheduler.StateScheduled, st.Scheduler)
}

func TestLikeKeepsWindowRate(t *testing.T) {
	h := newHarness(t, nil)
	m := h.like(likeSettings(20, 50))
	require.NoError(t, m.Start(context.Background()))

	h.clock.Advance(time.Minute - time.Millisecond)
	first := m.Counts().Total
	assert.GreaterOrEqual(t, first, 20)
	assert.LessOrEqual(t, first, 50)

	h.clock.Advance(time.Minute)
	second := m.Counts().Total - first
	assert.GreaterOrEqual(t, second, 20)
	assert.LessOrEqual(t, second, 50)
}

func TestLikeStopIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	m := h.like(likeSettings(5, 10))
	ch, unsub := m.Events().Subscribe(64)
	defer unsub()

	require.NoError(t, m.Start(context.Background()))
	m.Stop()
	m.Stop()

	assert.False(t, m.Running())
	assert.Empty(t, h.clock.Pending())
	assert.Equal(t, []string{events.LikeStarted, events.LikeStopped}, types(drain(ch)))

	h.clock.Advance(5 * time.Minute)
	assert.Zero(t, h.resolver.targetCalls.Load())
	assert.Equal(t, scheduler.StateStopped, m.State().Scheduler)
}

func TestLikeStartRefusals(t *testing.T) {
	h := newHarness(t, fakeGate{NameLike: false})

	disabled := config.DefaultSettings()
	assert.ErrorIs(t, h.like(disabled).Start(context.Background()), ErrDisabled)

	assert.ErrorIs(t, h.like(likeSettings(10, 20)).Start(context.Background()), ErrNotPermitted)

	h = newHarness(t, nil)
	m := h.like(likeSettings(30, 10))
	ch, unsub := m.Events().Subscribe(8)
	defer unsub()

	err := m.Start(context.Background())
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.False(t, m.Settings().LikeEnabled, "rejection turns the toggle off")
	evs := drain(ch)
	require.Equal(t, []string{events.LikeRejected}, types(evs))
	assert.Contains(t, evs[0].Data.(events.Rejection).Reason, "like rate")

	ok := h.like(likeSettings(1, 2))
	require.NoError(t, ok.Start(context.Background()))
	assert.ErrorIs(t, ok.Start(context.Background()), ErrAlreadyRunning)
}

func TestLikeRetriesWithLinearBackoff(t *testing.T) {
	h := newHarness(t, nil)
	h.resolver.targetErr = action.ErrTargetNotFound
	// A long window keeps the next planned like out of the retry span
	h.deps.Schedule.LikeWindowMs = int((10 * time.Minute).Milliseconds())
	m := h.like(likeSettings(1, 1))
	require.NoError(t, m.Start(context.Background()))

	require.True(t, h.clock.RunNext())
	assert.Equal(t, 1, m.State().Retry)
	assert.Contains(t, h.clock.Pending(), 2*time.Second)

	h.clock.Advance(2 * time.Second)
	assert.Equal(t, 2, m.State().Retry)
	assert.Contains(t, h.clock.Pending(), 4*time.Second)

	h.clock.Advance(4 * time.Second)
	assert.Equal(t, 3, m.State().Retry)
	assert.Contains(t, h.clock.Pending(), 6*time.Second)

	h.clock.Advance(6 * time.Second)
	assert.Equal(t, int32(4), h.resolver.targetCalls.Load())
	assert.Zero(t, m.State().Retry, "streak resets once exhausted")
	assert.True(t, m.Running())
}

func TestLikeUpdateConfigTransitions(t *testing.T) {
	h := newHarness(t, nil)
	m := h.like(config.DefaultSettings())
	ctx := context.Background()

	on, off := true, false
	require.NoError(t, m.UpdateConfig(ctx, config.SettingsPatch{LikeEnabled: &on}))
	assert.True(t, m.Running())

	before := h.clock.Pending()
	min, max := 2, 3
	require.NoError(t, m.UpdateConfig(ctx, config.SettingsPatch{LikeMinPerMinute: &min, LikeMaxPerMinute: &max}))
	after := h.clock.Pending()
	assert.NotEqual(t, len(before), len(after))
	assert.GreaterOrEqual(t, len(after), 3)
	assert.LessOrEqual(t, len(after), 4)

	require.NoError(t, m.UpdateConfig(ctx, config.SettingsPatch{LikeEnabled: &off}))
	assert.False(t, m.Running())
	assert.Empty(t, h.clock.Pending())
}

func TestLikeCountersAndDailyReset(t *testing.T) {
	h := newHarness(t, nil)
	m := h.like(likeSettings(1, 1))
	m.SetCounts(41, 6)
	require.NoError(t, m.Start(context.Background()))
	require.True(t, h.clock.RunNext())

	assert.Equal(t, events.Counts{Total: 42, Today: 7}, m.Counts())
	m.ResetToday()
	assert.Equal(t, events.Counts{Total: 42, Today: 0}, m.Counts())
}

func TestCommentPoolCycle(t *testing.T) {
	h := newHarness(t, nil)
	m := h.comment(commentSettings("主播好", "有优惠吗"), CommentOptions{})
	ch, unsub := m.Events().Subscribe(64)
	defer unsub()

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, []time.Duration{10 * time.Second}, h.clock.Pending())

	h.clock.Advance(10 * time.Second)
	h.clock.Advance(10 * time.Second)

	assert.Equal(t, []string{"主播好", "有优惠吗"}, h.resolver.input.Sent())
	assert.Equal(t, []string{"有优惠吗", "主播好"}, m.Selector().History())

	evs := drain(ch)
	require.Equal(t, []string{events.CommentStarted, events.CommentSuccess, events.CommentSuccess}, types(evs))
	assert.Equal(t, events.Comment{Counts: events.Counts{Total: 2, Today: 2}, Text: "有优惠吗", Source: SourcePool}, evs[2].Data)
	assert.Equal(t, []time.Duration{10 * time.Second}, h.clock.Pending(), "one cycle stays armed")
}

func TestCommentStartRefusals(t *testing.T) {
	h := newHarness(t, fakeGate{NameAIComment: false})
	ctx := context.Background()

	empty := h.comment(commentSettings(), CommentOptions{})
	ch, unsub := empty.Events().Subscribe(8)
	defer unsub()
	assert.ErrorIs(t, empty.Start(ctx), ErrEmptyPool)
	assert.Equal(t, []string{events.CommentRejected}, types(drain(ch)))
	assert.False(t, empty.Settings().CommentEnabled)

	ai := commentSettings()
	ai.AICommentEnabled = true
	assert.ErrorIs(t, h.comment(ai, CommentOptions{}).Start(ctx), ErrInvalidConfig)

	gated := h.comment(ai, CommentOptions{Generator: &blockingGenerator{}})
	gch, gunsub := gated.Events().Subscribe(8)
	defer gunsub()
	assert.ErrorIs(t, gated.Start(ctx), ErrNotPermitted)
	assert.Empty(t, drain(gch), "a license refusal is not a config rejection")

	zero := commentSettings("hi")
	zero.CommentInterval = 0
	assert.ErrorIs(t, h.comment(zero, CommentOptions{}).Start(ctx), ErrInvalidConfig)
}

func TestEnableRetriesStartAfterLicenseRefusal(t *testing.T) {
	gate := fakeGate{NameLike: false, NameAIComment: false}
	h := newHarness(t, gate)
	ctx := context.Background()
	on := true

	like := h.like(likeSettings(1, 2))
	assert.ErrorIs(t, like.Start(ctx), ErrNotPermitted)
	assert.ErrorIs(t, like.UpdateConfig(ctx, config.SettingsPatch{LikeEnabled: &on}), ErrNotPermitted)
	assert.False(t, like.Running())

	ai := commentSettings()
	ai.AICommentEnabled = true
	com := h.comment(ai, CommentOptions{Generator: &blockingGenerator{}, AITimeout: time.Second})
	assert.ErrorIs(t, com.Start(ctx), ErrNotPermitted)
	assert.True(t, com.Settings().CommentEnabled)

	gate[NameLike] = true
	gate[NameAIComment] = true
	require.NoError(t, like.UpdateConfig(ctx, config.SettingsPatch{LikeEnabled: &on}))
	assert.True(t, like.Running())
	require.NoError(t, com.UpdateConfig(ctx, config.SettingsPatch{CommentEnabled: &on, AICommentEnabled: &on}))
	assert.True(t, com.Running())

	// Already running: nothing to do
	require.NoError(t, like.UpdateConfig(ctx, config.SettingsPatch{LikeEnabled: &on}))
	assert.True(t, like.Running())
}

func TestCommentEmptyPoolSkipsCycleWithoutRetry(t *testing.T) {
	h := newHarness(t, nil)
	m := h.comment(commentSettings("hi"), CommentOptions{})
	require.NoError(t, m.Start(context.Background()))

	// The pool can drain between a cycle being planned and it firing
	m.mu.Lock()
	m.settings.Comments = nil
	m.mu.Unlock()

	h.clock.Advance(10 * time.Second)
	assert.Zero(t, h.resolver.inputCalls.Load())
	assert.Zero(t, m.State().Retry)
	assert.Equal(t, []time.Duration{10 * time.Second}, h.clock.Pending(), "next regular cycle, no retry timer")
	assert.True(t, m.Running())
}

func TestCommentRetryExhaustionResumesSchedule(t *testing.T) {
	h := newHarness(t, nil)
	h.resolver.inputErr = action.ErrTargetNotFound
	m := h.comment(commentSettings("hi"), CommentOptions{})
	require.NoError(t, m.Start(context.Background()))

	h.clock.Advance(10 * time.Second)
	assert.Equal(t, []time.Duration{2 * time.Second}, h.clock.Pending())
	h.clock.Advance(2 * time.Second)
	assert.Equal(t, []time.Duration{4 * time.Second}, h.clock.Pending())
	h.clock.Advance(4 * time.Second)
	assert.Equal(t, []time.Duration{6 * time.Second}, h.clock.Pending())
	h.clock.Advance(6 * time.Second)

	// No fourth retry: the regular interval is back
	assert.Equal(t, int32(4), h.resolver.inputCalls.Load())
	assert.Equal(t, []time.Duration{10 * time.Second}, h.clock.Pending())
	assert.Zero(t, m.State().Retry)
	assert.True(t, m.Running())
}

func TestCommentUpdateConfig(t *testing.T) {
	h := newHarness(t, nil)
	m := h.comment(commentSettings("a", "b"), CommentOptions{})
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	interval := 30
	require.NoError(t, m.UpdateConfig(ctx, config.SettingsPatch{CommentInterval: &interval}))
	assert.Equal(t, []time.Duration{30 * time.Second}, h.clock.Pending())

	size := 1
	require.NoError(t, m.UpdateConfig(ctx, config.SettingsPatch{SmartHistorySize: &size}))
	h.clock.Advance(30 * time.Second)
	h.clock.Advance(30 * time.Second)
	assert.Equal(t, []string{"b"}, m.Selector().History())

	none := []string{}
	err := m.UpdateConfig(ctx, config.SettingsPatch{Comments: &none})
	assert.ErrorIs(t, err, ErrEmptyPool)
	assert.False(t, m.Running())
	assert.Empty(t, h.clock.Pending())
}

func TestCommentAISkipsWhileGenerating(t *testing.T) {
	h := newHarness(t, nil)
	gen := &blockingGenerator{entered: make(chan struct{}, 1), release: make(chan struct{})}
	settings := commentSettings()
	settings.AICommentEnabled = true
	m := h.comment(settings, CommentOptions{Generator: gen, MaxLength: 15})
	ch, unsub := m.Events().Subscribe(64)
	defer unsub()

	require.NoError(t, m.Start(context.Background()))
	pending := h.clock.Pending()
	require.Len(t, pending, 1)
	assert.GreaterOrEqual(t, pending[0], 3*time.Second, "AI starts fast")
	assert.LessOrEqual(t, pending[0], 5*time.Second)

	done := make(chan struct{})
	go func() {
		h.clock.RunNext()
		close(done)
	}()

	select {
	case <-gen.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("generator not called")
	}
	assert.True(t, m.State().Generating)

	// A cycle arriving mid-generation is dropped
	m.tick(context.Background())
	assert.Equal(t, int32(1), gen.calls.Load())

	close(gen.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle did not finish")
	}

	assert.Equal(t, []string{"这件多少钱"}, h.resolver.input.Sent())
	assert.Equal(t, "主播正在介绍羊毛大衣", gen.seen.PageContext)
	assert.Equal(t, 15, gen.seen.MaxLength)
	assert.False(t, m.State().Generating)

	evs := drain(ch)
	require.Equal(t, []string{events.CommentStarted, events.CommentSuccess}, types(evs))
	assert.Equal(t, SourceAI, evs[1].Data.(events.Comment).Source)
	assert.Equal(t, []time.Duration{10 * time.Second}, h.clock.Pending())
}

func TestCommentAITimeoutIsRetried(t *testing.T) {
	h := newHarness(t, nil)
	gen := &blockingGenerator{release: make(chan struct{})}
	settings := commentSettings()
	settings.AICommentEnabled = true
	m := h.comment(settings, CommentOptions{Generator: gen, AITimeout: 10 * time.Millisecond})

	require.NoError(t, m.Start(context.Background()))
	require.True(t, h.clock.RunNext())

	assert.Equal(t, 1, m.State().Retry)
	assert.Equal(t, []time.Duration{2 * time.Second}, h.clock.Pending())
	assert.Zero(t, h.resolver.inputCalls.Load(), "nothing is sent after a failed generation")
}

func TestCommentStopClearsFlags(t *testing.T) {
	h := newHarness(t, nil)
	m := h.comment(commentSettings("hi"), CommentOptions{})
	require.NoError(t, m.Start(context.Background()))

	m.generating.Store(true)
	m.sending.Store(true)
	m.Stop()
	m.Stop()

	st := m.State()
	assert.False(t, st.Running)
	assert.False(t, st.Generating)
	assert.False(t, st.Sending)

	require.NoError(t, m.Start(context.Background()))
	h.clock.Advance(10 * time.Second)
	assert.Equal(t, []string{"hi"}, h.resolver.input.Sent())
}
