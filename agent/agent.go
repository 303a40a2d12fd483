// Package agent wires the feature machines to one live-room page and keeps
// their settings, counters and activity log in storage.
package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nikshitha/douyin-live-helper/action"
	"github.com/nikshitha/douyin-live-helper/comment"
	"github.com/nikshitha/douyin-live-helper/config"
	"github.com/nikshitha/douyin-live-helper/events"
	"github.com/nikshitha/douyin-live-helper/feature"
	"github.com/nikshitha/douyin-live-helper/logger"
	"github.com/nikshitha/douyin-live-helper/scheduler"
	"github.com/nikshitha/douyin-live-helper/stealth"
	"github.com/nikshitha/douyin-live-helper/storage"
)

// DailyResetSpec fires the midnight reset of the today counters
const DailyResetSpec = "0 0 * * *"

var (
	ErrAlreadyAttached = errors.New("agent already attached")
	ErrNotAttached     = errors.New("agent not attached")
	ErrUnknownFeature  = errors.New("unknown feature")
	ErrInvalidSettings = errors.New("invalid settings")
)

// Target is the page the agent acts on
type Target interface {
	action.Resolver
	stealth.Pointer
}

// Options holds the agent's collaborators. Clock, Rand and Sleeper default
// to the wall clock, a time-seeded source and a real sleeper.
type Options struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *storage.Database
	Activity  *logger.ActivityLog
	Gate      feature.Gate
	Generator comment.Generator
	Clock     scheduler.Clock
	Rand      *stealth.Random
	Sleeper   stealth.Sleeper
}

// Status is what the control surface shows
type Status struct {
	Attached bool                `json:"attached"`
	Room     string              `json:"room,omitempty"`
	Like     *feature.State      `json:"like,omitempty"`
	Comment  *feature.State      `json:"comment,omitempty"`
	Settings config.Settings     `json:"settings"`
	Today    *storage.DailyStats `json:"today,omitempty"`
}

// Agent is the single attachment of the helper to a live room
type Agent struct {
	opts    Options
	logger  *logger.Logger
	bus     *events.Bus
	stealth *stealth.Manager
	idle    *stealth.IdleInjector

	mu       sync.Mutex
	settings config.Settings
	attached bool
	room     string
	cancel   context.CancelFunc
	cron     *cron.Cron
	like     *feature.Like
	comment  *feature.Comment
	unsubs   []func()
	wg       sync.WaitGroup
}

// New creates a detached agent. Persisted settings and activity entries are
// loaded here so the control surface has them before a page is attached.
func New(opts Options) (*Agent, error) {
	if opts.Config == nil || opts.Logger == nil || opts.DB == nil {
		return nil, errors.New("agent needs config, logger and database")
	}
	if opts.Clock == nil {
		opts.Clock = scheduler.SystemClock{}
	}
	if opts.Rand == nil {
		opts.Rand = stealth.NewRandom(0)
	}
	if opts.Sleeper == nil {
		opts.Sleeper = stealth.RealSleeper{}
	}

	a := &Agent{
		opts:   opts,
		logger: opts.Logger.WithModule("agent"),
		bus:    events.NewBus(),
	}
	a.stealth = stealth.NewManager(&opts.Config.Stealth, opts.Logger, opts.Rand, opts.Sleeper)
	a.idle = stealth.NewIdleInjector(a.stealth, &opts.Config.Stealth, opts.Logger)

	settings, found, err := opts.DB.LoadSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if !found {
		settings = opts.Config.Features.Apply(config.SettingsPatch{})
		settings.Comments = config.NormalizeComments(settings.Comments)
		if err := opts.DB.SaveSettings(settings); err != nil {
			return nil, fmt.Errorf("failed to seed settings: %w", err)
		}
		a.logger.Info("Seeded settings from configuration")
	}
	a.settings = settings

	if opts.Activity != nil {
		entries, err := opts.DB.LoadLogs()
		if err != nil {
			a.logger.WithError(err).Warn("Failed to restore activity log")
		} else {
			opts.Activity.Restore(entries)
		}
		opts.Activity.OnAdd(a.persistLog)
	}

	return a, nil
}

// Events returns the fan-in bus: every machine event plus log:added
func (a *Agent) Events() *events.Bus {
	return a.bus
}

// Attach builds both machines against target, restores their counters and
// history, and starts whichever features are enabled
func (a *Agent) Attach(ctx context.Context, room string, target Target) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.attached {
		return ErrAlreadyAttached
	}

	cfg := a.opts.Config
	deps := feature.Deps{
		Resolver: target,
		Clock:    a.opts.Clock,
		Rand:     a.opts.Rand,
		Logger:   a.opts.Logger,
		Gate:     a.opts.Gate,
		Schedule: cfg.Schedule,
	}
	likeExec := action.NewLikeExecutor(&cfg.Stealth, a.opts.Rand, a.opts.Sleeper, a.opts.Logger)
	commentExec := action.NewCommentExecutor(&cfg.Stealth, a.opts.Rand, a.opts.Sleeper, a.opts.Logger)

	a.like = feature.NewLike(deps, likeExec, a.settings)
	a.comment = feature.NewComment(deps, commentExec, feature.CommentOptions{
		Generator:      a.opts.Generator,
		AITimeout:      cfg.AITimeout(),
		MaxLength:      cfg.AI.MaxLength,
		SendScreenshot: cfg.AI.SendScreenshot,
	}, a.settings)

	a.restoreCounts(feature.NameLike, a.like.SetCounts)
	a.restoreCounts(feature.NameComment, a.comment.SetCounts)
	a.restoreHistory()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.subscribe(a.like.Events())
	a.subscribe(a.comment.Events())

	a.cron = cron.New()
	if _, err := a.cron.AddFunc(DailyResetSpec, a.ResetToday); err != nil {
		a.logger.WithError(err).Warn("Failed to schedule daily reset")
	}
	a.cron.Start()

	a.idle.Start(ctx, target)

	a.attached = true
	a.room = room
	a.logger.WithField("room", room).Info("Attached to live room")

	if a.settings.LikeEnabled {
		if err := a.like.Start(ctx); err != nil {
			a.logger.WithError(err).Warn("Auto-like did not start")
		}
	}
	if a.settings.CommentEnabled {
		if err := a.comment.Start(ctx); err != nil {
			a.logger.WithError(err).Warn("Auto-comment did not start")
		}
	}
	a.syncTogglesLocked()
	return nil
}

// Detach stops everything started by Attach. It is safe to call when detached.
func (a *Agent) Detach() {
	a.mu.Lock()
	if !a.attached {
		a.mu.Unlock()
		return
	}
	a.like.Stop()
	a.comment.Stop()
	a.saveCountsLocked()
	a.attached = false
	a.room = ""
	unsubs := a.unsubs
	a.unsubs = nil
	cancel := a.cancel
	c := a.cron
	a.mu.Unlock()

	a.idle.Stop()
	<-c.Stop().Done()
	cancel()
	for _, unsub := range unsubs {
		unsub()
	}
	a.wg.Wait()
	a.logger.Info("Detached from live room")
}

// Attached reports whether a page is attached
func (a *Agent) Attached() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attached
}

// Status returns the current view for the control surface
func (a *Agent) Status() Status {
	a.mu.Lock()
	s := Status{
		Attached: a.attached,
		Room:     a.room,
		Settings: a.settings.Apply(config.SettingsPatch{}),
	}
	if a.attached {
		like, com := a.like.State(), a.comment.State()
		s.Like, s.Comment = &like, &com
	}
	a.mu.Unlock()

	if today, err := a.opts.DB.GetTodayStats(); err == nil {
		s.Today = today
	}
	return s
}

// Settings returns the persisted settings record
func (a *Agent) Settings() config.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings.Apply(config.SettingsPatch{})
}

// UpdateSettings validates and persists patch, then hands it to the
// machines. A machine refusing to start is reported as the error; the
// returned settings already have its toggle turned off.
func (a *Agent) UpdateSettings(ctx context.Context, patch config.SettingsPatch) (config.Settings, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := a.settings.Apply(patch)
	if err := next.Validate(); err != nil {
		return a.settings, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	a.settings = next

	var errs []error
	if a.attached {
		errs = append(errs, a.like.UpdateConfig(ctx, patch), a.comment.UpdateConfig(ctx, patch))
		a.syncTogglesLocked()
	}
	if err := a.opts.DB.SaveSettings(a.settings); err != nil {
		errs = append(errs, fmt.Errorf("failed to save settings: %w", err))
	}
	return a.settings.Apply(config.SettingsPatch{}), errors.Join(errs...)
}

// StartFeature turns a feature's toggle on and starts it, also when the toggle
// was left on by an earlier refused start. ai_comment also enables commenting.
func (a *Agent) StartFeature(ctx context.Context, name string) error {
	on := true
	var patch config.SettingsPatch
	switch name {
	case feature.NameLike:
		patch.LikeEnabled = &on
	case feature.NameComment:
		patch.CommentEnabled = &on
	case feature.NameAIComment:
		patch.CommentEnabled = &on
		patch.AICommentEnabled = &on
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFeature, name)
	}
	if !a.Attached() {
		return ErrNotAttached
	}
	_, err := a.UpdateSettings(ctx, patch)
	if errors.Is(err, feature.ErrAlreadyRunning) {
		return nil
	}
	return err
}

// StopFeature turns a feature's toggle off. Stopping ai_comment falls back
// to the comment pool without stopping commenting.
func (a *Agent) StopFeature(ctx context.Context, name string) error {
	off := false
	var patch config.SettingsPatch
	switch name {
	case feature.NameLike:
		patch.LikeEnabled = &off
	case feature.NameComment:
		patch.CommentEnabled = &off
	case feature.NameAIComment:
		patch.AICommentEnabled = &off
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFeature, name)
	}
	_, err := a.UpdateSettings(ctx, patch)
	return err
}

// ResetToday zeroes the today counters and persists them
func (a *Agent) ResetToday() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.attached {
		return
	}
	a.like.ResetToday()
	a.comment.ResetToday()
	a.saveCountsLocked()
	a.logger.WithSource("system").Info("Daily counters reset")
}

// ResetStats clears every counter, persisted and live
func (a *Agent) ResetStats() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.opts.DB.ResetStats(); err != nil {
		return err
	}
	if a.attached {
		a.like.SetCounts(0, 0)
		a.comment.SetCounts(0, 0)
	}
	a.logger.WithSource("system").Info("Statistics reset")
	return nil
}

// Logs returns the activity log, newest first
func (a *Agent) Logs() []logger.Entry {
	if a.opts.Activity == nil {
		return nil
	}
	return a.opts.Activity.Entries()
}

// ClearLogs empties the activity log and its persisted copy
func (a *Agent) ClearLogs() error {
	if a.opts.Activity != nil {
		a.opts.Activity.Clear()
	}
	return a.opts.DB.ClearLogs()
}

// Reload applies the features section of a reloaded configuration file.
// Only fields that changed in the file are applied, so edits made through
// the control surface survive unrelated saves.
func (a *Agent) Reload(ctx context.Context, cfg *config.Config) {
	patch, changed := diffSettings(a.opts.Config.Features, cfg.Features)
	a.opts.Config.Features = cfg.Features
	if !changed {
		return
	}
	if _, err := a.UpdateSettings(ctx, patch); err != nil {
		a.logger.WithError(err).Warn("Reloaded settings were not fully applied")
		return
	}
	a.logger.WithSource("system").Info("Settings reloaded from configuration file")
}

// Watch follows configPath and applies changes until ctx ends
func (a *Agent) Watch(ctx context.Context, configPath string) error {
	return config.Watch(ctx, configPath,
		func(cfg *config.Config) { a.Reload(ctx, cfg) },
		func(err error) { a.logger.WithError(err).Warn("Ignoring configuration change") })
}

func (a *Agent) subscribe(bus *events.Bus) {
	ch, unsub := bus.Subscribe(64)
	a.unsubs = append(a.unsubs, unsub)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for ev := range ch {
			a.handle(ev)
			a.bus.Publish(ev)
		}
	}()
}

// handle persists what the machines report
func (a *Agent) handle(ev events.Event) {
	today := storage.Today()
	switch ev.Type {
	case events.LikeSuccess:
		counts, _ := ev.Data.(events.Counts)
		a.saveStats(feature.NameLike, counts, today)
		if err := a.opts.DB.IncrementLikes(); err != nil {
			a.logger.WithError(err).Debug("Failed to record daily like")
		}
	case events.CommentSuccess:
		c, _ := ev.Data.(events.Comment)
		a.saveStats(feature.NameComment, c.Counts, today)
		if _, err := a.opts.DB.RecordComment(c.Text, c.Source); err != nil {
			a.logger.WithError(err).Debug("Failed to record comment")
		}
	case events.LikeRejected, events.CommentRejected:
		a.mu.Lock()
		if a.attached {
			a.syncTogglesLocked()
			if err := a.opts.DB.SaveSettings(a.settings); err != nil {
				a.logger.WithError(err).Warn("Failed to save settings")
			}
		}
		a.mu.Unlock()
	}
}

// syncTogglesLocked copies the machines' enable flags, which they clear
// when refusing to start
func (a *Agent) syncTogglesLocked() {
	a.settings.LikeEnabled = a.like.Settings().LikeEnabled
	cs := a.comment.Settings()
	a.settings.CommentEnabled = cs.CommentEnabled
	a.settings.AICommentEnabled = cs.AICommentEnabled
}

func (a *Agent) restoreCounts(name string, set func(total, today int)) {
	stats, err := a.opts.DB.LoadStats(name, storage.Today())
	if err != nil {
		a.logger.WithError(err).WithField("feature", name).Warn("Failed to load statistics")
		return
	}
	set(stats.Total, stats.Today)
	if err := a.opts.DB.SaveStats(stats); err != nil {
		a.logger.WithError(err).Debug("Failed to save statistics")
	}
}

// restoreHistory replays recent comments oldest first so smart mode avoids them
func (a *Agent) restoreHistory() {
	size := a.settings.SmartHistorySize
	if size <= 0 {
		return
	}
	recent, err := a.opts.DB.RecentComments(size)
	if err != nil {
		a.logger.WithError(err).Debug("Failed to load comment history")
		return
	}
	sel := a.comment.Selector()
	for i := len(recent) - 1; i >= 0; i-- {
		sel.Record(recent[i].Text)
	}
}

func (a *Agent) saveCountsLocked() {
	today := storage.Today()
	a.saveStats(feature.NameLike, a.like.Counts(), today)
	a.saveStats(feature.NameComment, a.comment.Counts(), today)
}

func (a *Agent) saveStats(name string, c events.Counts, date string) {
	err := a.opts.DB.SaveStats(storage.FeatureStats{
		Feature:       name,
		Total:         c.Total,
		Today:         c.Today,
		LastResetDate: date,
	})
	if err != nil {
		a.logger.WithError(err).WithField("feature", name).Warn("Failed to save statistics")
	}
}

// persistLog mirrors activity entries into storage. It must not log with a
// source field or the entry would feed back into the activity log.
func (a *Agent) persistLog(e logger.Entry) {
	if err := a.opts.DB.AppendLog(e); err != nil {
		a.logger.WithError(err).Debug("Failed to persist activity entry")
	}
	a.bus.Publish(events.Event{Type: events.LogAdded, Time: time.Now(), Data: e})
}

// diffSettings builds a patch of the fields that differ between old and next
func diffSettings(old, next config.Settings) (config.SettingsPatch, bool) {
	var p config.SettingsPatch
	changed := false
	setBool := func(dst **bool, a, b bool) {
		if a != b {
			*dst = &b
			changed = true
		}
	}
	setInt := func(dst **int, a, b int) {
		if a != b {
			*dst = &b
			changed = true
		}
	}
	setString := func(dst **string, a, b string) {
		if a != b {
			*dst = &b
			changed = true
		}
	}

	setBool(&p.LikeEnabled, old.LikeEnabled, next.LikeEnabled)
	setInt(&p.LikeMinPerMinute, old.LikeMinPerMinute, next.LikeMinPerMinute)
	setInt(&p.LikeMaxPerMinute, old.LikeMaxPerMinute, next.LikeMaxPerMinute)
	setBool(&p.CommentEnabled, old.CommentEnabled, next.CommentEnabled)
	setBool(&p.AICommentEnabled, old.AICommentEnabled, next.AICommentEnabled)
	setInt(&p.CommentInterval, old.CommentInterval, next.CommentInterval)
	setString(&p.CommentMode, old.CommentMode, next.CommentMode)
	setString(&p.AIPrompt, old.AIPrompt, next.AIPrompt)
	setInt(&p.SmartHistorySize, old.SmartHistorySize, next.SmartHistorySize)

	oldPool, nextPool := config.NormalizeComments(old.Comments), config.NormalizeComments(next.Comments)
	if !slices.Equal(oldPool, nextPool) {
		p.Comments = &nextPool
		changed = true
	}
	return p, changed
}
