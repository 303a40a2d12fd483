// Douyin Live Helper - Main Application
// Opens a Douyin live room in a real browser and keeps timed likes and
// comments going while the room is open.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/nikshitha/douyin-live-helper/agent"
	"github.com/nikshitha/douyin-live-helper/ai"
	"github.com/nikshitha/douyin-live-helper/auth"
	"github.com/nikshitha/douyin-live-helper/browser"
	"github.com/nikshitha/douyin-live-helper/config"
	"github.com/nikshitha/douyin-live-helper/douyin"
	"github.com/nikshitha/douyin-live-helper/license"
	"github.com/nikshitha/douyin-live-helper/logger"
	"github.com/nikshitha/douyin-live-helper/server"
	"github.com/nikshitha/douyin-live-helper/stealth"
	"github.com/nikshitha/douyin-live-helper/storage"
)

// Application holds all components of the helper
type Application struct {
	config     *config.Config
	configPath string
	logger     *logger.Logger
	activity   *logger.ActivityLog
	browser    *browser.Browser
	stealth    *stealth.Manager
	db         *storage.Database
	auth       *auth.Authenticator
	agent      *agent.Agent
	server     *server.Server
}

// Command line flags
var (
	configPath   = flag.String("config", "config.yaml", "Path to configuration file")
	roomFlag     = flag.String("room", "", "Live room id or URL (overrides room.url)")
	commentsFile = flag.String("comments", "", "Newline separated file of comments to add to the pool")
	headless     = flag.Bool("headless", false, "Run the browser headless (QR login needs a visible window)")
	watchConfig  = flag.Bool("watch", true, "Reload the features section when the config file changes")
	verbose      = flag.Bool("verbose", false, "Enable verbose logging")
)

func main() {
	flag.Parse()

	printBanner()

	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		fmt.Println("Note: No .env file found, using environment variables")
	}

	if *roomFlag != "" {
		room, err := douyin.RoomURL(*roomFlag)
		if err != nil {
			fmt.Printf("Invalid -room: %v\n", err)
			os.Exit(1)
		}
		os.Setenv("LIVE_ROOM_URL", room)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		fmt.Println("\nSet LIVE_ROOM_URL or pass -room with a live.douyin.com room id or URL.")
		os.Exit(1)
	}

	if *verbose {
		cfg.Logging.Level = "debug"
	}
	if *headless {
		cfg.Browser.Headless = true
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputFile: cfg.Logging.OutputFile,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Douyin Live Helper starting...")

	app, err := NewApplication(cfg, *configPath, log)
	if err != nil {
		log.Errorf("Failed to initialize application: %v", err)
		os.Exit(1)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("Application error: %v", err)
		app.Close()
		os.Exit(1)
	}

	log.Info("Application stopped")
}

// NewApplication creates and initializes a new application instance
func NewApplication(cfg *config.Config, configPath string, log *logger.Logger) (*Application, error) {
	activity := logger.NewActivityLog(cfg.Storage.LogCapacity)
	log.Attach(activity)

	db, err := storage.NewDatabase(cfg.Storage.DatabasePath, cfg.Storage.LogCapacity, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gate, err := license.NewGate(cfg.License, log)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize license: %w", err)
	}

	opts := agent.Options{
		Config:   cfg,
		Logger:   log,
		DB:       db,
		Activity: activity,
		Gate:     gate,
	}
	client, err := ai.NewClient(cfg.AI, log)
	switch {
	case err == nil:
		opts.Generator = client
	case errors.Is(err, ai.ErrNoAPIKey):
		log.Info("No AI API key configured, AI comments are unavailable")
	default:
		db.Close()
		return nil, fmt.Errorf("failed to initialize AI client: %w", err)
	}

	ag, err := agent.New(opts)
	if err != nil {
		db.Close()
		return nil, err
	}

	stealthMgr := stealth.NewManager(&cfg.Stealth, log, nil, nil)

	app := &Application{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		activity:   activity,
		browser:    browser.NewBrowser(cfg, log, stealthMgr),
		stealth:    stealthMgr,
		db:         db,
		auth:       auth.NewAuthenticator(cfg, log, db),
		agent:      ag,
	}
	if cfg.Server.Enabled {
		app.server = server.New(cfg.Server, log, ag)
	}
	return app, nil
}

// Run attaches to the live room and blocks until ctx is cancelled
func (app *Application) Run(ctx context.Context) error {
	if *commentsFile != "" {
		if err := app.importComments(ctx, *commentsFile); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if app.server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.server.Run(ctx); err != nil {
				app.logger.WithError(err).Error("Control API stopped")
			}
		}()
	}

	if *watchConfig {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.agent.Watch(ctx, app.configPath); err != nil {
				app.logger.WithError(err).Warn("Config hot reload disabled")
			}
		}()
	}

	if err := app.browser.Launch(); err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	page := app.browser.GetPage()
	resolver := douyin.NewResolver(page, app.logger)
	app.auth.SetPage(page, app.browser, resolver)

	room := app.config.Room.URL
	app.logger.WithField("room", room).Info("Opening live room")
	if err := app.auth.Login(ctx, room); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if !douyin.IsLiveURL(app.browser.CurrentURL()) {
		app.logger.WithField("url", app.browser.CurrentURL()).Warn("Page left the live room after login, reopening")
		if err := app.browser.Navigate(ctx, room); err != nil {
			return err
		}
	}

	if err := app.agent.Attach(ctx, room, resolver); err != nil {
		return err
	}
	defer app.agent.Detach()

	app.showDailyStats()
	app.logger.Info("Helper is running. Press Ctrl+C to exit")

	<-ctx.Done()
	return ctx.Err()
}

// importComments merges a comment file into the persisted pool
func (app *Application) importComments(ctx context.Context, path string) error {
	merged, err := config.LoadCommentsFile(path, app.agent.Settings().Comments)
	if err != nil {
		return err
	}
	if _, err := app.agent.UpdateSettings(ctx, config.SettingsPatch{Comments: &merged}); err != nil {
		return fmt.Errorf("failed to import comments: %w", err)
	}
	app.logger.Infof("Comment pool now holds %d entries", len(merged))
	return nil
}

// showDailyStats displays today's activity statistics
func (app *Application) showDailyStats() {
	stats, err := app.db.GetTodayStats()
	if err != nil {
		app.logger.WithError(err).Warn("Failed to get daily stats")
		return
	}

	app.logger.Info("=== Today's Activity ===")
	app.logger.Infof("  Likes Sent: %d", stats.LikesSent)
	app.logger.Infof("  Comments Sent: %d", stats.CommentsSent)
	app.logger.Info("========================")
}

// Close cleans up application resources. It is safe to call more than once.
func (app *Application) Close() {
	if app.db == nil {
		return
	}
	app.logger.Info("Shutting down...")

	app.agent.Detach()

	if app.browser != nil {
		app.browser.Close()
	}

	app.db.Close()
	app.db = nil

	app.logger.Info("Cleanup complete")
}

// printBanner prints the application banner
func printBanner() {
	banner := `
╔══════════════════════════════════════════════════════════════════╗
║                        Douyin Live Helper                        ║
╠══════════════════════════════════════════════════════════════════╣
║  Timed likes and comments for the live room you are watching     ║
║  Control API: http://127.0.0.1:8686/api/status                   ║
╚══════════════════════════════════════════════════════════════════╝
`
	fmt.Println(banner)
}
