// Package config provides configuration management for the live-room helper.
// It supports YAML configuration files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DeepSeekBaseURL is the OpenAI-compatible endpoint used for AI comments
const DeepSeekBaseURL = "https://api.deepseek.com"

// Config holds all configuration settings for the helper
type Config struct {
	// Live room to attach to
	Room RoomConfig `yaml:"room"`

	// Browser configuration
	Browser BrowserConfig `yaml:"browser"`

	// Stealth settings for anti-detection
	Stealth StealthConfig `yaml:"stealth"`

	// Action planning and retry policy
	Schedule ScheduleConfig `yaml:"schedule"`

	// AI comment generation
	AI AIConfig `yaml:"ai"`

	// Feature gating
	License LicenseConfig `yaml:"license"`

	// Storage configuration
	Storage StorageConfig `yaml:"storage"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging"`

	// Local control API
	Server ServerConfig `yaml:"server"`

	// Feature toggles and comment pool (seed for the settings record)
	Features Settings `yaml:"features"`
}

// RoomConfig holds the live room target
type RoomConfig struct {
	URL             string `yaml:"url"`
	LoginTimeoutSec int    `yaml:"login_timeout_seconds"`
}

// BrowserConfig holds browser automation settings
type BrowserConfig struct {
	Headless       bool   `yaml:"headless"`
	UserDataDir    string `yaml:"user_data_dir"`
	SlowMotion     int    `yaml:"slow_motion_ms"`
	Timeout        int    `yaml:"timeout_seconds"`
	ViewportWidth  int    `yaml:"viewport_width"`
	ViewportHeight int    `yaml:"viewport_height"`
}

// StealthConfig holds anti-detection settings
type StealthConfig struct {
	// Mouse movement settings (idle jitter)
	MouseSpeedMin  float64 `yaml:"mouse_speed_min"`
	MouseSpeedMax  float64 `yaml:"mouse_speed_max"`
	MouseOvershoot bool    `yaml:"mouse_overshoot"`

	// Double-click micro timing
	PressHoldMinMs     int `yaml:"press_hold_min_ms"`
	PressHoldMaxMs     int `yaml:"press_hold_max_ms"`
	ReleaseClickMinMs  int `yaml:"release_click_min_ms"`
	ReleaseClickMaxMs  int `yaml:"release_click_max_ms"`
	DoubleClickGapMin  int `yaml:"double_click_gap_min_ms"`
	DoubleClickGapMax  int `yaml:"double_click_gap_max_ms"`

	// Like click point
	LikeOffsetMin    float64 `yaml:"like_offset_min_px"`
	LikeOffsetMax    float64 `yaml:"like_offset_max_px"`
	LikeEdgeMargin   float64 `yaml:"like_edge_margin_px"`
	LikeVerticalBias float64 `yaml:"like_vertical_bias"`

	// Typing settings
	TextEntryMode  string `yaml:"text_entry_mode"`
	TypingDelayMin int    `yaml:"typing_delay_min_ms"`
	TypingDelayMax int    `yaml:"typing_delay_max_ms"`

	// Comment pauses
	FocusPauseMin     int     `yaml:"focus_pause_min_ms"`
	FocusPauseMax     int     `yaml:"focus_pause_max_ms"`
	ClearPauseMs      int     `yaml:"clear_pause_ms"`
	SubmitPauseMin    int     `yaml:"submit_pause_min_ms"`
	SubmitPauseMax    int     `yaml:"submit_pause_max_ms"`
	PostSubmitPauseMs int     `yaml:"post_submit_pause_ms"`
	SettlePauseMs     int     `yaml:"settle_pause_ms"`
	PauseVariancePct  float64 `yaml:"pause_variance_pct"`

	// Idle behaviour
	IdleEnabled      bool `yaml:"idle_enabled"`
	IdleMouseMinSec  int  `yaml:"idle_mouse_min_seconds"`
	IdleMouseMaxSec  int  `yaml:"idle_mouse_max_seconds"`
	IdleScrollMinSec int  `yaml:"idle_scroll_min_seconds"`
	IdleScrollMaxSec int  `yaml:"idle_scroll_max_seconds"`
	IdleScrollMinPx  int  `yaml:"idle_scroll_min_px"`
	IdleScrollMaxPx  int  `yaml:"idle_scroll_max_px"`

	// Fingerprint masking
	RandomizeViewport bool `yaml:"randomize_viewport"`
	DisableWebdriver  bool `yaml:"disable_webdriver"`
	RandomUserAgent   bool `yaml:"random_user_agent"`
}

// ScheduleConfig holds action planning settings
type ScheduleConfig struct {
	LikeWindowMs         int     `yaml:"like_window_ms"`
	MinGapMs             int     `yaml:"min_gap_ms"`
	GuardGapMs           int     `yaml:"guard_gap_ms"`
	CommentVariancePct   float64 `yaml:"comment_variance_pct"`
	CommentMinIntervalMs int     `yaml:"comment_min_interval_ms"`
	AIFirstDelayMinMs    int     `yaml:"ai_first_delay_min_ms"`
	AIFirstDelayMaxMs    int     `yaml:"ai_first_delay_max_ms"`
	MaxRetries           int     `yaml:"max_retries"`
	RetryBackoffMs       int     `yaml:"retry_backoff_ms"`
}

// AIConfig holds the text generator settings
type AIConfig struct {
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url"`
	Model             string  `yaml:"model"`
	TimeoutSec        int     `yaml:"timeout_seconds"`
	MaxTokens         int     `yaml:"max_tokens"`
	Temperature       float32 `yaml:"temperature"`
	MaxLength         int     `yaml:"max_length"`
	RequestsPerMinute int     `yaml:"requests_per_minute"`
	SendScreenshot    bool    `yaml:"send_screenshot"`
}

// LicenseConfig holds feature gating settings
type LicenseConfig struct {
	Key              string   `yaml:"key"`
	ExpiresAt        string   `yaml:"expires_at"`
	TimeCheckURL     string   `yaml:"time_check_url"`
	TimeCheckTimeout int      `yaml:"time_check_timeout_ms"`
	GatedFeatures    []string `yaml:"gated_features"`
}

// StorageConfig holds data persistence settings
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	CookiesPath  string `yaml:"cookies_path"`
	LogCapacity  int    `yaml:"log_capacity"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	OutputFile string `yaml:"output_file"`
}

// ServerConfig holds the control API settings
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Room: RoomConfig{
			URL:             "",
			LoginTimeoutSec: 180,
		},
		Browser: BrowserConfig{
			Headless:       false,
			UserDataDir:    "./data/browser",
			SlowMotion:     0,
			Timeout:        30,
			ViewportWidth:  1366,
			ViewportHeight: 768,
		},
		Stealth: StealthConfig{
			MouseSpeedMin:     0.5,
			MouseSpeedMax:     2.0,
			MouseOvershoot:    true,
			PressHoldMinMs:    30,
			PressHoldMaxMs:    70,
			ReleaseClickMinMs: 10,
			ReleaseClickMaxMs: 30,
			DoubleClickGapMin: 80,
			DoubleClickGapMax: 150,
			LikeOffsetMin:     40,
			LikeOffsetMax:     80,
			LikeEdgeMargin:    20,
			LikeVerticalBias:  0.65,
			TextEntryMode:     "typing",
			TypingDelayMin:    30,
			TypingDelayMax:    80,
			FocusPauseMin:     100,
			FocusPauseMax:     300,
			ClearPauseMs:      100,
			SubmitPauseMin:    200,
			SubmitPauseMax:    400,
			PostSubmitPauseMs: 50,
			SettlePauseMs:     500,
			PauseVariancePct:  20,
			IdleEnabled:       true,
			IdleMouseMinSec:   8,
			IdleMouseMaxSec:   25,
			IdleScrollMinSec:  15,
			IdleScrollMaxSec:  45,
			IdleScrollMinPx:   40,
			IdleScrollMaxPx:   160,
			RandomizeViewport: true,
			DisableWebdriver:  true,
			RandomUserAgent:   false,
		},
		Schedule: ScheduleConfig{
			LikeWindowMs:         60000,
			MinGapMs:             500,
			GuardGapMs:           1000,
			CommentVariancePct:   10,
			CommentMinIntervalMs: 3000,
			AIFirstDelayMinMs:    3000,
			AIFirstDelayMaxMs:    5000,
			MaxRetries:           3,
			RetryBackoffMs:       2000,
		},
		AI: AIConfig{
			APIKey:            "",
			BaseURL:           DeepSeekBaseURL,
			Model:             "deepseek-chat",
			TimeoutSec:        15,
			MaxTokens:         60,
			Temperature:       0.9,
			MaxLength:         50,
			RequestsPerMinute: 10,
			SendScreenshot:    false,
		},
		License: LicenseConfig{
			Key:              "",
			ExpiresAt:        "",
			TimeCheckURL:     "",
			TimeCheckTimeout: 3000,
			GatedFeatures:    []string{"ai_comment"},
		},
		Storage: StorageConfig{
			DatabasePath: "./data/douyin_helper.db",
			CookiesPath:  "./data/cookies.json",
			LogCapacity:  100,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			OutputFile: "./logs/helper.log",
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8686",
		},
		Features: DefaultSettings(),
	}
}

// LoadConfig loads configuration from a YAML file and applies environment variable overrides
func LoadConfig(configPath string) (*Config, error) {
	config, err := parseFile(configPath)
	if err != nil {
		return nil, err
	}

	// Apply environment variable overrides
	config.applyEnvOverrides()

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func parseFile(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath == "" {
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// File doesn't exist, use defaults
		return config, nil
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.Features.Comments = NormalizeComments(config.Features.Comments)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func (c *Config) applyEnvOverrides() {
	if roomURL := os.Getenv("LIVE_ROOM_URL"); roomURL != "" {
		c.Room.URL = roomURL
	}

	// Browser settings
	if headless := os.Getenv("BROWSER_HEADLESS"); headless != "" {
		c.Browser.Headless = headless == "true" || headless == "1"
	}
	if userDataDir := os.Getenv("BROWSER_USER_DATA_DIR"); userDataDir != "" {
		c.Browser.UserDataDir = userDataDir
	}

	// AI
	if apiKey := os.Getenv("DEEPSEEK_API_KEY"); apiKey != "" {
		c.AI.APIKey = apiKey
	}
	if model := os.Getenv("DEEPSEEK_MODEL"); model != "" {
		c.AI.Model = model
	}

	// Like rate
	if minLikes := os.Getenv("LIKE_MIN_PER_MINUTE"); minLikes != "" {
		if val, err := strconv.Atoi(minLikes); err == nil {
			c.Features.LikeMinPerMinute = val
		}
	}
	if maxLikes := os.Getenv("LIKE_MAX_PER_MINUTE"); maxLikes != "" {
		if val, err := strconv.Atoi(maxLikes); err == nil {
			c.Features.LikeMaxPerMinute = val
		}
	}

	// License
	if key := os.Getenv("HELPER_LICENSE_KEY"); key != "" {
		c.License.Key = key
	}

	// Logging
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFormat := os.Getenv("LOG_FORMAT"); logFormat != "" {
		c.Logging.Format = logFormat
	}

	// Storage
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		c.Storage.DatabasePath = dbPath
	}

	// Server
	if addr := os.Getenv("HELPER_SERVER_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Room.URL == "" {
		return fmt.Errorf("live room URL is required (set LIVE_ROOM_URL env var, -room flag or room.url in config)")
	}

	// Validate schedule
	if c.Schedule.LikeWindowMs <= 0 {
		return fmt.Errorf("like_window_ms must be positive")
	}
	if c.Schedule.MinGapMs <= 0 {
		return fmt.Errorf("min_gap_ms must be positive")
	}
	if c.Schedule.GuardGapMs < 0 || c.Schedule.GuardGapMs >= c.Schedule.LikeWindowMs {
		return fmt.Errorf("guard_gap_ms must be between 0 and like_window_ms")
	}
	if c.Schedule.MaxRetries < 0 || c.Schedule.MaxRetries > 10 {
		return fmt.Errorf("max_retries must be between 0 and 10")
	}
	if c.Schedule.AIFirstDelayMinMs > c.Schedule.AIFirstDelayMaxMs {
		return fmt.Errorf("ai_first_delay_min_ms must not exceed ai_first_delay_max_ms")
	}

	// Validate stealth ranges
	if c.Stealth.TypingDelayMin > c.Stealth.TypingDelayMax {
		return fmt.Errorf("typing_delay_min_ms must not exceed typing_delay_max_ms")
	}
	if c.Stealth.DoubleClickGapMin > c.Stealth.DoubleClickGapMax {
		return fmt.Errorf("double_click_gap_min_ms must not exceed double_click_gap_max_ms")
	}
	if c.Stealth.TextEntryMode != "typing" && c.Stealth.TextEntryMode != "rewrite" {
		return fmt.Errorf("invalid text_entry_mode: %s (must be typing or rewrite)", c.Stealth.TextEntryMode)
	}

	// Validate feature record
	if err := c.Features.Validate(); err != nil {
		return err
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetTimeout returns the configured browser timeout as a time.Duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Browser.Timeout) * time.Second
}

// LikeWindow returns the scheduling window for likes
func (c *Config) LikeWindow() time.Duration {
	return time.Duration(c.Schedule.LikeWindowMs) * time.Millisecond
}

// RetryBackoff returns the base linear backoff
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Schedule.RetryBackoffMs) * time.Millisecond
}

// AITimeout returns the bound for a single generation call
func (c *Config) AITimeout() time.Duration {
	return time.Duration(c.AI.TimeoutSec) * time.Second
}

// SaveConfig saves the current configuration to a YAML file
func (c *Config) SaveConfig(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
