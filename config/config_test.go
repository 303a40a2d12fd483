// Package config - Tests for configuration management
package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig should not return nil")
	}

	// Check default values
	if cfg.Browser.Timeout != 30 {
		t.Errorf("Expected default timeout of 30, got %d", cfg.Browser.Timeout)
	}

	if cfg.Features.LikeMinPerMinute != 20 || cfg.Features.LikeMaxPerMinute != 50 {
		t.Errorf("Expected default like rate 20-50, got %d-%d", cfg.Features.LikeMinPerMinute, cfg.Features.LikeMaxPerMinute)
	}

	if cfg.Features.LikeEnabled || cfg.Features.CommentEnabled {
		t.Error("Features should be disabled by default")
	}

	if cfg.Schedule.MaxRetries != 3 {
		t.Errorf("Expected default max retries of 3, got %d", cfg.Schedule.MaxRetries)
	}

	if cfg.AI.BaseURL != DeepSeekBaseURL {
		t.Errorf("Expected DeepSeek base URL, got %s", cfg.AI.BaseURL)
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig()

	// Should fail without a room
	err := cfg.Validate()
	if err == nil {
		t.Error("Validation should fail without room URL")
	}

	cfg.Room.URL = "https://live.douyin.com/123456"

	err = cfg.Validate()
	if err != nil {
		t.Errorf("Validation should pass with room URL: %v", err)
	}

	// Test invalid guard gap
	cfg.Schedule.GuardGapMs = cfg.Schedule.LikeWindowMs
	err = cfg.Validate()
	if err == nil {
		t.Error("Validation should fail when guard gap covers the whole window")
	}
	cfg.Schedule.GuardGapMs = 1000 // Reset

	// Test invalid log level
	cfg.Logging.Level = "invalid"
	err = cfg.Validate()
	if err == nil {
		t.Error("Validation should fail with invalid log level")
	}
	cfg.Logging.Level = "info" // Reset

	// Test invalid comment mode
	cfg.Features.CommentMode = "loud"
	err = cfg.Validate()
	if err == nil {
		t.Error("Validation should fail with unknown comment mode")
	}
	cfg.Features.CommentMode = ModeSmart

	// Test invalid text entry mode
	cfg.Stealth.TextEntryMode = "paste"
	err = cfg.Validate()
	if err == nil {
		t.Error("Validation should fail with unknown text entry mode")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LIVE_ROOM_URL", "https://live.douyin.com/42")
	t.Setenv("DEEPSEEK_API_KEY", "sk-test")
	t.Setenv("LIKE_MAX_PER_MINUTE", "30")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Room.URL != "https://live.douyin.com/42" {
		t.Errorf("Room URL should be overridden from env, got %s", cfg.Room.URL)
	}

	if cfg.AI.APIKey != "sk-test" {
		t.Error("API key should be overridden from env")
	}

	if cfg.Features.LikeMaxPerMinute != 30 {
		t.Errorf("Like max should be 30 from env, got %d", cfg.Features.LikeMaxPerMinute)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Log level should be debug from env, got %s", cfg.Logging.Level)
	}
}

func TestDurations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Browser.Timeout = 60

	if cfg.GetTimeout().Seconds() != 60 {
		t.Errorf("Expected 60 seconds, got %f", cfg.GetTimeout().Seconds())
	}
	if cfg.LikeWindow() != time.Minute {
		t.Errorf("Expected one minute like window, got %s", cfg.LikeWindow())
	}
	if cfg.RetryBackoff() != 2*time.Second {
		t.Errorf("Expected 2s backoff, got %s", cfg.RetryBackoff())
	}
}

func TestLoadConfigNonExistent(t *testing.T) {
	t.Setenv("LIVE_ROOM_URL", "https://live.douyin.com/1")

	cfg, err := LoadConfig("nonexistent.yaml")
	if err != nil {
		t.Fatalf("Should not error for non-existent file: %v", err)
	}

	// Should have defaults
	if cfg.Browser.Timeout != 30 {
		t.Error("Should have default timeout")
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
room:
  url: https://live.douyin.com/777
features:
  like_enabled: true
  like_min_per_minute: 5
  like_max_per_minute: 8
  comment_mode: sequence
  comments:
    - "  主播好  "
    - ""
    - 666
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if !cfg.Features.LikeEnabled || cfg.Features.LikeMinPerMinute != 5 || cfg.Features.LikeMaxPerMinute != 8 {
		t.Errorf("Feature section not loaded: %+v", cfg.Features)
	}
	if len(cfg.Features.Comments) != 2 || cfg.Features.Comments[0] != "主播好" {
		t.Errorf("Comments should be normalized, got %q", cfg.Features.Comments)
	}
	// Untouched sections keep defaults
	if cfg.Schedule.MinGapMs != 500 {
		t.Errorf("Expected default min gap, got %d", cfg.Schedule.MinGapMs)
	}
}

func TestSettingsApply(t *testing.T) {
	base := DefaultSettings()
	enabled := true
	maxLikes := 12
	comments := []string{"a", " ", "b"}

	out := base.Apply(SettingsPatch{
		LikeEnabled:      &enabled,
		LikeMaxPerMinute: &maxLikes,
		Comments:         &comments,
	})

	if !out.LikeEnabled || out.LikeMaxPerMinute != 12 {
		t.Errorf("Patch not applied: %+v", out)
	}
	if out.LikeMinPerMinute != base.LikeMinPerMinute {
		t.Error("Unpatched fields should be preserved")
	}
	if len(out.Comments) != 2 {
		t.Errorf("Patched comments should be normalized, got %q", out.Comments)
	}
	if base.LikeEnabled {
		t.Error("Apply should not mutate the receiver")
	}
}

func TestRateConfigValidate(t *testing.T) {
	valid := RateConfig{MinPerInterval: 1, MaxPerInterval: 1, Interval: time.Minute}
	if err := valid.Validate(); err != nil {
		t.Errorf("Expected valid rate, got %v", err)
	}

	cases := []RateConfig{
		{MinPerInterval: 0, MaxPerInterval: 5, Interval: time.Minute},
		{MinPerInterval: 6, MaxPerInterval: 5, Interval: time.Minute},
		{MinPerInterval: 1, MaxPerInterval: 5, Interval: 0},
	}
	for _, rc := range cases {
		if err := rc.Validate(); !errors.Is(err, ErrInvalidRate) {
			t.Errorf("Expected ErrInvalidRate for %+v, got %v", rc, err)
		}
	}
}

func TestNormalizeCommentsCap(t *testing.T) {
	lines := make([]string, 0, 80)
	for i := 0; i < 80; i++ {
		lines = append(lines, strings.Repeat("x", i+1))
	}

	out := NormalizeComments(lines)
	if len(out) != MaxComments {
		t.Errorf("Expected pool capped at %d, got %d", MaxComments, len(out))
	}
}

func TestLoadCommentsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comments.txt")
	if err := os.WriteFile(path, []byte("来了\n\n  好听  \n"), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := LoadCommentsFile(path, []string{"existing"})
	if err != nil {
		t.Fatalf("LoadCommentsFile failed: %v", err)
	}
	if len(out) != 3 || out[0] != "existing" || out[2] != "好听" {
		t.Errorf("Unexpected merged comments: %q", out)
	}
}

func TestWatchReloads(t *testing.T) {
	t.Setenv("LIVE_ROOM_URL", "https://live.douyin.com/1")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("features:\n  comment_interval_seconds: 90\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *Config, 1)
	go Watch(ctx, path, func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	}, nil)

	// Give the watcher a moment to register
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("features:\n  comment_interval_seconds: 30\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changed:
		if c.Features.CommentInterval != 30 {
			t.Errorf("Expected reloaded interval 30, got %d", c.Features.CommentInterval)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Config change was not delivered")
	}
}
