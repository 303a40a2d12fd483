package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// MaxComments caps the size of the comment pool
const MaxComments = 50

// Comment selection modes
const (
	ModeRandom   = "random"
	ModeSequence = "sequence"
	ModeSmart    = "smart"
)

// ErrInvalidRate is returned when a rate config cannot be planned
var ErrInvalidRate = errors.New("invalid rate: min and max must be positive and min <= max")

// Settings is the runtime feature record shared with the control surface.
// It is persisted as a whole and swapped atomically by the feature machines.
type Settings struct {
	LikeEnabled      bool     `yaml:"like_enabled" json:"likeEnabled"`
	LikeMinPerMinute int      `yaml:"like_min_per_minute" json:"likeMinPerMinute"`
	LikeMaxPerMinute int      `yaml:"like_max_per_minute" json:"likeMaxPerMinute"`
	CommentEnabled   bool     `yaml:"comment_enabled" json:"commentEnabled"`
	AICommentEnabled bool     `yaml:"ai_comment_enabled" json:"aiCommentEnabled"`
	CommentInterval  int      `yaml:"comment_interval_seconds" json:"commentInterval"`
	CommentMode      string   `yaml:"comment_mode" json:"commentMode"`
	AIPrompt         string   `yaml:"ai_prompt" json:"aiPrompt"`
	Comments         []string `yaml:"comments" json:"comments"`
	SmartHistorySize int      `yaml:"smart_history_size" json:"smartHistorySize"`
}

// SettingsPatch carries a partial update; nil fields are left untouched
type SettingsPatch struct {
	LikeEnabled      *bool     `json:"likeEnabled,omitempty"`
	LikeMinPerMinute *int      `json:"likeMinPerMinute,omitempty"`
	LikeMaxPerMinute *int      `json:"likeMaxPerMinute,omitempty"`
	CommentEnabled   *bool     `json:"commentEnabled,omitempty"`
	AICommentEnabled *bool     `json:"aiCommentEnabled,omitempty"`
	CommentInterval  *int      `json:"commentInterval,omitempty"`
	CommentMode      *string   `json:"commentMode,omitempty"`
	AIPrompt         *string   `json:"aiPrompt,omitempty"`
	Comments         *[]string `json:"comments,omitempty"`
	SmartHistorySize *int      `json:"smartHistorySize,omitempty"`
}

// DefaultSettings returns the feature defaults; both features start disabled
func DefaultSettings() Settings {
	return Settings{
		LikeEnabled:      false,
		LikeMinPerMinute: 20,
		LikeMaxPerMinute: 50,
		CommentEnabled:   false,
		AICommentEnabled: false,
		CommentInterval:  90,
		CommentMode:      ModeRandom,
		AIPrompt:         "请根据以下文字和图片内容，以一个真实准备购买的35-55岁买家人设风格生成一条15个字以内的抖音直播间弹幕，只输出弹幕内容本身，不要任何解释",
		Comments:         []string{},
		SmartHistorySize: 10,
	}
}

// Apply returns a copy of s with the patch merged in
func (s Settings) Apply(p SettingsPatch) Settings {
	out := s
	out.Comments = append([]string(nil), s.Comments...)

	if p.LikeEnabled != nil {
		out.LikeEnabled = *p.LikeEnabled
	}
	if p.LikeMinPerMinute != nil {
		out.LikeMinPerMinute = *p.LikeMinPerMinute
	}
	if p.LikeMaxPerMinute != nil {
		out.LikeMaxPerMinute = *p.LikeMaxPerMinute
	}
	if p.CommentEnabled != nil {
		out.CommentEnabled = *p.CommentEnabled
	}
	if p.AICommentEnabled != nil {
		out.AICommentEnabled = *p.AICommentEnabled
	}
	if p.CommentInterval != nil {
		out.CommentInterval = *p.CommentInterval
	}
	if p.CommentMode != nil {
		out.CommentMode = *p.CommentMode
	}
	if p.AIPrompt != nil {
		out.AIPrompt = *p.AIPrompt
	}
	if p.Comments != nil {
		out.Comments = NormalizeComments(*p.Comments)
	}
	if p.SmartHistorySize != nil {
		out.SmartHistorySize = *p.SmartHistorySize
	}
	return out
}

// Validate checks the structural parts of the record. Rate and pool
// preconditions are checked again by the feature machines at start time.
func (s Settings) Validate() error {
	switch s.CommentMode {
	case ModeRandom, ModeSequence, ModeSmart:
	default:
		return fmt.Errorf("invalid comment mode: %s (must be random, sequence, or smart)", s.CommentMode)
	}
	if s.CommentInterval <= 0 {
		return fmt.Errorf("comment interval must be positive")
	}
	if s.SmartHistorySize < 0 {
		return fmt.Errorf("smart history size must not be negative")
	}
	if len(s.Comments) > MaxComments {
		return fmt.Errorf("comment pool exceeds %d entries", MaxComments)
	}
	return nil
}

// LikeRate returns the like rate for the given scheduling window
func (s Settings) LikeRate(window time.Duration) RateConfig {
	return RateConfig{
		MinPerInterval: s.LikeMinPerMinute,
		MaxPerInterval: s.LikeMaxPerMinute,
		Interval:       window,
	}
}

// CommentEvery returns the nominal comment interval
func (s Settings) CommentEvery() time.Duration {
	return time.Duration(s.CommentInterval) * time.Second
}

// RateConfig bounds how many actions a scheduling window may contain
type RateConfig struct {
	MinPerInterval int           `json:"minPerInterval"`
	MaxPerInterval int           `json:"maxPerInterval"`
	Interval       time.Duration `json:"interval"`
}

// Validate reports ErrInvalidRate when the bounds are unusable
func (r RateConfig) Validate() error {
	if r.MinPerInterval <= 0 || r.MaxPerInterval <= 0 || r.MinPerInterval > r.MaxPerInterval {
		return fmt.Errorf("%w (min=%d, max=%d)", ErrInvalidRate, r.MinPerInterval, r.MaxPerInterval)
	}
	if r.Interval <= 0 {
		return fmt.Errorf("%w (interval=%s)", ErrInvalidRate, r.Interval)
	}
	return nil
}

// NormalizeComments trims entries, drops blanks and caps the pool
func NormalizeComments(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == MaxComments {
			break
		}
	}
	return out
}

// LoadCommentsFile reads a newline separated comment list and merges it after existing
func LoadCommentsFile(path string, existing []string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read comments file: %w", err)
	}
	merged := append(append([]string(nil), existing...), strings.Split(string(data), "\n")...)
	return NormalizeComments(merged), nil
}
