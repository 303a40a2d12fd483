// Package comment chooses what to say: a line from the operator's pool or a
// freshly generated one.
package comment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nikshitha/douyin-live-helper/config"
	"github.com/nikshitha/douyin-live-helper/stealth"
)

// ErrEmptyGeneration is returned when the generator produced nothing usable
var ErrEmptyGeneration = errors.New("generator returned no usable text")

// DefaultMaxLength caps generated comments, in runes
const DefaultMaxLength = 50

// Request is what a generator is given for one comment
type Request struct {
	Prompt      string
	PageContext string
	Screenshot  []byte
	// Recent holds the last sent comments, newest first, so the generator can avoid them
	Recent    []string
	MaxLength int
}

// Generator produces comment text
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Selector picks comments and remembers what was sent recently
type Selector struct {
	mu          sync.Mutex
	rand        *stealth.Random
	cursor      int
	history     []string
	historySize int
}

// NewSelector creates a selector keeping historySize recent comments
func NewSelector(rnd *stealth.Random, historySize int) *Selector {
	if historySize < 0 {
		historySize = 0
	}
	return &Selector{rand: rnd, historySize: historySize}
}

// Select returns a comment from pool according to mode. It returns false
// only when the pool is empty.
func (s *Selector) Select(pool []string, mode string) (string, bool) {
	if len(pool) == 0 {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch mode {
	case config.ModeSequence:
		text := pool[s.cursor%len(pool)]
		s.cursor++
		return text, true

	case config.ModeSmart:
		recent := make(map[string]struct{}, len(s.history))
		for _, h := range s.history {
			recent[h] = struct{}{}
		}
		available := make([]string, 0, len(pool))
		for _, c := range pool {
			if _, seen := recent[c]; !seen {
				available = append(available, c)
			}
		}
		if len(available) == 0 {
			available = pool
		}
		return available[s.rand.Intn(len(available))], true

	default:
		// ModeRandom, and any mode settings validation would have refused
		return pool[s.rand.Intn(len(pool))], true
	}
}

// Record pushes text to the front of the history, dropping the oldest entry
// once the history is full
func (s *Selector) Record(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historySize == 0 {
		return
	}
	s.history = append([]string{text}, s.history...)
	if len(s.history) > s.historySize {
		s.history = s.history[:s.historySize]
	}
}

// History returns the recent comments, newest first
func (s *Selector) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

// SetHistorySize changes how many recent comments are remembered
func (s *Selector) SetHistorySize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 {
		n = 0
	}
	s.historySize = n
	if len(s.history) > n {
		s.history = s.history[:n]
	}
}

// ResetCursor restarts sequence mode from the first entry
func (s *Selector) ResetCursor() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = 0
}

// Generate asks g for a comment, passing the recent history along, and
// cleans the result up for posting
func (s *Selector) Generate(ctx context.Context, g Generator, req Request) (string, error) {
	if req.MaxLength <= 0 {
		req.MaxLength = DefaultMaxLength
	}
	req.Recent = s.History()

	raw, err := g.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("generate comment: %w", err)
	}

	text := Sanitize(raw, req.MaxLength)
	if text == "" {
		return "", ErrEmptyGeneration
	}
	return text, nil
}

var wrappers = [][2]string{
	{`"`, `"`},
	{`'`, `'`},
	{"“", "”"},
	{"‘", "’"},
	{"「", "」"},
	{"『", "』"},
	{"《", "》"},
	{"【", "】"},
	{"(", ")"},
	{"（", "）"},
	{"[", "]"},
}

// Sanitize keeps the first non-blank line of raw, strips wrapping quotes or
// brackets and truncates to maxRunes
func Sanitize(raw string, maxRunes int) string {
	text := ""
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			text = line
			break
		}
	}

	for stripped := true; stripped && text != ""; {
		stripped = false
		for _, w := range wrappers {
			if len(text) > len(w[0])+len(w[1])-1 && strings.HasPrefix(text, w[0]) && strings.HasSuffix(text, w[1]) {
				text = strings.TrimSpace(text[len(w[0]) : len(text)-len(w[1])])
				stripped = true
				break
			}
		}
	}

	if maxRunes > 0 {
		if runes := []rune(text); len(runes) > maxRunes {
			text = string(runes[:maxRunes])
		}
	}
	return text
}
