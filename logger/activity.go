package logger

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Field names understood by the activity log
const (
	FieldSource    = "source"
	FieldOutcome   = "outcome"
	OutcomeSuccess = "success"
)

// DefaultActivityCapacity is the number of entries kept in memory
const DefaultActivityCapacity = 100

// Level is the operator-facing severity of an activity entry
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Entry is one line of the operator activity log
type Entry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Level     Level                  `json:"level"`
	Source    string                 `json:"source"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// ActivityLog is a capped, newest-first ring of entries. It implements
// logrus.Hook so any logger entry carrying a source field is recorded.
type ActivityLog struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	onAdd    []func(Entry)
}

// NewActivityLog creates an activity log holding at most capacity entries
func NewActivityLog(capacity int) *ActivityLog {
	if capacity <= 0 {
		capacity = DefaultActivityCapacity
	}
	return &ActivityLog{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
	}
}

// Levels implements logrus.Hook
func (a *ActivityLog) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.PanicLevel,
		logrus.FatalLevel,
		logrus.ErrorLevel,
		logrus.WarnLevel,
		logrus.InfoLevel,
	}
}

// Fire implements logrus.Hook
func (a *ActivityLog) Fire(e *logrus.Entry) error {
	source, ok := e.Data[FieldSource].(string)
	if !ok || source == "" {
		return nil
	}

	level := LevelInfo
	switch e.Level {
	case logrus.WarnLevel:
		level = LevelWarning
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		level = LevelError
	default:
		if e.Data[FieldOutcome] == OutcomeSuccess {
			level = LevelSuccess
		}
	}

	var data map[string]interface{}
	for k, v := range e.Data {
		if k == FieldSource || k == FieldOutcome || k == "module" {
			continue
		}
		if data == nil {
			data = make(map[string]interface{})
		}
		data[k] = v
	}

	a.add(Entry{
		ID:        uuid.NewString(),
		Timestamp: e.Time,
		Level:     level,
		Source:    source,
		Message:   e.Message,
		Data:      data,
	})
	return nil
}

// Add records an entry directly, bypassing logrus
func (a *ActivityLog) Add(level Level, source, message string) Entry {
	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Level:     level,
		Source:    source,
		Message:   message,
	}
	a.add(entry)
	return entry
}

func (a *ActivityLog) add(entry Entry) {
	a.mu.Lock()
	a.entries = append(a.entries, Entry{})
	copy(a.entries[1:], a.entries)
	a.entries[0] = entry
	if len(a.entries) > a.capacity {
		a.entries = a.entries[:a.capacity]
	}
	callbacks := append([]func(Entry){}, a.onAdd...)
	a.mu.Unlock()

	for _, fn := range callbacks {
		fn(entry)
	}
}

// OnAdd registers a callback invoked after every new entry
func (a *ActivityLog) OnAdd(fn func(Entry)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onAdd = append(a.onAdd, fn)
}

// Entries returns a copy of the log, newest first
func (a *ActivityLog) Entries() []Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Restore replaces the contents with previously persisted entries (newest first)
func (a *ActivityLog) Restore(entries []Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(entries) > a.capacity {
		entries = entries[:a.capacity]
	}
	a.entries = append(a.entries[:0], entries...)
}

// Clear drops every entry
func (a *ActivityLog) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = a.entries[:0]
}

// Len returns the number of entries held
func (a *ActivityLog) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}
