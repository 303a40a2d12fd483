// Package storage provides data persistence using SQLite for the live room helper.
// It keeps the feature settings, per-feature counters, the activity log, sent
// comments and the browser session.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nikshitha/douyin-live-helper/config"
	"github.com/nikshitha/douyin-live-helper/logger"
)

// Database wraps SQLite database operations
type Database struct {
	db          *sql.DB
	logger      *logger.Logger
	logCapacity int
}

// FeatureStats is the persisted counter pair of one feature
type FeatureStats struct {
	Feature       string `json:"feature"`
	Total         int    `json:"total"`
	Today         int    `json:"today"`
	LastResetDate string `json:"last_reset_date"`
}

// SentComment is a comment_history row
type SentComment struct {
	ID     int64     `json:"id"`
	Text   string    `json:"text"`
	Source string    `json:"source"`
	SentAt time.Time `json:"sent_at"`
}

// DailyStats tracks daily activity statistics
type DailyStats struct {
	Date         string `json:"date"`
	LikesSent    int    `json:"likes_sent"`
	CommentsSent int    `json:"comments_sent"`
}

// SessionCookie represents a stored browser cookie
type SessionCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"http_only"`
	Secure   bool    `json:"secure"`
}

// Today returns the local calendar date used for the daily counters
func Today() string {
	return time.Now().Format("2006-01-02")
}

// NewDatabase creates a new database connection. logCapacity bounds the
// activity_log table; zero keeps logger.DefaultActivityCapacity rows.
func NewDatabase(dbPath string, logCapacity int, log *logger.Logger) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if logCapacity <= 0 {
		logCapacity = logger.DefaultActivityCapacity
	}
	database := &Database{
		db:          db,
		logger:      log.WithModule("storage"),
		logCapacity: logCapacity,
	}

	// Initialize schema
	if err := database.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	database.logger.Info("Database initialized successfully")
	return database, nil
}

// initSchema creates the database tables if they don't exist
func (d *Database) initSchema() error {
	schema := `
	-- Feature settings, a single JSON document
	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		data TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- Per-feature counters
	CREATE TABLE IF NOT EXISTS feature_stats (
		feature TEXT PRIMARY KEY,
		total INTEGER DEFAULT 0,
		today INTEGER DEFAULT 0,
		last_reset_date TEXT
	);

	-- Daily stats table
	CREATE TABLE IF NOT EXISTS daily_stats (
		date TEXT PRIMARY KEY,
		likes_sent INTEGER DEFAULT 0,
		comments_sent INTEGER DEFAULT 0
	);

	-- Activity log shown to the operator
	CREATE TABLE IF NOT EXISTS activity_log (
		id TEXT PRIMARY KEY,
		ts INTEGER NOT NULL,
		level TEXT NOT NULL,
		source TEXT,
		message TEXT NOT NULL,
		data TEXT
	);

	-- Sent comments
	CREATE TABLE IF NOT EXISTS comment_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		text TEXT NOT NULL,
		source TEXT,
		sent_at INTEGER NOT NULL
	);

	-- Session cookies table
	CREATE TABLE IF NOT EXISTS session_cookies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		value TEXT NOT NULL,
		domain TEXT,
		path TEXT,
		expires REAL,
		http_only BOOLEAN,
		secure BOOLEAN
	);

	-- Create indexes
	CREATE INDEX IF NOT EXISTS idx_activity_log_ts ON activity_log(ts);
	CREATE INDEX IF NOT EXISTS idx_comment_history_sent_at ON comment_history(sent_at);
	`

	_, err := d.db.Exec(schema)
	return err
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// ==============================================================================
// Settings Operations
// ==============================================================================

// SaveSettings stores the feature settings record
func (d *Database) SaveSettings(s config.Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	query := `
		INSERT INTO settings (id, data, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`
	if _, err := d.db.Exec(query, string(data), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	d.logger.Debug("Settings saved")
	return nil
}

// LoadSettings returns the stored settings, or false when none were saved yet.
// Fields missing from the stored document keep their defaults.
func (d *Database) LoadSettings() (config.Settings, bool, error) {
	var data string
	err := d.db.QueryRow(`SELECT data FROM settings WHERE id = 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return config.DefaultSettings(), false, nil
	}
	if err != nil {
		return config.Settings{}, false, fmt.Errorf("failed to load settings: %w", err)
	}

	s := config.DefaultSettings()
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return config.Settings{}, false, fmt.Errorf("failed to decode settings: %w", err)
	}
	s.Comments = config.NormalizeComments(s.Comments)
	return s, true, nil
}

// ==============================================================================
// Stats Operations
// ==============================================================================

// LoadStats returns the counters of feature as of date. A stored day other
// than date reads as zero for today.
func (d *Database) LoadStats(feature, date string) (FeatureStats, error) {
	stats := FeatureStats{Feature: feature, LastResetDate: date}

	var last sql.NullString
	err := d.db.QueryRow(
		`SELECT total, today, last_reset_date FROM feature_stats WHERE feature = ?`, feature,
	).Scan(&stats.Total, &stats.Today, &last)
	if err == sql.ErrNoRows {
		return stats, nil
	}
	if err != nil {
		return FeatureStats{}, fmt.Errorf("failed to load stats: %w", err)
	}

	if last.String != date {
		d.logger.WithFields(map[string]interface{}{
			"feature": feature,
			"last":    last.String,
		}).Info("New day, resetting today's counter")
		stats.Today = 0
	}
	return stats, nil
}

// SaveStats stores the counters of one feature
func (d *Database) SaveStats(stats FeatureStats) error {
	if stats.LastResetDate == "" {
		stats.LastResetDate = Today()
	}
	query := `
		INSERT INTO feature_stats (feature, total, today, last_reset_date) VALUES (?, ?, ?, ?)
		ON CONFLICT(feature) DO UPDATE SET
			total = excluded.total,
			today = excluded.today,
			last_reset_date = excluded.last_reset_date
	`
	if _, err := d.db.Exec(query, stats.Feature, stats.Total, stats.Today, stats.LastResetDate); err != nil {
		return fmt.Errorf("failed to save stats: %w", err)
	}
	return nil
}

// ResetStats zeroes both counters of every feature
func (d *Database) ResetStats() error {
	if _, err := d.db.Exec(`UPDATE feature_stats SET total = 0, today = 0, last_reset_date = ?`, Today()); err != nil {
		return fmt.Errorf("failed to reset stats: %w", err)
	}
	d.logger.Info("Stats reset")
	return nil
}

// IncrementLikes adds one to today's like count
func (d *Database) IncrementLikes() error {
	return d.incrementDailyStat("likes_sent")
}

// GetTodayStats returns today's activity statistics
func (d *Database) GetTodayStats() (*DailyStats, error) {
	return d.GetDailyStats(Today())
}

// GetDailyStats returns the activity statistics of date
func (d *Database) GetDailyStats(date string) (*DailyStats, error) {
	query := `SELECT date, likes_sent, comments_sent FROM daily_stats WHERE date = ?`

	stats := &DailyStats{Date: date}
	err := d.db.QueryRow(query, date).Scan(&stats.Date, &stats.LikesSent, &stats.CommentsSent)
	if err == sql.ErrNoRows {
		return stats, nil
	}
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// incrementDailyStat increments a daily stat counter
func (d *Database) incrementDailyStat(statName string) error {
	today := Today()

	// Ensure row exists
	if _, err := d.db.Exec(`INSERT OR IGNORE INTO daily_stats (date) VALUES (?)`, today); err != nil {
		return err
	}

	// Update the stat
	updateQuery := fmt.Sprintf(`UPDATE daily_stats SET %s = %s + 1 WHERE date = ?`, statName, statName)
	_, err := d.db.Exec(updateQuery, today)
	return err
}

// ==============================================================================
// Comment History Operations
// ==============================================================================

// RecordComment saves a sent comment and counts it for today
func (d *Database) RecordComment(text, source string) (int64, error) {
	result, err := d.db.Exec(
		`INSERT INTO comment_history (text, source, sent_at) VALUES (?, ?, ?)`,
		text, source, time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save comment: %w", err)
	}

	id, _ := result.LastInsertId()
	if err := d.incrementDailyStat("comments_sent"); err != nil {
		d.logger.WithError(err).Warn("Failed to update daily stats")
	}
	return id, nil
}

// RecentComments returns up to limit sent comments, newest first
func (d *Database) RecentComments(limit int) ([]*SentComment, error) {
	rows, err := d.db.Query(
		`SELECT id, text, source, sent_at FROM comment_history ORDER BY sent_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []*SentComment
	for rows.Next() {
		c := &SentComment{}
		var source sql.NullString
		var sentAt int64
		if err := rows.Scan(&c.ID, &c.Text, &source, &sentAt); err != nil {
			return nil, err
		}
		c.Source = source.String
		c.SentAt = time.UnixMilli(sentAt)
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// ==============================================================================
// Activity Log Operations
// ==============================================================================

// AppendLog stores an activity entry and drops the oldest rows beyond capacity
func (d *Database) AppendLog(e logger.Entry) error {
	data := ""
	if len(e.Data) > 0 {
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("failed to encode log data: %w", err)
		}
		data = string(raw)
	}

	if _, err := d.db.Exec(
		`INSERT OR REPLACE INTO activity_log (id, ts, level, source, message, data) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UnixMilli(), string(e.Level), e.Source, e.Message, data,
	); err != nil {
		return fmt.Errorf("failed to save log entry: %w", err)
	}

	_, err := d.db.Exec(`
		DELETE FROM activity_log WHERE id NOT IN (
			SELECT id FROM activity_log ORDER BY ts DESC, rowid DESC LIMIT ?
		)`, d.logCapacity)
	return err
}

// LoadLogs returns the stored activity entries, newest first
func (d *Database) LoadLogs() ([]logger.Entry, error) {
	rows, err := d.db.Query(
		`SELECT id, ts, level, source, message, data FROM activity_log ORDER BY ts DESC, rowid DESC LIMIT ?`,
		d.logCapacity,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []logger.Entry
	for rows.Next() {
		var (
			e            logger.Entry
			ts           int64
			level        string
			source, data sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &level, &source, &e.Message, &data); err != nil {
			return nil, err
		}
		e.Timestamp = time.UnixMilli(ts)
		e.Level = logger.Level(level)
		e.Source = source.String
		if data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &e.Data); err != nil {
				d.logger.WithError(err).Debug("Skipping undecodable log data")
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClearLogs deletes every activity entry
func (d *Database) ClearLogs() error {
	_, err := d.db.Exec(`DELETE FROM activity_log`)
	return err
}

// ==============================================================================
// Cookie/Session Operations
// ==============================================================================

// SaveCookies saves session cookies
func (d *Database) SaveCookies(cookies []*SessionCookie) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Clear existing cookies
	if _, err := tx.Exec("DELETE FROM session_cookies"); err != nil {
		return err
	}

	query := `INSERT INTO session_cookies (name, value, domain, path, expires, http_only, secure) VALUES (?, ?, ?, ?, ?, ?, ?)`
	for _, cookie := range cookies {
		_, err := tx.Exec(query, cookie.Name, cookie.Value, cookie.Domain, cookie.Path, cookie.Expires, cookie.HTTPOnly, cookie.Secure)
		if err != nil {
			return fmt.Errorf("failed to save cookie: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	d.logger.Infof("Saved %d session cookies", len(cookies))
	return nil
}

// LoadCookies loads session cookies
func (d *Database) LoadCookies() ([]*SessionCookie, error) {
	query := `SELECT name, value, domain, path, expires, http_only, secure FROM session_cookies`

	rows, err := d.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cookies []*SessionCookie
	for rows.Next() {
		cookie := &SessionCookie{}
		err := rows.Scan(&cookie.Name, &cookie.Value, &cookie.Domain, &cookie.Path, &cookie.Expires, &cookie.HTTPOnly, &cookie.Secure)
		if err != nil {
			return nil, err
		}
		cookies = append(cookies, cookie)
	}

	d.logger.Infof("Loaded %d session cookies", len(cookies))
	return cookies, rows.Err()
}

// SaveCookiesToFile saves cookies to a JSON file
func SaveCookiesToFile(cookies []*SessionCookie, filePath string) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filePath, data, 0600)
}

// LoadCookiesFromFile loads cookies from a JSON file
func LoadCookiesFromFile(filePath string) ([]*SessionCookie, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var cookies []*SessionCookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, err
	}

	return cookies, nil
}
