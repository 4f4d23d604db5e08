package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/feedback-ai/internal/domain"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS chat_logs (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		user_feedback TEXT,
		modification_needed TEXT,
		history TEXT NOT NULL DEFAULT '[]',
		model_response TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		latency REAL NOT NULL,
		tokens_used INTEGER NOT NULL,
		cost REAL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_logs_session ON chat_logs(session_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_chat_logs_timestamp ON chat_logs(timestamp);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AppendChatLog inserts one chat log record.
func (s *SQLiteStore) AppendChatLog(ctx context.Context, rec *domain.ChatLogRecord) error {
	if rec == nil {
		return fmt.Errorf("append chat log: nil record")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.History == "" {
		rec.History = "[]"
	}

	query := `
	INSERT INTO chat_logs (id, session_id, user_feedback, modification_needed, history,
		model_response, timestamp, latency, tokens_used, cost)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	err := withRetry(ctx, "append chat log", func() error {
		_, err := s.db.ExecContext(ctx, query,
			rec.ID, rec.SessionKey, nullString(rec.UserFeedback), nullString(rec.ModificationNeeded),
			rec.History, rec.ModelResponse, rec.Timestamp.UnixNano(), rec.Latency, rec.TokensUsed,
			nullFloat(rec.Cost),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("append chat log: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, session_id, user_feedback, modification_needed, history,
	model_response, timestamp, latency, tokens_used, cost FROM chat_logs`

// ListChatLogs returns every record for sessionKey in insertion order.
func (s *SQLiteStore) ListChatLogs(ctx context.Context, sessionKey string) ([]*domain.ChatLogRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE session_id = ? ORDER BY timestamp ASC, rowid ASC`, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("query chat logs: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// RecentChatLogs returns up to limit records, newest first.
func (s *SQLiteStore) RecentChatLogs(ctx context.Context, limit int) ([]*domain.ChatLogRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY timestamp DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent chat logs: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Stats aggregates request counts, latency, tokens and cost.
func (s *SQLiteStore) Stats(ctx context.Context) (*domain.ChatLogStats, error) {
	query := `
	SELECT COUNT(*), COALESCE(AVG(latency), 0), COALESCE(SUM(tokens_used), 0),
	       COALESCE(AVG(tokens_used), 0), COALESCE(SUM(cost), 0), COUNT(DISTINCT session_id)
	FROM chat_logs`

	var st domain.ChatLogStats
	err := s.db.QueryRowContext(ctx, query).Scan(
		&st.TotalRequests, &st.AverageLatency, &st.TotalTokens,
		&st.AverageTokens, &st.TotalCost, &st.Sessions,
	)
	if err != nil {
		return nil, fmt.Errorf("query chat log stats: %w", err)
	}
	if st.TotalRequests > 0 {
		st.AverageCost = st.TotalCost / float64(st.TotalRequests)
	}
	return &st, nil
}

func scanRecords(rows *sql.Rows) ([]*domain.ChatLogRecord, error) {
	var out []*domain.ChatLogRecord
	for rows.Next() {
		var rec domain.ChatLogRecord
		var feedback, modification sql.NullString
		var cost sql.NullFloat64
		var ts int64

		if err := rows.Scan(
			&rec.ID, &rec.SessionKey, &feedback, &modification, &rec.History,
			&rec.ModelResponse, &ts, &rec.Latency, &rec.TokensUsed, &cost,
		); err != nil {
			return nil, fmt.Errorf("scan chat log row: %w", err)
		}
		if feedback.Valid {
			rec.UserFeedback = &feedback.String
		}
		if modification.Valid {
			rec.ModificationNeeded = &modification.String
		}
		if cost.Valid {
			rec.Cost = &cost.Float64
		}
		rec.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat log rows: %w", err)
	}
	return out, nil
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
