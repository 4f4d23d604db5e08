// Package store provides chat log persistence.
package store

import (
	"context"

	"github.com/ashureev/feedback-ai/internal/domain"
)

// Repository persists completed model calls. Records are append-only.
type Repository interface {
	// AppendChatLog writes one record. Missing ID and Timestamp are filled in.
	AppendChatLog(ctx context.Context, rec *domain.ChatLogRecord) error

	// ListChatLogs returns every record for a session key, oldest first.
	ListChatLogs(ctx context.Context, sessionKey string) ([]*domain.ChatLogRecord, error)

	// RecentChatLogs returns up to limit records, newest first.
	RecentChatLogs(ctx context.Context, limit int) ([]*domain.ChatLogRecord, error)

	// Stats aggregates the whole log.
	Stats(ctx context.Context) (*domain.ChatLogStats, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
