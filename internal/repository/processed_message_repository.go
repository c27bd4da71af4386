package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type ProcessedMessageRepository struct {
	db *sql.DB
}

func NewProcessedMessageRepository(db *sql.DB) *ProcessedMessageRepository {
	return &ProcessedMessageRepository{db: db}
}

// MarkProcessed records a message as ingested for a mailbox. Re-marking is a
// no-op, so overlapping sync windows stay idempotent.
func (r *ProcessedMessageRepository) MarkProcessed(ctx context.Context, mailboxID, messageID string) error {
	query := `
		INSERT INTO processed_message (mailbox_id, message_id, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (mailbox_id, message_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query, mailboxID, messageID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark message processed: %w", err)
	}
	return nil
}

// IsProcessed reports whether a message was already ingested for a mailbox.
func (r *ProcessedMessageRepository) IsProcessed(ctx context.Context, mailboxID, messageID string) (bool, error) {
	query := `
		SELECT 1 FROM processed_message
		WHERE mailbox_id = $1 AND message_id = $2
	`
	var one int
	err := r.db.QueryRowContext(ctx, query, mailboxID, messageID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check processed message: %w", err)
	}
	return true, nil
}
