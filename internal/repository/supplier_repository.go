package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/recoupapp/recoup-worker/internal/models"
)

type SupplierRepository struct {
	db *sql.DB
}

func NewSupplierRepository(db *sql.DB) *SupplierRepository {
	return &SupplierRepository{db: db}
}

// InsertIgnore inserts a supplier row and silently ignores a conflict on
// (user_id, email). A user's manual edits win over later discovery runs.
// Returns true when a row was inserted.
func (r *SupplierRepository) InsertIgnore(ctx context.Context, supplier models.AllowedSupplier) (bool, error) {
	query := `
		INSERT INTO allowed_supplier (
			id, user_id, email, label, source_mailbox_id, source_provider,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, email) DO NOTHING
	`

	now := time.Now()
	result, err := r.db.ExecContext(ctx, query,
		supplier.ID,
		supplier.UserID,
		supplier.Email,
		supplier.Label,
		supplier.SourceMailboxID,
		supplier.SourceProvider,
		supplier.Status,
		now,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert supplier: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListByUser retrieves all allowed suppliers (suggested and active) for an
// owner.
func (r *SupplierRepository) ListByUser(ctx context.Context, userID string) ([]models.AllowedSupplier, error) {
	query := `
		SELECT id, user_id, email, label, source_mailbox_id, source_provider,
		       status, created_at, updated_at
		FROM allowed_supplier
		WHERE user_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query suppliers: %w", err)
	}
	defer rows.Close()

	var suppliers []models.AllowedSupplier
	for rows.Next() {
		var s models.AllowedSupplier
		err := rows.Scan(
			&s.ID, &s.UserID, &s.Email, &s.Label, &s.SourceMailboxID,
			&s.SourceProvider, &s.Status, &s.CreatedAt, &s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan supplier: %w", err)
		}
		suppliers = append(suppliers, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return suppliers, nil
}
