package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/recoupapp/recoup-worker/internal/models"
)

// ClaimRepository upserts reimbursement claims on the platform's own
// reimbursement identifier, so re-downloading an overlapping report window
// never duplicates rows.
type ClaimRepository struct {
	db *sql.DB
}

func NewClaimRepository(db *sql.DB) *ClaimRepository {
	return &ClaimRepository{db: db}
}

func (r *ClaimRepository) Upsert(ctx context.Context, c models.Claim) error {
	query := `
		INSERT INTO claim (
			id, user_id, claim_id, case_id, asin, sku, item_name,
			amount, status, claim_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (claim_id) DO UPDATE SET
			case_id = EXCLUDED.case_id,
			asin = EXCLUDED.asin,
			sku = EXCLUDED.sku,
			item_name = EXCLUDED.item_name,
			amount = EXCLUDED.amount,
			status = EXCLUDED.status,
			claim_date = EXCLUDED.claim_date,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		uuid.New().String(),
		c.UserID,
		c.ClaimID,
		c.CaseID,
		c.ASIN,
		c.SKU,
		c.ItemName,
		c.Amount,
		c.Status,
		c.ClaimDate,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert claim: %w", err)
	}
	return nil
}

// CountByUser is used by sync summaries.
func (r *ClaimRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM claim WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count claims: %w", err)
	}
	return count, nil
}
