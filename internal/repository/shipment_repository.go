package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/recoupapp/recoup-worker/internal/models"
)

// ShipmentRepository owns the shipment, shipment_item, and discrepancy
// upserts. All writes are single-row and atomic, so a failure mid-batch
// leaves already-processed rows durably committed.
type ShipmentRepository struct {
	db *sql.DB
}

func NewShipmentRepository(db *sql.DB) *ShipmentRepository {
	return &ShipmentRepository{db: db}
}

// UpsertShipment inserts or refreshes a shipment on its natural key
// (user_id, shipment_id, shipment_type) and returns the row id.
func (r *ShipmentRepository) UpsertShipment(ctx context.Context, s models.Shipment) (string, error) {
	query := `
		INSERT INTO shipment (
			id, user_id, shipment_id, shipment_type, name, destination_center,
			status, created_date, last_updated_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, shipment_id, shipment_type) DO UPDATE SET
			name = EXCLUDED.name,
			destination_center = EXCLUDED.destination_center,
			status = EXCLUDED.status,
			created_date = EXCLUDED.created_date,
			last_updated_date = EXCLUDED.last_updated_date,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	now := time.Now()
	var rowID string
	err := r.db.QueryRowContext(ctx, query,
		uuid.New().String(),
		s.UserID,
		s.ShipmentID,
		s.ShipmentType,
		s.Name,
		s.DestinationCenter,
		s.Status,
		s.CreatedDate,
		s.LastUpdatedDate,
		now,
		now,
	).Scan(&rowID)
	if err != nil {
		return "", fmt.Errorf("failed to upsert shipment: %w", err)
	}
	return rowID, nil
}

// UpsertItem inserts or refreshes a shipment item on (shipment_row_id, sku).
// Quantities are overwritten, never accumulated: each sync reports current
// totals, not deltas.
func (r *ShipmentRepository) UpsertItem(ctx context.Context, shipmentRowID, sku, fnsku string, shipped, received int) error {
	query := `
		INSERT INTO shipment_item (
			id, shipment_row_id, sku, fnsku, quantity_shipped,
			quantity_received, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (shipment_row_id, sku) DO UPDATE SET
			fnsku = EXCLUDED.fnsku,
			quantity_shipped = EXCLUDED.quantity_shipped,
			quantity_received = EXCLUDED.quantity_received,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		uuid.New().String(), shipmentRowID, sku, fnsku, shipped, received, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert shipment item: %w", err)
	}
	return nil
}

// UpsertDiscrepancy inserts or refreshes a derived discrepancy on
// (shipment_row_id, sku). A previously-recorded discrepancy whose quantities
// later match is left untouched by the sync path.
func (r *ShipmentRepository) UpsertDiscrepancy(ctx context.Context, d models.Discrepancy) error {
	query := `
		INSERT INTO discrepancy (
			id, shipment_row_id, sku, expected_quantity, actual_quantity,
			difference, type, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (shipment_row_id, sku) DO UPDATE SET
			expected_quantity = EXCLUDED.expected_quantity,
			actual_quantity = EXCLUDED.actual_quantity,
			difference = EXCLUDED.difference,
			type = EXCLUDED.type,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		uuid.New().String(),
		d.ShipmentRowID,
		d.SKU,
		d.ExpectedQuantity,
		d.ActualQuantity,
		d.Difference,
		d.Type,
		models.DiscrepancyStatusOpen,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert discrepancy: %w", err)
	}
	return nil
}
