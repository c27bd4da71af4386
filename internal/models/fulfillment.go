package models

import "time"

// Fulfillment credential status constants
const (
	CredentialStatusActive  = "active"
	CredentialStatusRevoked = "revoked"
)

// FulfillmentCredential holds the fulfillment platform refresh token and the
// two sync watermarks. The watermarks are independent because shipment sync
// and claim sync run on separate schedules and windows.
type FulfillmentCredential struct {
	ID                    string     `gorm:"column:id;primaryKey"`
	UserID                string     `gorm:"column:user_id;index"`
	MarketplaceID         string     `gorm:"column:marketplace_id"`
	EncryptedRefreshToken string     `gorm:"column:encrypted_refresh_token"`
	LastSyncAt            *time.Time `gorm:"column:last_sync_at"`
	LastClaimSyncAt       *time.Time `gorm:"column:last_claim_sync_at"`
	Status                string     `gorm:"column:status"`
	CreatedAt             time.Time  `gorm:"column:created_at"`
	UpdatedAt             time.Time  `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (FulfillmentCredential) TableName() string {
	return "fulfillment_credential"
}

// Shipment is upserted idempotently on (user_id, shipment_id, shipment_type).
type Shipment struct {
	ID                string     `gorm:"column:id;primaryKey"`
	UserID            string     `gorm:"column:user_id;index"`
	ShipmentID        string     `gorm:"column:shipment_id"`
	ShipmentType      string     `gorm:"column:shipment_type"`
	Name              string     `gorm:"column:name"`
	DestinationCenter string     `gorm:"column:destination_center"`
	Status            string     `gorm:"column:status"`
	CreatedDate       *time.Time `gorm:"column:created_date"`
	LastUpdatedDate   *time.Time `gorm:"column:last_updated_date"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Shipment) TableName() string {
	return "shipment"
}

// ShipmentItem quantities are overwritten on every sync. Each sync reports
// current totals, not deltas.
type ShipmentItem struct {
	ID               string    `gorm:"column:id;primaryKey"`
	ShipmentRowID    string    `gorm:"column:shipment_row_id;index"`
	SKU              string    `gorm:"column:sku"`
	FNSKU            string    `gorm:"column:fnsku"`
	QuantityShipped  int       `gorm:"column:quantity_shipped"`
	QuantityReceived int       `gorm:"column:quantity_received"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (ShipmentItem) TableName() string {
	return "shipment_item"
}

// Discrepancy type and status constants
const (
	DiscrepancyTypeShortage = "shortage"
	DiscrepancyTypeOverage  = "overage"

	DiscrepancyStatusOpen     = "open"
	DiscrepancyStatusResolved = "resolved"
)

// Discrepancy is derived from a shipment item's quantity pair. Recomputed on
// every sync and upserted on (shipment_row_id, sku).
type Discrepancy struct {
	ID               string    `gorm:"column:id;primaryKey"`
	ShipmentRowID    string    `gorm:"column:shipment_row_id;index"`
	SKU              string    `gorm:"column:sku"`
	ExpectedQuantity int       `gorm:"column:expected_quantity"`
	ActualQuantity   int       `gorm:"column:actual_quantity"`
	Difference       int       `gorm:"column:difference"`
	Type             string    `gorm:"column:type"`
	Status           string    `gorm:"column:status"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Discrepancy) TableName() string {
	return "discrepancy"
}

// Claim is a reimbursement record, upserted on the platform's own
// reimbursement identifier.
type Claim struct {
	ID        string     `gorm:"column:id;primaryKey"`
	UserID    string     `gorm:"column:user_id;index"`
	ClaimID   string     `gorm:"column:claim_id"`
	CaseID    string     `gorm:"column:case_id"`
	ASIN      string     `gorm:"column:asin"`
	SKU       string     `gorm:"column:sku"`
	ItemName  string     `gorm:"column:item_name"`
	Amount    float64    `gorm:"column:amount"`
	Status    string     `gorm:"column:status"`
	ClaimDate *time.Time `gorm:"column:claim_date"`
	CreatedAt time.Time  `gorm:"column:created_at"`
	UpdatedAt time.Time  `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Claim) TableName() string {
	return "claim"
}
