package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL     string
	VaultKey        string // 64-char hex, AES-256
	PollInterval    int    // seconds
	MaxRetries      int
	ShutdownTimeout int // seconds

	GoogleClientID        string
	GoogleClientSecret    string
	MicrosoftClientID     string
	MicrosoftClientSecret string

	FulfillmentAPIURL       string
	FulfillmentClientID     string
	FulfillmentClientSecret string

	OpenRouterAPIKey string
	ExtractionModel  string

	S3Bucket  string
	AWSRegion string
}

const defaultExtractionModel = "google/gemini-2.0-flash-001"

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	vaultKey := os.Getenv("VAULT_KEY")
	if vaultKey == "" {
		return nil, fmt.Errorf("VAULT_KEY is required")
	}

	googleClientID := os.Getenv("GOOGLE_CLIENT_ID")
	googleClientSecret := os.Getenv("GOOGLE_CLIENT_SECRET")
	if googleClientID == "" || googleClientSecret == "" {
		fmt.Println("Warning: GOOGLE_CLIENT_ID or GOOGLE_CLIENT_SECRET not set, Gmail sync will not work")
	}

	microsoftClientID := os.Getenv("MICROSOFT_CLIENT_ID")
	microsoftClientSecret := os.Getenv("MICROSOFT_CLIENT_SECRET")
	if microsoftClientID == "" || microsoftClientSecret == "" {
		fmt.Println("Warning: MICROSOFT_CLIENT_ID or MICROSOFT_CLIENT_SECRET not set, Outlook sync will not work")
	}

	fulfillmentAPIURL := os.Getenv("FULFILLMENT_API_URL")
	fulfillmentClientID := os.Getenv("FULFILLMENT_CLIENT_ID")
	fulfillmentClientSecret := os.Getenv("FULFILLMENT_CLIENT_SECRET")
	if fulfillmentAPIURL == "" || fulfillmentClientID == "" || fulfillmentClientSecret == "" {
		fmt.Println("Warning: fulfillment API credentials not set, shipment and claim sync will not work")
	}

	openRouterAPIKey := os.Getenv("OPENROUTER_API_KEY")
	if openRouterAPIKey == "" {
		fmt.Println("Warning: OPENROUTER_API_KEY not set, invoice extraction will not work")
	}
	extractionModel := os.Getenv("EXTRACTION_MODEL")
	if extractionModel == "" {
		extractionModel = defaultExtractionModel
	}

	s3Bucket := os.Getenv("S3_BUCKET")
	awsRegion := os.Getenv("AWS_REGION")
	if s3Bucket == "" || awsRegion == "" {
		fmt.Println("Warning: S3_BUCKET or AWS_REGION not set, document storage will not work")
	}

	return &Config{
		DatabaseURL:             dbURL,
		VaultKey:                vaultKey,
		PollInterval:            10, // poll every 10 seconds
		MaxRetries:              3,
		ShutdownTimeout:         30,
		GoogleClientID:          googleClientID,
		GoogleClientSecret:      googleClientSecret,
		MicrosoftClientID:       microsoftClientID,
		MicrosoftClientSecret:   microsoftClientSecret,
		FulfillmentAPIURL:       fulfillmentAPIURL,
		FulfillmentClientID:     fulfillmentClientID,
		FulfillmentClientSecret: fulfillmentClientSecret,
		OpenRouterAPIKey:        openRouterAPIKey,
		ExtractionModel:         extractionModel,
		S3Bucket:                s3Bucket,
		AWSRegion:               awsRegion,
	}, nil
}
