package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ProviderConfig holds an organization's gateway credentials. Config is an
// AES-GCM envelope, never the plaintext.
type ProviderConfig struct {
	ID        snowflake.ID   `json:"id" gorm:"primaryKey"`
	OrgID     snowflake.ID   `json:"organization_id" gorm:"column:organization_id"`
	Provider  string         `json:"provider"`
	Config    datatypes.JSON `json:"config"`
	IsActive  bool           `json:"is_active"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (ProviderConfig) TableName() string { return "payment_provider_configs" }

// ResolvedConfig is a decrypted provider config ready to build an adapter from.
type ResolvedConfig struct {
	OrgID    snowflake.ID
	Provider string
	Config   map[string]any
}

// Catalog lists the providers the service knows how to talk to.
type Catalog interface {
	Providers() []string
}

type ConfigSummary struct {
	Provider   string `json:"provider"`
	IsActive   bool   `json:"is_active"`
	Configured bool   `json:"configured"`
}

type UpsertRequest struct {
	Provider string         `json:"provider"`
	Config   map[string]any `json:"config"`
}

type Repository interface {
	FindConfig(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider string) (*ProviderConfig, error)
	ListConfigs(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]ProviderConfig, error)
	ListActiveByProvider(ctx context.Context, db *gorm.DB, provider string) ([]ProviderConfig, error)
	UpsertConfig(ctx context.Context, db *gorm.DB, cfg *ProviderConfig) error
	UpdateStatus(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider string, isActive bool, updatedAt time.Time) (bool, error)
}

type Service interface {
	ListCatalog(ctx context.Context) []string
	ListConfigs(ctx context.Context, orgID snowflake.ID) ([]ConfigSummary, error)
	UpsertConfig(ctx context.Context, orgID snowflake.ID, req UpsertRequest) (*ConfigSummary, error)
	SetActive(ctx context.Context, orgID snowflake.ID, provider string, isActive bool) (*ConfigSummary, error)

	// ListActive decrypts every active config for a provider. Configs that
	// fail to decrypt are skipped and logged.
	ListActive(ctx context.Context, provider string) ([]ResolvedConfig, error)
	GetActive(ctx context.Context, orgID snowflake.ID, provider string) (*ResolvedConfig, error)
}

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidProvider      = errors.New("invalid_provider")
	ErrInvalidConfig        = errors.New("invalid_config")
	ErrNotFound             = errors.New("not_found")
	ErrEncryptionKeyMissing = errors.New("encryption_key_missing")
)
