package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/splitledger/internal/audit/domain"
	"github.com/smallbiznis/splitledger/internal/audit/masking"
	"github.com/smallbiznis/splitledger/internal/config"
	"github.com/smallbiznis/splitledger/internal/paymentprovider/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Cfg      config.Config
	Catalog  domain.Catalog
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     domain.Repository
	genID    *snowflake.Node
	encKey   []byte
	catalog  domain.Catalog
	auditSvc auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("paymentprovider.service"),
		repo:     p.Repo,
		genID:    p.GenID,
		encKey:   deriveKey(p.Cfg.PaymentProviderConfigSecret),
		catalog:  p.Catalog,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) ListCatalog(ctx context.Context) []string {
	if s.catalog == nil {
		return nil
	}
	providers := slices.Clone(s.catalog.Providers())
	slices.Sort(providers)
	return providers
}

func (s *Service) ListConfigs(ctx context.Context, orgID snowflake.ID) ([]domain.ConfigSummary, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	items, err := s.repo.ListConfigs(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.ConfigSummary, 0, len(items))
	for _, item := range items {
		resp = append(resp, domain.ConfigSummary{
			Provider:   item.Provider,
			IsActive:   item.IsActive,
			Configured: true,
		})
	}
	return resp, nil
}

func (s *Service) UpsertConfig(ctx context.Context, orgID snowflake.ID, req domain.UpsertRequest) (*domain.ConfigSummary, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	provider, err := s.supportedProvider(req.Provider)
	if err != nil {
		return nil, err
	}

	config := normalizeConfig(req.Config)
	if len(config) == 0 {
		return nil, domain.ErrInvalidConfig
	}
	encrypted, err := encryptConfig(s.encKey, config)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindConfig(ctx, s.db, orgID, provider)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	cfg := domain.ProviderConfig{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		Provider:  provider,
		Config:    encrypted,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing != nil {
		cfg.ID = existing.ID
		cfg.IsActive = existing.IsActive
		cfg.CreatedAt = existing.CreatedAt
	}
	if err := s.repo.UpsertConfig(ctx, s.db, &cfg); err != nil {
		return nil, err
	}

	if s.auditSvc != nil {
		action := "provider.rotate_secret"
		if existing == nil {
			action = "provider.enable"
		}
		metadata := map[string]any{"provider": provider, "fields": masking.Keys(config)}
		if masked := masking.Fields(config); masked != nil {
			metadata["masked"] = masked
		}
		s.audit(ctx, orgID, action, provider, metadata)
	}

	return &domain.ConfigSummary{
		Provider:   provider,
		IsActive:   cfg.IsActive,
		Configured: true,
	}, nil
}

func (s *Service) SetActive(ctx context.Context, orgID snowflake.ID, provider string, isActive bool) (*domain.ConfigSummary, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	provider, err := s.supportedProvider(provider)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateStatus(ctx, s.db, orgID, provider, isActive, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domain.ErrNotFound
	}

	if s.auditSvc != nil {
		action := "provider.disable"
		if isActive {
			action = "provider.enable"
		}
		s.audit(ctx, orgID, action, provider, map[string]any{
			"provider":  provider,
			"is_active": isActive,
		})
	}

	return &domain.ConfigSummary{
		Provider:   provider,
		IsActive:   isActive,
		Configured: true,
	}, nil
}

func (s *Service) ListActive(ctx context.Context, provider string) ([]domain.ResolvedConfig, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, domain.ErrInvalidProvider
	}

	rows, err := s.repo.ListActiveByProvider(ctx, s.db, provider)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ResolvedConfig, 0, len(rows))
	for _, row := range rows {
		decrypted, err := decryptConfig(s.encKey, row.Config)
		if err != nil {
			if errors.Is(err, domain.ErrEncryptionKeyMissing) {
				return nil, err
			}
			s.log.Warn("skipping undecryptable provider config",
				zap.String("provider", provider),
				zap.String("organization_id", row.OrgID.String()),
				zap.Error(err),
			)
			continue
		}
		out = append(out, domain.ResolvedConfig{OrgID: row.OrgID, Provider: provider, Config: decrypted})
	}
	return out, nil
}

func (s *Service) GetActive(ctx context.Context, orgID snowflake.ID, provider string) (*domain.ResolvedConfig, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	if provider == "" {
		return nil, domain.ErrInvalidProvider
	}

	row, err := s.repo.FindConfig(ctx, s.db, orgID, provider)
	if err != nil {
		return nil, err
	}
	if row == nil || !row.IsActive {
		return nil, domain.ErrNotFound
	}
	decrypted, err := decryptConfig(s.encKey, row.Config)
	if err != nil {
		return nil, err
	}
	return &domain.ResolvedConfig{OrgID: row.OrgID, Provider: provider, Config: decrypted}, nil
}

func (s *Service) supportedProvider(provider string) (string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return "", domain.ErrInvalidProvider
	}
	if s.catalog != nil && !slices.Contains(s.catalog.Providers(), provider) {
		return "", domain.ErrInvalidProvider
	}
	return provider, nil
}

func normalizeConfig(config map[string]any) map[string]any {
	if len(config) == 0 {
		return nil
	}

	normalized := make(map[string]any, len(config))
	for key, value := range config {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || value == nil {
			continue
		}
		if cast, ok := value.(string); ok {
			cast = strings.TrimSpace(cast)
			if cast == "" {
				continue
			}
			normalized[trimmedKey] = cast
			continue
		}
		normalized[trimmedKey] = value
	}

	if len(normalized) == 0 {
		return nil
	}
	return normalized
}

func (s *Service) audit(ctx context.Context, orgID snowflake.ID, action, provider string, metadata map[string]any) {
	err := s.auditSvc.Record(ctx, auditdomain.Entry{
		OrgID:      orgID,
		Action:     action,
		TargetType: "payment_provider_config",
		TargetID:   provider,
		Metadata:   metadata,
	})
	if err != nil {
		s.log.Warn("failed to audit provider change", zap.String("action", action), zap.Error(err))
	}
}
