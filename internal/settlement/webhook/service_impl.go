// Package webhook is the intake path for gateway deliveries: it finds the
// organization whose credentials verify the payload, normalizes the event and
// hands it to the settlement service.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/splitledger/internal/config"
	"github.com/smallbiznis/splitledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/splitledger/internal/observability/metrics"
	"github.com/smallbiznis/splitledger/internal/observability/tracing"
	paymentproviderdomain "github.com/smallbiznis/splitledger/internal/paymentprovider/domain"
	"github.com/smallbiznis/splitledger/internal/settlement/adapters"
	"github.com/smallbiznis/splitledger/internal/settlement/domain"
	settlementservice "github.com/smallbiznis/splitledger/internal/settlement/service"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log           *zap.Logger
	Cfg           config.Config
	Adapters      *adapters.Registry
	ProviderSvc   paymentproviderdomain.Service
	SettlementSvc domain.Service
	Triage        *settlementservice.Triage `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics       `optional:"true"`
}

type Service struct {
	log           *zap.Logger
	adapters      *adapters.Registry
	providerSvc   paymentproviderdomain.Service
	settlementSvc domain.Service
	triage        *settlementservice.Triage
	obsMetrics    *obsmetrics.Metrics
	timeout       time.Duration
}

// Outcome describes how a delivery was handled. Disposition tells the
// transport which status to answer with.
type Outcome struct {
	Disposition domain.Disposition
	Event       *domain.SettlementEvent
	Result      *domain.ProcessResult
}

func NewService(p Params) *Service {
	return &Service{
		log:           p.Log.Named("settlement.webhook"),
		adapters:      p.Adapters,
		providerSvc:   p.ProviderSvc,
		settlementSvc: p.SettlementSvc,
		triage:        p.Triage,
		obsMetrics:    p.ObsMetrics,
		timeout:       p.Cfg.WebhookTimeout,
	}
}

func (s *Service) Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) (*Outcome, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return s.finish(ctx, provider, nil, nil, domain.ErrInvalidProvider)
	}
	if !s.adapters.ProviderExists(provider) {
		return s.finish(ctx, provider, nil, nil, domain.ErrProviderNotFound)
	}
	if len(payload) == 0 {
		return s.finish(ctx, provider, nil, nil, domain.ErrInvalidPayload)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	ctx, span := tracing.StartSpan(ctx, "settlement.webhook.ingest", attribute.String("provider", provider))
	defer span.End()

	adapter, err := s.matchAdapter(ctx, provider, payload, headers)
	if err != nil {
		return s.finish(ctx, provider, nil, nil, err)
	}

	if batch, ok := adapter.(domain.BatchNormalizer); ok {
		return s.ingestBatch(ctx, provider, batch, payload)
	}

	event, err := adapter.Normalize(ctx, payload)
	if err != nil {
		s.reportUnapplied(ctx, event, err)
		return s.finish(ctx, provider, event, nil, err)
	}

	result, err := s.settlementSvc.Process(ctx, event)
	return s.finish(ctx, provider, event, result, err)
}

// ingestBatch applies every item of a verified delivery in order. The
// delivery is answered with the most demanding item disposition: one
// retryable item sends the whole batch back, and the items that already
// landed come back as duplicates.
func (s *Service) ingestBatch(ctx context.Context, provider string, batch domain.BatchNormalizer, payload []byte) (*Outcome, error) {
	items, err := batch.NormalizeBatch(ctx, payload)
	if err != nil {
		return s.finish(ctx, provider, nil, nil, err)
	}
	if len(items) == 0 {
		return s.finish(ctx, provider, nil, nil, domain.ErrInvalidPayload)
	}

	var worst *Outcome
	var worstErr error
	for i, item := range items {
		err := item.Err
		var result *domain.ProcessResult
		if err == nil {
			result, err = s.settlementSvc.Process(ctx, item.Event)
		} else {
			if domain.Classify(err) == domain.DispositionReject {
				// The delivery as a whole verified, so one bad item must not
				// bounce the rest back to the gateway.
				err = fmt.Errorf("%w: batch item %d: %v", domain.ErrInvalidEvent, i, err)
			}
			s.reportUnapplied(ctx, item.Event, err)
		}
		out, err := s.finish(ctx, provider, item.Event, result, err)
		if worst == nil || rank(out.Disposition) > rank(worst.Disposition) {
			worst, worstErr = out, err
		}
	}
	return worst, worstErr
}

// reportUnapplied raises an operator alert for adapter failures that are
// acknowledged without reaching the ledger.
func (s *Service) reportUnapplied(ctx context.Context, event *domain.SettlementEvent, err error) {
	if domain.Classify(err) != domain.DispositionAckAlert {
		return
	}
	s.triage.Report(ctx, domain.AlertReason(err), event, err)
}

func rank(d domain.Disposition) int {
	switch d {
	case domain.DispositionRetry:
		return 3
	case domain.DispositionReject:
		return 2
	case domain.DispositionAckAlert:
		return 1
	default:
		return 0
	}
}

// matchAdapter tries each organization's active credentials until one
// verifies the signature.
func (s *Service) matchAdapter(ctx context.Context, provider string, payload []byte, headers http.Header) (domain.Adapter, error) {
	configs, err := s.providerSvc.ListActive(ctx, provider)
	if err != nil {
		// A missing encryption key is fixed by deployment, so the gateway is
		// asked to redeliver rather than the event being parked.
		return nil, fmt.Errorf("list %s credentials: %w", provider, err)
	}
	if len(configs) == 0 {
		return nil, domain.ErrProviderNotFound
	}

	var configErr error
	for _, cfg := range configs {
		adapter, err := s.adapters.NewAdapter(domain.AdapterConfig{
			OrgID:    cfg.OrgID,
			Provider: provider,
			Config:   cfg.Config,
		})
		if err != nil {
			configErr = err
			s.log.Warn("skipping unusable provider config",
				zap.String("provider", provider),
				zap.String("org_id", cfg.OrgID.String()),
				zap.Error(err),
			)
			continue
		}

		if err := adapter.Verify(ctx, payload, headers); err != nil {
			if errors.Is(err, domain.ErrInvalidSignature) {
				continue
			}
			return nil, err
		}
		return adapter, nil
	}

	if configErr != nil {
		s.log.Warn("no provider config verified the webhook", zap.String("provider", provider), zap.Error(configErr))
	}
	return nil, domain.ErrInvalidSignature
}

func (s *Service) finish(ctx context.Context, provider string, event *domain.SettlementEvent, result *domain.ProcessResult, err error) (*Outcome, error) {
	disposition := domain.Classify(err)
	out := &Outcome{Disposition: disposition, Event: event, Result: result}

	log := logger.WithContext(ctx, s.log).With(
		zap.String("provider", provider),
		zap.String("disposition", disposition.String()),
	)
	kind := "unknown"
	if event != nil {
		kind = string(event.EventKind)
		log = logger.WithSale(log, event.SaleID.String(), event.GatewayTransactionID).
			With(zap.String("event_kind", kind), zap.String("gateway_event_id", event.GatewayEventID))
	}

	outcome := disposition.String()
	if result != nil {
		outcome = string(result.Admission)
		if result.Noop {
			outcome = "noop"
		}
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordWebhookEvent(ctx, provider, kind, outcome)
	}

	switch disposition {
	case domain.DispositionAck:
		if err != nil {
			log.Debug("webhook acknowledged without processing", zap.Error(err))
		} else {
			log.Info("webhook processed", zap.String("outcome", outcome))
		}
	case domain.DispositionAckAlert:
		log.Error("webhook acknowledged for manual reconciliation", zap.Error(err))
	case domain.DispositionReject:
		log.Warn("webhook rejected", zap.Error(err))
	default:
		log.Warn("webhook deferred for redelivery", zap.Error(err))
	}
	return out, err
}
