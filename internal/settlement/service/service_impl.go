package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	affiliatedomain "github.com/smallbiznis/splitledger/internal/affiliate/domain"
	"github.com/smallbiznis/splitledger/internal/clock"
	"github.com/smallbiznis/splitledger/internal/config"
	feeconfigdomain "github.com/smallbiznis/splitledger/internal/feeconfig/domain"
	"github.com/smallbiznis/splitledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/splitledger/internal/observability/metrics"
	"github.com/smallbiznis/splitledger/internal/observability/tracing"
	"github.com/smallbiznis/splitledger/internal/settlement/domain"
	"github.com/smallbiznis/splitledger/internal/settlement/split"
	"github.com/smallbiznis/splitledger/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Repo         domain.Repository
	FeeConfigSvc feeconfigdomain.Service
	AffiliateSvc affiliatedomain.Service
	Triage       *Triage
	Policy       *config.SettlementPolicyHolder
	Clock        clock.Clock
	Resolver     domain.GatewayResolver       `optional:"true"`
	Cache        domain.DetailsCache          `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics          `optional:"true"`
	SchedMetrics *obsmetrics.SchedulerMetrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	repo         domain.Repository
	feeConfigSvc feeconfigdomain.Service
	affiliateSvc affiliatedomain.Service
	triage       *Triage
	policy       *config.SettlementPolicyHolder
	clock        clock.Clock
	resolver     domain.GatewayResolver
	cache        domain.DetailsCache
	obsMetrics   *obsmetrics.Metrics
	schedMetrics *obsmetrics.SchedulerMetrics
	retry        retryPolicy

	backfillMu    sync.Mutex
	backfillAfter snowflake.ID
}

func NewService(p Params) domain.Service {
	return newService(p)
}

func newService(p Params) *Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("settlement.service"),
		genID:        p.GenID,
		repo:         p.Repo,
		feeConfigSvc: p.FeeConfigSvc,
		affiliateSvc: p.AffiliateSvc,
		triage:       p.Triage,
		policy:       p.Policy,
		clock:        c,
		resolver:     p.Resolver,
		cache:        p.Cache,
		obsMetrics:   p.ObsMetrics,
		schedMetrics: p.SchedMetrics,
		retry:        defaultRetryPolicy,
	}
}

// settleInputs is read before the transaction opens so no collaborator
// lookup runs while the sale row is locked.
type settleInputs struct {
	fee       split.FeeConfig
	affiliate *affiliatedomain.Commission
}

// effects are emitted as metrics once the transaction has committed.
type effects struct {
	result        domain.ProcessResult
	splits        []domain.SaleSplit
	compensations []domain.SaleSplit
}

func (s *Service) Process(ctx context.Context, event *domain.SettlementEvent) (*domain.ProcessResult, error) {
	if err := event.Validate(s.clock.Now()); err != nil {
		if domain.Classify(err) == domain.DispositionAckAlert {
			s.triage.Report(ctx, domain.AlertReason(err), event, err)
		}
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "settlement.process",
		attribute.String("provider", event.GatewayName),
		attribute.String("event_kind", string(event.EventKind)),
	)
	defer span.End()

	log := logger.WithSale(logger.WithContext(ctx, s.log), event.SaleID.String(), event.GatewayTransactionID).
		With(zap.String("event_kind", string(event.EventKind)))

	sale, err := s.repo.FindSale(ctx, s.db, event.SaleID)
	if err != nil {
		return nil, storeErr(err)
	}
	if sale == nil || (event.OrgID != 0 && sale.OrgID != event.OrgID) {
		s.triage.Report(ctx, ReasonSaleNotFound, event, domain.ErrSaleNotFound)
		return nil, domain.ErrSaleNotFound
	}

	var inputs *settleInputs
	if event.EventKind == domain.EventKindSucceeded && !sale.PaymentStatus.Settled() && !sale.PaymentStatus.Closed() {
		inputs, err = s.loadSettleInputs(ctx, sale)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidConfiguration) {
				s.triage.Report(ctx, ReasonInvalidConfiguration, event, err)
			}
			return nil, err
		}
	}

	var out *effects
	err = s.withRetry(ctx, func() error {
		out = nil
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			applied, err := s.admit(ctx, tx, event, inputs)
			out = applied
			return err
		})
	})

	switch {
	case errors.Is(err, domain.ErrDuplicate):
		log.Info("duplicate settlement event acknowledged")
		return &domain.ProcessResult{Admission: domain.AdmissionDuplicate, SaleID: event.SaleID}, nil
	case domain.Classify(err) == domain.DispositionAckAlert:
		log.Error("settlement event cannot be applied", zap.Error(err))
		s.triage.Report(ctx, domain.AlertReason(err), event, err)
		return nil, err
	case errors.Is(err, domain.ErrSettlementPending):
		log.Warn("reversal arrived before settlement; asking gateway to redeliver")
		return nil, err
	case err != nil:
		span.RecordError(tracing.SafeError(err))
		log.Error("settlement processing failed", zap.Error(err))
		return nil, err
	}

	if out.result.Admission == domain.AdmissionSuperseded {
		s.triage.Report(ctx, ReasonSuperseded, event, nil)
	}
	s.emit(ctx, event, out)

	log.Info("settlement event processed",
		zap.String("admission", string(out.result.Admission)),
		zap.Bool("noop", out.result.Noop),
		zap.String("attempt_id", out.result.AttemptID.String()),
	)
	return &out.result, nil
}

func (s *Service) loadSettleInputs(ctx context.Context, sale *domain.Sale) (*settleInputs, error) {
	fee, err := s.feeConfigSvc.GetPlatformFeeConfig(ctx, sale.OrgID)
	if err != nil {
		if errors.Is(err, feeconfigdomain.ErrNotConfigured) {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
		}
		return nil, storeErr(err)
	}
	commission, err := s.affiliateSvc.GetAffiliateSplit(ctx, sale.ID)
	if err != nil {
		return nil, storeErr(err)
	}
	return &settleInputs{
		fee:       split.FeeConfig{Percentage: fee.Percentage, FixedCents: fee.FixedCents},
		affiliate: commission,
	}, nil
}

// admit runs the guard and, when the event is admitted, applies it. The
// attempt insert is the only arbiter of novelty: a unique violation means a
// concurrent or earlier delivery already won.
func (s *Service) admit(ctx context.Context, tx *gorm.DB, event *domain.SettlementEvent, inputs *settleInputs) (*effects, error) {
	sale, err := s.repo.LockSale(ctx, tx, event.SaleID)
	if err != nil {
		return nil, err
	}
	if sale == nil {
		return nil, domain.ErrSaleNotFound
	}

	outcome, err := decide(sale, event)
	if err != nil {
		return nil, err
	}
	if outcome == domain.AttemptOutcomeApplied && event.EventKind == domain.EventKindSucceeded {
		if remaining := sale.TotalCents - sale.RefundedCents; event.GrossAmountCents > remaining {
			return nil, fmt.Errorf("%w: gross %d cents, sale has %d cents outstanding",
				domain.ErrAmountExceedsSale, event.GrossAmountCents, remaining)
		}
	}
	if outcome == domain.AttemptOutcomeApplied && event.EventKind == domain.EventKindSucceeded && inputs == nil {
		// The sale left a settled state between the read and the lock; that
		// cannot happen, so refuse rather than settle without a fee config.
		return nil, fmt.Errorf("%w: fee configuration not loaded", domain.ErrInvalidConfiguration)
	}

	now := s.clock.Now()
	attempt, err := s.newAttempt(sale, event, outcome, now)
	if err != nil {
		return nil, err
	}
	if err := s.repo.InsertAttempt(ctx, tx, attempt); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicate
		}
		return nil, err
	}

	out := &effects{result: domain.ProcessResult{
		Admission: domain.AdmissionAdmit,
		AttemptID: attempt.ID,
		SaleID:    sale.ID,
	}}
	switch outcome {
	case domain.AttemptOutcomeNoop:
		out.result.Noop = true
		return out, nil
	case domain.AttemptOutcomeSuperseded:
		out.result.Admission = domain.AdmissionSuperseded
		return out, nil
	}

	switch {
	case event.EventKind == domain.EventKindSucceeded:
		out.splits, err = s.applySettlement(ctx, tx, sale, attempt, event, inputs, now)
	case event.EventKind == domain.EventKindFailed:
		err = s.applyFailure(ctx, tx, sale, event, now)
	case event.EventKind.Reversal():
		out.compensations, err = s.applyReversal(ctx, tx, sale, attempt, event, now)
	default:
		err = domain.ErrUnrecognizedEventKind
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// decide maps the sale's current state and the event onto an attempt
// outcome. Reversals on a sale that has not settled yet are refused with a
// retryable error so the gateway redelivers them after the settlement lands.
func decide(sale *domain.Sale, event *domain.SettlementEvent) (domain.AttemptOutcome, error) {
	status := sale.PaymentStatus
	sameTxn := sale.GatewayTransactionID != nil && *sale.GatewayTransactionID == event.GatewayTransactionID

	switch {
	case event.EventKind == domain.EventKindSucceeded:
		if status.Settled() || status.Closed() {
			if sameTxn {
				return domain.AttemptOutcomeNoop, nil
			}
			return domain.AttemptOutcomeSuperseded, nil
		}
		return domain.AttemptOutcomeApplied, nil
	case event.EventKind == domain.EventKindFailed:
		if status.Settled() || status.Closed() {
			return domain.AttemptOutcomeSuperseded, nil
		}
		return domain.AttemptOutcomeApplied, nil
	case event.EventKind.Reversal():
		if status.Closed() {
			return domain.AttemptOutcomeSuperseded, nil
		}
		if !status.Settled() {
			return "", domain.ErrSettlementPending
		}
		if !sameTxn {
			return domain.AttemptOutcomeSuperseded, nil
		}
		return domain.AttemptOutcomeApplied, nil
	default:
		return "", domain.ErrUnrecognizedEventKind
	}
}

func (s *Service) newAttempt(sale *domain.Sale, event *domain.SettlementEvent, outcome domain.AttemptOutcome, now time.Time) (*domain.PaymentAttempt, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return &domain.PaymentAttempt{
		ID:                   s.genID.Generate(),
		SaleID:               sale.ID,
		OrgID:                sale.OrgID,
		Gateway:              event.GatewayName,
		GatewayTransactionID: event.GatewayTransactionID,
		GatewayEventID:       event.GatewayEventID,
		EventKind:            event.EventKind,
		DedupeRef:            event.DedupeRef,
		AmountCents:          event.GrossAmountCents,
		Outcome:              outcome,
		Event:                datatypes.JSON(raw),
		CreatedAt:            now,
	}, nil
}

func (s *Service) applyFailure(ctx context.Context, tx *gorm.DB, sale *domain.Sale, event *domain.SettlementEvent, now time.Time) error {
	sale.PaymentStatus = domain.PaymentStatusFailed
	sale.GatewayName = stringPtr(event.GatewayName)
	sale.GatewayTransactionID = stringPtr(event.GatewayTransactionID)
	sale.UpdatedAt = now
	return s.repo.UpdateSale(ctx, tx, sale)
}

// recomputeBalances rewrites each account's cached balance from its log.
// Callers must already hold the account locks.
func (s *Service) recomputeBalances(ctx context.Context, tx *gorm.DB, accountIDs []snowflake.ID, now time.Time) error {
	for _, id := range uniqueSorted(accountIDs) {
		balance, err := s.repo.DeriveBalance(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.repo.StoreBalance(ctx, tx, id, balance, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) emit(ctx context.Context, event *domain.SettlementEvent, out *effects) {
	if s.obsMetrics == nil || out == nil {
		return
	}
	for _, row := range out.splits {
		s.obsMetrics.RecordSplit(ctx, event.GatewayName, string(row.SplitType), row.GrossAmountCents)
	}
	for _, row := range out.compensations {
		s.obsMetrics.RecordCompensation(ctx, string(event.EventKind), string(row.SplitType))
	}
}

func stringPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
