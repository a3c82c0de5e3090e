package service

import (
	"context"
	"strconv"

	"github.com/smallbiznis/splitledger/internal/alert"
	auditdomain "github.com/smallbiznis/splitledger/internal/audit/domain"
	"github.com/smallbiznis/splitledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/splitledger/internal/observability/metrics"
	"github.com/smallbiznis/splitledger/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	ReasonMissingSaleReference = "missing_sale_reference"
	ReasonSaleNotFound         = "sale_not_found"
	ReasonInvalidConfiguration = "invalid_configuration"
	ReasonAmountExceedsSale    = "amount_exceeds_sale"
	ReasonUnprocessableEvent   = "unprocessable_event"
	ReasonSuperseded           = "superseded"
	ReasonFeeReconciled        = "fee_reconciled"
)

type TriageParams struct {
	fx.In

	Log        *zap.Logger
	AuditSvc   auditdomain.Service
	Notifier   alert.Notifier
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Triage records events the ledger acknowledged without applying money
// movement, so an operator can reconcile them by hand.
type Triage struct {
	log        *zap.Logger
	auditSvc   auditdomain.Service
	notifier   alert.Notifier
	obsMetrics *obsmetrics.Metrics
}

func NewTriage(p TriageParams) *Triage {
	return &Triage{
		log:        p.Log.Named("settlement.triage"),
		auditSvc:   p.AuditSvc,
		notifier:   p.Notifier,
		obsMetrics: p.ObsMetrics,
	}
}

// Report writes an audit entry and raises an alert. Failures here are logged
// and swallowed; the event has already been decided.
func (t *Triage) Report(ctx context.Context, reason string, event *domain.SettlementEvent, cause error) {
	if t == nil {
		return
	}
	log := logger.WithContext(ctx, t.log)

	fields := map[string]string{}
	metadata := map[string]any{}
	entry := auditdomain.Entry{
		ActorType:  auditdomain.ActorTypeGateway,
		Action:     "settlement." + reason,
		TargetType: "payment_attempt",
		Metadata:   metadata,
	}

	if event != nil {
		fields["gateway"] = event.GatewayName
		fields["gateway_transaction_id"] = event.GatewayTransactionID
		fields["event_kind"] = string(event.EventKind)
		if event.GatewayEventID != "" {
			fields["gateway_event_id"] = event.GatewayEventID
		}
		entry.OrgID = event.OrgID
		entry.ActorID = event.GatewayName
		entry.TargetID = event.GatewayTransactionID
		if event.SaleID != 0 {
			fields["sale_id"] = event.SaleID.String()
			entry.TargetType = "sale"
			entry.TargetID = event.SaleID.String()
		}
		metadata["gross_amount_cents"] = event.GrossAmountCents
		fields["gross_amount_cents"] = strconv.FormatInt(event.GrossAmountCents, 10)
	}
	for k, v := range fields {
		metadata[k] = v
	}
	if cause != nil {
		fields["error"] = cause.Error()
		metadata["error"] = cause.Error()
	}

	if t.auditSvc != nil {
		if err := t.auditSvc.Record(ctx, entry); err != nil {
			log.Warn("failed to write triage audit log", zap.String("reason", reason), zap.Error(err))
		}
	}

	if t.notifier != nil {
		err := t.notifier.Notify(ctx, alert.Alert{
			Reason:   reason,
			Severity: severity(reason),
			Message:  message(reason),
			Fields:   fields,
		})
		if err != nil {
			log.Warn("failed to deliver alert", zap.String("reason", reason), zap.Error(err))
		}
	}

	if t.obsMetrics != nil {
		t.obsMetrics.RecordAlert(ctx, reason)
	}
}

func severity(reason string) alert.Severity {
	switch reason {
	case ReasonSuperseded, ReasonFeeReconciled:
		return alert.SeverityWarning
	default:
		return alert.SeverityCritical
	}
}

func message(reason string) string {
	switch reason {
	case ReasonMissingSaleReference:
		return "gateway event carries no sale reference"
	case ReasonSaleNotFound:
		return "gateway event references an unknown sale"
	case ReasonInvalidConfiguration:
		return "sale cannot be split with the organization's fee configuration"
	case ReasonAmountExceedsSale:
		return "gateway amount is larger than what the sale has outstanding"
	case ReasonUnprocessableEvent:
		return "verified gateway event cannot be applied as delivered"
	case ReasonSuperseded:
		return "event conflicts with the sale's settled state and was not applied"
	case ReasonFeeReconciled:
		return "gateway fee resolved after settlement"
	default:
		return "settlement event needs manual review"
	}
}
