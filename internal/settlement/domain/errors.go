package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/splitledger/pkg/db"
)

var (
	ErrUnrecognizedEventKind = errors.New("unrecognized_event_kind")
	ErrMissingSaleReference  = errors.New("missing_sale_reference")
	ErrSaleNotFound          = errors.New("sale_not_found")
	ErrInvalidConfiguration  = errors.New("invalid_configuration")
	ErrDuplicate             = errors.New("duplicate_event")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrAmountExceedsSale     = errors.New("amount_exceeds_sale")

	ErrTransientStore    = errors.New("transient_store_failure")
	ErrTransientGateway  = errors.New("transient_gateway_failure")
	ErrSettlementPending = errors.New("settlement_pending")

	ErrInvalidEvent     = errors.New("invalid_event")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidConfig    = errors.New("invalid_config")
	ErrAccountNotFound  = errors.New("account_not_found")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)

// Disposition tells the webhook transport how to answer the gateway.
type Disposition int

const (
	// DispositionAck acknowledges with 200; nothing further to do.
	DispositionAck Disposition = iota
	// DispositionAckAlert acknowledges with 200 and pages an operator.
	DispositionAckAlert
	// DispositionRetry answers non-2xx so the gateway redelivers.
	DispositionRetry
	// DispositionReject answers 4xx; the request itself is unacceptable.
	DispositionReject
)

func (d Disposition) String() string {
	switch d {
	case DispositionAck:
		return "ack"
	case DispositionAckAlert:
		return "ack_alert"
	case DispositionRetry:
		return "retry"
	case DispositionReject:
		return "reject"
	default:
		return "unknown"
	}
}

// Classify maps a processing error to its transport disposition.
// Unknown errors are retried since every step is safe to replay. Events that
// verified but can never be applied are acknowledged and alerted so the
// gateway stops redelivering them.
func Classify(err error) Disposition {
	switch {
	case err == nil,
		errors.Is(err, ErrDuplicate),
		errors.Is(err, ErrEventIgnored),
		errors.Is(err, ErrUnrecognizedEventKind):
		return DispositionAck
	case errors.Is(err, ErrMissingSaleReference),
		errors.Is(err, ErrSaleNotFound),
		errors.Is(err, ErrInvalidConfiguration),
		errors.Is(err, ErrAmountExceedsSale),
		errors.Is(err, ErrInvalidEvent),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidConfig):
		return DispositionAckAlert
	case errors.Is(err, ErrInvalidSignature),
		errors.Is(err, ErrInvalidPayload),
		errors.Is(err, ErrInvalidProvider),
		errors.Is(err, ErrProviderNotFound):
		return DispositionReject
	case errors.Is(err, ErrTransientStore),
		errors.Is(err, ErrTransientGateway),
		errors.Is(err, ErrSettlementPending),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		db.IsTransientErr(err):
		return DispositionRetry
	default:
		return DispositionRetry
	}
}

// AlertReason is the low-cardinality label used for operator alerts.
func AlertReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingSaleReference):
		return "missing_sale_reference"
	case errors.Is(err, ErrSaleNotFound):
		return "sale_not_found"
	case errors.Is(err, ErrInvalidConfiguration), errors.Is(err, ErrInvalidConfig):
		return "invalid_configuration"
	case errors.Is(err, ErrAmountExceedsSale):
		return "amount_exceeds_sale"
	case errors.Is(err, ErrInvalidEvent), errors.Is(err, ErrInvalidAmount):
		return "unprocessable_event"
	default:
		return "unknown"
	}
}
