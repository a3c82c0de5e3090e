package stripe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/smallbiznis/splitledger/internal/settlement/domain"
	stripego "github.com/stripe/stripe-go/v81"
)

// gatewayError wraps a failed Stripe API call with a retry hint. Retryable
// failures also match domain.ErrTransientGateway.
type gatewayError struct {
	op        string
	err       error
	retryable bool
}

func (e *gatewayError) Error() string {
	return fmt.Sprintf("stripe %s: %v", e.op, e.err)
}

func (e *gatewayError) Unwrap() error { return e.err }

func (e *gatewayError) GatewayRetryable() bool { return e.retryable }

func (e *gatewayError) Is(target error) bool {
	return e.retryable && target == domain.ErrTransientGateway
}

func wrapAPIError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &gatewayError{op: op, err: err, retryable: isRetryable(err)}
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return isRetryableAPIError(err) || isRetryableNetworkError(err)
}

// 5xx, throttling and lock contention are worth another try; card and
// request errors never are.
func isRetryableAPIError(err error) bool {
	var stripeErr *stripego.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	if stripeErr.HTTPStatusCode >= 500 || stripeErr.HTTPStatusCode == 429 {
		return true
	}
	switch stripeErr.Code {
	case stripego.ErrorCodeRateLimit, stripego.ErrorCodeLockTimeout:
		return true
	}
	return false
}

func isRetryableNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}
