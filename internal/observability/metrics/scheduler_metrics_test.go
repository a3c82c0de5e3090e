package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

type retryableGatewayErr struct{}

func (retryableGatewayErr) Error() string          { return "gateway unavailable" }
func (retryableGatewayErr) GatewayRetryable() bool { return true }

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: SchedulerJobReasonDeadlineExceeded},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: SchedulerJobReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: SchedulerJobReasonSerializationFailure},
		{name: "deadlock", err: fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "40P01"}), want: SchedulerJobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: SchedulerJobReasonUniqueViolation},
		{name: "gateway", err: retryableGatewayErr{}, want: SchedulerJobReasonGateway},
		{name: "unknown", err: errors.New("boom"), want: SchedulerJobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestIsSchedulerErrorRetryable(t *testing.T) {
	if !IsSchedulerErrorRetryable(&pgconn.PgError{Code: "40001"}) {
		t.Fatalf("expected serialization failure to be retryable")
	}
	if !IsSchedulerErrorRetryable(retryableGatewayErr{}) {
		t.Fatalf("expected gateway error to be retryable")
	}
	if IsSchedulerErrorRetryable(errors.New("boom")) {
		t.Fatalf("expected plain error to be terminal")
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "splitledger",
		Environment: "test",
	})

	metrics.AddBatchProcessed("release_funds", "virtual_transactions", 3)

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("release_funds", "virtual_transactions"))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}

func TestNewSchedulerMetricsReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := newSchedulerMetrics(registry, Config{Environment: "test"})
	second := newSchedulerMetrics(registry, Config{Environment: "test"})

	first.IncJobRun("release_funds")
	second.IncJobRun("release_funds")

	if got := testutil.ToFloat64(first.jobRuns.WithLabelValues("release_funds")); got != 2 {
		t.Fatalf("expected shared counter value 2, got %v", got)
	}
}
