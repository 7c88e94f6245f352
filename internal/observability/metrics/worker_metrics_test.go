package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifyWorkerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: WorkerJobReasonDeadlineExceeded,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: WorkerJobReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: WorkerJobReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: WorkerJobReasonUniqueViolation,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: WorkerJobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyWorkerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newWorkerMetrics(registry, Config{
		ServiceName: "netmeter",
		Environment: "test",
	})

	metrics.AddBatchProcessed(JobUsageUpload, ResourceUsageEvents, 3)

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues(JobUsageUpload, ResourceUsageEvents))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}

func TestIsWorkerErrorRetryable(t *testing.T) {
	if !IsWorkerErrorRetryable(context.DeadlineExceeded) {
		t.Fatalf("expected deadline errors to be retryable")
	}
	if !IsWorkerErrorRetryable(&pgconn.PgError{Code: "40001"}) {
		t.Fatalf("expected serialization failures to be retryable")
	}
	if IsWorkerErrorRetryable(errors.New("bad payload")) {
		t.Fatalf("expected unknown errors to be non-retryable")
	}
	if IsWorkerErrorRetryable(gorm.ErrRecordNotFound) {
		t.Fatalf("expected record-not-found to be non-retryable")
	}
}
