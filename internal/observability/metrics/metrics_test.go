package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAddUsageRecordsIgnoresNonPositiveCounts(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newMetrics(registry, Config{
		ServiceName: "netmeter",
		Environment: "test",
	})

	metrics.AddUsageRecords("HomeNet", 0)
	metrics.AddUsageRecords("HomeNet", -4)
	metrics.AddUsageRecords("HomeNet", 2)

	got := testutil.ToFloat64(metrics.usageRecords.WithLabelValues("HomeNet"))
	if got != 2 {
		t.Fatalf("expected record count 2, got %v", got)
	}
}

func TestRecordUsageBatchNormalizesEmptySSID(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newMetrics(registry, Config{})

	metrics.RecordUsageBatch("  ")

	got := testutil.ToFloat64(metrics.usageBatches.WithLabelValues("unknown"))
	if got != 1 {
		t.Fatalf("expected batch count 1 under unknown ssid, got %v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordUsageBatch("HomeNet")
	m.AddUsageRecords("HomeNet", 5)
	m.IncRecordSkipped("invalid_mac")
	m.IncDeviceUpserted()
	m.RecordBillingReport("HomeNet")
	m.RecordRateLimitAllowed("/api/usage")
	m.RecordRateLimitDenied("/api/usage", "limited")
}
