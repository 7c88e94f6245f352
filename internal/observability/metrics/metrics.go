package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Config configures the metrics instruments.
type Config struct {
	ServiceName string
	Environment string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	usageBatches     *prometheus.CounterVec
	usageRecords     *prometheus.CounterVec
	recordsSkipped   *prometheus.CounterVec
	devicesUpserted  prometheus.Counter
	billingReports   *prometheus.CounterVec
	quotaExceeded    *prometheus.CounterVec
	rateLimitAllowed *prometheus.CounterVec
	rateLimitDenied  *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// New returns the singleton application metrics registry.
func New(cfg Config) *Metrics {
	metricsOnce.Do(func() {
		metricsInst = newMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return metricsInst
}

// ResetMetricsForTest resets the application metrics singleton for tests.
func ResetMetricsForTest() {
	metricsOnce = sync.Once{}
	metricsInst = nil
}

func newMetrics(registerer prometheus.Registerer, cfg Config) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	constLabels := constLabelsFor(cfg)

	usageBatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "netmeter_usage_batches_total",
		Help:        "Usage batches accepted by the ingest endpoint.",
		ConstLabels: constLabels,
	}, []string{"wifi_ssid"})
	usageRecords := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "netmeter_usage_records_total",
		Help:        "Usage records inserted by the ingest endpoint.",
		ConstLabels: constLabels,
	}, []string{"wifi_ssid"})
	recordsSkipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "netmeter_usage_records_skipped_total",
		Help:        "Usage records rejected during ingest by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"reason"})
	devicesUpserted := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "netmeter_devices_upserted_total",
		Help:        "Device rows created or refreshed during ingest.",
		ConstLabels: constLabels,
	})
	billingReports := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "netmeter_billing_reports_total",
		Help:        "Billing split reports served.",
		ConstLabels: constLabels,
	}, []string{"wifi_ssid"})
	quotaExceeded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "netmeter_quota_exceeded_total",
		Help:        "Ticks where today's usage sat above the daily limit.",
		ConstLabels: constLabels,
	}, []string{"wifi_ssid"})
	rateLimitAllowed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "netmeter_rate_limit_allowed_total",
		Help:        "Requests admitted by the ingest rate limiter.",
		ConstLabels: constLabels,
	}, []string{"endpoint"})
	rateLimitDenied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "netmeter_rate_limit_denied_total",
		Help:        "Requests rejected by the ingest rate limiter by reason.",
		ConstLabels: constLabels,
	}, []string{"endpoint", "reason"})

	registerer.MustRegister(
		usageBatches,
		usageRecords,
		recordsSkipped,
		devicesUpserted,
		billingReports,
		quotaExceeded,
		rateLimitAllowed,
		rateLimitDenied,
	)

	return &Metrics{
		usageBatches:     usageBatches,
		usageRecords:     usageRecords,
		recordsSkipped:   recordsSkipped,
		devicesUpserted:  devicesUpserted,
		billingReports:   billingReports,
		quotaExceeded:    quotaExceeded,
		rateLimitAllowed: rateLimitAllowed,
		rateLimitDenied:  rateLimitDenied,
	}
}

// RecordUsageBatch increments accepted batch counts for a network.
func (m *Metrics) RecordUsageBatch(ssid string) {
	if m == nil || m.usageBatches == nil {
		return
	}
	m.usageBatches.WithLabelValues(normalizeSSID(ssid)).Inc()
}

// AddUsageRecords increments inserted record counts for a network.
func (m *Metrics) AddUsageRecords(ssid string, count int) {
	if m == nil || m.usageRecords == nil || count <= 0 {
		return
	}
	m.usageRecords.WithLabelValues(normalizeSSID(ssid)).Add(float64(count))
}

// IncRecordSkipped increments the skipped record counter by reason.
func (m *Metrics) IncRecordSkipped(reason string) {
	if m == nil || m.recordsSkipped == nil {
		return
	}
	m.recordsSkipped.WithLabelValues(strings.TrimSpace(reason)).Inc()
}

// IncDeviceUpserted increments the device upsert counter.
func (m *Metrics) IncDeviceUpserted() {
	if m == nil || m.devicesUpserted == nil {
		return
	}
	m.devicesUpserted.Inc()
}

// RecordBillingReport increments served billing report counts for a network.
func (m *Metrics) RecordBillingReport(ssid string) {
	if m == nil || m.billingReports == nil {
		return
	}
	m.billingReports.WithLabelValues(normalizeSSID(ssid)).Inc()
}

// IncQuotaExceeded increments the daily quota breach counter for a network.
func (m *Metrics) IncQuotaExceeded(ssid string) {
	if m == nil || m.quotaExceeded == nil {
		return
	}
	m.quotaExceeded.WithLabelValues(normalizeSSID(ssid)).Inc()
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(endpoint string) {
	if m == nil || m.rateLimitAllowed == nil {
		return
	}
	m.rateLimitAllowed.WithLabelValues(strings.TrimSpace(endpoint)).Inc()
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(endpoint, reason string) {
	if m == nil || m.rateLimitDenied == nil {
		return
	}
	m.rateLimitDenied.WithLabelValues(strings.TrimSpace(endpoint), strings.TrimSpace(reason)).Inc()
}

func normalizeSSID(ssid string) string {
	ssid = strings.TrimSpace(ssid)
	if ssid == "" {
		return "unknown"
	}
	return ssid
}

func constLabelsFor(cfg Config) prometheus.Labels {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "netmeter"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	return prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}
}
