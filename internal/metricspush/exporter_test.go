package metricspush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"

	"github.com/netmeterhq/netmeter/internal/config"
	"github.com/netmeterhq/netmeter/internal/identity"
)

type remoteWriteCapture struct {
	mu       sync.Mutex
	requests []*prompb.WriteRequest
	headers  []http.Header
}

func (c *remoteWriteCapture) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		raw, err := snappy.Decode(nil, body)
		require.NoError(t, err)

		var req prompb.WriteRequest
		require.NoError(t, proto.Unmarshal(raw, protoadapt.MessageV2Of(&req)))

		c.mu.Lock()
		c.requests = append(c.requests, &req)
		c.headers = append(c.headers, r.Header.Clone())
		c.mu.Unlock()

		w.WriteHeader(http.StatusNoContent)
	}
}

func newRemoteWriteExporter(t *testing.T, endpoint string, gatherer prometheus.Gatherer) *exporter {
	t.Helper()
	return newExporter(gatherer, exporterConfig{
		kind:      exporterRemoteWrite,
		endpoint:  endpoint,
		authToken: "push-token",
		job:       "netmeter-agent",
		deviceID:  "abcdef0123456789",
	}, zaptest.NewLogger(t))
}

func TestExportRemoteWrite(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netmeter_test_bytes_total",
		Help: "Bytes seen by the test.",
	}, []string{"wifi_ssid"})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "netmeter_test_queue_depth",
		Help: "Pending rows in the test.",
	})
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "netmeter_test_latency_seconds",
		Help: "Latency the push must skip.",
	})
	registry.MustRegister(counter, gauge, histogram)

	counter.WithLabelValues("HomeWiFi").Add(1500)
	gauge.Set(7)
	histogram.Observe(0.2)

	capture := &remoteWriteCapture{}
	srv := httptest.NewServer(capture.handler(t))
	defer srv.Close()

	exp := newRemoteWriteExporter(t, srv.URL, registry)
	exp.exportOnce()

	require.Len(t, capture.requests, 1)

	header := capture.headers[0]
	require.Equal(t, "application/x-protobuf", header.Get("Content-Type"))
	require.Equal(t, "snappy", header.Get("Content-Encoding"))
	require.Equal(t, "0.1.0", header.Get("X-Prometheus-Remote-Write-Version"))
	require.Equal(t, "Bearer push-token", header.Get("Authorization"))

	byName := map[string]prompb.TimeSeries{}
	for _, series := range capture.requests[0].Timeseries {
		labels := map[string]string{}
		for _, label := range series.Labels {
			labels[label.Name] = label.Value
		}
		byName[labels["__name__"]] = series
		require.Equal(t, "abcdef0123456789", labels["device_id"])
	}

	counterSeries, ok := byName["netmeter_test_bytes_total"]
	require.True(t, ok, "counter series missing")
	require.Equal(t, float64(1500), counterSeries.Samples[0].Value)

	gaugeSeries, ok := byName["netmeter_test_queue_depth"]
	require.True(t, ok, "gauge series missing")
	require.Equal(t, float64(7), gaugeSeries.Samples[0].Value)

	_, ok = byName["netmeter_test_latency_seconds"]
	require.False(t, ok, "histogram series must be skipped")

	for _, series := range capture.requests[0].Timeseries {
		for i := 1; i < len(series.Labels); i++ {
			require.Less(t, series.Labels[i-1].Name, series.Labels[i].Name)
		}
	}

	require.False(t, exp.errorOnce.Load())
}

func TestExportPushgateway(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		method = r.Method
		path = r.URL.Path
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	registry := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "netmeter_test_queue_depth",
		Help: "Pending rows in the test.",
	})
	registry.MustRegister(gauge)
	gauge.Set(3)

	exp := newExporter(registry, exporterConfig{
		kind:     exporterPushgateway,
		endpoint: srv.URL,
		job:      "netmeter-agent",
		grouping: map[string]string{
			"environment": "test",
			"instance":    "abcdef0123456789",
		},
	}, zaptest.NewLogger(t))
	exp.exportOnce()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, http.MethodPut, method)
	require.True(t, strings.HasPrefix(path, "/metrics/job/netmeter-agent"), "unexpected path %s", path)
	require.Contains(t, path, "environment/test")
	require.Contains(t, path, "instance/abcdef0123456789")
	require.False(t, exp.errorOnce.Load())
}

func TestExportOnceSkipsEmptyGather(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	exp := newRemoteWriteExporter(t, srv.URL, prometheus.NewRegistry())
	exp.exportOnce()

	require.Zero(t, calls)
}

func TestExportErrorLoggedOnceUntilRecovery(t *testing.T) {
	var (
		mu   sync.Mutex
		fail = true
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		broken := fail
		mu.Unlock()
		if broken {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	registry := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "netmeter_test_queue_depth",
		Help: "Pending rows in the test.",
	})
	registry.MustRegister(gauge)

	exp := newRemoteWriteExporter(t, srv.URL, registry)

	exp.exportOnce()
	require.True(t, exp.errorOnce.Load())

	exp.exportOnce()
	require.True(t, exp.errorOnce.Load())

	mu.Lock()
	fail = false
	mu.Unlock()

	exp.exportOnce()
	require.False(t, exp.errorOnce.Load())
}

func TestParseExporterConfig(t *testing.T) {
	id := identity.Fingerprint{DeviceID: "abcdef0123456789"}

	base := config.Config{
		AppName:     "netmeter-agent",
		Environment: "test",
	}
	base.Push.Enabled = true
	base.Push.Exporter = "Prometheus_Remote_Write"
	base.Push.Endpoint = "https://metrics.example.com/api/v1/write"
	base.Push.AuthToken = " push-token "

	parsed, err := parseExporterConfig(base, id)
	require.NoError(t, err)
	require.Equal(t, exporterRemoteWrite, parsed.kind)
	require.Equal(t, "https://metrics.example.com/api/v1/write", parsed.endpoint)
	require.Equal(t, "push-token", parsed.authToken)
	require.Equal(t, "netmeter-agent", parsed.job)
	require.Equal(t, "abcdef0123456789", parsed.deviceID)
	require.Equal(t, "test", parsed.grouping["environment"])
	require.Equal(t, "abcdef0123456789", parsed.grouping["instance"])

	missingEndpoint := base
	missingEndpoint.Push.Endpoint = ""
	_, err = parseExporterConfig(missingEndpoint, id)
	require.Error(t, err)

	badURL := base
	badURL.Push.Endpoint = "not a url"
	_, err = parseExporterConfig(badURL, id)
	require.Error(t, err)

	gateway := base
	gateway.Push.Exporter = "prometheus_pushgateway"
	gateway.Push.Endpoint = "http://gateway:9091"
	parsed, err = parseExporterConfig(gateway, id)
	require.NoError(t, err)
	require.Equal(t, exporterPushgateway, parsed.kind)

	unsupported := base
	unsupported.Push.Exporter = "statsd"
	_, err = parseExporterConfig(unsupported, id)
	require.Error(t, err)
}
