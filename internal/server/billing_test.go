package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUsageSummaryEndpoint(t *testing.T) {
	f := newTestServer(t)
	f.seedDevice(t, "device-a", "Laptop", "Ari")
	f.seedDevice(t, "device-b", "Phone", "Blake")
	f.seedUsage(t, "device-a", "HomeWiFi", serverBase.Add(-48*time.Hour), 786432000)
	f.seedUsage(t, "device-b", "HomeWiFi", serverBase.Add(-24*time.Hour), 262144000)
	// Outside the default 30 day window.
	f.seedUsage(t, "device-a", "HomeWiFi", serverBase.Add(-40*24*time.Hour), 999999999)

	resp := f.do(t, http.MethodGet, "/api/usage/summary", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	payload := decodeBody(t, resp)
	require.Equal(t, float64(30), payload["period_days"])
	require.Equal(t, "All networks", payload["wifi_ssid"])
	require.Equal(t, float64(1048576000), payload["total_usage_bytes"])
	require.Equal(t, 1000.0, payload["total_usage_mb"])
	require.Equal(t, float64(2), payload["device_count"])
	require.Equal(t, "2025-10-01T12:00:00Z", payload["generated_at"])

	rows, ok := payload["device_usage"].([]any)
	require.True(t, ok)
	require.Len(t, rows, 2)

	first, ok := rows[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "device-a", first["device_id"])
	require.Equal(t, "Laptop", first["device_name"])
	require.Equal(t, 750.0, first["usage_mb"])
	require.Equal(t, 75.0, first["percentage"])

	second, ok := rows[1].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "device-b", second["device_id"])
	require.Equal(t, 25.0, second["percentage"])
}

func TestUsageSummaryHonorsQueryParams(t *testing.T) {
	f := newTestServer(t)
	f.seedDevice(t, "device-a", "Laptop", "Ari")
	f.seedUsage(t, "device-a", "HomeWiFi", serverBase.Add(-2*24*time.Hour), 1000)
	f.seedUsage(t, "device-a", "CafeWiFi", serverBase.Add(-24*time.Hour), 500)

	resp := f.do(t, http.MethodGet, "/api/usage/summary?days=7&wifi_ssid=HomeWiFi", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	payload := decodeBody(t, resp)
	require.Equal(t, float64(7), payload["period_days"])
	require.Equal(t, "HomeWiFi", payload["wifi_ssid"])
	require.Equal(t, float64(1000), payload["total_usage_bytes"])
	require.Equal(t, float64(1), payload["device_count"])
}

func TestUsageSummaryEmptyWindow(t *testing.T) {
	f := newTestServer(t)

	resp := f.do(t, http.MethodGet, "/api/usage/summary?days=7", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	payload := decodeBody(t, resp)
	require.Equal(t, float64(0), payload["total_usage_bytes"])
	require.Equal(t, float64(0), payload["device_count"])
}

func TestUsageSummaryRejectsBadDays(t *testing.T) {
	f := newTestServer(t)

	resp := f.do(t, http.MethodGet, "/api/usage/summary?days=abc", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, "invalid_days", errorCodeOf(t, resp))
}

func TestBillingEndpointSplitsBill(t *testing.T) {
	f := newTestServer(t)
	f.seedDevice(t, "device-a", "Laptop", "Ari")
	f.seedDevice(t, "device-b", "Phone", "Blake")
	f.seedUsage(t, "device-a", "HomeWiFi", serverBase.Add(-48*time.Hour), 7500)
	f.seedUsage(t, "device-b", "HomeWiFi", serverBase.Add(-24*time.Hour), 2500)

	resp := f.do(t, http.MethodGet, "/api/billing?days=30&total_bill=100", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	payload := decodeBody(t, resp)
	require.Equal(t, float64(30), payload["billing_period_days"])
	require.Equal(t, 100.0, payload["total_bill"])
	require.Equal(t, 100.0, payload["total_calculated"])
	require.Equal(t, "2025-10-01T12:00:00Z", payload["generated_at"])

	rows, ok := payload["billing_breakdown"].([]any)
	require.True(t, ok)
	require.Len(t, rows, 2)

	first, ok := rows[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "device-a", first["device_id"])
	require.Equal(t, 75.0, first["usage_percentage"])
	require.Equal(t, 75.0, first["bill_amount"])

	second, ok := rows[1].(map[string]any)
	require.True(t, ok)
	require.Equal(t, 25.0, second["bill_amount"])
}

func TestBillingRequiresTotalBill(t *testing.T) {
	f := newTestServer(t)

	for _, target := range []string{
		"/api/billing",
		"/api/billing?total_bill=0",
		"/api/billing?total_bill=-5",
		"/api/billing?total_bill=abc",
	} {
		resp := f.do(t, http.MethodGet, target, "", nil)
		require.Equal(t, http.StatusBadRequest, resp.Code, "target %s", target)
		require.Equal(t, "invalid_total_bill", errorCodeOf(t, resp), "target %s", target)
	}

	resp := f.do(t, http.MethodGet, "/api/billing", "", nil)
	payload := decodeBody(t, resp)
	errObj := payload["error"].(map[string]any)
	list := errObj["errors"].([]any)
	first := list[0].(map[string]any)
	require.Equal(t, "total_bill parameter is required and must be > 0", first["message"])
}

func TestBillingFiltersNetwork(t *testing.T) {
	f := newTestServer(t)
	f.seedDevice(t, "device-a", "Laptop", "Ari")
	f.seedUsage(t, "device-a", "HomeWiFi", serverBase.Add(-24*time.Hour), 3000)
	f.seedUsage(t, "device-a", "CafeWiFi", serverBase.Add(-24*time.Hour), 9000)

	resp := f.do(t, http.MethodGet, "/api/billing?total_bill=40&wifi_ssid=HomeWiFi", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	payload := decodeBody(t, resp)
	require.Equal(t, 40.0, payload["total_calculated"])

	rows := payload["billing_breakdown"].([]any)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]any)
	require.Equal(t, 40.0, row["bill_amount"])
	require.Equal(t, 100.0, row["usage_percentage"])
}
