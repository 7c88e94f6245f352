package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Health reports liveness and whether storage answers a ping.
func (s *Server) Health(c *gin.Context) {
	status := "healthy"
	database := "connected"
	code := http.StatusOK

	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		status = "degraded"
		database = "unreachable"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    status,
		"database":  database,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Index describes the API surface for anyone poking the root path.
func (s *Server) Index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    s.cfg.AppName,
		"version": s.cfg.AppVersion,
		"endpoints": gin.H{
			"POST /api/usage":             "Submit usage data from devices",
			"GET /api/devices":            "Get list of registered devices",
			"PUT /api/devices/:device_id": "Update device information",
			"GET /api/usage/summary":      "Get usage summary (params: days, wifi_ssid)",
			"GET /api/billing":            "Calculate billing (params: days, total_bill, wifi_ssid)",
			"GET /api/health":             "Health check",
			"GET /metrics":                "Prometheus metrics",
		},
		"authentication": "Bearer token required for usage submission",
	})
}
