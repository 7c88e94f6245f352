package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	billingdomain "github.com/netmeterhq/netmeter/internal/billing/domain"
)

func (s *Server) UsageSummary(c *gin.Context) {
	days, err := parseOptionalInt(c.Query("days"))
	if err != nil {
		AbortWithError(c, newValidationError("days", "invalid_days", "days must be an integer"))
		return
	}

	req := billingdomain.SummaryRequest{
		WifiSSID: strings.TrimSpace(c.Query("wifi_ssid")),
	}
	if days != nil {
		req.Days = *days
	}

	resp, err := s.billingSvc.Summarize(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
