package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	billingdomain "github.com/netmeterhq/netmeter/internal/billing/domain"
)

func (s *Server) BillingReport(c *gin.Context) {
	days, err := parseOptionalInt(c.Query("days"))
	if err != nil {
		AbortWithError(c, newValidationError("days", "invalid_days", "days must be an integer"))
		return
	}

	totalBill, err := parseOptionalFloat64(c.Query("total_bill"))
	if err != nil {
		AbortWithError(c, billingdomain.ErrInvalidTotalBill)
		return
	}

	req := billingdomain.BillingRequest{
		WifiSSID: strings.TrimSpace(c.Query("wifi_ssid")),
	}
	if days != nil {
		req.Days = *days
	}
	if totalBill != nil {
		req.TotalBill = *totalBill
	}

	resp, err := s.billingSvc.AllocateBill(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
