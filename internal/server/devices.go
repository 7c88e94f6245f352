package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	devicedomain "github.com/netmeterhq/netmeter/internal/device/domain"
)

func (s *Server) ListDevices(c *gin.Context) {
	resp, err := s.deviceSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) UpdateDevice(c *gin.Context) {
	var req devicedomain.UpdateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.DeviceID = c.Param("device_id")

	if err := s.deviceSvc.Update(c.Request.Context(), req); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Device updated successfully",
	})
}
