package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	ingestdomain "github.com/netmeterhq/netmeter/internal/ingest/domain"
)

func (s *Server) IngestUsage(c *gin.Context) {
	var req ingestdomain.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.ingestSvc.IngestBatch(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"message":        fmt.Sprintf("Inserted %d records for device %s", result.InsertedCount, strings.TrimSpace(req.DeviceID)),
		"inserted_count": result.InsertedCount,
	})
}
