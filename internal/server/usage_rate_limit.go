package server

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	obscontext "github.com/netmeterhq/netmeter/internal/observability/context"
	"github.com/netmeterhq/netmeter/internal/observability/logger"
)

const (
	rateLimitReasonDeviceRate        = "device-rate"
	rateLimitReasonDeviceConcurrency = "device-concurrency"
)

type usageIngestRateLimitKey struct {
	DeviceID string `json:"device_id"`
}

// UsageIngestRateLimit throttles uploads per reporting device and keeps
// overlapping uploads from one device from interleaving. With no limiter
// configured the middleware is a pass-through.
func (s *Server) UsageIngestRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.usageLimiter == nil || !s.usageLimiter.Enabled() {
			c.Next()
			return
		}

		endpoint := normalizeRateLimitEndpoint(c)

		deviceID, err := readUsageIngestDeviceID(c)
		if err != nil {
			logger.FromContext(c.Request.Context()).Warn("usage ingest rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}
		if deviceID != "" {
			c.Request = c.Request.WithContext(obscontext.WithDeviceID(c.Request.Context(), deviceID))
		}
		ctx := c.Request.Context()

		result, err := s.usageLimiter.AllowDevice(ctx, deviceID)
		if err != nil {
			logger.FromContext(ctx).Warn("usage ingest rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			s.denyUsageIngestRateLimit(c, endpoint, rateLimitReasonDeviceRate, retryAfterSeconds(result.RetryAfter))
			return
		}

		if deviceID != "" {
			lockToken, acquired, lockErr := s.usageLimiter.TryLockDevice(ctx, deviceID)
			if lockErr != nil {
				logger.FromContext(ctx).Warn("usage ingest concurrency lock failed", zap.Error(lockErr))
				AbortWithError(c, ErrServiceUnavailable)
				return
			}
			if !acquired {
				s.denyUsageIngestRateLimit(c, endpoint, rateLimitReasonDeviceConcurrency, 1)
				return
			}
			defer func() {
				if releaseErr := s.usageLimiter.ReleaseDevice(ctx, deviceID, lockToken); releaseErr != nil {
					logger.FromContext(ctx).Warn("usage ingest concurrency unlock failed", zap.Error(releaseErr))
				}
			}()
		}

		s.obsMetrics.RecordRateLimitAllowed(endpoint)
		c.Next()
	}
}

func (s *Server) denyUsageIngestRateLimit(c *gin.Context, endpoint, reason string, retryAfter int) {
	logger.FromContext(c.Request.Context()).Warn("usage ingest rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	s.obsMetrics.RecordRateLimitDenied(endpoint, reason)

	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

func retryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

// readUsageIngestDeviceID peeks the device id out of the request body and
// restores the body for the handler. A body that does not parse yields an
// empty id; validation rejects it later with a clearer error.
func readUsageIngestDeviceID(c *gin.Context) (string, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return "", nil
	}

	var payload usageIngestRateLimitKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}

	return strings.TrimSpace(payload.DeviceID), nil
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
