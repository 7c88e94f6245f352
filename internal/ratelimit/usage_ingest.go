package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/netmeterhq/netmeter/internal/config"
)

const (
	keyUsageIngestDevice = "usage:ingest:device:%s"
	keyUsageIngestLock   = "usage:ingest:lock:%s"
)

// deviceLockTTL bounds how long a crashed uploader can hold its device
// lock before another upload from the same agent may proceed.
const deviceLockTTL = 30 * time.Second

// UsageIngestLimiter throttles usage uploads per reporting device. A nil
// or disabled limiter allows everything, so the collector runs without
// redis unless throttling is switched on.
type UsageIngestLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	rate  float64
	burst int
}

func NewUsageIngestLimiter(cfg config.Config) (*UsageIngestLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.IngestRate <= 0 || limitCfg.IngestBurst <= 0 {
		return nil, errors.New("usage ingest rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &UsageIngestLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
		rate:    limitCfg.IngestRate,
		burst:   limitCfg.IngestBurst,
	}, nil
}

func (l *UsageIngestLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowDevice spends one token from the device's bucket. Uploads without a
// readable device id share the "unknown" bucket rather than bypassing the
// limit.
func (l *UsageIngestLimiter) AllowDevice(ctx context.Context, deviceID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyUsageIngestDevice, normalizeDeviceKey(deviceID)), l.rate, l.burst)
}

// TryLockDevice serializes concurrent uploads from one device.
func (l *UsageIngestLimiter) TryLockDevice(ctx context.Context, deviceID string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	key := fmt.Sprintf(keyUsageIngestLock, normalizeDeviceKey(deviceID))
	return l.locker.TryLock(ctx, key, deviceLockTTL)
}

func (l *UsageIngestLimiter) ReleaseDevice(ctx context.Context, deviceID, token string) error {
	if !l.Enabled() {
		return nil
	}
	key := fmt.Sprintf(keyUsageIngestLock, normalizeDeviceKey(deviceID))
	return l.locker.Release(ctx, key, token)
}

func normalizeDeviceKey(deviceID string) string {
	trimmed := strings.TrimSpace(deviceID)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
