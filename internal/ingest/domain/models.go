// Package domain contains persistence models and the service contract for
// raw usage ingestion.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageRecord stores one reported usage interval for a device.
type UsageRecord struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	DeviceID      string       `gorm:"type:text;not null;index:idx_device_timestamp,priority:1"`
	WifiSSID      string       `gorm:"column:wifi_ssid;type:text;not null;index:idx_wifi_timestamp,priority:1"`
	Timestamp     time.Time    `gorm:"not null;index:idx_device_timestamp,priority:2;index:idx_wifi_timestamp,priority:2"`
	BytesSent     int64        `gorm:"not null;default:0"`
	BytesReceived int64        `gorm:"not null;default:0"`
	TotalBytes    int64        `gorm:"not null;default:0"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

// RecordInput is one usage interval as an agent reports it.
type RecordInput struct {
	Timestamp     string `json:"timestamp"`
	WifiSSID      string `json:"wifi_ssid"`
	BytesSent     int64  `json:"bytes_sent"`
	BytesReceived int64  `json:"bytes_received"`
	TotalBytes    int64  `json:"total_bytes"`
}

// BatchRequest is the body of POST /api/usage.
type BatchRequest struct {
	DeviceID string        `json:"device_id"`
	Data     []RecordInput `json:"data"`
}

// BatchResult reports how much of a batch was stored.
type BatchResult struct {
	InsertedCount int
	SkippedCount  int
}

type Service interface {
	IngestBatch(context.Context, BatchRequest) (BatchResult, error)
}

var (
	ErrInvalidDeviceID  = errors.New("invalid_device_id")
	ErrEmptyBatch       = errors.New("empty_batch")
	ErrInvalidTimestamp = errors.New("invalid_timestamp")
	ErrNegativeBytes    = errors.New("negative_bytes")
	ErrTotalMismatch    = errors.New("total_mismatch")
)
