// Package domain contains the device registry model and service contract.
package domain

import (
	"context"
	"errors"
	"time"
)

// Device is one metered machine, keyed by its stable fingerprint.
type Device struct {
	DeviceID   string    `gorm:"primaryKey;type:text"`
	DeviceName string    `gorm:"type:text"`
	OwnerName  string    `gorm:"type:text"`
	FirstSeen  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	LastSeen   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
	IsActive   bool      `gorm:"not null;default:true"`
}

// TableName sets the database table name.
func (Device) TableName() string { return "devices" }

// DeviceSummary is one registry row joined with its lifetime usage.
type DeviceSummary struct {
	DeviceID        string    `json:"device_id"`
	DeviceName      string    `json:"device_name"`
	OwnerName       string    `json:"owner_name"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
	IsActive        bool      `json:"is_active"`
	TotalUsageBytes int64     `json:"total_usage_bytes"`
	TotalUsageMB    float64   `json:"total_usage_mb"`
}

type ListDevicesResponse struct {
	Devices []DeviceSummary `json:"devices"`
}

type UpdateDeviceRequest struct {
	DeviceID   string `json:"-"`
	DeviceName string `json:"device_name"`
	OwnerName  string `json:"owner_name"`
}

type Service interface {
	List(context.Context) (ListDevicesResponse, error)
	Update(context.Context, UpdateDeviceRequest) error
}

var ErrInvalidDeviceID = errors.New("invalid_device_id")
