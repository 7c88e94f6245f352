// Package domain contains the usage aggregation and bill split contracts.
package domain

import (
	"context"
	"errors"
	"time"
)

// DefaultWindowDays is the reporting window applied when a request names none.
const DefaultWindowDays = 30

// SummaryRequest scopes a usage report. Days at or below zero falls back to
// DefaultWindowDays; an empty WifiSSID covers every network.
type SummaryRequest struct {
	Days     int
	WifiSSID string
}

// DeviceUsage is one device's share of a reporting window.
type DeviceUsage struct {
	DeviceID    string    `json:"device_id"`
	DeviceName  string    `json:"device_name"`
	OwnerName   string    `json:"owner_name"`
	UsageBytes  int64     `json:"usage_bytes"`
	UsageMB     float64   `json:"usage_mb"`
	UsageGB     float64   `json:"usage_gb"`
	RecordCount int64     `json:"record_count"`
	FirstRecord time.Time `json:"first_record"`
	LastRecord  time.Time `json:"last_record"`
	Percentage  float64   `json:"percentage"`
}

type SummaryResponse struct {
	PeriodDays      int           `json:"period_days"`
	WifiSSID        string        `json:"wifi_ssid"`
	TotalUsageBytes int64         `json:"total_usage_bytes"`
	TotalUsageMB    float64       `json:"total_usage_mb"`
	TotalUsageGB    float64       `json:"total_usage_gb"`
	DeviceUsage     []DeviceUsage `json:"device_usage"`
	DeviceCount     int           `json:"device_count"`
	GeneratedAt     time.Time     `json:"generated_at"`
}

// BillingRequest scopes a proportional bill split.
type BillingRequest struct {
	Days      int
	TotalBill float64
	WifiSSID  string
}

// DeviceBill is one device's slice of the total bill.
type DeviceBill struct {
	DeviceID        string  `json:"device_id"`
	DeviceName      string  `json:"device_name"`
	OwnerName       string  `json:"owner_name"`
	UsageGB         float64 `json:"usage_gb"`
	UsagePercentage float64 `json:"usage_percentage"`
	BillAmount      float64 `json:"bill_amount"`
}

type BillingResponse struct {
	BillingPeriodDays int          `json:"billing_period_days"`
	TotalBill         float64      `json:"total_bill"`
	TotalUsageGB      float64      `json:"total_usage_gb"`
	BillingBreakdown  []DeviceBill `json:"billing_breakdown"`
	TotalCalculated   float64      `json:"total_calculated"`
	GeneratedAt       time.Time    `json:"generated_at"`
}

type Service interface {
	Summarize(context.Context, SummaryRequest) (SummaryResponse, error)
	AllocateBill(context.Context, BillingRequest) (BillingResponse, error)
}

var ErrInvalidTotalBill = errors.New("invalid_total_bill")
