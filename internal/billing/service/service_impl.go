package service

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/netmeterhq/netmeter/internal/billing/domain"
	"github.com/netmeterhq/netmeter/internal/clock"
	ingestdomain "github.com/netmeterhq/netmeter/internal/ingest/domain"
	obsmetrics "github.com/netmeterhq/netmeter/internal/observability/metrics"
)

const (
	allNetworksLabel = "All networks"

	unknownDeviceName = "Unknown Device"
	unknownOwnerName  = "Unknown Owner"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	metrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) billingdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("billing.service"),
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

type usageAggRow struct {
	DeviceID    string
	DeviceName  string
	OwnerName   string
	TotalUsage  int64
	RecordCount int64
}

// Summarize reports per-device usage within the window [now-days, now], the
// lower bound inclusive. An empty window is a valid zero report, not an error.
func (s *Service) Summarize(ctx context.Context, req billingdomain.SummaryRequest) (billingdomain.SummaryResponse, error) {
	days := windowDays(req.Days)
	ssid := strings.TrimSpace(req.WifiSSID)
	now := s.clock.Now().UTC()
	since := now.AddDate(0, 0, -days)

	rows, err := s.aggregateWindow(ctx, since, ssid)
	if err != nil {
		return billingdomain.SummaryResponse{}, err
	}

	var totalUsage int64
	for _, row := range rows {
		totalUsage += row.TotalUsage
	}

	devices := make([]billingdomain.DeviceUsage, 0, len(rows))
	for _, row := range rows {
		first, last, err := s.recordBounds(ctx, row.DeviceID, since, ssid)
		if err != nil {
			return billingdomain.SummaryResponse{}, err
		}
		usage := billingdomain.DeviceUsage{
			DeviceID:    row.DeviceID,
			DeviceName:  displayName(row.DeviceName, unknownDeviceName),
			OwnerName:   displayName(row.OwnerName, unknownOwnerName),
			UsageBytes:  row.TotalUsage,
			UsageMB:     round2(float64(row.TotalUsage) / (1024 * 1024)),
			UsageGB:     round2(float64(row.TotalUsage) / (1024 * 1024 * 1024)),
			RecordCount: row.RecordCount,
			FirstRecord: first,
			LastRecord:  last,
		}
		if totalUsage > 0 {
			usage.Percentage = round2(float64(row.TotalUsage) / float64(totalUsage) * 100)
		}
		devices = append(devices, usage)
	}

	label := ssid
	if label == "" {
		label = allNetworksLabel
	}

	return billingdomain.SummaryResponse{
		PeriodDays:      days,
		WifiSSID:        label,
		TotalUsageBytes: totalUsage,
		TotalUsageMB:    round2(float64(totalUsage) / (1024 * 1024)),
		TotalUsageGB:    round2(float64(totalUsage) / (1024 * 1024 * 1024)),
		DeviceUsage:     devices,
		DeviceCount:     len(devices),
		GeneratedAt:     now,
	}, nil
}

// AllocateBill splits a billing total across devices in proportion to their
// usage. Each share is rounded half-up to cents on its own, so the rounded
// shares can sum to slightly more or less than the total; TotalCalculated
// carries what the shares actually add up to and stays within 5 cents.
func (s *Service) AllocateBill(ctx context.Context, req billingdomain.BillingRequest) (billingdomain.BillingResponse, error) {
	if req.TotalBill <= 0 {
		return billingdomain.BillingResponse{}, billingdomain.ErrInvalidTotalBill
	}

	days := windowDays(req.Days)
	ssid := strings.TrimSpace(req.WifiSSID)
	now := s.clock.Now().UTC()
	since := now.AddDate(0, 0, -days)

	rows, err := s.aggregateWindow(ctx, since, ssid)
	if err != nil {
		return billingdomain.BillingResponse{}, err
	}

	var totalUsage int64
	for _, row := range rows {
		totalUsage += row.TotalUsage
	}

	breakdown := make([]billingdomain.DeviceBill, 0, len(rows))
	var totalCalculated float64
	if totalUsage > 0 {
		for _, row := range rows {
			if row.TotalUsage == 0 {
				continue
			}
			share := float64(row.TotalUsage) / float64(totalUsage)
			amount := round2(share * req.TotalBill)
			totalCalculated += amount
			breakdown = append(breakdown, billingdomain.DeviceBill{
				DeviceID:        row.DeviceID,
				DeviceName:      displayName(row.DeviceName, unknownDeviceName),
				OwnerName:       displayName(row.OwnerName, unknownOwnerName),
				UsageGB:         round2(float64(row.TotalUsage) / (1024 * 1024 * 1024)),
				UsagePercentage: round2(share * 100),
				BillAmount:      amount,
			})
		}
	}

	label := ssid
	if label == "" {
		label = "all"
	}
	s.metrics.RecordBillingReport(label)
	s.log.Info("billing split generated",
		zap.Int("period_days", days),
		zap.Float64("total_bill", req.TotalBill),
		zap.Int("devices", len(breakdown)),
	)

	return billingdomain.BillingResponse{
		BillingPeriodDays: days,
		TotalBill:         req.TotalBill,
		TotalUsageGB:      round2(float64(totalUsage) / (1024 * 1024 * 1024)),
		BillingBreakdown:  breakdown,
		TotalCalculated:   round2(totalCalculated),
		GeneratedAt:       now,
	}, nil
}

func (s *Service) aggregateWindow(ctx context.Context, since time.Time, ssid string) ([]usageAggRow, error) {
	query := s.db.WithContext(ctx).
		Table("usage_records AS u").
		Select("u.device_id, d.device_name, d.owner_name, COALESCE(SUM(u.total_bytes), 0) AS total_usage, COUNT(u.id) AS record_count").
		Joins("LEFT JOIN devices d ON u.device_id = d.device_id").
		Where("u.timestamp >= ?", since).
		Group("u.device_id, d.device_name, d.owner_name").
		Order("total_usage DESC")
	if ssid != "" {
		query = query.Where("u.wifi_ssid = ?", ssid)
	}

	var rows []usageAggRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// recordBounds fetches a device's earliest and latest record in the window
// through the model so the timestamp column keeps its driver conversion.
func (s *Service) recordBounds(ctx context.Context, deviceID string, since time.Time, ssid string) (time.Time, time.Time, error) {
	bounds := func(order string) (time.Time, error) {
		query := s.db.WithContext(ctx).
			Where("device_id = ? AND timestamp >= ?", deviceID, since)
		if ssid != "" {
			query = query.Where("wifi_ssid = ?", ssid)
		}
		var record ingestdomain.UsageRecord
		if err := query.Order(order).First(&record).Error; err != nil {
			return time.Time{}, err
		}
		return record.Timestamp.UTC(), nil
	}

	first, err := bounds("timestamp ASC")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	last, err := bounds("timestamp DESC")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return first, last, nil
}

func windowDays(days int) int {
	if days <= 0 {
		return billingdomain.DefaultWindowDays
	}
	return days
}

func displayName(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}

// round2 rounds half-up to two decimal places.
func round2(value float64) float64 {
	return math.Floor(value*100+0.5) / 100
}
