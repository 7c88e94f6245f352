package service

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/netmeterhq/netmeter/internal/clock"
	devicedomain "github.com/netmeterhq/netmeter/internal/device/domain"
)

const (
	unknownDeviceName = "Unknown Device"
	unknownOwnerName  = "Unknown Owner"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

func NewService(p ServiceParam) devicedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("device.service"),
		clock: p.Clock,
	}
}

type deviceUsageRow struct {
	DeviceID   string
	DeviceName string
	OwnerName  string
	FirstSeen  time.Time
	LastSeen   time.Time
	IsActive   bool
	TotalUsage int64
}

// List returns every registered device with its lifetime usage, most
// recently seen first. Devices that never reported usage show zero.
func (s *Service) List(ctx context.Context) (devicedomain.ListDevicesResponse, error) {
	var rows []deviceUsageRow
	err := s.db.WithContext(ctx).
		Model(&devicedomain.Device{}).
		Select("devices.device_id, devices.device_name, devices.owner_name, devices.first_seen, devices.last_seen, devices.is_active, COALESCE(SUM(usage_records.total_bytes), 0) AS total_usage").
		Joins("LEFT JOIN usage_records ON usage_records.device_id = devices.device_id").
		Group("devices.device_id").
		Order("devices.last_seen DESC").
		Scan(&rows).Error
	if err != nil {
		return devicedomain.ListDevicesResponse{}, err
	}

	devices := make([]devicedomain.DeviceSummary, 0, len(rows))
	for _, row := range rows {
		name := strings.TrimSpace(row.DeviceName)
		if name == "" {
			name = unknownDeviceName
		}
		owner := strings.TrimSpace(row.OwnerName)
		if owner == "" {
			owner = unknownOwnerName
		}
		devices = append(devices, devicedomain.DeviceSummary{
			DeviceID:        row.DeviceID,
			DeviceName:      name,
			OwnerName:       owner,
			FirstSeen:       row.FirstSeen.UTC(),
			LastSeen:        row.LastSeen.UTC(),
			IsActive:        row.IsActive,
			TotalUsageBytes: row.TotalUsage,
			TotalUsageMB:    megabytes(row.TotalUsage),
		})
	}

	return devicedomain.ListDevicesResponse{Devices: devices}, nil
}

// Update upserts display metadata for a device. Empty fields never clobber
// values an operator already set; a row is created when the id is new so
// names can be assigned before a device first reports.
func (s *Service) Update(ctx context.Context, req devicedomain.UpdateDeviceRequest) error {
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		return devicedomain.ErrInvalidDeviceID
	}

	name := strings.TrimSpace(req.DeviceName)
	owner := strings.TrimSpace(req.OwnerName)

	assignments := map[string]any{}
	if name != "" {
		assignments["device_name"] = name
	}
	if owner != "" {
		assignments["owner_name"] = owner
	}

	conflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		DoNothing: len(assignments) == 0,
	}
	if len(assignments) > 0 {
		conflict.DoUpdates = clause.Assignments(assignments)
	}

	now := s.clock.Now().UTC()
	device := devicedomain.Device{
		DeviceID:   deviceID,
		DeviceName: name,
		OwnerName:  owner,
		FirstSeen:  now,
		LastSeen:   now,
		IsActive:   true,
	}
	if err := s.db.WithContext(ctx).Clauses(conflict).Create(&device).Error; err != nil {
		return err
	}

	s.log.Info("device metadata updated",
		zap.String("device_id", deviceID),
		zap.String("device_name", name),
		zap.String("owner_name", owner),
	)
	return nil
}

func megabytes(bytes int64) float64 {
	return math.Round(float64(bytes)/(1024*1024)*100) / 100
}
