package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/netmeterhq/netmeter/internal/clock"
	devicedomain "github.com/netmeterhq/netmeter/internal/device/domain"
	ingestdomain "github.com/netmeterhq/netmeter/internal/ingest/domain"
	obsmetrics "github.com/netmeterhq/netmeter/internal/observability/metrics"
)

// defaultSSID stands in for records reported without a network name.
const defaultSSID = "unknown"

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	metrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) ingestdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("ingest.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

// IngestBatch stores a reported batch. Malformed records are skipped with a
// warning while the rest of the batch proceeds; the ack carries how many rows
// made it in. Replays of an already-stored batch insert duplicate rows, which
// downstream aggregation tolerates in exchange for never losing data.
func (s *Service) IngestBatch(ctx context.Context, req ingestdomain.BatchRequest) (ingestdomain.BatchResult, error) {
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		return ingestdomain.BatchResult{}, ingestdomain.ErrInvalidDeviceID
	}
	if len(req.Data) == 0 {
		return ingestdomain.BatchResult{}, ingestdomain.ErrEmptyBatch
	}

	now := s.clock.Now().UTC()
	if err := s.upsertDevice(ctx, deviceID, now); err != nil {
		return ingestdomain.BatchResult{}, err
	}

	rows := make([]ingestdomain.UsageRecord, 0, len(req.Data))
	skipped := 0
	for i, input := range req.Data {
		row, err := s.buildRecord(deviceID, input, now)
		if err != nil {
			skipped++
			s.metrics.IncRecordSkipped(skipReason(err))
			s.log.Warn("usage record skipped",
				zap.String("device_id", deviceID),
				zap.Int("index", i),
				zap.Error(err),
			)
			continue
		}
		rows = append(rows, row)
	}

	if len(rows) > 0 {
		if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
			return ingestdomain.BatchResult{}, err
		}
	}

	s.metrics.RecordUsageBatch(batchSSID(rows))
	for ssid, count := range countBySSID(rows) {
		s.metrics.AddUsageRecords(ssid, count)
	}

	return ingestdomain.BatchResult{
		InsertedCount: len(rows),
		SkippedCount:  skipped,
	}, nil
}

// upsertDevice registers the device or refreshes its presence. Re-registration
// touches last_seen and is_active only; operator-set name and owner survive.
func (s *Service) upsertDevice(ctx context.Context, deviceID string, now time.Time) error {
	device := devicedomain.Device{
		DeviceID:  deviceID,
		FirstSeen: now,
		LastSeen:  now,
		IsActive:  true,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "device_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"last_seen": now,
				"is_active": true,
			}),
		}).
		Create(&device).Error
	if err != nil {
		return err
	}
	s.metrics.IncDeviceUpserted()
	return nil
}

func (s *Service) buildRecord(deviceID string, input ingestdomain.RecordInput, now time.Time) (ingestdomain.UsageRecord, error) {
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(input.Timestamp))
	if err != nil {
		return ingestdomain.UsageRecord{}, fmt.Errorf("%w: %q", ingestdomain.ErrInvalidTimestamp, input.Timestamp)
	}
	if input.BytesSent < 0 || input.BytesReceived < 0 || input.TotalBytes < 0 {
		return ingestdomain.UsageRecord{}, ingestdomain.ErrNegativeBytes
	}

	total := input.TotalBytes
	if total == 0 {
		total = input.BytesSent + input.BytesReceived
	} else if total != input.BytesSent+input.BytesReceived {
		return ingestdomain.UsageRecord{}, fmt.Errorf("%w: total %d, sides sum %d",
			ingestdomain.ErrTotalMismatch, total, input.BytesSent+input.BytesReceived)
	}

	ssid := strings.TrimSpace(input.WifiSSID)
	if ssid == "" {
		ssid = defaultSSID
	}

	return ingestdomain.UsageRecord{
		ID:            s.genID.Generate(),
		DeviceID:      deviceID,
		WifiSSID:      ssid,
		Timestamp:     ts.UTC(),
		BytesSent:     input.BytesSent,
		BytesReceived: input.BytesReceived,
		TotalBytes:    total,
		CreatedAt:     now,
	}, nil
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, ingestdomain.ErrInvalidTimestamp):
		return "invalid_timestamp"
	case errors.Is(err, ingestdomain.ErrNegativeBytes):
		return "negative_bytes"
	case errors.Is(err, ingestdomain.ErrTotalMismatch):
		return "total_mismatch"
	default:
		return "unknown"
	}
}

func batchSSID(rows []ingestdomain.UsageRecord) string {
	if len(rows) == 0 {
		return defaultSSID
	}
	return rows[0].WifiSSID
}

func countBySSID(rows []ingestdomain.UsageRecord) map[string]int {
	counts := make(map[string]int, 1)
	for _, row := range rows {
		counts[row.WifiSSID]++
	}
	return counts
}
