// Package ledger is the agent's durable store of metered usage. Events are
// appended as they are earned, replayed in stable order for upload, flipped
// to uploaded in one transaction per batch, and pruned once both uploaded
// and past the retention horizon. Surviving restarts and offline stretches
// is the whole point of this package.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/netmeterhq/netmeter/internal/config"
	obslogger "github.com/netmeterhq/netmeter/internal/observability/logger"
)

var Module = fx.Module("ledger",
	fx.Provide(Open),
	fx.Provide(New),
)

// Open opens the agent ledger file and migrates the schema. The pure-Go
// sqlite driver keeps the agent binary cgo-free.
func Open(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	path := cfg.Agent.LedgerPath
	conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: obslogger.NewGormLogger(obslogger.DefaultGormLoggerConfig()),
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}

	if err := conn.AutoMigrate(&Event{}); err != nil {
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}

	log.Info("ledger opened", zap.String("path", path))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return conn, nil
}

// Ledger persists usage events on the gorm connection it is handed.
type Ledger struct {
	db  *gorm.DB
	log *zap.Logger
}

func New(db *gorm.DB, log *zap.Logger) *Ledger {
	return &Ledger{
		db:  db,
		log: log.Named("ledger"),
	}
}

// Append stores one event. The write is committed before return; a non-nil
// error means nothing was persisted.
func (l *Ledger) Append(ctx context.Context, event *Event) error {
	return l.db.WithContext(ctx).Create(event).Error
}

// Unuploaded returns pending events in replay order, oldest first with the
// id as tiebreaker so re-reads always see the same sequence. A limit of
// zero or less returns everything.
func (l *Ledger) Unuploaded(ctx context.Context, limit int) ([]Event, error) {
	query := l.db.WithContext(ctx).
		Where("uploaded = ?", false).
		Order("timestamp ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var events []Event
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// MarkUploaded flips the whole id set in a single transaction. If any id is
// missing the transaction rolls back and every event stays pending, so a
// half-acknowledged batch can never exist.
func (l *Ledger) MarkUploaded(ctx context.Context, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Event{}).
			Where("id IN ?", ids).
			Update("uploaded", true)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != int64(len(ids)) {
			return fmt.Errorf("marked %d of %d events", result.RowsAffected, len(ids))
		}
		return nil
	})
}

// Prune deletes events that are both uploaded and older than the horizon.
// Pending events are never touched regardless of age.
func (l *Ledger) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	result := l.db.WithContext(ctx).
		Where("uploaded = ? AND timestamp < ?", true, olderThan).
		Delete(&Event{})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		l.log.Debug("pruned ledger events", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

// TotalsSince sums metered bytes for one network from the given instant,
// uploaded or not. The quota watcher uses it for today's running total.
func (l *Ledger) TotalsSince(ctx context.Context, network string, since time.Time) (int64, error) {
	var total int64
	err := l.db.WithContext(ctx).Model(&Event{}).
		Select("COALESCE(SUM(total_bytes), 0)").
		Where("network_name = ? AND timestamp >= ?", network, since).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
