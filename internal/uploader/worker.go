package uploader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/netmeterhq/netmeter/internal/clock"
	"github.com/netmeterhq/netmeter/internal/identity"
	"github.com/netmeterhq/netmeter/internal/ledger"
	"github.com/netmeterhq/netmeter/internal/observability/metrics"
)

type Params struct {
	fx.In

	Ledger   *ledger.Ledger
	Client   *Client
	Identity identity.Fingerprint
	Clock    clock.Clock
	Log      *zap.Logger
	Config   Config                 `optional:"true"`
	Metrics  *metrics.WorkerMetrics `optional:"true"`
}

// Worker drains the ledger toward the collector. Upload and accumulation
// are decoupled on purpose: a dead collector only grows the ledger, it
// never stops metering.
type Worker struct {
	ledger   *ledger.Ledger
	client   *Client
	deviceID string
	clock    clock.Clock
	log      *zap.Logger
	cfg      Config
	metrics  *metrics.WorkerMetrics
}

func NewWorker(p Params) *Worker {
	return &Worker{
		ledger:   p.Ledger,
		client:   p.Client,
		deviceID: p.Identity.DeviceID,
		clock:    p.Clock,
		log:      p.Log.Named("uploader"),
		cfg:      p.Config.withDefaults(),
		metrics:  p.Metrics,
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.log.Warn("upload run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce uploads one pending batch and prunes retention-expired rows.
func (w *Worker) RunOnce(parentCtx context.Context) error {
	ctx, cancel := context.WithTimeout(parentCtx, w.cfg.RunTimeout)
	defer cancel()

	w.metrics.IncJobRun(metrics.JobUsageUpload)
	start := time.Now()
	err := w.uploadPending(ctx)
	w.metrics.ObserveJobDuration(metrics.JobUsageUpload, time.Since(start))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			w.metrics.IncJobTimeout(metrics.JobUsageUpload)
		}
		w.metrics.IncJobError(metrics.JobUsageUpload, err)
	}

	if pruneErr := w.prune(ctx); pruneErr != nil {
		w.metrics.IncJobError(metrics.JobLedgerPrune, pruneErr)
		err = errors.Join(err, pruneErr)
	}
	return err
}

func (w *Worker) uploadPending(ctx context.Context) error {
	events, err := w.ledger.Unuploaded(ctx, w.cfg.MaxBatchSize)
	if err != nil {
		return fmt.Errorf("read pending events: %w", err)
	}
	if len(events) == 0 {
		w.metrics.IncBatchDeferred(metrics.JobUsageUpload, metrics.WorkerBatchDeferredReasonEmpty)
		return nil
	}

	ack, err := w.client.Upload(ctx, w.deviceID, events)
	if err != nil {
		reason := metrics.WorkerBatchDeferredReasonCollector
		if errors.Is(err, ErrRejected) {
			reason = metrics.WorkerBatchDeferredReasonRejected
		}
		w.metrics.IncBatchDeferred(metrics.JobUsageUpload, reason)
		w.log.Warn("usage upload failed, batch stays pending",
			zap.Error(err),
			zap.Int("batch_size", len(events)),
		)
		return err
	}

	ids := make([]snowflake.ID, 0, len(events))
	for _, event := range events {
		ids = append(ids, event.ID)
	}
	if err := w.ledger.MarkUploaded(ctx, ids); err != nil {
		// The collector already holds this batch. The next cycle re-sends
		// it and the collector keeps the duplicates (at-least-once).
		return fmt.Errorf("mark uploaded: %w", err)
	}

	if ack.InsertedCount < len(events) {
		w.log.Warn("collector skipped records in batch",
			zap.Int("batch_size", len(events)),
			zap.Int("inserted_count", ack.InsertedCount),
		)
	}
	w.metrics.AddBatchProcessed(metrics.JobUsageUpload, metrics.ResourceUsageEvents, len(events))
	w.log.Info("usage batch uploaded",
		zap.Int("batch_size", len(events)),
		zap.Int("inserted_count", ack.InsertedCount),
	)
	return nil
}

func (w *Worker) prune(ctx context.Context) error {
	horizon := w.clock.Now().Add(-w.cfg.Retention)
	pruned, err := w.ledger.Prune(ctx, horizon)
	if err != nil {
		return fmt.Errorf("prune ledger: %w", err)
	}
	w.metrics.AddBatchProcessed(metrics.JobLedgerPrune, metrics.ResourceUsageEvents, int(pruned))
	return nil
}
