package uploader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/netmeterhq/netmeter/internal/clock"
	"github.com/netmeterhq/netmeter/internal/config"
	"github.com/netmeterhq/netmeter/internal/identity"
	"github.com/netmeterhq/netmeter/internal/ledger"
)

var uploadBase = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

type capturedBatch struct {
	Authorization string `json:"-"`
	DeviceID      string `json:"device_id"`
	Data          []struct {
		Timestamp     string `json:"timestamp"`
		WifiSSID      string `json:"wifi_ssid"`
		BytesSent     int64  `json:"bytes_sent"`
		BytesReceived int64  `json:"bytes_received"`
		TotalBytes    int64  `json:"total_bytes"`
	} `json:"data"`
}

// collectorStub records every batch it receives and answers with the
// programmed status and ack.
type collectorStub struct {
	mu       sync.Mutex
	batches  []capturedBatch
	status   int
	inserted func(got int) int
}

func newCollectorStub() *collectorStub {
	return &collectorStub{status: http.StatusOK, inserted: func(got int) int { return got }}
}

func (s *collectorStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var batch capturedBatch
		_ = json.NewDecoder(r.Body).Decode(&batch)
		batch.Authorization = r.Header.Get("Authorization")

		s.mu.Lock()
		s.batches = append(s.batches, batch)
		status := s.status
		inserted := s.inserted(len(batch.Data))
		s.mu.Unlock()

		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":        true,
			"inserted_count": inserted,
		})
	}
}

func (s *collectorStub) received() []capturedBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]capturedBatch, len(s.batches))
	copy(out, s.batches)
	return out
}

func (s *collectorStub) setStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = code
}

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&ledger.Event{}))
	return ledger.New(conn, zap.NewNop())
}

func newTestWorker(t *testing.T, serverURL string, l *ledger.Ledger, clk clock.Clock) *Worker {
	t.Helper()
	cfg := config.Config{
		APIKey: "secret-key",
		Agent:  config.AgentConfig{CollectorURL: serverURL},
	}
	wcfg := Config{RequestTimeout: 5 * time.Second}
	return NewWorker(Params{
		Ledger:   l,
		Client:   NewClient(cfg, wcfg, zap.NewNop()),
		Identity: identity.Fingerprint{DeviceID: "abcdef0123456789"},
		Clock:    clk,
		Log:      zap.NewNop(),
		Config:   wcfg,
	})
}

func appendEvent(t *testing.T, l *ledger.Ledger, node *snowflake.Node, ts time.Time, sent, received int64) *ledger.Event {
	t.Helper()
	event := &ledger.Event{
		ID:            node.Generate(),
		DeviceID:      "abcdef0123456789",
		NetworkName:   "HomeWiFi",
		Timestamp:     ts,
		BytesSent:     sent,
		BytesReceived: received,
		TotalBytes:    sent + received,
	}
	require.NoError(t, l.Append(context.Background(), event))
	return event
}

func TestRunOnceUploadsAndMarks(t *testing.T) {
	stub := newCollectorStub()
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	l := newTestLedger(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	appendEvent(t, l, node, uploadBase, 100, 200)
	appendEvent(t, l, node, uploadBase.Add(time.Minute), 300, 400)

	w := newTestWorker(t, server.URL, l, clock.NewFakeClock(uploadBase))
	require.NoError(t, w.RunOnce(context.Background()))

	batches := stub.received()
	require.Len(t, batches, 1)
	assert.Equal(t, "Bearer secret-key", batches[0].Authorization)
	assert.Equal(t, "abcdef0123456789", batches[0].DeviceID)
	require.Len(t, batches[0].Data, 2)
	assert.Equal(t, "HomeWiFi", batches[0].Data[0].WifiSSID)
	assert.Equal(t, uploadBase.Format(time.RFC3339), batches[0].Data[0].Timestamp)
	assert.Equal(t, int64(100), batches[0].Data[0].BytesSent)
	assert.Equal(t, int64(200), batches[0].Data[0].BytesReceived)
	assert.Equal(t, int64(300), batches[0].Data[0].TotalBytes)

	pending, err := l.Unuploaded(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunOnceLeavesBatchPendingOnFailure(t *testing.T) {
	stub := newCollectorStub()
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	l := newTestLedger(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	appendEvent(t, l, node, uploadBase, 100, 200)

	w := newTestWorker(t, server.URL, l, clock.NewFakeClock(uploadBase))

	stub.setStatus(http.StatusInternalServerError)
	assert.Error(t, w.RunOnce(context.Background()))

	pending, err := l.Unuploaded(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// next cycle re-sends the identical batch: at-least-once delivery
	stub.setStatus(http.StatusOK)
	require.NoError(t, w.RunOnce(context.Background()))

	batches := stub.received()
	require.Len(t, batches, 2)
	assert.Equal(t, batches[0].Data, batches[1].Data)

	pending, err = l.Unuploaded(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunOnceLeavesBatchPendingOnUnauthorized(t *testing.T) {
	stub := newCollectorStub()
	stub.setStatus(http.StatusUnauthorized)
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	l := newTestLedger(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	appendEvent(t, l, node, uploadBase, 100, 200)

	w := newTestWorker(t, server.URL, l, clock.NewFakeClock(uploadBase))
	err = w.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrRejected)

	pending, err := l.Unuploaded(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRunOnceEmptyLedgerSkipsRequest(t *testing.T) {
	stub := newCollectorStub()
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	w := newTestWorker(t, server.URL, newTestLedger(t), clock.NewFakeClock(uploadBase))
	require.NoError(t, w.RunOnce(context.Background()))

	assert.Empty(t, stub.received())
}

func TestRunOncePrunesExpiredEvents(t *testing.T) {
	stub := newCollectorStub()
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	l := newTestLedger(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	old := appendEvent(t, l, node, uploadBase.Add(-40*24*time.Hour), 1, 1)
	require.NoError(t, l.MarkUploaded(context.Background(), []snowflake.ID{old.ID}))

	w := newTestWorker(t, server.URL, l, clock.NewFakeClock(uploadBase))
	require.NoError(t, w.RunOnce(context.Background()))

	// default retention is 30 days; the uploaded 40-day-old row is gone
	total, err := l.TotalsSince(context.Background(), "HomeWiFi", uploadBase.Add(-100*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestPartialAckStillMarksBatch(t *testing.T) {
	stub := newCollectorStub()
	stub.inserted = func(got int) int { return got - 1 }
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	l := newTestLedger(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	appendEvent(t, l, node, uploadBase, 100, 200)
	appendEvent(t, l, node, uploadBase.Add(time.Minute), 300, 400)

	w := newTestWorker(t, server.URL, l, clock.NewFakeClock(uploadBase))
	require.NoError(t, w.RunOnce(context.Background()))

	// a record the collector refused as malformed would never succeed on
	// retry, so the batch is marked even when inserted_count lags
	pending, err := l.Unuploaded(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
