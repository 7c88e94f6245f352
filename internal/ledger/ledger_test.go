package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testBase = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

func openTestConn(t *testing.T, path string) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&Event{}))
	return conn
}

func newTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	return New(openTestConn(t, path), zap.NewNop()), path
}

func newTestNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

func testEvent(node *snowflake.Node, ts time.Time, sent, received int64) *Event {
	return &Event{
		ID:            node.Generate(),
		DeviceID:      "abcdef0123456789",
		NetworkName:   "HomeWiFi",
		Timestamp:     ts,
		BytesSent:     sent,
		BytesReceived: received,
		TotalBytes:    sent + received,
	}
}

func TestAppendDurableAcrossReopen(t *testing.T) {
	node := newTestNode(t)
	path := filepath.Join(t.TempDir(), "ledger.db")

	first := New(openTestConn(t, path), zap.NewNop())
	event := testEvent(node, testBase, 100, 200)
	require.NoError(t, first.Append(context.Background(), event))

	sqlDB, err := first.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	reopened := New(openTestConn(t, path), zap.NewNop())
	events, err := reopened.Unuploaded(context.Background(), 0)

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.ID, events[0].ID)
	assert.Equal(t, int64(100), events[0].BytesSent)
	assert.Equal(t, int64(200), events[0].BytesReceived)
	assert.Equal(t, int64(300), events[0].TotalBytes)
}

func TestUnuploadedReplayOrder(t *testing.T) {
	l, _ := newTestLedger(t)
	node := newTestNode(t)
	ctx := context.Background()

	earlyA := testEvent(node, testBase, 1, 0)
	earlyB := testEvent(node, testBase, 2, 0)
	late := testEvent(node, testBase.Add(time.Minute), 3, 0)

	// insert out of order: replay must come back sorted anyway
	require.NoError(t, l.Append(ctx, late))
	require.NoError(t, l.Append(ctx, earlyB))
	require.NoError(t, l.Append(ctx, earlyA))

	events, err := l.Unuploaded(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, earlyA.ID, events[0].ID)
	assert.Equal(t, earlyB.ID, events[1].ID)
	assert.Equal(t, late.ID, events[2].ID)
}

func TestUnuploadedLimit(t *testing.T) {
	l, _ := newTestLedger(t)
	node := newTestNode(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(ctx, testEvent(node, testBase.Add(time.Duration(i)*time.Minute), 10, 10)))
	}

	events, err := l.Unuploaded(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, testBase, events[0].Timestamp.UTC())
}

func TestMarkUploaded(t *testing.T) {
	l, _ := newTestLedger(t)
	node := newTestNode(t)
	ctx := context.Background()

	a := testEvent(node, testBase, 10, 10)
	b := testEvent(node, testBase.Add(time.Minute), 20, 20)
	require.NoError(t, l.Append(ctx, a))
	require.NoError(t, l.Append(ctx, b))

	require.NoError(t, l.MarkUploaded(ctx, []snowflake.ID{a.ID, b.ID}))

	events, err := l.Unuploaded(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	var count int64
	require.NoError(t, l.db.Model(&Event{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestMarkUploadedAllOrNothing(t *testing.T) {
	l, _ := newTestLedger(t)
	node := newTestNode(t)
	ctx := context.Background()

	event := testEvent(node, testBase, 10, 10)
	require.NoError(t, l.Append(ctx, event))

	missing := node.Generate()
	err := l.MarkUploaded(ctx, []snowflake.ID{event.ID, missing})
	assert.Error(t, err)

	// the existing event must still be pending
	events, err := l.Unuploaded(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Uploaded)
}

func TestMarkUploadedEmptySet(t *testing.T) {
	l, _ := newTestLedger(t)
	assert.NoError(t, l.MarkUploaded(context.Background(), nil))
}

func TestPruneOnlyUploadedAndExpired(t *testing.T) {
	l, _ := newTestLedger(t)
	node := newTestNode(t)
	ctx := context.Background()

	horizon := testBase.Add(-24 * time.Hour)

	uploadedOld := testEvent(node, horizon.Add(-time.Hour), 1, 1)
	uploadedNew := testEvent(node, testBase, 2, 2)
	pendingOld := testEvent(node, horizon.Add(-time.Hour), 3, 3)
	pendingNew := testEvent(node, testBase, 4, 4)

	for _, e := range []*Event{uploadedOld, uploadedNew, pendingOld, pendingNew} {
		require.NoError(t, l.Append(ctx, e))
	}
	require.NoError(t, l.MarkUploaded(ctx, []snowflake.ID{uploadedOld.ID, uploadedNew.ID}))

	pruned, err := l.Prune(ctx, horizon)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	var remaining []Event
	require.NoError(t, l.db.Order("id ASC").Find(&remaining).Error)
	require.Len(t, remaining, 3)
	for _, e := range remaining {
		assert.NotEqual(t, uploadedOld.ID, e.ID)
	}
}

func TestTotalsSince(t *testing.T) {
	l, _ := newTestLedger(t)
	node := newTestNode(t)
	ctx := context.Background()

	inWindow := testEvent(node, testBase, 100, 200)
	beforeWindow := testEvent(node, testBase.Add(-2*time.Hour), 500, 500)
	otherNetwork := testEvent(node, testBase, 900, 900)
	otherNetwork.NetworkName = "Neighbor"

	for _, e := range []*Event{inWindow, beforeWindow, otherNetwork} {
		require.NoError(t, l.Append(ctx, e))
	}

	total, err := l.TotalsSince(ctx, "HomeWiFi", testBase.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(300), total)

	total, err = l.TotalsSince(ctx, "HomeWiFi", testBase.Add(-3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1300), total)

	total, err = l.TotalsSince(ctx, "Empty", testBase)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}
