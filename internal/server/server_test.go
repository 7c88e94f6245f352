package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingservice "github.com/netmeterhq/netmeter/internal/billing/service"
	"github.com/netmeterhq/netmeter/internal/clock"
	"github.com/netmeterhq/netmeter/internal/config"
	devicedomain "github.com/netmeterhq/netmeter/internal/device/domain"
	deviceservice "github.com/netmeterhq/netmeter/internal/device/service"
	ingestdomain "github.com/netmeterhq/netmeter/internal/ingest/domain"
	ingestservice "github.com/netmeterhq/netmeter/internal/ingest/service"
)

const testAPIKey = "collector-secret"

var serverBase = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

type serverFixture struct {
	srv    *Server
	engine *gin.Engine
	db     *gorm.DB
	node   *snowflake.Node
	clock  *clock.FakeClock
}

func newTestServer(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "collector.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ingestdomain.UsageRecord{}, &devicedomain.Device{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(serverBase)
	log := zap.NewNop()

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	srv := &Server{
		engine: engine,
		cfg: config.Config{
			AppName:    "netmeter-collector",
			AppVersion: "test",
			APIKey:     testAPIKey,
		},
		db: db,
		ingestSvc: ingestservice.NewService(ingestservice.ServiceParam{
			DB:    db,
			Log:   log,
			GenID: node,
			Clock: fake,
		}),
		deviceSvc: deviceservice.NewService(deviceservice.ServiceParam{
			DB:    db,
			Log:   log,
			Clock: fake,
		}),
		billingSvc: billingservice.NewService(billingservice.ServiceParam{
			DB:    db,
			Log:   log,
			Clock: fake,
		}),
	}
	srv.registerRootRoutes()
	srv.registerAPIRoutes()

	return &serverFixture{srv: srv, engine: engine, db: db, node: node, clock: fake}
}

func (f *serverFixture) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		switch v := body.(type) {
		case string:
			reader = bytes.NewBufferString(v)
		default:
			raw, err := json.Marshal(body)
			require.NoError(t, err)
			reader = bytes.NewReader(raw)
		}
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp := httptest.NewRecorder()
	f.engine.ServeHTTP(resp, req)
	return resp
}

func (f *serverFixture) seedDevice(t *testing.T, id, name, owner string) {
	t.Helper()
	require.NoError(t, f.db.Create(&devicedomain.Device{
		DeviceID:   id,
		DeviceName: name,
		OwnerName:  owner,
		FirstSeen:  serverBase.Add(-30 * 24 * time.Hour),
		LastSeen:   serverBase,
		IsActive:   true,
	}).Error)
}

func (f *serverFixture) seedUsage(t *testing.T, deviceID, ssid string, at time.Time, total int64) {
	t.Helper()
	require.NoError(t, f.db.Create(&ingestdomain.UsageRecord{
		ID:         f.node.Generate(),
		DeviceID:   deviceID,
		WifiSSID:   ssid,
		Timestamp:  at,
		TotalBytes: total,
	}).Error)
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	return payload
}

func errorCodeOf(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	payload := decodeBody(t, resp)
	errObj, ok := payload["error"].(map[string]any)
	require.True(t, ok, "response carries no error object: %s", resp.Body.String())

	if list, ok := errObj["errors"].([]any); ok && len(list) > 0 {
		first, ok := list[0].(map[string]any)
		require.True(t, ok)
		code, _ := first["code"].(string)
		return code
	}
	code, _ := errObj["type"].(string)
	return code
}
