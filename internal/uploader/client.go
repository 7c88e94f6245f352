package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/netmeterhq/netmeter/internal/config"
	"github.com/netmeterhq/netmeter/internal/ledger"
	"github.com/netmeterhq/netmeter/internal/observability/tracing"
)

// ErrRejected marks a batch the collector answered but refused, as opposed
// to a transport failure where the collector was never reached.
var ErrRejected = errors.New("collector rejected batch")

// Client posts usage batches to the collector's ingest endpoint.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *zap.Logger
}

func NewClient(cfg config.Config, wcfg Config, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.Agent.CollectorURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: wcfg.withDefaults().RequestTimeout},
		log:     log.Named("uploader.client"),
	}
}

type batchRequest struct {
	DeviceID string          `json:"device_id"`
	Data     []recordPayload `json:"data"`
}

type recordPayload struct {
	Timestamp     string `json:"timestamp"`
	WifiSSID      string `json:"wifi_ssid"`
	BytesSent     int64  `json:"bytes_sent"`
	BytesReceived int64  `json:"bytes_received"`
	TotalBytes    int64  `json:"total_bytes"`
}

// BatchAck is the collector's acknowledgement of one accepted batch.
type BatchAck struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	InsertedCount int    `json:"inserted_count"`
}

// Upload posts the events as one batch. Any transport failure, non-200
// status or unsuccessful ack returns an error; the caller must then leave
// the batch unmarked so the next cycle retries it wholesale.
func (c *Client) Upload(ctx context.Context, deviceID string, events []ledger.Event) (BatchAck, error) {
	payload := batchRequest{
		DeviceID: deviceID,
		Data:     make([]recordPayload, 0, len(events)),
	}
	for _, event := range events {
		payload.Data = append(payload.Data, recordPayload{
			Timestamp:     event.Timestamp.UTC().Format(time.RFC3339),
			WifiSSID:      event.NetworkName,
			BytesSent:     event.BytesSent,
			BytesReceived: event.BytesReceived,
			TotalBytes:    event.TotalBytes,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return BatchAck{}, fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/usage", bytes.NewReader(body))
	if err != nil {
		return BatchAck{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	tracing.InjectContext(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return BatchAck{}, fmt.Errorf("post usage batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return BatchAck{}, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var ack BatchAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return BatchAck{}, fmt.Errorf("decode ack: %w", err)
	}
	if !ack.Success {
		return BatchAck{}, fmt.Errorf("%w: %s", ErrRejected, ack.Message)
	}
	return ack, nil
}
