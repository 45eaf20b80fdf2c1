package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/forecast/pkg/logger"
)

// submission outcomes.
const (
	outcomeAccepted  = "accepted"
	outcomeDuplicate = "duplicate"
	outcomeFailed    = "failed"
)

// HTTPClient wraps http.Client with the service base URL.
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

// NewHTTPClient creates a client for the service at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// do sends a request and decodes a 2xx JSON response into out when out is non-nil.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func userPath(userID, suffix string) string {
	return "/v1/users/" + url.PathEscape(userID) + suffix
}

// Health checks GET /healthz.
func (c *HTTPClient) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	return err
}

// Onboard posts a user's onboarding answers.
func (c *HTTPClient) Onboard(ctx context.Context, o Onboarding) error {
	_, err := c.do(ctx, http.MethodPost, userPath(o.UserID, "/onboarding"), o, nil)
	return err
}

// PostLog submits one log and reports whether it was accepted or a duplicate.
func (c *HTTPClient) PostLog(ctx context.Context, l Log) (AckResponse, error) {
	var ack AckResponse
	status, err := c.do(ctx, http.MethodPost, "/v1/logs", l, &ack)
	if err != nil {
		return AckResponse{}, err
	}
	if status == http.StatusOK {
		ack.Duplicate = true
	}
	return ack, nil
}

// Forecast fetches a user's forecast dashboard.
func (c *HTTPClient) Forecast(ctx context.Context, userID string) (Forecast, error) {
	var f Forecast
	_, err := c.do(ctx, http.MethodGet, userPath(userID, "/forecast"), nil, &f)
	return f, err
}

// Snapshot persists a user's current confidence.
func (c *HTTPClient) Snapshot(ctx context.Context, userID string) error {
	_, err := c.do(ctx, http.MethodPost, userPath(userID, "/confidence-snapshots"), nil, nil)
	return err
}

// submitLogs submits logs concurrently using a worker pool.
func submitLogs(ctx context.Context, cfg *Config, client *HTTPClient, logs []Log, stats *Stats) {
	log := logger.Get()
	log.Info(ctx, "submitting logs", logger.Int("logs", len(logs)), logger.Int("workers", cfg.Workers))

	var accepted, duplicate, failed, submitted atomic.Int64
	var lastReport atomic.Int64

	logChan := make(chan Log, cfg.Workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup

	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for l := range logChan {
				switch submitSingleLog(ctx, client, l) {
				case outcomeAccepted:
					accepted.Add(1)
				case outcomeDuplicate:
					duplicate.Add(1)
				default:
					failed.Add(1)
				}
				total := submitted.Add(1)

				now := time.Now().UnixNano()
				last := lastReport.Load()
				if now-last >= int64(progressInterval) && lastReport.CompareAndSwap(last, now) {
					log.Info(ctx, "submission progress",
						logger.Int("submitted", int(total)),
						logger.Int("total", len(logs)),
						logger.Int("failed", int(failed.Load())),
					)
				}
			}
		}()
	}

	go func() {
		defer close(logChan)
		for _, l := range logs {
			select {
			case <-ctx.Done():
				return
			case logChan <- l:
			}
		}
	}()
	wg.Wait()

	stats.LogsSubmitted = int(submitted.Load())
	stats.LogsAccepted = int(accepted.Load())
	stats.LogsDuplicate = int(duplicate.Load())
	stats.LogsFailed = int(failed.Load())

	log.Info(ctx, "log submission completed",
		logger.Int("accepted", stats.LogsAccepted),
		logger.Int("duplicate", stats.LogsDuplicate),
		logger.Int("failed", stats.LogsFailed),
	)
}

func submitSingleLog(ctx context.Context, client *HTTPClient, l Log) string {
	ack, err := client.PostLog(ctx, l)
	if err != nil {
		logger.Get().Debug(ctx, "log submission failed", logger.String("logID", l.ID), logger.Error(err))
		return outcomeFailed
	}
	if ack.Duplicate {
		return outcomeDuplicate
	}
	return outcomeAccepted
}
