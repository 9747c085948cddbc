package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/okian/barometer/pkg/logger"
)

// Submission outcomes.
const (
	outcomeAccepted  = "accepted"
	outcomeDuplicate = "duplicate"
	outcomeThrottled = "throttled"
	outcomeFailed    = "failed"
)

// Retry policy for throttled submissions.
const (
	maxAttempts    = 5
	initialBackoff = 100 * time.Millisecond
)

// HTTPClient wraps http.Client with the service base URL.
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

func newHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: &http.Client{Timeout: timeout}, baseURL: baseURL}
}

// Get performs a GET request and returns the status and body.
func (c *HTTPClient) Get(ctx context.Context, path string) (int, []byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body and returns the status and
// body.
func (c *HTTPClient) Post(ctx context.Context, path string, body any) (int, []byte, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var rd io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, data, nil
}

// expect returns an error carrying the service's message unless status is
// one of want.
func expect(status int, body []byte, want ...int) error {
	for _, w := range want {
		if status == w {
			return nil
		}
	}
	msg := gjson.GetBytes(body, "message").String()
	if msg == "" {
		msg = http.StatusText(status)
	}
	return fmt.Errorf("unexpected status %d: %s", status, msg)
}

// submitBatches submits batches concurrently using a worker pool.
func submitBatches(ctx context.Context, client *HTTPClient, cfg *Config, assessmentID string, batches []Batch, stats *Stats) {
	log := logger.Get().Named("synth")
	log.Info(ctx, "submitting batches", logger.Int("batches", len(batches)), logger.Int("workers", cfg.Workers))

	path := "/assessments/" + assessmentID + "/responses"
	var accepted, duplicate, throttled, failed, sent int64

	batchChan := make(chan Batch, cfg.Workers*2)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range batchChan {
				outcome := submitBatch(ctx, client, path, b)
				atomic.AddInt64(&sent, int64(len(b.Responses)))
				switch outcome {
				case outcomeAccepted:
					atomic.AddInt64(&accepted, 1)
				case outcomeDuplicate:
					atomic.AddInt64(&duplicate, 1)
				case outcomeThrottled:
					atomic.AddInt64(&throttled, 1)
				default:
					atomic.AddInt64(&failed, 1)
				}
				if cfg.Verbose {
					log.Debug(ctx, "batch submitted",
						logger.String("batchID", b.BatchID), logger.String("outcome", outcome))
				}
			}
		}()
	}

	go func() {
		defer close(batchChan)
		for _, b := range batches {
			select {
			case <-ctx.Done():
				return
			case batchChan <- b:
			}
		}
	}()
	wg.Wait()

	stats.ResponsesSent = int(atomic.LoadInt64(&sent))
	stats.BatchesAccepted = int(atomic.LoadInt64(&accepted))
	stats.BatchesDuplicate = int(atomic.LoadInt64(&duplicate))
	stats.BatchesThrottled = int(atomic.LoadInt64(&throttled))
	stats.BatchesFailed = int(atomic.LoadInt64(&failed))

	log.Info(ctx, "batch submission completed",
		logger.Int("accepted", stats.BatchesAccepted),
		logger.Int("duplicate", stats.BatchesDuplicate),
		logger.Int("throttled", stats.BatchesThrottled),
		logger.Int("failed", stats.BatchesFailed))
}

// submitBatch posts one batch, backing off while the service reports a
// full queue.
func submitBatch(ctx context.Context, client *HTTPClient, path string, b Batch) string {
	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		status, body, err := client.Post(ctx, path, b)
		if err != nil {
			return outcomeFailed
		}
		switch status {
		case http.StatusAccepted:
			return outcomeAccepted
		case http.StatusOK:
			if gjson.GetBytes(body, "duplicate").Bool() {
				return outcomeDuplicate
			}
			return outcomeAccepted
		case http.StatusTooManyRequests:
			if attempt == maxAttempts {
				return outcomeThrottled
			}
			select {
			case <-ctx.Done():
				return outcomeFailed
			case <-time.After(backoff):
			}
			backoff *= 2
		default:
			return outcomeFailed
		}
	}
}
