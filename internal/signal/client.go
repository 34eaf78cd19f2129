package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jpillora/backoff"
)

// InferenceBar is one bar in the wire format of the inference endpoint.
type InferenceBar struct {
	Index     int     `json:"index"`
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// InferenceRequest is the payload posted to the remote signal endpoint.
type InferenceRequest struct {
	Bars          []InferenceBar `json:"bars"`
	ContractID    string         `json:"contractId"`
	Timeframe     string         `json:"timeframe"`
	BarIndexRange [2]int         `json:"barIndexRange"`
	Debug         bool           `json:"debug"`
}

type inferenceResponse struct {
	Signals []TrendSignal `json:"signals"`
}

// Inferencer is the remote-detection boundary; stubbed in tests.
type Inferencer interface {
	Detect(ctx context.Context, req InferenceRequest) ([]TrendSignal, error)
}

// Client calls the remote signal-inference HTTP endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
}

// NewClient creates an inference client. maxRetries bounds extra attempts
// after the first; the caller degrades to the heuristic once Detect errors.
func NewClient(baseURL string, timeout time.Duration, maxRetries int) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
	}
}

// Detect posts the request and decodes the signal list.
func (c *Client) Detect(ctx context.Context, req InferenceRequest) ([]TrendSignal, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("inference: marshal request: %w", err)
	}

	b := &backoff.Backoff{Min: 100 * time.Millisecond, Max: 2 * time.Second, Jitter: true}
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(b.Duration()):
			}
		}

		signals, err := c.post(ctx, body)
		if err == nil {
			return signals, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) post(ctx context.Context, body []byte) ([]TrendSignal, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("inference: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("inference: endpoint returned %d", resp.StatusCode)
	}

	var decoded inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("inference: decode response: %w", err)
	}
	return decoded.Signals, nil
}
