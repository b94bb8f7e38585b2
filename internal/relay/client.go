// Package relay is the resilient client for the out-of-process message
// relay. The relay is treated as unreliable: every call retries transient
// failures with jittered exponential backoff, a health monitor restarts
// the relay process when it stops responding, and identical concurrent
// inbox fetches are coalesced.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/weftworks/weft/internal/debug"
	"github.com/weftworks/weft/internal/telemetry"
)

// Retry tuning. MaxElapsedTime bounds total retry time for one call;
// RandomizationFactor 0.2 spreads concurrent agents' retries ±20% so they
// don't hammer a recovering relay in lockstep.
const (
	retryInitialInterval = 200 * time.Millisecond
	retryMaxInterval     = 5 * time.Second
	retryMaxElapsed      = 30 * time.Second
	retryRandomization   = 0.2
)

// Client calls the relay over local HTTP with retry and dedup.
type Client struct {
	baseURL  string
	http     *http.Client
	counters *telemetry.Counters
	fetchSF  singleflight.Group
}

// NewClient creates a relay client for baseURL (e.g. http://127.0.0.1:7070).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 10 * time.Second},
		counters: telemetry.NewCounters(),
	}
}

// Register announces the agent to the relay.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	var resp RegisterResponse
	if err := c.call(ctx, "/register", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Send publishes a message.
func (c *Client) Send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	var resp SendResponse
	if err := c.call(ctx, "/send", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchInbox pulls the agent's pending messages. Concurrent fetches for
// the same agent share one underlying call.
func (c *Client) FetchInbox(ctx context.Context, req FetchInboxRequest) (*FetchInboxResponse, error) {
	v, err, _ := c.fetchSF.Do(req.Agent, func() (interface{}, error) {
		var resp FetchInboxResponse
		if err := c.call(ctx, "/inbox", req, &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*FetchInboxResponse), nil
}

// Acknowledge marks messages as consumed.
func (c *Client) Acknowledge(ctx context.Context, req AcknowledgeRequest) (*AcknowledgeResponse, error) {
	var resp AcknowledgeResponse
	if err := c.call(ctx, "/ack", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReserveTopic claims a topic for exclusive publishing. A denied claim is
// a normal response, not an error.
func (c *Client) ReserveTopic(ctx context.Context, req ReserveTopicRequest) (*ReserveTopicResponse, error) {
	var resp ReserveTopicResponse
	if err := c.call(ctx, "/topics/reserve", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReleaseTopic gives a claimed topic back.
func (c *Client) ReleaseTopic(ctx context.Context, req ReleaseTopicRequest) (*ReleaseTopicResponse, error) {
	var resp ReleaseTopicResponse
	if err := c.call(ctx, "/topics/release", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SummarizeThread asks the relay for a digest of a topic's history.
func (c *Client) SummarizeThread(ctx context.Context, req SummarizeThreadRequest) (*SummarizeThreadResponse, error) {
	var resp SummarizeThreadResponse
	if err := c.call(ctx, "/threads/summarize", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ping probes the relay's health endpoint once, without retry. Used by the
// health monitor.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay health: status %d", resp.StatusCode)
	}
	return nil
}

// call POSTs req to path with retry, decoding into resp. Transient errors
// retry under the backoff policy; permanent ones stop immediately and
// surface the last cause.
func (c *Client) call(ctx context.Context, path string, req, resp interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("relay %s: encode request: %w", path, err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = retryMaxInterval
	bo.MaxElapsedTime = retryMaxElapsed
	bo.RandomizationFactor = retryRandomization

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			telemetry.Add(ctx, c.counters.RelayRetries, 1)
			debug.Logf("relay %s: retry attempt %d", path, attempt)
		}

		callErr := c.doOnce(ctx, path, body, resp)
		if callErr == nil {
			return nil
		}
		if isRetryableError(callErr) {
			return callErr
		}
		return backoff.Permanent(callErr)
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return fmt.Errorf("relay %s: %w", path, err)
	}
	return nil
}

func (c *Client) doOnce(ctx context.Context, path string, body []byte, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 10*1024*1024))
	if err != nil {
		return err
	}

	if httpResp.StatusCode != http.StatusOK {
		var relayErr errorResponse
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &relayErr) == nil && relayErr.Error != "" {
			msg = relayErr.Error
		}
		return &statusError{code: httpResp.StatusCode, message: msg}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// statusError carries an HTTP status so classification can distinguish
// server faults from caller mistakes.
type statusError struct {
	code    int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.message)
}

// isRetryableError reports whether the error is transient. Network blips,
// timeouts, 5xx responses and the relay's generic "unexpected error" are
// worth retrying; 4xx responses and validation failures are the caller's
// fault and retry identically, so they stop immediately.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var se *statusError
	if errors.As(err, &se) {
		if se.code >= 500 {
			return true
		}
		return strings.Contains(strings.ToLower(se.message), "unexpected error")
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"no such host",
		"unexpected error",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}
