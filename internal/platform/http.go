package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

const defaultRequestTimeout = 15 * time.Second

// Client is an HTTP deployment platform client. Apply calls route through a
// circuit breaker so a dead platform trips fast instead of eating stage
// timeouts. Status calls bypass the breaker: the health gate folds poll
// errors into the health signal itself.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewClient builds a platform client from config.
func NewClient(cfg types.PlatformConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := defaultRequestTimeout
	if cfg.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
			timeout = d
		}
	}

	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		token:   cfg.Token,
		httpc:   &http.Client{Timeout: timeout},
		logger:  logger.With("component", "platform"),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "platform-apply",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// A rejection is a definitive platform answer, not an outage.
			var rejected *RejectedError
			return err == nil || errors.As(err, &rejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// Apply submits a workload spec to the platform.
func (c *Client) Apply(ctx context.Context, w types.WorkloadSpec) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.apply(ctx, w)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("platform unavailable: %w", err)
	}
	return err
}

func (c *Client) apply(ctx context.Context, w types.WorkloadSpec) error {
	body, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal workload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/workloads", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

// Status reports current readiness for the workloads matching selector.
func (c *Client) Status(ctx context.Context, selector string) (WorkloadStatus, error) {
	path := "/api/v1/workloads/status?selector=" + url.QueryEscape(selector)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return WorkloadStatus{}, err
	}
	var out WorkloadStatus
	if err := c.do(req, &out); err != nil {
		return WorkloadStatus{}, err
	}
	return out, nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode platform response: %w", err)
		}
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		reason := strings.TrimSpace(string(body))
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return &RejectedError{Reason: reason}
	default:
		return fmt.Errorf("platform returned status %d", resp.StatusCode)
	}
}

var _ Platform = (*Client)(nil)
