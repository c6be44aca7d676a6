package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

// Client publishes artifacts to an HTTP registry. Calls route through a
// circuit breaker; rejections do not count as breaker failures.
type Client struct {
	baseURL string
	httpc   *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewClient builds an HTTP registry client from config.
func NewClient(cfg types.RegistryConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With("component", "registry"),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "registry-publish",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var rejected *RejectedError
			return err == nil || errors.As(err, &rejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

type publishRequest struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	PayloadRef string `json:"payloadRef,omitempty"`
}

type publishResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Publish posts the artifact metadata. The registry may normalize the
// version (e.g. to a digest); the returned reference is authoritative.
func (c *Client) Publish(ctx context.Context, name, version, payload string) (types.ArtifactRef, error) {
	v, err := c.breaker.Execute(func() (interface{}, error) {
		return c.publish(ctx, name, version, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return types.ArtifactRef{}, fmt.Errorf("registry unavailable: %w", err)
		}
		return types.ArtifactRef{}, err
	}
	return v.(types.ArtifactRef), nil
}

func (c *Client) publish(ctx context.Context, name, version, payload string) (types.ArtifactRef, error) {
	body, err := json.Marshal(publishRequest{Name: name, Version: version, PayloadRef: payload})
	if err != nil {
		return types.ArtifactRef{}, fmt.Errorf("marshal publish request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/artifacts", bytes.NewReader(body))
	if err != nil {
		return types.ArtifactRef{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return types.ArtifactRef{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.ArtifactRef{}, err
	}

	switch {
	case resp.StatusCode < 300:
		ref := types.ArtifactRef{Name: name, Version: version}
		var out publishResponse
		if err := json.Unmarshal(raw, &out); err == nil {
			if out.Name != "" {
				ref.Name = out.Name
			}
			if out.Version != "" {
				ref.Version = out.Version
			}
		}
		return ref, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		reason := strings.TrimSpace(string(raw))
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return types.ArtifactRef{}, &RejectedError{Reason: reason}
	default:
		return types.ArtifactRef{}, fmt.Errorf("registry returned status %d", resp.StatusCode)
	}
}

var _ Registry = (*Client)(nil)
