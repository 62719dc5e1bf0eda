package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/logline-run/logline/infrastructure/httputil"
	"github.com/logline-run/logline/infrastructure/ratelimit"
	"github.com/logline-run/logline/infrastructure/resilience"
	"github.com/logline-run/logline/pkg/version"
)

// httpDoer is satisfied by both *http.Client and ratelimit.RateLimitedClient.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TimelineClient writes result spans back to the Timeline service.
type TimelineClient interface {
	CreateSpan(ctx context.Context, span map[string]interface{}) error
}

type httpTimelineClient struct {
	baseURL string
	client  httpDoer
	breaker *resilience.CircuitBreaker
}

// NewTimelineClient constructs a REST client for Timeline's POST /spans,
// guarded by a circuit breaker so a wedged Timeline instance fails fast
// instead of stalling every worker's span-write, and rate-limited so a
// backlog of queued tasks can't burst Timeline's ingest rate.
func NewTimelineClient(baseURL string) TimelineClient {
	return &httpTimelineClient{
		baseURL: baseURL,
		client:  ratelimit.NewRateLimitedClient(httputil.CopyHTTPClientWithTimeout(nil, 10*time.Second, true), ratelimit.DefaultConfig()),
		breaker: resilience.New(resilience.DefaultConfig()),
	}
}

func (c *httpTimelineClient) CreateSpan(ctx context.Context, span map[string]interface{}) error {
	body, err := json.Marshal(span)
	if err != nil {
		return fmt.Errorf("engine: marshal span: %w", err)
	}

	return c.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/spans", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("engine: build timeline request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", version.UserAgent())

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("engine: timeline unreachable: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("engine: timeline returned %d", resp.StatusCode)
		}
		return nil
	})
}

// RulesClient evaluates a span against Rules over REST — the fallback
// path used on mesh correlation timeout or connection_lost.
type RulesClient interface {
	Evaluate(ctx context.Context, tenantID string, span map[string]interface{}) (success bool, output map[string]interface{}, err error)
}

type httpRulesClient struct {
	baseURL string
	client  httpDoer
	breaker *resilience.CircuitBreaker
}

// NewRulesClient constructs a REST fallback client for Rules evaluation.
// This path only runs after a mesh correlation timeout or connection_lost,
// so it is additionally wrapped in a short retry: a single dropped packet
// on an already-degraded link shouldn't force a span to fall through to
// DLQ processing if a second attempt would have succeeded.
func NewRulesClient(baseURL string) RulesClient {
	return &httpRulesClient{
		baseURL: baseURL,
		client:  ratelimit.NewRateLimitedClient(httputil.CopyHTTPClientWithTimeout(nil, 5*time.Second, true), ratelimit.DefaultConfig()),
		breaker: resilience.New(resilience.StrictServiceCBConfig(nil)),
	}
}

type rulesEvaluateRequest struct {
	TenantID string                 `json:"tenant_id"`
	Span     map[string]interface{} `json:"span"`
}

type rulesEvaluateResponse struct {
	Success bool                   `json:"success"`
	Output  map[string]interface{} `json:"output"`
}

func (c *httpRulesClient) Evaluate(ctx context.Context, tenantID string, span map[string]interface{}) (bool, map[string]interface{}, error) {
	body, err := json.Marshal(rulesEvaluateRequest{TenantID: tenantID, Span: span})
	if err != nil {
		return false, nil, fmt.Errorf("engine: marshal rules request: %w", err)
	}

	var out rulesEvaluateResponse
	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = 2

	err = c.breaker.Execute(ctx, func() error {
		return resilience.Retry(ctx, retryCfg, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tenants/"+tenantID+"/evaluate", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("engine: build rules request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("User-Agent", version.UserAgent())

			resp, err := c.client.Do(req)
			if err != nil {
				return fmt.Errorf("engine: rules unreachable: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("engine: rules returned %d", resp.StatusCode)
			}

			out = rulesEvaluateResponse{}
			return json.NewDecoder(resp.Body).Decode(&out)
		})
	})
	if err != nil {
		return false, nil, err
	}
	return out.Success, out.Output, nil
}
