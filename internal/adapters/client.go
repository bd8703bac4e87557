package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/quotecore/quotecore/internal/domain"
)

const requestTimeout = 30 * time.Second

// Client is the shared rate-limited HTTP JSON client under every adapter.
// Failure classification happens here so adapters only deal in error kinds.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewClient builds a client for one upstream base URL. rps bounds sustained
// request rate, burst the instantaneous one.
func NewClient(base string, rps float64, burst int, log zerolog.Logger) *Client {
	return &Client{
		base:    strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     log,
	}
}

// GetJSON performs a rate-limited GET and decodes the body into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.E(domain.KindUpstreamTransient, "rate limiter wait", err)
	}

	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.E(domain.KindInternal, "build request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.E(domain.KindUpstreamTransient, "request "+path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.Throttled("throttled on "+path, parseRetryAfter(resp.Header.Get("Retry-After")))
	case resp.StatusCode >= 500:
		return domain.E(domain.KindUpstreamTransient, fmt.Sprintf("%s returned %d", path, resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return domain.E(domain.KindUpstreamEmpty, "no data at "+path)
	case resp.StatusCode >= 400:
		return domain.E(domain.KindUpstreamMalformed, fmt.Sprintf("%s returned %d", path, resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.E(domain.KindUpstreamMalformed, "decode "+path, err)
	}
	return nil
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms. Unparseable
// values yield zero, the coordinator then uses its own backoff.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
