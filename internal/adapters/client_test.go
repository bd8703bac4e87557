package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotecore/quotecore/internal/domain"
)

func serveStatus(t *testing.T, status int, headers map[string]string, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGetJSONFailureClasses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   domain.Kind
	}{
		{"server error is transient", http.StatusBadGateway, "", domain.KindUpstreamTransient},
		{"not found is empty", http.StatusNotFound, "", domain.KindUpstreamEmpty},
		{"client error is malformed", http.StatusBadRequest, "", domain.KindUpstreamMalformed},
		{"bad json is malformed", http.StatusOK, "{not json", domain.KindUpstreamMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serveStatus(t, tt.status, nil, tt.body)
			c := NewClient(srv.URL, 100, 100, zerolog.Nop())

			var out map[string]any
			err := c.GetJSON(context.Background(), "/x", nil, &out)
			require.Error(t, err)
			assert.Equal(t, tt.kind, domain.KindOf(err))
		})
	}
}

func TestGetJSONThrottledCarriesRetryAfter(t *testing.T) {
	srv := serveStatus(t, http.StatusTooManyRequests, map[string]string{"Retry-After": "7"}, "")
	c := NewClient(srv.URL, 100, 100, zerolog.Nop())

	var out map[string]any
	err := c.GetJSON(context.Background(), "/x", nil, &out)
	require.Error(t, err)
	assert.Equal(t, domain.KindUpstreamThrottled, domain.KindOf(err))
	assert.Equal(t, 7*time.Second, domain.RetryAfterOf(err))
}

func TestGetJSONTransportErrorIsTransient(t *testing.T) {
	srv := serveStatus(t, http.StatusOK, nil, "{}")
	url := srv.URL
	srv.Close()

	c := NewClient(url, 100, 100, zerolog.Nop())
	var out map[string]any
	err := c.GetJSON(context.Background(), "/x", nil, &out)
	require.Error(t, err)
	assert.Equal(t, domain.KindUpstreamTransient, domain.KindOf(err))
}

func TestGetJSONDecodesBody(t *testing.T) {
	srv := serveStatus(t, http.StatusOK, nil, `{"value": 42}`)
	c := NewClient(srv.URL, 100, 100, zerolog.Nop())

	var out struct {
		Value int `json:"value"`
	}
	require.NoError(t, c.GetJSON(context.Background(), "/x", nil, &out))
	assert.Equal(t, 42, out.Value)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 30*time.Second, parseRetryAfter("30"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("garbage"))

	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	got := parseRetryAfter(future)
	assert.Greater(t, got, 80*time.Second)
	assert.LessOrEqual(t, got, 90*time.Second)
}
