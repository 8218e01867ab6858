package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// tinyPNG is a 1x1 transparent PNG, enough to exercise the image path.
var tinyPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func testConfig() Config {
	return Config{
		MaxAttempts:    3,
		BaseBackoff:    5 * time.Millisecond,
		RequestTimeout: 2 * time.Second,
	}
}

func newFakeProvider(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient("test-key", server.URL+"/v1", "gpt-4o", 0.1, 4000, testConfig(), zap.NewNop())
	return server, client
}

func completionResponse(content string) string {
	body, _ := json.Marshal(map[string]interface{}{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"model":  "gpt-4o",
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]interface{}{
					"role":    "assistant",
					"content": content,
				},
			},
		},
	})
	return string(body)
}

const goodExtraction = `{
	"merchant": "Corner Hardware",
	"merchant_address": "12 Main St",
	"purchase_date": "2026-03-14",
	"total_cents": 2599,
	"subtotal_cents": 2400,
	"tax_cents": 199,
	"payment_method": "card",
	"items": [
		{"name": "Claw hammer", "quantity": 1, "unit_price_cents": 2400, "total_cents": 2400, "tax_cents": 199, "category": "tools", "confidence": 0.95}
	],
	"confidence": 0.92,
	"warnings": []
}`

func writeProviderError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"test_error"}}`, message)
}

func TestExtractSuccess(t *testing.T) {
	_, client := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		fmt.Fprint(w, completionResponse(goodExtraction))
	})

	result, err := client.Extract(context.Background(), tinyPNG, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "Corner Hardware", result.Merchant)
	assert.Equal(t, int64(2599), result.TotalCents)
	require.Len(t, result.Items, 1)
	assert.Equal(t, int64(2400), result.Items[0].TotalCents)
}

func TestExtractRetriesTransientThenSucceeds(t *testing.T) {
	var calls int32
	_, client := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			writeProviderError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		fmt.Fprint(w, completionResponse(goodExtraction))
	})

	result, err := client.Extract(context.Background(), tinyPNG, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "Corner Hardware", result.Merchant)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestExtractExhaustsRetriesOnServerErrors(t *testing.T) {
	var calls int32
	_, client := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeProviderError(w, http.StatusInternalServerError, "boom")
	})

	_, err := client.Extract(context.Background(), tinyPNG, "image/png")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestExtractDoesNotRetryTerminalErrors(t *testing.T) {
	var calls int32
	_, client := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeProviderError(w, http.StatusBadRequest, "invalid request")
	})

	_, err := client.Extract(context.Background(), tinyPNG, "image/png")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderUnavailable, "terminal rejections carry the provider sentinel")
	assert.NotErrorIs(t, err, ErrInvalidResponse)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx must not consume retries")
}

func TestExtractRejectsMalformedContent(t *testing.T) {
	var calls int32
	_, client := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, completionResponse("this is not json"))
	})

	_, err := client.Extract(context.Background(), tinyPNG, "image/png")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidResponse)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "malformed response must not be retried")
}

func TestExtractRejectsOutOfSchemaResponse(t *testing.T) {
	_, client := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionResponse(`{"merchant":"X","total_cents":-500,"confidence":0.9}`))
	})

	_, err := client.Extract(context.Background(), tinyPNG, "image/png")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestExtractRejectsUnsupportedFileType(t *testing.T) {
	_, client := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("provider must not be called for unsupported payloads")
	})

	_, err := client.Extract(context.Background(), []byte("hello"), "text/plain")
	assert.ErrorIs(t, err, ErrUnsupportedFileType)
}

func TestIsRetryableClassification(t *testing.T) {
	assert.True(t, isRetryable(context.DeadlineExceeded))
	assert.True(t, isRetryable(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.False(t, isRetryable(errors.New("parse failure")))
	assert.False(t, isRetryable(fmt.Errorf("%w: bad field", ErrInvalidResponse)))
}
