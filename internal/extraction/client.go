// Package extraction performs one logical receipt extraction call against
// the vision provider, with bounded retries and strict response validation.
package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ledgerkeep/receiptpipe/internal/domain/entity"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

var (
	// ErrInvalidResponse marks a provider response that failed parsing or
	// schema validation. Never retried.
	ErrInvalidResponse = errors.New("extraction response failed validation")
	// ErrProviderUnavailable marks a provider failure: either a terminal
	// rejection or a transient error that survived all retry attempts.
	ErrProviderUnavailable = errors.New("extraction provider unavailable")
	// ErrUnsupportedFileType marks a payload the client cannot submit.
	ErrUnsupportedFileType = errors.New("unsupported file type")
)

// Config holds retry and timeout policy
type Config struct {
	MaxAttempts    int
	BaseBackoff    time.Duration
	RequestTimeout time.Duration
}

// Client wraps the vision provider with retry and validation. A request
// exceeding RequestTimeout is aborted and counted as a retryable failure.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	cfg         Config
	logger      *zap.Logger
}

// NewClient creates a new extraction client. baseURL overrides the provider
// endpoint when non-empty.
func NewClient(apiKey, baseURL, model string, temperature float32, maxTokens int, cfg Config, logger *zap.Logger) *Client {
	providerCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		providerCfg.BaseURL = baseURL
	}
	return &Client{
		client:      openai.NewClientWithConfig(providerCfg),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		cfg:         cfg,
		logger:      logger,
	}
}

// Extract submits a receipt image and returns a validated result. PDF
// payloads have their first page rendered to PNG before submission.
func (c *Client) Extract(ctx context.Context, payload []byte, contentType string) (*entity.ExtractionResult, error) {
	imageData, imageType, err := prepareImage(payload, contentType)
	if err != nil {
		return nil, err
	}
	dataURL := encodeDataURL(imageData, imageType)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		result, err := c.attempt(ctx, dataURL)
		if err == nil {
			return result, nil
		}

		if !isRetryable(err) {
			c.logger.Warn("Extraction failed with terminal error",
				zap.Int("attempt", attempt),
				zap.Error(err))
			if errors.Is(err, ErrInvalidResponse) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}

		lastErr = err
		c.logger.Warn("Extraction attempt failed, will retry",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.MaxAttempts),
			zap.Error(err))

		if attempt < c.cfg.MaxAttempts {
			backoff := c.cfg.BaseBackoff << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, lastErr)
}

// attempt performs a single provider call bounded by the request timeout.
func (c *Client) attempt(ctx context.Context, dataURL string) (*entity.ExtractionResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(attemptCtx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are an expert at reading retail receipts. Extract structured purchase data from receipt images.",
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: extractionPrompt,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("provider call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrInvalidResponse)
	}

	var result entity.ExtractionResult
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &result); err != nil {
		c.logger.Error("Failed to parse extraction result", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	if err := validateResult(&result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	return &result, nil
}

// isRetryable reports whether err indicates a transient condition:
// HTTP 429/5xx, a timed-out or aborted request, or a network failure.
// Validation failures and other 4xx responses are terminal.
func isRetryable(err error) bool {
	if errors.Is(err, ErrInvalidResponse) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

const extractionPrompt = `Extract all purchase data from this receipt image.

Return JSON with this exact structure, all monetary values as integer cents:
{
  "merchant": "store name",
  "merchant_address": "store address or empty string",
  "purchase_date": "YYYY-MM-DD or empty string if unreadable",
  "total_cents": integer,
  "subtotal_cents": integer,
  "tax_cents": integer,
  "payment_method": "cash|card|other or empty string",
  "items": [
    {
      "name": "item description",
      "quantity": number,
      "unit_price_cents": integer,
      "total_cents": integer,
      "tax_cents": integer,
      "category": "best-guess category or empty string",
      "confidence": number between 0 and 1
    }
  ],
  "confidence": number between 0 and 1 for the overall extraction,
  "warnings": ["any legibility or ambiguity notes"]
}

Only include items actually printed on the receipt. Do not invent values.`
