// Package recall calls an external product-recall heuristic service. The
// check is strictly best-effort: a failure is logged and swallowed and never
// affects the pipeline result.
package recall

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ledgerkeep/receiptpipe/internal/domain/entity"
	"go.uber.org/zap"
)

// Client posts extracted items to the recall service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new recall client. An empty baseURL disables checks.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type checkRequest struct {
	TenantID int64    `json:"tenant_id"`
	Merchant string   `json:"merchant"`
	Items    []string `json:"items"`
}

// Check submits the receipt's item names for recall screening. It never
// returns an error; outcomes are observable only in the log.
func (c *Client) Check(ctx context.Context, receipt *entity.Receipt, items []*entity.LineItem) {
	if c.baseURL == "" || len(items) == 0 {
		return
	}

	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.Name)
	}
	body, err := json.Marshal(checkRequest{
		TenantID: receipt.TenantID,
		Merchant: receipt.Merchant,
		Items:    names,
	})
	if err != nil {
		c.logger.Warn("Recall check skipped, failed to encode request", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/recall-check", bytes.NewReader(body))
	if err != nil {
		c.logger.Warn("Recall check skipped, failed to build request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Recall check failed",
			zap.Int64("receipt_id", receipt.ID),
			zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.logger.Warn("Recall service rejected check",
			zap.Int64("receipt_id", receipt.ID),
			zap.Int("status", resp.StatusCode))
		return
	}
	c.logger.Debug("Recall check submitted",
		zap.Int64("receipt_id", receipt.ID),
		zap.Int("items", len(names)))
}
