package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ledgerkeep/receiptpipe/internal/admission"
	"github.com/ledgerkeep/receiptpipe/internal/domain/entity"
	"github.com/ledgerkeep/receiptpipe/internal/export"
	"github.com/ledgerkeep/receiptpipe/internal/extraction"
	"github.com/ledgerkeep/receiptpipe/internal/ingest"
	"github.com/ledgerkeep/receiptpipe/internal/split"
	"go.uber.org/zap"
)

type processReceiptBody struct {
	ReceiptID int64 `json:"receiptId" binding:"required"`
}

func (s *Server) handleProcessReceipt(c *gin.Context) {
	var body processReceiptBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := s.pipeline.ProcessReceipt(c.Request.Context(), ingest.ProcessRequest{ReceiptID: body.ReceiptID})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type ingestEmailBody struct {
	ToEmail     string                   `json:"toEmail" binding:"required"`
	FromEmail   string                   `json:"fromEmail" binding:"required"`
	Subject     string                   `json:"subject"`
	MessageID   string                   `json:"messageId" binding:"required"`
	ReceivedAt  time.Time                `json:"receivedAt"`
	Attachments []entity.EmailAttachment `json:"attachments"`
}

func (s *Server) handleIngestEmail(c *gin.Context) {
	var body ingestEmailBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := s.pipeline.IngestEmail(c.Request.Context(), ingest.IngestEmailRequest{
		ToEmail:     body.ToEmail,
		FromEmail:   body.FromEmail,
		Subject:     body.Subject,
		MessageID:   body.MessageID,
		ReceivedAt:  body.ReceivedAt,
		Attachments: body.Attachments,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type splitItemBody struct {
	ItemID        int64             `json:"itemId" binding:"required"`
	TenantID      int64             `json:"tenantId" binding:"required"`
	Rows          []entity.SplitRow `json:"rows" binding:"required"`
	TaxAllocation string            `json:"taxAllocation"`
}

func (s *Server) handleSplitItem(c *gin.Context) {
	var body splitItemBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	children, err := s.splitter.Split(c.Request.Context(), &entity.SplitPlan{
		ItemID:        body.ItemID,
		TenantID:      body.TenantID,
		Rows:          body.Rows,
		TaxAllocation: body.TaxAllocation,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": children})
}

type exportReceiptsBody struct {
	TenantID int64     `json:"tenantId" binding:"required"`
	From     time.Time `json:"from" binding:"required"`
	To       time.Time `json:"to" binding:"required"`
}

func (s *Server) handleExportReceipts(c *gin.Context) {
	var body exportReceiptsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := s.exporter.Export(c.Request.Context(), export.Request{
		TenantID: body.TenantID,
		From:     body.From,
		To:       body.To,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// respondError maps pipeline errors onto the stable HTTP error shape.
// Internal detail stays in the log; the caller gets an actionable message
// and a retryable hint.
func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	retryable := false
	message := "internal error"

	switch {
	case errors.Is(err, admission.ErrQueueFull), errors.Is(err, admission.ErrQueueTimeout):
		status = http.StatusServiceUnavailable
		retryable = true
		message = "extraction capacity exhausted, try again later"
	case errors.Is(err, ingest.ErrReceiptNotFound), errors.Is(err, ingest.ErrUnknownAlias),
		errors.Is(err, split.ErrNotFound):
		status = http.StatusNotFound
		message = "not found"
	case errors.Is(err, ingest.ErrFileTooLarge):
		status = http.StatusUnprocessableEntity
		message = "file exceeds maximum size"
	case errors.Is(err, ingest.ErrQuotaExceeded), errors.Is(err, ingest.ErrRateLimited):
		status = http.StatusTooManyRequests
		message = err.Error()
	case errors.Is(err, split.ErrAlreadySplit), errors.Is(err, split.ErrChildItem):
		status = http.StatusConflict
		message = err.Error()
	case errors.Is(err, split.ErrAmountMismatch), errors.Is(err, split.ErrTaxMismatch),
		errors.Is(err, split.ErrTooFewRows), errors.Is(err, split.ErrInvalidRow):
		status = http.StatusUnprocessableEntity
		message = err.Error()
	case errors.Is(err, extraction.ErrProviderUnavailable), errors.Is(err, extraction.ErrInvalidResponse),
		errors.Is(err, extraction.ErrUnsupportedFileType):
		status = http.StatusBadGateway
		message = "extraction provider failed"
	}

	s.logger.Warn("Request failed",
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", status),
		zap.Error(err))
	c.JSON(status, gin.H{"error": message, "retryable": retryable})
}
