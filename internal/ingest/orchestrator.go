// Package ingest is the top-level pipeline flow: it coordinates admission,
// extraction, persistence, duplicate detection and rule application for
// direct submissions and for forwarded emails.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerkeep/receiptpipe/internal/domain/entity"
	"github.com/ledgerkeep/receiptpipe/internal/notify"
	"github.com/ledgerkeep/receiptpipe/internal/repository"
	"github.com/ledgerkeep/receiptpipe/internal/rules"
	"github.com/ledgerkeep/receiptpipe/internal/storage"
	"github.com/ledgerkeep/receiptpipe/pkg/database"
	"github.com/ledgerkeep/receiptpipe/pkg/utils"
	"go.uber.org/zap"
)

var (
	// ErrReceiptNotFound is returned when the receipt id is unknown.
	ErrReceiptNotFound = errors.New("receipt not found")
	// ErrFileTooLarge rejects payloads above the configured size before any
	// provider call.
	ErrFileTooLarge = errors.New("file exceeds maximum size")
	// ErrUnknownAlias is returned when no tenant owns the recipient alias.
	ErrUnknownAlias = errors.New("unknown recipient alias")
	// ErrQuotaExceeded is returned when the tenant's monthly quota would be
	// exceeded.
	ErrQuotaExceeded = errors.New("monthly receipt quota exceeded")
	// ErrRateLimited is returned when the alias fixed-window limit is hit.
	ErrRateLimited = errors.New("alias rate limit exceeded")
)

// supportedContentTypes lists attachment types the pipeline can extract.
var supportedContentTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"image/gif":       true,
	"application/pdf": true,
}

type admitter interface {
	Acquire(ctx context.Context) error
	Release()
}

type extractor interface {
	Extract(ctx context.Context, payload []byte, contentType string) (*entity.ExtractionResult, error)
}

type duplicateChecker interface {
	Check(ctx context.Context, receipt *entity.Receipt) (*entity.Receipt, error)
}

type ruleApplier interface {
	Apply(ctx context.Context, receipt *entity.Receipt, items []*entity.LineItem) (*rules.ApplyResult, error)
}

type warrantyCreator interface {
	CreateForReceipt(ctx context.Context, receipt *entity.Receipt, items []*entity.LineItem) int
}

type recallChecker interface {
	Check(ctx context.Context, receipt *entity.Receipt, items []*entity.LineItem)
}

// Config holds ingestion limits
type Config struct {
	MaxFileSizeBytes int64
	AliasCacheTTL    time.Duration
	AliasCacheSize   int
	AliasRateLimit   int
	AliasRateWindow  time.Duration
}

// Orchestrator ties the pipeline together for one receipt and for one
// inbound email with zero or more attachments.
type Orchestrator struct {
	cfg        Config
	db         *database.DB
	receipts   *repository.ReceiptRepository
	items      *repository.LineItemRepository
	emails     *repository.InboundEmailRepository
	tenants    *repository.TenantRepository
	warranties *repository.WarrantyRepository
	store      storage.ObjectStore
	admission  admitter
	extractor  extractor
	dedup      duplicateChecker
	rules      ruleApplier
	warranty   warrantyCreator
	recall     recallChecker
	notifier   notify.Notifier
	aliases    *AliasCache
	limiter    *AliasRateLimiter
	logger     *zap.Logger
}

// NewOrchestrator creates a new ingestion orchestrator
func NewOrchestrator(
	cfg Config,
	db *database.DB,
	receipts *repository.ReceiptRepository,
	items *repository.LineItemRepository,
	emails *repository.InboundEmailRepository,
	tenants *repository.TenantRepository,
	warranties *repository.WarrantyRepository,
	store storage.ObjectStore,
	admission admitter,
	extractor extractor,
	dedup duplicateChecker,
	ruleEngine ruleApplier,
	warranty warrantyCreator,
	recall recallChecker,
	notifier notify.Notifier,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		db:         db,
		receipts:   receipts,
		items:      items,
		emails:     emails,
		tenants:    tenants,
		warranties: warranties,
		store:      store,
		admission:  admission,
		extractor:  extractor,
		dedup:      dedup,
		rules:      ruleEngine,
		warranty:   warranty,
		recall:     recall,
		notifier:   notifier,
		aliases:    NewAliasCache(cfg.AliasCacheTTL, cfg.AliasCacheSize),
		limiter:    NewAliasRateLimiter(cfg.AliasRateLimit, cfg.AliasRateWindow),
		logger:     logger,
	}
}

// ProcessRequest identifies one stored receipt payload to extract.
type ProcessRequest struct {
	ReceiptID int64 `json:"receiptId"`
}

// ProcessResult is the outcome of one receipt's processing.
type ProcessResult struct {
	ReceiptID         int64    `json:"receiptId"`
	ItemsExtracted    int      `json:"itemsExtracted"`
	RulesApplied      int      `json:"rulesApplied"`
	WarrantiesCreated int      `json:"warrantiesCreated"`
	DuplicateOf       *int64   `json:"duplicateOf,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`
}

// ProcessReceipt runs the full pipeline for one stored receipt: size check,
// admission-gated extraction, persistence, duplicate detection, rule
// application, warranty creation and a best-effort recall check. Retriable:
// a receipt whose extraction already persisted is replayed, not reprocessed.
// Every failure path after the receipt is located marks it in_review, so a
// receipt is never left pending once processing has been attempted.
func (o *Orchestrator) ProcessReceipt(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	receipt, err := o.receipts.GetByID(ctx, req.ReceiptID)
	if err != nil {
		return nil, fmt.Errorf("failed to load receipt: %w", err)
	}
	if receipt == nil {
		return nil, ErrReceiptNotFound
	}
	if receipt.Extracted() {
		return o.replayResult(ctx, receipt)
	}

	payload, err := o.store.Read(ctx, receipt.StorageKey)
	if err != nil {
		o.failReceipt(ctx, receipt.ID, "storage read failed", err)
		return nil, fmt.Errorf("failed to read stored payload: %w", err)
	}
	if int64(len(payload)) > o.cfg.MaxFileSizeBytes {
		o.failReceipt(ctx, receipt.ID, "file too large", nil)
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, len(payload))
	}

	if err := o.receipts.UpdateStatus(ctx, receipt.ID, entity.ReceiptStatusProcessing); err != nil {
		return nil, err
	}

	if err := o.admission.Acquire(ctx); err != nil {
		o.failReceipt(ctx, receipt.ID, "no extraction slot", err)
		return nil, err
	}
	extraction, err := func() (*entity.ExtractionResult, error) {
		defer o.admission.Release()
		return o.extractor.Extract(ctx, payload, receipt.FileType)
	}()
	if err != nil {
		o.failReceipt(ctx, receipt.ID, "extraction failed", err)
		return nil, fmt.Errorf("extraction failed: %w", err)
	}

	items, err := o.persistExtraction(ctx, receipt, extraction)
	if err != nil {
		o.failReceipt(ctx, receipt.ID, "persist failed", err)
		return nil, err
	}

	result := &ProcessResult{
		ReceiptID:      receipt.ID,
		ItemsExtracted: len(items),
		Warnings:       extraction.Warnings,
	}

	// Advisory: a dedup failure is logged, never fatal to the pipeline.
	prior, err := o.dedup.Check(ctx, receipt)
	if err != nil {
		o.logger.Warn("Duplicate check failed",
			zap.Int64("receipt_id", receipt.ID),
			zap.Error(err))
	} else if prior != nil {
		result.DuplicateOf = &prior.ID
	}

	applied, err := o.rules.Apply(ctx, receipt, items)
	if err != nil {
		o.failReceipt(ctx, receipt.ID, "rule application failed", err)
		return nil, fmt.Errorf("rule application failed: %w", err)
	}
	result.RulesApplied = applied.MatchedItems
	for _, failure := range applied.Failures {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("rule update failed for %d items", len(failure.ItemIDs)))
	}

	result.WarrantiesCreated = o.warranty.CreateForReceipt(ctx, receipt, items)
	o.recall.Check(ctx, receipt, items)

	status := entity.ReceiptStatusComplete
	if receipt.NeedsReview {
		status = entity.ReceiptStatusInReview
	}
	if err := o.receipts.UpdateStatus(ctx, receipt.ID, status); err != nil {
		return nil, err
	}

	o.logger.Info("Receipt processed",
		zap.Int64("receipt_id", receipt.ID),
		zap.Int("items", result.ItemsExtracted),
		zap.Int("rules_applied", result.RulesApplied),
		zap.String("status", status))
	return result, nil
}

// persistExtraction writes the receipt fields and line items atomically.
func (o *Orchestrator) persistExtraction(ctx context.Context, receipt *entity.Receipt, extraction *entity.ExtractionResult) ([]*entity.LineItem, error) {
	var purchaseDate *time.Time
	if extraction.PurchaseDate != "" {
		if parsed, err := time.Parse("2006-01-02", extraction.PurchaseDate); err == nil {
			purchaseDate = &parsed
		}
	}

	items := make([]*entity.LineItem, 0, len(extraction.Items))
	for _, draft := range extraction.Items {
		unitPrice := draft.UnitPriceCents
		tax := draft.TaxCents
		items = append(items, &entity.LineItem{
			ReceiptID:      receipt.ID,
			TenantID:       receipt.TenantID,
			Name:           utils.SanitizeString(draft.Name),
			Quantity:       draft.Quantity,
			UnitPriceCents: &unitPrice,
			TotalCents:     draft.TotalCents,
			TaxCents:       &tax,
			Classification: entity.ClassificationUnclassified,
			Category:       draft.Category,
			Confidence:     draft.Confidence,
		})
	}

	err := o.db.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := o.receipts.ApplyExtraction(txCtx, receipt.ID,
			utils.SanitizeString(extraction.Merchant), utils.SanitizeString(extraction.MerchantAddress), purchaseDate,
			extraction.TotalCents, extraction.SubtotalCents, extraction.TaxCents,
			extraction.PaymentMethod, extraction.Confidence,
		); err != nil {
			return err
		}
		return o.items.InsertBatch(txCtx, items)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist extraction: %w", err)
	}

	receipt.Merchant = utils.SanitizeString(extraction.Merchant)
	receipt.MerchantAddr = utils.SanitizeString(extraction.MerchantAddress)
	receipt.PurchaseDate = purchaseDate
	receipt.TotalCents = &extraction.TotalCents
	receipt.SubtotalCents = &extraction.SubtotalCents
	receipt.TaxCents = &extraction.TaxCents
	receipt.PaymentMethod = extraction.PaymentMethod
	receipt.Confidence = extraction.Confidence
	now := time.Now().UTC()
	receipt.ExtractedAt = &now
	return items, nil
}

// replayResult rebuilds the response for an already-processed receipt so
// the endpoint stays safely retriable.
func (o *Orchestrator) replayResult(ctx context.Context, receipt *entity.Receipt) (*ProcessResult, error) {
	items, err := o.items.ListByReceipt(ctx, receipt.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items for replay: %w", err)
	}
	warranties, err := o.warranties.CountByReceipt(ctx, receipt.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count warranties for replay: %w", err)
	}

	result := &ProcessResult{
		ReceiptID:         receipt.ID,
		WarrantiesCreated: warranties,
		DuplicateOf:       receipt.DuplicateOf,
	}
	for _, item := range items {
		if item.IsSplitOriginal || item.ParentItemID != nil {
			continue
		}
		result.ItemsExtracted++
		if item.Classification != entity.ClassificationUnclassified {
			result.RulesApplied++
		}
	}

	o.logger.Info("Replaying result for already-processed receipt",
		zap.Int64("receipt_id", receipt.ID))
	return result, nil
}

// failReceipt transitions a receipt to in_review after any processing
// failure so it never stays pending.
func (o *Orchestrator) failReceipt(ctx context.Context, id int64, reason string, cause error) {
	if err := o.receipts.MarkForReview(ctx, id); err != nil {
		o.logger.Error("Failed to mark receipt for review",
			zap.Int64("receipt_id", id),
			zap.Error(err))
	}
	o.logger.Warn("Receipt moved to review",
		zap.Int64("receipt_id", id),
		zap.String("reason", reason),
		zap.Error(cause))
}

// IngestEmailRequest is one forwarded message with stored attachments.
type IngestEmailRequest struct {
	ToEmail     string                   `json:"toEmail"`
	FromEmail   string                   `json:"fromEmail"`
	Subject     string                   `json:"subject"`
	MessageID   string                   `json:"messageId"`
	ReceivedAt  time.Time                `json:"receivedAt"`
	Attachments []entity.EmailAttachment `json:"attachments"`
}

// IngestEmailResult is the aggregate outcome of one inbound email.
type IngestEmailResult struct {
	InboundEmailID  string   `json:"inboundEmailId"`
	ReceiptsCreated int      `json:"receiptsCreated"`
	ReceiptIDs      []int64  `json:"receiptIds"`
	Errors          []string `json:"errors,omitempty"`
}

// IngestEmail runs the email path: alias resolution (cached), rate limit
// and quota checks, message-id idempotency, then a concurrent settle-all
// fan-out over the attachments. One attachment's failure never blocks or
// rolls back its siblings.
func (o *Orchestrator) IngestEmail(ctx context.Context, req IngestEmailRequest) (*IngestEmailResult, error) {
	alias := strings.ToLower(strings.TrimSpace(req.ToEmail))
	if err := utils.ValidateEmail(alias); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownAlias, err)
	}

	if !o.limiter.Allow(alias) {
		o.logger.Warn("Alias rate limited", zap.String("alias", alias))
		return nil, ErrRateLimited
	}

	tenant, err := o.resolveAlias(ctx, alias)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		if err := o.notifier.SendBounce(ctx, req.FromEmail, req.Subject, notify.ReasonUnknownAlias); err != nil {
			o.logger.Warn("Failed to send bounce", zap.Error(err))
		}
		return nil, ErrUnknownAlias
	}

	// Idempotency: a message already recorded for this tenant is a no-op
	// that reports the prior result.
	if prior, err := o.emails.GetByMessageID(ctx, tenant.ID, req.MessageID); err != nil {
		return nil, err
	} else if prior != nil {
		return o.replayEmailResult(ctx, prior)
	}

	qualifying := qualifyAttachments(req.Attachments, o.cfg.MaxFileSizeBytes)
	if len(qualifying) == 0 {
		return o.bounceEmail(ctx, tenant, req)
	}

	if tenant.MonthlyQuota > 0 {
		used, err := o.receipts.CountCreatedInMonth(ctx, tenant.ID, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		if used+len(qualifying) > tenant.MonthlyQuota {
			o.logger.Warn("Monthly quota exceeded",
				zap.Int64("tenant_id", tenant.ID),
				zap.Int("used", used),
				zap.Int("requested", len(qualifying)))
			return nil, ErrQuotaExceeded
		}
	}

	email := &entity.InboundEmail{
		ID:              uuid.NewString(),
		TenantID:        tenant.ID,
		FromEmail:       req.FromEmail,
		ToEmail:         alias,
		Subject:         req.Subject,
		MessageID:       req.MessageID,
		ReceivedAt:      req.ReceivedAt,
		AttachmentCount: len(req.Attachments),
		Status:          entity.EmailStatusProcessing,
	}
	if err := o.emails.Create(ctx, email); err != nil {
		return nil, err
	}

	result := &IngestEmailResult{InboundEmailID: email.ID}

	receipts := make([]*entity.Receipt, 0, len(qualifying))
	for _, attachment := range qualifying {
		receipt := &entity.Receipt{
			TenantID:       tenant.ID,
			InboundEmailID: &email.ID,
			Status:         entity.ReceiptStatusPending,
			Source:         entity.SourceEmail,
			StorageKey:     attachment.StorageKey,
			FileType:       attachment.ContentType,
		}
		if err := o.receipts.Create(ctx, receipt); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("%s: failed to create receipt", attachment.Filename))
			continue
		}
		receipts = append(receipts, receipt)
		result.ReceiptIDs = append(result.ReceiptIDs, receipt.ID)
	}
	result.ReceiptsCreated = len(receipts)

	// Settle-all fan-out: every attachment extraction runs concurrently,
	// each individually gated by the admission controller.
	succeeded := o.processAll(ctx, receipts, result)

	status := entity.EmailStatusProcessed
	switch {
	case len(receipts) == 0:
		status = entity.EmailStatusFailed
	case succeeded == 0:
		status = entity.EmailStatusFailed
	case succeeded < len(qualifying):
		status = entity.EmailStatusPartial
	}
	if err := o.emails.Finalize(ctx, email.ID, status, len(receipts)); err != nil {
		o.logger.Error("Failed to finalize inbound email",
			zap.String("inbound_email_id", email.ID),
			zap.Error(err))
	}

	o.logger.Info("Inbound email processed",
		zap.String("inbound_email_id", email.ID),
		zap.Int("receipts", len(receipts)),
		zap.Int("succeeded", succeeded),
		zap.String("status", status))
	return result, nil
}

func (o *Orchestrator) processAll(ctx context.Context, receipts []*entity.Receipt, result *IngestEmailResult) int {
	var wg sync.WaitGroup
	errs := make([]error, len(receipts))
	for i, receipt := range receipts {
		wg.Add(1)
		go func(i int, receiptID int64) {
			defer wg.Done()
			_, errs[i] = o.ProcessReceipt(ctx, ProcessRequest{ReceiptID: receiptID})
		}(i, receipt.ID)
	}
	wg.Wait()

	succeeded := 0
	for i, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		result.Errors = append(result.Errors,
			fmt.Sprintf("receipt %d: %s", receipts[i].ID, err.Error()))
	}
	return succeeded
}

// bounceEmail records a terminal bounce for a message with no usable
// attachments and notifies the sender.
func (o *Orchestrator) bounceEmail(ctx context.Context, tenant *entity.Tenant, req IngestEmailRequest) (*IngestEmailResult, error) {
	email := &entity.InboundEmail{
		ID:              uuid.NewString(),
		TenantID:        tenant.ID,
		FromEmail:       req.FromEmail,
		ToEmail:         strings.ToLower(strings.TrimSpace(req.ToEmail)),
		Subject:         req.Subject,
		MessageID:       req.MessageID,
		ReceivedAt:      req.ReceivedAt,
		AttachmentCount: len(req.Attachments),
		Status:          entity.EmailStatusBounced,
	}
	if err := o.emails.Create(ctx, email); err != nil {
		return nil, err
	}
	if err := o.notifier.SendBounce(ctx, req.FromEmail, req.Subject, notify.ReasonNoAttachments); err != nil {
		o.logger.Warn("Failed to send bounce", zap.Error(err))
	}

	o.logger.Info("Inbound email bounced, no usable attachments",
		zap.String("inbound_email_id", email.ID),
		zap.String("from", req.FromEmail))
	return &IngestEmailResult{InboundEmailID: email.ID}, nil
}

func (o *Orchestrator) resolveAlias(ctx context.Context, alias string) (*entity.Tenant, error) {
	if tenant, ok := o.aliases.Get(alias); ok {
		return tenant, nil
	}
	tenant, err := o.tenants.GetByAlias(ctx, alias)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve alias: %w", err)
	}
	if tenant != nil {
		o.aliases.Put(alias, tenant)
	}
	return tenant, nil
}

// InvalidateAlias drops a cached alias after regeneration so the old
// address stops resolving within one request, not one TTL.
func (o *Orchestrator) InvalidateAlias(alias string) {
	o.aliases.Invalidate(strings.ToLower(strings.TrimSpace(alias)))
}

func (o *Orchestrator) replayEmailResult(ctx context.Context, email *entity.InboundEmail) (*IngestEmailResult, error) {
	receipts, err := o.receipts.ListByInboundEmail(ctx, email.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts for replay: %w", err)
	}
	result := &IngestEmailResult{
		InboundEmailID:  email.ID,
		ReceiptsCreated: len(receipts),
	}
	for _, receipt := range receipts {
		result.ReceiptIDs = append(result.ReceiptIDs, receipt.ID)
	}
	o.logger.Info("Replaying result for already-ingested message",
		zap.String("inbound_email_id", email.ID),
		zap.String("message_id", email.MessageID))
	return result, nil
}

func qualifyAttachments(attachments []entity.EmailAttachment, maxSize int64) []entity.EmailAttachment {
	var qualifying []entity.EmailAttachment
	for _, a := range attachments {
		if !supportedContentTypes[strings.ToLower(a.ContentType)] {
			continue
		}
		if a.SizeBytes > maxSize {
			continue
		}
		qualifying = append(qualifying, a)
	}
	return qualifying
}
