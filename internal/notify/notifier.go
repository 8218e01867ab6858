// Package notify abstracts outbound user notifications. Delivery itself is
// an external collaborator; the pipeline only decides when to notify.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Bounce reasons attached to user-facing bounce notifications.
const (
	ReasonNoAttachments = "no_attachments"
	ReasonUnknownAlias  = "unknown_alias"
)

// Notifier delivers user-facing notifications about ingestion outcomes.
type Notifier interface {
	SendBounce(ctx context.Context, recipient, subject, reason string) error
}

// LogNotifier records notifications in the log. It stands in for the real
// delivery service in development and tests.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a new LogNotifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// SendBounce logs the bounce instead of delivering it.
func (n *LogNotifier) SendBounce(ctx context.Context, recipient, subject, reason string) error {
	n.logger.Info("Bounce notification",
		zap.String("recipient", recipient),
		zap.String("subject", subject),
		zap.String("reason", reason))
	return nil
}
