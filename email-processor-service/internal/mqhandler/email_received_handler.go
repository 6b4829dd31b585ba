package mqhandler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	mqcontracts "digestgenie/contracts/mq"
	"digestgenie/pkg/logger"
	"digestgenie/pkg/trace"
)

// EmailReceivedHandler wakes the job runner when ingestion reports a new email, so the
// email_processing job does not wait for the next poll.
type EmailReceivedHandler struct {
	wake   func()
	logger *zap.Logger
}

func NewEmailReceivedHandler(wake func(), logger *zap.Logger) *EmailReceivedHandler {
	return &EmailReceivedHandler{wake: wake, logger: logger}
}

func (h *EmailReceivedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.EmailReceivedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Invalid EmailReceivedPayload, dropping",
			zap.String("raw", string(raw)),
			zap.Error(err),
		)
		return nil
	}
	if p.TraceID != "" {
		ctx = trace.WithContext(ctx, p.TraceID)
	}

	logger.WithTrace(ctx, h.logger).Debug("Email received, waking job runner",
		zap.String("raw_email_id", p.RawEmailID),
		zap.String("provider", p.Provider),
	)
	h.wake()
	return nil
}
