package consumer

import (
	"context"

	"go.uber.org/zap"
)

// AuditHandler writes every change event to the structured log.
type AuditHandler struct {
	logger *zap.Logger
}

// NewAuditHandler constructs an AuditHandler.
func NewAuditHandler(logger *zap.Logger) *AuditHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditHandler{logger: logger}
}

// Handle logs the event with its activity snapshot.
func (h *AuditHandler) Handle(_ context.Context, msg Message) error {
	activity := msg.Event.Activity
	h.logger.Info("activity change",
		zap.String("event_type", msg.EventType),
		zap.String("activity_id", msg.Event.ActivityID),
		zap.Time("occurred_at", msg.Event.OccurredAt),
		zap.String("title", activity.Title),
		zap.String("user_id", activity.UserID),
		zap.Float64("latitude", float64(activity.Latitude)),
		zap.Float64("longitude", float64(activity.Longitude)),
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)
	return nil
}
