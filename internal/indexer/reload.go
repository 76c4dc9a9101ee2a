package indexer

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/kafka"
)

// ReloadRequest is the message published on the vocabulary-reload topic.
// Every replica consumes the topic in its own group and reloads.
type ReloadRequest struct {
	Reason      string    `json:"reason"`
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewReloadEvent builds a reload request for publishing.
func NewReloadEvent(reason, requestedBy string) kafka.Event {
	return kafka.Event{
		Key: "vocabulary",
		Value: ReloadRequest{
			Reason:      reason,
			RequestedBy: requestedBy,
			RequestedAt: time.Now().UTC(),
		},
	}
}

// HandleReloadMessage is a kafka.MessageHandler. Undecodable messages are
// logged and skipped; a failed reload is returned so the offset is not
// committed.
func (e *Engine) HandleReloadMessage(ctx context.Context, _ []byte, value []byte) error {
	req, err := kafka.DecodeJSON[ReloadRequest](value)
	if err != nil {
		e.logger.Warn("skipping malformed reload request", "error", err)
		return nil
	}
	e.logger.Info("reload requested", "reason", req.Reason, "requested_by", req.RequestedBy)
	_, err = e.Reload(ctx)
	return err
}
