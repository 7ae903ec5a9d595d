package handlers

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/durablealarmd/internal/handlerregistry"
	"github.com/hazyhaar/durablealarmd/internal/storage"
)

// Log emits a structured log line for the alarm and otherwise does
// nothing — the simplest possible custom handler, grounded on
// internal/providers.OpenRouterProvider's request path (same shape,
// simpler than Webhook the way OpenRouter's path is simpler than
// Cerebras's streaming one in the teacher repo).
type Log struct {
	id  string
	log *slog.Logger
}

// NewLog builds a Log handler from its config entry.
func NewLog(cfg handlerregistry.HandlerConfig) handlerregistry.Handler {
	return &Log{id: cfg.ID, log: slog.Default()}
}

// ID satisfies handlerregistry.Handler.
func (l *Log) ID() string { return l.id }

// IsAvailable is always true: logging has no external dependency.
func (l *Log) IsAvailable() bool { return true }

// Handle logs the alarm at info level.
func (l *Log) Handle(ctx context.Context, a storage.Alarm) error {
	l.log.Info("custom alarm fired", "id", a.ID, "type", a.Type, "payload", string(a.Payload))
	return nil
}
