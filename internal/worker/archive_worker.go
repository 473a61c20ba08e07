package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/courier-track/internal/domain"
	"github.com/spec-kit/courier-track/internal/events"
	"github.com/spec-kit/courier-track/internal/geo"
	"github.com/spec-kit/courier-track/internal/observability"
	"github.com/spec-kit/courier-track/internal/repository"
)

// ArchiveWorker copies accepted position writes into the Postgres
// archive. Inserts are best effort: an archive failure is logged and
// never propagates back into the tracking pipeline.
type ArchiveWorker struct {
	history repository.PositionHistoryRepository
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewArchiveWorker builds the worker. A nil repository disables
// archiving without touching the event wiring.
func NewArchiveWorker(history repository.PositionHistoryRepository, metrics *observability.Metrics, logger *zap.Logger) *ArchiveWorker {
	return &ArchiveWorker{history: history, metrics: metrics, logger: logger}
}

// RegisterHandlers subscribes to events.
func (w *ArchiveWorker) RegisterHandlers(dispatcher events.Dispatcher) {
	if dispatcher == nil || w.history == nil {
		return
	}
	dispatcher.Subscribe(events.EventPositionAccepted, w.handlePositionAccepted)
	dispatcher.Subscribe(events.EventAgentDeleted, w.handleAgentDeleted)
}

func (w *ArchiveWorker) handlePositionAccepted(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.PositionAcceptedPayload)
	if !ok {
		return nil
	}

	speedKmh, _ := geo.SpeedKmh(payload.Sample.Speed)
	entry := domain.PositionHistoryEntry{
		AgentID:    event.AgentID,
		Lat:        payload.Sample.Lat,
		Lng:        payload.Sample.Lng,
		Accuracy:   payload.Sample.Accuracy,
		SpeedKmh:   speedKmh,
		Area:       payload.Area,
		RecordedAt: payload.Sample.Timestamp,
	}
	if err := w.history.Insert(ctx, &entry); err != nil {
		w.logger.Warn("position archive insert failed",
			zap.String("agent_id", event.AgentID), zap.Error(err))
		return nil
	}
	w.metrics.IncrPipeline(observability.CounterArchiveWrites)
	return nil
}

func (w *ArchiveWorker) handleAgentDeleted(ctx context.Context, event events.Event) error {
	if err := w.history.DeleteByAgent(ctx, event.AgentID); err != nil {
		w.logger.Warn("position archive cleanup failed",
			zap.String("agent_id", event.AgentID), zap.Error(err))
	}
	return nil
}
