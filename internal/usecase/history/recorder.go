// Package history keeps a persistent log of what was read aloud.
package history

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"voxBot/internal/app/events"
	"voxBot/internal/domain"
)

type Subscriber interface {
	Subscribe(topic string) (<-chan any, func())
}

// Recorder stores every spoken event it receives.
type Recorder struct {
	repo   domain.SpokenHistoryRepository
	logger *log.Logger
}

func NewRecorder(repo domain.SpokenHistoryRepository, logger *log.Logger) *Recorder {
	if logger == nil {
		logger = log.Default()
	}
	return &Recorder{repo: repo, logger: logger.WithPrefix("history")}
}

// Run consumes spoken events until ctx ends or the bus closes.
func (r *Recorder) Run(ctx context.Context, bus Subscriber) {
	ch, unsubscribe := bus.Subscribe(events.TopicReadAloudSpoken)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			spoken, ok := payload.(events.SpokenDTO)
			if !ok {
				continue
			}
			if err := r.Record(ctx, spoken); err != nil {
				r.logger.Warn("record spoken", "call", spoken.CallID, "error", err)
			}
		}
	}
}

func (r *Recorder) Record(ctx context.Context, spoken events.SpokenDTO) error {
	createdAt, err := time.Parse(time.RFC3339Nano, spoken.FinishedAt)
	if err != nil {
		createdAt = time.Now().UTC()
	}
	return r.repo.SaveSpoken(ctx, &domain.SpokenEntry{
		SessionID:   spoken.SessionID,
		CallID:      spoken.CallID,
		OK:          spoken.OK,
		Error:       spoken.Error,
		Text:        spoken.Text,
		AudioBytes:  spoken.AudioBytes,
		SynthesisMS: spoken.SynthesisMS,
		PlaybackMS:  spoken.PlaybackMS,
		CreatedAt:   createdAt,
	})
}

func (r *Recorder) List(ctx context.Context, callID string, limit int) ([]*domain.SpokenEntry, error) {
	return r.repo.ListSpoken(ctx, callID, limit)
}
