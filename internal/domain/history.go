package domain

import (
	"context"
	"time"
)

// SpokenEntry is one read-aloud attempt as kept in the history.
type SpokenEntry struct {
	ID          int64
	SessionID   string
	CallID      string
	OK          bool
	Error       string
	Text        string
	AudioBytes  int
	SynthesisMS int64
	PlaybackMS  int64
	CreatedAt   time.Time
}

type SpokenHistoryRepository interface {
	SaveSpoken(ctx context.Context, entry *SpokenEntry) error
	ListSpoken(ctx context.Context, callID string, limit int) ([]*SpokenEntry, error)
}
