package events

import "time"

// SessionStatusDTO is published on TopicReadAloudStatus whenever a session's
// state or queue changes.
type SessionStatusDTO struct {
	SessionID   string `json:"session_id"`
	CallID      string `json:"call_id"`
	ChannelID   string `json:"channel_id"`
	Voice       string `json:"voice,omitempty"`
	State       string `json:"state"`
	QueueLength int    `json:"queue_length"`
	Current     string `json:"current,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	Spoken      uint64 `json:"spoken"`
	Failed      uint64 `json:"failed"`
	UpdatedAt   string `json:"updated_at"`
}

// SpokenDTO is published on TopicReadAloudSpoken once per dequeued item.
type SpokenDTO struct {
	SessionID   string `json:"session_id"`
	CallID      string `json:"call_id"`
	OK          bool   `json:"ok"`
	Error       string `json:"error,omitempty"`
	Text        string `json:"text"`
	AudioBytes  int    `json:"audio_bytes,omitempty"`
	SynthesisMS int64  `json:"synthesis_ms"`
	PlaybackMS  int64  `json:"playback_ms"`
	FinishedAt  string `json:"finished_at"`
}

// AppErrorDTO is published on TopicAppError.
type AppErrorDTO struct {
	Source string `json:"source"`
	CallID string `json:"call_id,omitempty"`
	Error  string `json:"error"`
}

func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
