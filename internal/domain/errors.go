package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNoVoiceChannel  = errors.New("no voice channel to join")
	ErrPlaybackTimeout = errors.New("playback did not finish in time")
	ErrConnectionLost  = errors.New("voice connection lost")
	ErrSessionClosed   = errors.New("read-aloud session closed")
)

// JoinError is returned when a voice call could not be joined. No session is
// created when it is returned.
type JoinError struct {
	GuildID string
	Err     error
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("join %s: %v", e.GuildID, e.Err)
}

func (e *JoinError) Unwrap() error {
	return e.Err
}

// SynthesisError reports a non-success answer from the TTS backend.
type SynthesisError struct {
	Stage  string
	Status int
	Body   string
}

func (e *SynthesisError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s failed: %d", e.Stage, e.Status)
	}
	return fmt.Sprintf("%s failed: %d: %s", e.Stage, e.Status, e.Body)
}
