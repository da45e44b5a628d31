package domain

import "context"

// Synthesizer turns speakable text into an audio payload.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// VoiceSelector is implemented by synthesizers that can speak with a voice other
// than their configured default.
type VoiceSelector interface {
	WithVoice(id string) Synthesizer
}

// VoiceSettingsRepository persists the speaker identity chosen per guild.
type VoiceSettingsRepository interface {
	SetGuildVoice(ctx context.Context, guildID, voice string) error
	GetGuildVoice(ctx context.Context, guildID string) (string, error)
}
