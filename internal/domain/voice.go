package domain

import "context"

// CallLocation identifies where the bot should connect and which text channel it
// should read from.
type CallLocation struct {
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
}

func (l CallLocation) Valid() bool {
	return l.GuildID != "" && l.VoiceChannelID != "" && l.TextChannelID != ""
}

// VoiceTransport opens voice connections. Connect must return only once the
// connection is ready, or fail when ctx ends first.
type VoiceTransport interface {
	Connect(ctx context.Context, loc CallLocation) (VoiceConnection, error)
}

// VoiceConnection is a live voice-gateway connection.
type VoiceConnection interface {
	// Subscribe binds an audio output to the connection.
	Subscribe() (AudioPlayer, error)
	// Destroy releases the connection. Calling it more than once is allowed.
	Destroy() error
	// Done is closed when the connection is lost or destroyed.
	Done() <-chan struct{}
}

// AudioPlayer emits encoded audio into a call. Play blocks until the device
// reports the clip finished or ctx ends.
type AudioPlayer interface {
	Play(ctx context.Context, audio []byte) error
}
