package domain

type Platform string

const (
	PlatformDiscord Platform = "discord"
	PlatformTwitch  Platform = "twitch"
	// PlatformWeb marks messages typed into the control page.
	PlatformWeb     Platform = "web"
)

// Message is an inbound chat message as seen by the read-aloud engine.
type Message struct {
	Platform  Platform
	GuildID   string
	ChannelID string
	UserID    string
	Username  string
	// DisplayName is the label spoken before the text. Adapters fill it with the
	// server nickname when the platform has one.
	DisplayName string
	Text        string
	IsBot       bool
}

// SpeakerLabel returns the name read before the message body.
func (m Message) SpeakerLabel() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Username
}
