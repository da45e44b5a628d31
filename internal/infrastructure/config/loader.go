package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"voxBot/internal/infrastructure/tts/voicevox"
)

const (
	ModeDiscord = "discord"
	ModeLocal   = "local"

	BackendVoicevox = "voicevox"
	BackendGoogle   = "google"
)

type Config struct {
	Mode string `env:"VOXBOT_MODE" envDefault:"discord"`

	DiscordToken string `env:"DISCORD_BOT_TOKEN"`

	TTSBackend          string  `env:"TTS_BACKEND" envDefault:"voicevox"`
	VoicevoxBaseURL     string  `env:"VOICEVOX_BASE_URL" envDefault:"http://127.0.0.1:50021"`
	VoicevoxSpeaker     string  `env:"VOICEVOX_SPEAKER_ID" envDefault:"1"`
	VoicevoxSpeedScale  float64 `env:"VOICEVOX_SPEED_SCALE"`
	VoicevoxVolumeScale float64 `env:"VOICEVOX_VOLUME_SCALE"`
	GTTSLanguage        string  `env:"GTTS_LANGUAGE" envDefault:"ja"`

	JoinTimeout        time.Duration `env:"READALOUD_JOIN_TIMEOUT" envDefault:"20s"`
	PlaybackTimeout    time.Duration `env:"READALOUD_PLAYBACK_TIMEOUT" envDefault:"30s"`
	SynthesisTimeout   time.Duration `env:"READALOUD_SYNTH_TIMEOUT" envDefault:"15s"`
	MaxLength          int           `env:"READALOUD_MAX_LENGTH" envDefault:"120"`
	Separator          string        `env:"READALOUD_SEPARATOR" envDefault:"、"`
	LinkPlaceholder    string        `env:"READALOUD_LINK_PLACEHOLDER" envDefault:"URL"`
	EmojiPlaceholder   string        `env:"READALOUD_EMOJI_PLACEHOLDER" envDefault:"絵文字"`
	MentionPlaceholder string        `env:"READALOUD_MENTION_PLACEHOLDER" envDefault:"メンション"`

	DatabasePath string `env:"DATABASE_PATH" envDefault:"data/voxbot.db"`
	ControlAddr  string `env:"CONTROL_ADDR" envDefault:":8080"`

	TwitchUsername string   `env:"TWITCH_BOT_USERNAME"`
	TwitchToken    string   `env:"TWITCH_BOT_ACCESS_TOKEN"`
	TwitchChannels []string `env:"TWITCH_BOT_CHANNELS" envSeparator:","`

	SpeakerSampleRate int    `env:"SPEAKER_SAMPLE_RATE" envDefault:"24000"`
	FFmpegPath        string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load reads the given .env files (or ./.env when none are given) and then
// the process environment. Missing .env files are not an error.
func Load(files ...string) (*Config, error) {
	cfg, err := Parse(files...)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse is Load without validation.
func Parse(files ...string) (*Config, error) {
	_ = godotenv.Load(files...)

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	c.TTSBackend = strings.ToLower(strings.TrimSpace(c.TTSBackend))
	c.VoicevoxBaseURL = strings.TrimRight(strings.TrimSpace(c.VoicevoxBaseURL), "/")

	channels := c.TwitchChannels[:0]
	for _, ch := range c.TwitchChannels {
		ch = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ch)), "#")
		if ch != "" {
			channels = append(channels, ch)
		}
	}
	c.TwitchChannels = channels
}

func (c *Config) Validate() error {
	switch c.Mode {
	case ModeDiscord:
		if c.DiscordToken == "" {
			return fmt.Errorf("config: DISCORD_BOT_TOKEN is required in %s mode", ModeDiscord)
		}
	case ModeLocal:
	default:
		return fmt.Errorf("config: unknown VOXBOT_MODE %q", c.Mode)
	}

	switch c.TTSBackend {
	case BackendVoicevox, BackendGoogle:
	default:
		return fmt.Errorf("config: unknown TTS_BACKEND %q", c.TTSBackend)
	}

	if c.MaxLength <= 0 {
		return fmt.Errorf("config: READALOUD_MAX_LENGTH must be positive, got %d", c.MaxLength)
	}
	return nil
}

// SpeakerID returns the configured VOICEVOX speaker, falling back to the
// engine default when the value is missing or not a non-negative integer.
func (c *Config) SpeakerID() int {
	return voicevox.ParseSpeaker(c.VoicevoxSpeaker)
}

// HasTwitch reports whether enough Twitch settings are present to connect.
func (c *Config) HasTwitch() bool {
	return c.TwitchUsername != "" && c.TwitchToken != "" && len(c.TwitchChannels) > 0
}
