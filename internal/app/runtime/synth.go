package runtime

import (
	"context"
	"fmt"
	"strconv"

	"voxBot/internal/domain"
	"voxBot/internal/infrastructure/config"
	"voxBot/internal/infrastructure/tts/gtts"
	"voxBot/internal/infrastructure/tts/voicevox"
	ws "voxBot/internal/interface/api/ws"
)

// NewSynthesizer builds the configured TTS backend together with a lister
// for the voices it can speak with.
func NewSynthesizer(cfg *config.Config) (domain.Synthesizer, ws.VoiceLister, error) {
	switch cfg.TTSBackend {
	case config.BackendVoicevox:
		client := voicevox.New(voicevox.Options{
			BaseURL:     cfg.VoicevoxBaseURL,
			Speaker:     cfg.SpeakerID(),
			SpeedScale:  cfg.VoicevoxSpeedScale,
			VolumeScale: cfg.VoicevoxVolumeScale,
		})
		return client, voicevoxVoices(client), nil

	case config.BackendGoogle:
		return gtts.New("", cfg.GTTSLanguage, nil), gttsVoices, nil

	default:
		return nil, nil, fmt.Errorf("runtime: unknown tts backend %q", cfg.TTSBackend)
	}
}

func voicevoxVoices(client *voicevox.Client) ws.VoiceLister {
	return func(ctx context.Context) ([]ws.VoiceOption, error) {
		speakers, err := client.Speakers(ctx)
		if err != nil {
			return nil, err
		}
		var out []ws.VoiceOption
		for _, sp := range speakers {
			for _, style := range sp.Styles {
				out = append(out, ws.VoiceOption{
					ID:    strconv.Itoa(style.ID),
					Label: sp.Name + " (" + style.Name + ")",
				})
			}
		}
		return out, nil
	}
}

func gttsVoices(context.Context) ([]ws.VoiceOption, error) {
	voices := gtts.ListVoices()
	out := make([]ws.VoiceOption, 0, len(voices))
	for _, v := range voices {
		out = append(out, ws.VoiceOption{ID: v.Code, Label: v.Label})
	}
	return out, nil
}
