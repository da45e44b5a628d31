package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"voxBot/internal/app/runtime"
	"voxBot/internal/domain"
	"voxBot/internal/infrastructure/config"
	"voxBot/internal/usecase/readaloud"
)

var (
	synthOut   string
	synthVoice string
	synthRaw   bool

	synthCmd = &cobra.Command{
		Use:   "synth TEXT",
		Short: "Synthesize TEXT with the configured backend and write the audio to a file",
		Example: `  voxbot synth "こんにちは" -o hello.wav
  voxbot synth --voice 3 "https://example.com を見て"`,
		Args: cobra.MinimumNArgs(1),
		RunE: executeSynth,
	}
)

func executeSynth(cmd *cobra.Command, args []string) error {
	// synth only talks to the TTS backend, so chat settings are not checked
	cfg, err := config.Parse(envFiles...)
	if err != nil {
		return err
	}

	synth, _, err := runtime.NewSynthesizer(cfg)
	if err != nil {
		return err
	}
	if synthVoice != "" {
		selector, ok := synth.(domain.VoiceSelector)
		if !ok {
			return fmt.Errorf("backend %s does not support voice selection", cfg.TTSBackend)
		}
		synth = selector.WithVoice(synthVoice)
	}

	text := strings.Join(args, " ")
	if !synthRaw {
		text = readaloud.NewNormalizer(readaloud.NormalizerConfig{
			LinkPlaceholder:    cfg.LinkPlaceholder,
			EmojiPlaceholder:   cfg.EmojiPlaceholder,
			MentionPlaceholder: cfg.MentionPlaceholder,
			MaxLength:          cfg.MaxLength,
		}).Normalize(text)
	}
	if text == "" {
		return errors.New("nothing to speak after normalization")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.SynthesisTimeout)
	defer cancel()

	audio, err := synth.Synthesize(ctx, text)
	if err != nil {
		return err
	}

	out := synthOut
	if out == "" {
		out = defaultOutput(cfg.TTSBackend)
	}
	if err := os.WriteFile(out, audio, 0o644); err != nil {
		return fmt.Errorf("write audio: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(audio), out)
	return nil
}

func defaultOutput(backend string) string {
	if backend == config.BackendGoogle {
		return "voxbot.mp3"
	}
	return "voxbot.wav"
}

func init() {
	synthCmd.Flags().StringVarP(&synthOut, "out", "o", "", "output file (default voxbot.wav, or voxbot.mp3 for google)")
	synthCmd.Flags().StringVar(&synthVoice, "voice", "", "speaker id or language code to use instead of the configured one")
	synthCmd.Flags().BoolVar(&synthRaw, "raw", false, "send TEXT as is, without link/emoji/mention replacement")
}
