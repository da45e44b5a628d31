// Package runtime builds the bot from configuration and owns its lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/log"

	"voxBot/internal/app/events"
	"voxBot/internal/domain"
	"voxBot/internal/infrastructure/config"
	"voxBot/internal/infrastructure/logging"
	sqlitestorage "voxBot/internal/infrastructure/persistence/sqlite"
	discordvoice "voxBot/internal/infrastructure/voice/discord"
	"voxBot/internal/infrastructure/voice/speaker"
	discordadapter "voxBot/internal/interface/adapters/discord"
	twitchadapter "voxBot/internal/interface/adapters/twitch"
	ws "voxBot/internal/interface/api/ws"
	"voxBot/internal/usecase/history"
	"voxBot/internal/usecase/readaloud"
)

const (
	// LocalCallID is the single call used in local mode.
	LocalCallID = "local"

	localVoiceChannel = "speaker"
	// web chat is the only input when no Twitch channel is configured
	localWebChannel = "web"
)

type Options struct {
	EnvFiles []string
	// LogLevel overrides LOG_LEVEL when set.
	LogLevel string
}

type Runtime struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *config.Config
	logger *log.Logger

	store    *sqlitestorage.Store
	bus      *events.Bus
	manager  *readaloud.Manager
	recorder *history.Recorder
	wsServer *ws.Server

	discordVoice *discordvoice.Transport
	wg           sync.WaitGroup
	started      bool
}

func Start(ctx context.Context, opts Options) (*Runtime, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(opts.EnvFiles...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	store, err := sqlitestorage.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	synth, voices, err := NewSynthesizer(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	runtimeCtx, cancel := context.WithCancel(ctx)
	bus := events.NewBus(logger)
	run := &Runtime{
		ctx:      runtimeCtx,
		cancel:   cancel,
		cfg:      cfg,
		logger:   logger,
		store:    store,
		bus:      bus,
		recorder: history.NewRecorder(store, logger),
	}

	var (
		transport domain.VoiceTransport
		chat      func(ctx context.Context) error
	)
	switch cfg.Mode {
	case config.ModeDiscord:
		session, err := discordadapter.NewSession(cfg.DiscordToken)
		if err != nil {
			run.abort()
			return nil, err
		}
		run.discordVoice = discordvoice.NewTransport(session, cfg.FFmpegPath, logger)
		transport = run.discordVoice

		adapter := discordadapter.NewAdapter(session, logger)
		adapter.SetHandler(run.dispatch)
		chat = adapter.Start

	case config.ModeLocal:
		transport = speaker.NewTransport(cfg.SpeakerSampleRate, logger)
		if cfg.HasTwitch() {
			adapter := twitchadapter.NewAdapter(twitchadapter.Config{
				Username:   cfg.TwitchUsername,
				OAuthToken: cfg.TwitchToken,
				Channels:   cfg.TwitchChannels,
				CallID:     LocalCallID,
				Logger:     logger,
			})
			adapter.SetHandler(run.dispatch)
			chat = adapter.Start
		} else {
			logger.Warn("twitch not configured; only web chat will be read")
		}
	}

	manager, err := readaloud.NewManager(readaloud.Config{
		Transport:   transport,
		Synthesizer: synth,
		Normalizer: readaloud.NewNormalizer(readaloud.NormalizerConfig{
			LinkPlaceholder:    cfg.LinkPlaceholder,
			EmojiPlaceholder:   cfg.EmojiPlaceholder,
			MentionPlaceholder: cfg.MentionPlaceholder,
			MaxLength:          cfg.MaxLength,
		}),
		Voices:           store,
		Publisher:        bus,
		Logger:           logger,
		JoinTimeout:      cfg.JoinTimeout,
		SynthesisTimeout: cfg.SynthesisTimeout,
		PlaybackTimeout:  cfg.PlaybackTimeout,
		Separator:        cfg.Separator,
	})
	if err != nil {
		run.abort()
		return nil, err
	}
	run.manager = manager

	run.wsServer = ws.NewServer(ws.Config{
		Addr:      cfg.ControlAddr,
		ReadAloud: manager,
		Voices:    voices,
		History:   run.recorder,
		Events:    bus,
		Logger:    logger,
	})

	run.goRun("history", func(ctx context.Context) error {
		run.recorder.Run(ctx, bus)
		return nil
	})
	run.goRun("ws", run.wsServer.Start)
	if chat != nil {
		run.goRun(cfg.Mode+" chat", chat)
	}

	if cfg.Mode == config.ModeLocal {
		if _, err := manager.Join(runtimeCtx, run.localCall()); err != nil {
			run.abort()
			return nil, fmt.Errorf("local call: %w", err)
		}
	}

	run.started = true
	logger.Info("voxbot started", "mode", cfg.Mode, "tts", cfg.TTSBackend, "control", cfg.ControlAddr)
	return run, nil
}

// goRun runs fn until the runtime stops, publishing an app error when it
// fails for any reason other than shutdown.
func (r *Runtime) goRun(name string, fn func(context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := fn(r.ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		r.logger.Error("component stopped", "component", name, "error", err)
		r.bus.Publish(events.TopicAppError, events.AppErrorDTO{Source: name, Error: err.Error()})
	}()
}

func (r *Runtime) dispatch(ctx context.Context, msg domain.Message) error {
	return r.manager.HandleChatMessage(ctx, msg)
}

func (r *Runtime) localCall() domain.CallLocation {
	text := localWebChannel
	if r.cfg.HasTwitch() {
		text = r.cfg.TwitchChannels[0]
	}
	return domain.CallLocation{
		GuildID:        LocalCallID,
		VoiceChannelID: localVoiceChannel,
		TextChannelID:  text,
	}
}

// abort releases what Start built before failing.
func (r *Runtime) abort() {
	r.cancel()
	r.wg.Wait()
	if r.manager != nil {
		r.manager.Shutdown()
	}
	if r.discordVoice != nil {
		r.discordVoice.Close()
	}
	r.bus.Close()
	if err := r.store.Close(); err != nil {
		r.logger.Warn("close store", "error", err)
	}
}

func (r *Runtime) Stop() error {
	if r == nil || !r.started {
		return nil
	}
	r.started = false

	r.manager.Shutdown()
	r.cancel()
	r.wg.Wait()
	if r.discordVoice != nil {
		r.discordVoice.Close()
	}
	r.bus.Close()
	r.logger.Info("voxbot stopped")
	return r.store.Close()
}
