// Package readaloud reads chat messages aloud in voice calls. It keeps one
// session per call; each session speaks its queued messages strictly in order.
package readaloud

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"voxBot/internal/app/events"
	"voxBot/internal/domain"
)

const (
	DefaultJoinTimeout = 20 * time.Second
	DefaultSeparator   = "、"
)

type Config struct {
	Transport   domain.VoiceTransport
	Synthesizer domain.Synthesizer
	Normalizer  *Normalizer
	// Voices is optional. When set, the voice stored for a guild is applied
	// to the synthesizer of every new session in that guild.
	Voices    domain.VoiceSettingsRepository
	Publisher Publisher
	Logger    *log.Logger

	JoinTimeout      time.Duration
	SynthesisTimeout time.Duration
	PlaybackTimeout  time.Duration
	// Separator is placed between the speaker label and the message text.
	Separator string
}

// Manager is the entry point used by chat adapters and the control API.
type Manager struct {
	transport  domain.VoiceTransport
	synth      domain.Synthesizer
	normalizer *Normalizer
	voices     domain.VoiceSettingsRepository
	registry   *Registry
	publisher  Publisher
	logger     *log.Logger
	joins      callLocks

	joinTimeout      time.Duration
	synthesisTimeout time.Duration
	playbackTimeout  time.Duration
	separator        string
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Transport == nil {
		return nil, errors.New("readaloud: voice transport is required")
	}
	if cfg.Synthesizer == nil {
		return nil, errors.New("readaloud: synthesizer is required")
	}
	if cfg.Normalizer == nil {
		cfg.Normalizer = NewNormalizer(NormalizerConfig{})
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	if cfg.Separator == "" {
		cfg.Separator = DefaultSeparator
	}

	return &Manager{
		transport:        cfg.Transport,
		synth:            cfg.Synthesizer,
		normalizer:       cfg.Normalizer,
		voices:           cfg.Voices,
		registry:         NewRegistry(),
		publisher:        cfg.Publisher,
		logger:           cfg.Logger.WithPrefix("readaloud"),
		joinTimeout:      cfg.JoinTimeout,
		synthesisTimeout: cfg.SynthesisTimeout,
		playbackTimeout:  cfg.PlaybackTimeout,
		separator:        cfg.Separator,
	}, nil
}

// Join connects to the voice channel in loc and starts reading loc's text
// channel. A session already running for the guild is replaced and its
// connection torn down. Joins for the same guild run one at a time; time
// spent waiting counts against the join timeout. Failures are returned as
// *domain.JoinError.
func (m *Manager) Join(ctx context.Context, loc domain.CallLocation) (*Session, error) {
	if !loc.Valid() {
		return nil, &domain.JoinError{GuildID: loc.GuildID, Err: domain.ErrNoVoiceChannel}
	}

	joinCtx, cancel := context.WithTimeout(ctx, m.joinTimeout)
	defer cancel()

	// the transport may share one gateway connection per guild, so a second
	// Connect must not start before the first session is registered
	unlock, err := m.joins.acquire(joinCtx, loc.GuildID)
	if err != nil {
		return nil, &domain.JoinError{GuildID: loc.GuildID, Err: err}
	}
	defer unlock()

	conn, err := m.transport.Connect(joinCtx, loc)
	if err != nil {
		return nil, &domain.JoinError{GuildID: loc.GuildID, Err: err}
	}

	player, err := conn.Subscribe()
	if err != nil {
		if derr := conn.Destroy(); derr != nil {
			m.logger.Warn("destroy after failed subscribe", "guild", loc.GuildID, "error", derr)
		}
		return nil, &domain.JoinError{GuildID: loc.GuildID, Err: fmt.Errorf("subscribe: %w", err)}
	}

	synth, voice := m.synthesizerFor(ctx, loc.GuildID)

	session := newSession(sessionConfig{
		ID:               uuid.NewString(),
		CallID:           loc.GuildID,
		ChannelID:        loc.TextChannelID,
		Voice:            voice,
		Conn:             conn,
		Player:           player,
		Synthesizer:      synth,
		IsCurrent:        m.registry.IsCurrent,
		SynthesisTimeout: m.synthesisTimeout,
		PlaybackTimeout:  m.playbackTimeout,
		Publisher:        m.publisher,
		Logger:           m.logger,
	})

	if prev := m.registry.Swap(loc.GuildID, session); prev != nil {
		m.logger.Info("replacing session", "guild", loc.GuildID, "previous", prev.ID())
		m.closeDetached(prev)
	}

	go m.watch(session, conn.Done())

	m.logger.Info("joined",
		"guild", loc.GuildID,
		"voice_channel", loc.VoiceChannelID,
		"text_channel", loc.TextChannelID,
		"session", session.ID(),
	)
	if m.publisher != nil {
		m.publisher.Publish(events.TopicReadAloudStatus, session.Status())
	}
	return session, nil
}

// Leave disconnects from callID. Leaving a call without a session is a no-op.
func (m *Manager) Leave(callID string) error {
	session := m.registry.Remove(callID)
	if session == nil {
		return nil
	}
	if err := session.Close(); err != nil {
		return fmt.Errorf("leave %s: %w", callID, err)
	}
	m.logger.Info("left", "guild", callID, "session", session.ID())
	return nil
}

// HandleMessage queues a chat message for reading. It reports whether the
// message was queued; messages for calls without a session, from other text
// channels, or with nothing speakable are ignored.
func (m *Manager) HandleMessage(callID, channelID, authorLabel, rawText string) bool {
	session := m.registry.Get(callID)
	if session == nil {
		return false
	}
	if channelID != session.ChannelID() {
		return false
	}

	text := m.normalizer.Normalize(rawText)
	if text == "" {
		return false
	}

	return session.Enqueue(m.compose(authorLabel, text))
}

// HandleChatMessage adapts domain.Message to HandleMessage and drops messages
// written by bots.
func (m *Manager) HandleChatMessage(_ context.Context, msg domain.Message) error {
	if msg.IsBot {
		return nil
	}
	m.HandleMessage(msg.GuildID, msg.ChannelID, msg.SpeakerLabel(), msg.Text)
	return nil
}

// Session returns the live session for callID, or nil.
func (m *Manager) Session(callID string) *Session {
	return m.registry.Get(callID)
}

func (m *Manager) Status() []events.SessionStatusDTO {
	sessions := m.registry.List()
	out := make([]events.SessionStatusDTO, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	return out
}

// SetVoice stores the speaker for guildID. It applies from the next join.
func (m *Manager) SetVoice(ctx context.Context, guildID, voice string) error {
	if m.voices == nil {
		return errors.New("readaloud: voice settings are not configured")
	}
	guildID = strings.TrimSpace(guildID)
	voice = strings.TrimSpace(voice)
	if guildID == "" {
		return errors.New("readaloud: guild id is required")
	}
	if err := m.voices.SetGuildVoice(ctx, guildID, voice); err != nil {
		return fmt.Errorf("readaloud: save voice: %w", err)
	}
	return nil
}

// Voice returns the speaker stored for guildID, or "" for the default.
func (m *Manager) Voice(ctx context.Context, guildID string) (string, error) {
	if m.voices == nil {
		return "", nil
	}
	return m.voices.GetGuildVoice(ctx, guildID)
}

// Shutdown closes every session.
func (m *Manager) Shutdown() {
	for _, s := range m.registry.List() {
		if m.registry.RemoveIf(s.CallID(), s) {
			if err := s.Close(); err != nil {
				m.logger.Warn("close on shutdown", "guild", s.CallID(), "error", err)
			}
		}
	}
}

func (m *Manager) compose(label, text string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return text
	}
	return label + m.separator + text
}

func (m *Manager) synthesizerFor(ctx context.Context, guildID string) (domain.Synthesizer, string) {
	if m.voices == nil {
		return m.synth, ""
	}
	voice, err := m.voices.GetGuildVoice(ctx, guildID)
	if err != nil {
		m.logger.Warn("load guild voice", "guild", guildID, "error", err)
		return m.synth, ""
	}
	if voice == "" {
		return m.synth, ""
	}
	selector, ok := m.synth.(domain.VoiceSelector)
	if !ok {
		return m.synth, ""
	}
	return selector.WithVoice(voice), voice
}

// watch tears the session down when its connection drops. Connections that
// end because the session was replaced or left are ignored.
func (m *Manager) watch(s *Session, done <-chan struct{}) {
	if done == nil {
		return
	}
	<-done
	if !m.registry.RemoveIf(s.CallID(), s) {
		return
	}
	m.logger.Warn("connection lost", "guild", s.CallID(), "session", s.ID())
	if m.publisher != nil {
		m.publisher.Publish(events.TopicAppError, events.AppErrorDTO{
			Source: "voice",
			CallID: s.CallID(),
			Error:  domain.ErrConnectionLost.Error(),
		})
	}
	if err := s.Close(); err != nil {
		m.logger.Debug("destroy lost connection", "guild", s.CallID(), "error", err)
	}
}

func (m *Manager) closeDetached(s *Session) {
	if err := s.Close(); err != nil {
		m.logger.Warn("tear down replaced session", "guild", s.CallID(), "session", s.ID(), "error", err)
	}
}

// callLocks hands out one lock per call ID. Entries are dropped once nobody
// holds or waits for them.
type callLocks struct {
	mu    sync.Mutex
	locks map[string]*callLock
}

type callLock struct {
	sem  chan struct{}
	refs int
}

func (l *callLocks) acquire(ctx context.Context, callID string) (func(), error) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*callLock)
	}
	lk, ok := l.locks[callID]
	if !ok {
		lk = &callLock{sem: make(chan struct{}, 1)}
		l.locks[callID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.sem <- struct{}{}:
		return func() {
			<-lk.sem
			l.unref(callID, lk)
		}, nil
	case <-ctx.Done():
		l.unref(callID, lk)
		return nil, ctx.Err()
	}
}

func (l *callLocks) unref(callID string, lk *callLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, callID)
	}
}

func (l *callLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
