// Package discord joins Discord voice channels and streams synthesized audio
// into them as Opus.
package discord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"

	"voxBot/internal/domain"
)

// Transport opens one voice connection per guild on a shared gateway
// session. A connection is reported lost when the bot's own voice state
// leaves every channel.
type Transport struct {
	session *discordgo.Session
	ffmpeg  string
	logger  *log.Logger

	mu    sync.Mutex
	conns map[string]*Connection

	removeHandler func()
}

func NewTransport(session *discordgo.Session, ffmpegPath string, logger *log.Logger) *Transport {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if logger == nil {
		logger = log.Default()
	}
	t := &Transport{
		session: session,
		ffmpeg:  ffmpegPath,
		logger:  logger.WithPrefix("discord-voice"),
		conns:   make(map[string]*Connection),
	}
	t.removeHandler = session.AddHandler(t.handleVoiceState)
	return t
}

type joinResult struct {
	vc  *discordgo.VoiceConnection
	err error
}

func (t *Transport) Connect(ctx context.Context, loc domain.CallLocation) (domain.VoiceConnection, error) {
	if !loc.Valid() {
		return nil, domain.ErrNoVoiceChannel
	}

	results := make(chan joinResult, 1)
	go func() {
		vc, err := t.session.ChannelVoiceJoin(loc.GuildID, loc.VoiceChannelID, false, true)
		results <- joinResult{vc: vc, err: err}
	}()

	var res joinResult
	select {
	case res = <-results:
	case <-ctx.Done():
		go t.abandon(loc.GuildID, results)
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, fmt.Errorf("voice join: %w", res.err)
	}

	if err := waitReady(ctx, res.vc); err != nil {
		t.disconnectIfUnowned(loc.GuildID, res.vc)
		return nil, err
	}

	conn := &Connection{
		transport: t,
		guildID:   loc.GuildID,
		channelID: loc.VoiceChannelID,
		vc:        res.vc,
		done:      make(chan struct{}),
	}

	t.mu.Lock()
	t.conns[loc.GuildID] = conn
	t.mu.Unlock()

	t.logger.Debug("voice ready", "guild", loc.GuildID, "channel", loc.VoiceChannelID)
	return conn, nil
}

// Close stops loss tracking and disconnects every open connection.
func (t *Transport) Close() {
	if t.removeHandler != nil {
		t.removeHandler()
	}
	t.mu.Lock()
	conns := make([]*Connection, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	for _, c := range conns {
		if err := c.Destroy(); err != nil {
			t.logger.Debug("disconnect on close", "guild", c.guildID, "error", err)
		}
	}
}

// abandon waits for a join that outlived its caller and drops the
// connection unless a live session already owns the guild.
func (t *Transport) abandon(guildID string, results <-chan joinResult) {
	res := <-results
	if res.vc != nil {
		t.disconnectIfUnowned(guildID, res.vc)
	}
}

func (t *Transport) disconnectIfUnowned(guildID string, vc *discordgo.VoiceConnection) {
	t.mu.Lock()
	_, owned := t.conns[guildID]
	t.mu.Unlock()
	if owned {
		return
	}
	if err := vc.Disconnect(); err != nil {
		t.logger.Debug("disconnect abandoned join", "guild", guildID, "error", err)
	}
}

// release forgets c and reports whether it was still the guild's active
// connection. discordgo shares one VoiceConnection per guild, so only the
// active connection may disconnect it.
func (t *Transport) release(c *Connection) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conns[c.guildID] != c {
		return false
	}
	delete(t.conns, c.guildID)
	return true
}

func (t *Transport) handleVoiceState(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if vs == nil || vs.VoiceState == nil {
		return
	}
	if s == nil || s.State == nil || s.State.User == nil || vs.UserID != s.State.User.ID {
		return
	}
	if vs.ChannelID != "" {
		return
	}

	t.mu.Lock()
	conn := t.conns[vs.GuildID]
	t.mu.Unlock()
	if conn == nil {
		return
	}
	t.logger.Warn("voice state cleared", "guild", vs.GuildID)
	conn.markLost()
}

func waitReady(ctx context.Context, vc *discordgo.VoiceConnection) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		vc.RLock()
		ready := vc.Ready
		vc.RUnlock()
		if ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("voice not ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Connection is one guild's voice link.
type Connection struct {
	transport *Transport
	guildID   string
	channelID string
	vc        *discordgo.VoiceConnection

	done        chan struct{}
	doneOnce    sync.Once
	destroyOnce sync.Once
	destroyErr  error

	// playMu serializes writers on vc.OpusSend.
	playMu sync.Mutex
}

func (c *Connection) Subscribe() (domain.AudioPlayer, error) {
	enc, err := newEncoder()
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	return &Player{conn: c, encoder: enc, ffmpeg: c.transport.ffmpeg, logger: c.transport.logger}, nil
}

func (c *Connection) Destroy() error {
	c.destroyOnce.Do(func() {
		if c.transport.release(c) && c.vc != nil {
			c.destroyErr = c.vc.Disconnect()
		}
		c.markLost()
	})
	return c.destroyErr
}

func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) markLost() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Connection) lost() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
