// Package discordadapter feeds Discord guild chat into the read-aloud engine.
package discordadapter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"

	"voxBot/internal/domain"
)

type MessageHandler func(ctx context.Context, msg domain.Message) error

type Adapter struct {
	session *discordgo.Session
	logger  *log.Logger

	mu      sync.RWMutex
	handler MessageHandler
}

func NewAdapter(session *discordgo.Session, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.Default()
	}
	return &Adapter{session: session, logger: logger.WithPrefix("discord")}
}

// NewSession builds a gateway session with the intents read-aloud needs.
func NewSession(token string) (*discordgo.Session, error) {
	if token == "" {
		return nil, errors.New("discord: empty bot token")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent
	return s, nil
}

func (a *Adapter) SetHandler(h MessageHandler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// Start opens the gateway and blocks until ctx ends.
func (a *Adapter) Start(ctx context.Context) error {
	remove := a.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if err := a.dispatch(ctx, m); err != nil {
			a.logger.Warn("handler failed", "guild", m.GuildID, "channel", m.ChannelID, "error", err)
		}
	})
	defer remove()

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("discord: open: %w", err)
	}
	a.logger.Info("connected")

	<-ctx.Done()

	if err := a.session.Close(); err != nil {
		a.logger.Debug("close gateway", "error", err)
	}
	return ctx.Err()
}

func (a *Adapter) dispatch(ctx context.Context, m *discordgo.MessageCreate) error {
	if m == nil || m.Message == nil || m.Author == nil {
		return nil
	}
	// direct messages have no call to read into
	if m.GuildID == "" {
		return nil
	}

	a.mu.RLock()
	handler := a.handler
	a.mu.RUnlock()
	if handler == nil {
		return nil
	}
	return handler(ctx, toDomain(m))
}

func toDomain(m *discordgo.MessageCreate) domain.Message {
	msg := domain.Message{
		Platform:  domain.PlatformDiscord,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		Username:  m.Author.Username,
		Text:      m.Content,
		IsBot:     m.Author.Bot,
	}
	switch {
	case m.Member != nil && m.Member.Nick != "":
		msg.DisplayName = m.Member.Nick
	case m.Author.GlobalName != "":
		msg.DisplayName = m.Author.GlobalName
	}
	return msg
}
