// Package twitchadapter feeds Twitch chat into the read-aloud engine.
package twitchadapter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/adeithe/go-twitch/irc"
	"github.com/charmbracelet/log"

	"voxBot/internal/domain"
)

type Config struct {
	Username   string
	OAuthToken string
	Channels   []string
	// CallID is the read-aloud call every channel's chat is routed to.
	CallID string
	Logger *log.Logger
}

type MessageHandler func(ctx context.Context, msg domain.Message) error

type Adapter struct {
	cfg     Config
	logger  *log.Logger
	handler MessageHandler

	mu   sync.RWMutex
	conn *irc.Conn
}

func NewAdapter(cfg Config) *Adapter {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Adapter{cfg: cfg, logger: logger.WithPrefix("twitch")}
}

func (a *Adapter) SetHandler(h MessageHandler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// Start connects, joins the configured channels and blocks until ctx ends.
func (a *Adapter) Start(ctx context.Context) error {
	if len(a.cfg.Channels) == 0 {
		return errors.New("twitch: no channels configured")
	}
	if a.cfg.Username == "" || a.cfg.OAuthToken == "" {
		return errors.New("twitch: username or oauth token missing")
	}

	conn := &irc.Conn{}

	if err := conn.SetLogin(a.cfg.Username, a.cfg.OAuthToken); err != nil {
		return fmt.Errorf("twitch: SetLogin: %w", err)
	}

	conn.OnMessage(func(cm irc.ChatMessage) {
		if err := a.dispatch(ctx, cm); err != nil {
			a.logger.Warn("handler failed", "channel", cm.Channel, "error", err)
		}
	})

	if err := conn.Connect(); err != nil {
		return fmt.Errorf("twitch: Connect: %w", err)
	}

	if err := conn.Join(a.cfg.Channels...); err != nil {
		conn.Close()
		return fmt.Errorf("twitch: Join: %w", err)
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	a.logger.Info("connected", "user", a.cfg.Username, "channels", a.cfg.Channels)

	<-ctx.Done()

	a.mu.Lock()
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
	a.mu.Unlock()

	return ctx.Err()
}

func (a *Adapter) dispatch(ctx context.Context, cm irc.ChatMessage) error {
	a.mu.RLock()
	handler := a.handler
	a.mu.RUnlock()
	if handler == nil {
		return nil
	}
	return handler(ctx, a.toDomain(cm))
}

func (a *Adapter) toDomain(cm irc.ChatMessage) domain.Message {
	sender := cm.Sender

	return domain.Message{
		Platform:    domain.PlatformTwitch,
		GuildID:     a.cfg.CallID,
		ChannelID:   strings.TrimPrefix(strings.ToLower(cm.Channel), "#"),
		UserID:      strconv.FormatInt(sender.ID, 10),
		Username:    sender.Username,
		DisplayName: sender.DisplayName,
		Text:        cm.Text,
		// the bot's own chat lines must not be read back; display names can
		// be localized, so compare the login
		IsBot: strings.EqualFold(sender.Username, a.cfg.Username),
	}
}
