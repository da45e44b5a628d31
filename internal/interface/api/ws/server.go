package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"voxBot/internal/app/events"
	"voxBot/internal/domain"
)

const TypeSnapshot = "readaloud:snapshot"

// forwardedTopics are pushed to every connected client.
var forwardedTopics = []string{
	events.TopicReadAloudStatus,
	events.TopicReadAloudSpoken,
	events.TopicAppError,
}

type Subscriber interface {
	Subscribe(topic string) (<-chan any, func())
}

// Server exposes the read-aloud control API and streams engine events to
// WebSocket clients.
type Server struct {
	addr     string
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	httpSrv   *http.Server
	api       *apiHandlers
	events    Subscriber
	readAloud ReadAloudController
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(v)
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithPrefix("ws")

	return &Server{
		addr: cfg.addr(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:    logger,
		clients:   make(map[*wsClient]struct{}),
		api:       newAPIHandlers(cfg, logger),
		events:    cfg.Events,
		readAloud: cfg.ReadAloud,
	}
}

// Handler returns the HTTP routes. Client goroutines stop when ctx ends.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/readaloud", func(w http.ResponseWriter, r *http.Request) {
		s.handleWS(ctx, w, r)
	})
	s.api.register(mux)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			setCORSHeaders(w)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		mux.ServeHTTP(w, r)
	})
}

// Start serves until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	if s.events != nil {
		s.forwardEvents(ctx)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("shutdown", "error", err)
		}
		s.closeClients()
	}()

	s.logger.Info("listening", "addr", s.addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// forwardEvents subscribes to the forwarded topics and relays their events
// to clients until ctx ends or the bus closes. Subscriptions are in place
// when it returns.
func (s *Server) forwardEvents(ctx context.Context) {
	for _, topic := range forwardedTopics {
		ch, unsubscribe := s.events.Subscribe(topic)

		go func(topic string, ch <-chan any, unsubscribe func()) {
			defer unsubscribe()
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-ch:
					if !ok {
						return
					}
					s.Broadcast(topic, payload)
				}
			}
		}(topic, ch, unsubscribe)
	}
}

// Broadcast writes one envelope to every client, dropping clients whose
// write fails.
func (s *Server) Broadcast(typ string, data any) {
	payload, err := json.Marshal(envelope{Type: typ, Data: data})
	if err != nil {
		s.logger.Warn("encode event", "type", typ, "error", err)
		return
	}

	s.mu.RLock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		if err := c.writeJSON(json.RawMessage(payload)); err != nil {
			s.logger.Debug("removing client after write error", "error", err)
			s.removeClient(c)
		}
	}
}

func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWS(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade", "error", err)
		return
	}

	client := &wsClient{conn: conn}

	if s.readAloud != nil {
		if err := client.writeJSON(envelope{Type: TypeSnapshot, Data: s.readAloud.Status()}); err != nil {
			conn.Close()
			return
		}
	}

	s.mu.Lock()
	s.clients[client] = struct{}{}
	clientCount := len(s.clients)
	s.mu.Unlock()

	s.logger.Info("client connected", "remote", r.RemoteAddr, "clients", clientCount)

	go s.handleClient(ctx, client)
}

func (s *Server) handleClient(ctx context.Context, client *wsClient) {
	defer func() {
		s.removeClient(client)
		s.logger.Info("client disconnected", "clients", s.ClientCount())
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgType, data, err := client.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("read", "error", err)
			}
			return
		}

		if msgType != websocket.TextMessage {
			continue
		}

		if err := s.dispatchIncoming(ctx, data); err != nil {
			s.logger.Debug("incoming message", "error", err)
		}
	}
}

type incomingPayload struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	Username  string `json:"username"`
	Text      string `json:"text"`
}

// dispatchIncoming reads a chat line typed into the control page aloud, as
// if it had been posted in the bound text channel.
func (s *Server) dispatchIncoming(ctx context.Context, data []byte) error {
	if s.readAloud == nil {
		return nil
	}

	var payload incomingPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("ws: invalid payload: %w", err)
	}
	payload.Text = strings.TrimSpace(payload.Text)
	if payload.Text == "" {
		return fmt.Errorf("ws: empty incoming text")
	}
	username := strings.TrimSpace(payload.Username)
	if username == "" {
		username = "web-user"
	}

	return s.readAloud.HandleChatMessage(ctx, domain.Message{
		Platform:  domain.PlatformWeb,
		GuildID:   strings.TrimSpace(payload.GuildID),
		ChannelID: strings.TrimSpace(payload.ChannelID),
		UserID:    "web",
		Username:  username,
		Text:      payload.Text,
	})
}

func (s *Server) removeClient(c *wsClient) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[*wsClient]struct{})
	s.mu.Unlock()
	for c := range clients {
		c.conn.Close()
	}
}
