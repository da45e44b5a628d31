package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"voxBot/internal/app/events"
	"voxBot/internal/domain"
	"voxBot/internal/usecase/readaloud"
)

type Config struct {
	Addr      string
	ReadAloud ReadAloudController
	// Voices and History are optional; their endpoints are only registered
	// when set.
	Voices  VoiceLister
	History HistoryReader
	Events  Subscriber
	Logger  *log.Logger
}

func (c *Config) addr() string {
	if c == nil || c.Addr == "" {
		return ":8080"
	}
	return c.Addr
}

// ReadAloudController is implemented by *readaloud.Manager.
type ReadAloudController interface {
	Join(ctx context.Context, loc domain.CallLocation) (*readaloud.Session, error)
	Leave(callID string) error
	Status() []events.SessionStatusDTO
	SetVoice(ctx context.Context, guildID, voice string) error
	Voice(ctx context.Context, guildID string) (string, error)
	HandleChatMessage(ctx context.Context, msg domain.Message) error
}

type VoiceOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type VoiceLister func(ctx context.Context) ([]VoiceOption, error)

type HistoryReader interface {
	List(ctx context.Context, callID string, limit int) ([]*domain.SpokenEntry, error)
}

type apiHandlers struct {
	readAloud ReadAloudController
	voices    VoiceLister
	history   HistoryReader
	logger    *log.Logger
}

func newAPIHandlers(cfg Config, logger *log.Logger) *apiHandlers {
	return &apiHandlers{
		readAloud: cfg.ReadAloud,
		voices:    cfg.Voices,
		history:   cfg.History,
		logger:    logger,
	}
}

func (a *apiHandlers) register(mux *http.ServeMux) {
	if a == nil || mux == nil || a.readAloud == nil {
		return
	}

	mux.HandleFunc("/api/readaloud/join", a.withCORS(a.handleJoin))
	mux.HandleFunc("/api/readaloud/leave", a.withCORS(a.handleLeave))
	mux.HandleFunc("/api/readaloud/status", a.withCORS(a.handleStatus))
	mux.HandleFunc("/api/readaloud/voice", a.withCORS(a.handleVoice))
	if a.voices != nil {
		mux.HandleFunc("/api/readaloud/voices", a.withCORS(a.handleVoices))
	}
	if a.history != nil {
		mux.HandleFunc("/api/readaloud/history", a.withCORS(a.handleHistory))
	}
}

func (a *apiHandlers) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
}

type joinRequest struct {
	GuildID        string `json:"guild_id"`
	VoiceChannelID string `json:"voice_channel_id"`
	TextChannelID  string `json:"text_channel_id"`
}

type leaveRequest struct {
	GuildID string `json:"guild_id"`
}

type voiceRequest struct {
	GuildID string `json:"guild_id"`
	Voice   string `json:"voice"`
}

type voiceResponse struct {
	GuildID string `json:"guild_id"`
	Voice   string `json:"voice"`
}

type historyEntry struct {
	SessionID   string `json:"session_id"`
	CallID      string `json:"call_id"`
	OK          bool   `json:"ok"`
	Error       string `json:"error,omitempty"`
	Text        string `json:"text"`
	AudioBytes  int    `json:"audio_bytes"`
	SynthesisMS int64  `json:"synthesis_ms"`
	PlaybackMS  int64  `json:"playback_ms"`
	CreatedAt   string `json:"created_at"`
}

func (a *apiHandlers) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	defer r.Body.Close()
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	loc := domain.CallLocation{
		GuildID:        strings.TrimSpace(req.GuildID),
		VoiceChannelID: strings.TrimSpace(req.VoiceChannelID),
		TextChannelID:  strings.TrimSpace(req.TextChannelID),
	}
	session, err := a.readAloud.Join(r.Context(), loc)
	if err != nil {
		a.logger.Warn("join failed", "guild", loc.GuildID, "error", err)
		writeError(w, joinStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session.Status())
}

func joinStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNoVoiceChannel):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (a *apiHandlers) handleLeave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	defer r.Body.Close()
	var req leaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	guildID := strings.TrimSpace(req.GuildID)
	if guildID == "" {
		writeError(w, http.StatusBadRequest, "guild_id is required")
		return
	}

	if err := a.readAloud.Leave(guildID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *apiHandlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.readAloud.Status())
}

func (a *apiHandlers) handleVoice(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		guildID := strings.TrimSpace(r.URL.Query().Get("guild_id"))
		if guildID == "" {
			writeError(w, http.StatusBadRequest, "guild_id is required")
			return
		}
		voice, err := a.readAloud.Voice(r.Context(), guildID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, voiceResponse{GuildID: guildID, Voice: voice})

	case http.MethodPost:
		defer r.Body.Close()
		var req voiceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		guildID := strings.TrimSpace(req.GuildID)
		if guildID == "" {
			writeError(w, http.StatusBadRequest, "guild_id is required")
			return
		}
		if err := a.readAloud.SetVoice(r.Context(), guildID, req.Voice); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, voiceResponse{GuildID: guildID, Voice: strings.TrimSpace(req.Voice)})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (a *apiHandlers) handleVoices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	voices, err := a.voices(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, voices)
}

func (a *apiHandlers) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := a.history.List(r.Context(), strings.TrimSpace(r.URL.Query().Get("call_id")), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{
			SessionID:   e.SessionID,
			CallID:      e.CallID,
			OK:          e.OK,
			Error:       e.Error,
			Text:        e.Text,
			AudioBytes:  e.AudioBytes,
			SynthesisMS: e.SynthesisMS,
			PlaybackMS:  e.PlaybackMS,
			CreatedAt:   events.Timestamp(e.CreatedAt),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
