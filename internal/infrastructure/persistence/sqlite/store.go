package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"voxBot/internal/domain"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates the database file (and its directory) when missing and runs
// the migrations. ":memory:" opens a private in-memory database.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite: empty db path")
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: creating dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	const guildVoicesTable = `
CREATE TABLE IF NOT EXISTS guild_voices (
	guild_id TEXT PRIMARY KEY,
	voice TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

	if _, err := db.Exec(guildVoicesTable); err != nil {
		return fmt.Errorf("sqlite: migrate guild_voices: %w", err)
	}

	const spokenTable = `
CREATE TABLE IF NOT EXISTS spoken_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	call_id TEXT NOT NULL,
	ok INTEGER NOT NULL,
	error TEXT,
	text TEXT,
	audio_bytes INTEGER,
	synthesis_ms INTEGER,
	playback_ms INTEGER,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_spoken_history_call ON spoken_history(call_id, created_at DESC);`

	if _, err := db.Exec(spokenTable); err != nil {
		return fmt.Errorf("sqlite: migrate spoken_history: %w", err)
	}

	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ----- Guild voices -----

func (s *Store) SetGuildVoice(ctx context.Context, guildID, voice string) error {
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return fmt.Errorf("sqlite: empty guild id")
	}

	voice = strings.TrimSpace(voice)
	if voice == "" {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM guild_voices WHERE guild_id = ?;`, guildID); err != nil {
			return fmt.Errorf("sqlite: clear guild voice: %w", err)
		}
		return nil
	}

	const stmt = `
INSERT INTO guild_voices (guild_id, voice, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(guild_id) DO UPDATE SET
	voice=excluded.voice,
	updated_at=excluded.updated_at;
`

	if _, err := s.db.ExecContext(ctx, stmt, guildID, voice, s.now().UTC()); err != nil {
		return fmt.Errorf("sqlite: set guild voice: %w", err)
	}
	return nil
}

// GetGuildVoice returns "" when no voice is stored for guildID.
func (s *Store) GetGuildVoice(ctx context.Context, guildID string) (string, error) {
	const query = `SELECT voice FROM guild_voices WHERE guild_id = ? LIMIT 1;`

	var voice string
	if err := s.db.QueryRowContext(ctx, query, strings.TrimSpace(guildID)).Scan(&voice); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("sqlite: get guild voice: %w", err)
	}
	return voice, nil
}

// ----- Spoken history -----

func (s *Store) SaveSpoken(ctx context.Context, entry *domain.SpokenEntry) error {
	if entry == nil {
		return fmt.Errorf("sqlite: spoken entry nil")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}

	const stmt = `
INSERT INTO spoken_history (session_id, call_id, ok, error, text, audio_bytes, synthesis_ms, playback_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
`

	res, err := s.db.ExecContext(ctx, stmt,
		entry.SessionID,
		entry.CallID,
		entry.OK,
		entry.Error,
		entry.Text,
		entry.AudioBytes,
		entry.SynthesisMS,
		entry.PlaybackMS,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: save spoken: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// ListSpoken returns the newest entries first. An empty callID lists every
// call.
func (s *Store) ListSpoken(ctx context.Context, callID string, limit int) ([]*domain.SpokenEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
SELECT id, session_id, call_id, ok, error, text, audio_bytes, synthesis_ms, playback_ms, created_at
FROM spoken_history`
	args := []any{}
	if callID != "" {
		query += ` WHERE call_id = ?`
		args = append(args, callID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?;`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list spoken: %w", err)
	}
	defer rows.Close()

	var out []*domain.SpokenEntry
	for rows.Next() {
		var (
			e       domain.SpokenEntry
			errText sql.NullString
			text    sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.CallID, &e.OK, &errText, &text,
			&e.AudioBytes, &e.SynthesisMS, &e.PlaybackMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan spoken: %w", err)
		}
		e.Error = errText.String
		e.Text = text.String
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list spoken: %w", err)
	}
	return out, nil
}

var (
	_ domain.VoiceSettingsRepository = (*Store)(nil)
	_ domain.SpokenHistoryRepository = (*Store)(nil)
)
