package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"voxBot/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "voxbot.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_GuildVoices(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if v, err := s.GetGuildVoice(ctx, "g1"); err != nil || v != "" {
		t.Fatalf("empty store: %q, %v", v, err)
	}

	if err := s.SetGuildVoice(ctx, "g1", "3"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetGuildVoice(ctx, "g1", " 8 "); err != nil {
		t.Fatal(err)
	}
	if err := s.SetGuildVoice(ctx, "g2", "2"); err != nil {
		t.Fatal(err)
	}

	if v, _ := s.GetGuildVoice(ctx, "g1"); v != "8" {
		t.Fatalf("g1 voice = %q", v)
	}
	if v, _ := s.GetGuildVoice(ctx, "g2"); v != "2" {
		t.Fatalf("g2 voice = %q", v)
	}

	if err := s.SetGuildVoice(ctx, "g1", ""); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.GetGuildVoice(ctx, "g1"); v != "" {
		t.Fatalf("expected cleared voice, got %q", v)
	}

	if err := s.SetGuildVoice(ctx, " ", "1"); err == nil {
		t.Fatal("expected error for empty guild id")
	}
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxbot.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetGuildVoice(context.Background(), "g1", "5"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if v, _ := s.GetGuildVoice(context.Background(), "g1"); v != "5" {
		t.Fatalf("voice after reopen = %q", v)
	}
}

func TestStore_Schema(t *testing.T) {
	s := openTestStore(t)

	rows, err := s.db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name;`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatal(err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		t.Fatal(err)
	}
	if len(tables) != 2 || tables[0] != "guild_voices" || tables[1] != "spoken_history" {
		t.Fatalf("tables = %v", tables)
	}
}

func TestStore_SpokenHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	entries := []*domain.SpokenEntry{
		{SessionID: "s1", CallID: "g1", OK: true, Text: "first", AudioBytes: 10, CreatedAt: base},
		{SessionID: "s1", CallID: "g1", OK: false, Error: "synthesis failed: 500", Text: "second", CreatedAt: base.Add(time.Second)},
		{SessionID: "s2", CallID: "g2", OK: true, Text: "other", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := s.SaveSpoken(ctx, e); err != nil {
			t.Fatal(err)
		}
		if e.ID == 0 {
			t.Fatal("expected an id to be assigned")
		}
	}

	got, err := s.ListSpoken(ctx, "g1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Text != "second" || got[1].Text != "first" {
		t.Fatalf("unexpected g1 history: %+v", got)
	}
	if got[0].OK || got[0].Error == "" {
		t.Fatalf("failure not kept: %+v", got[0])
	}

	all, err := s.ListSpoken(ctx, "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].CallID != "g2" {
		t.Fatalf("unexpected history: %+v", all)
	}
}
