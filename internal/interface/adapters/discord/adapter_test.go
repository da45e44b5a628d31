package discordadapter

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"

	"voxBot/internal/domain"
)

func messageCreate(guild string, author *discordgo.User, member *discordgo.Member, content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		GuildID:   guild,
		ChannelID: "text-1",
		Author:    author,
		Member:    member,
		Content:   content,
	}}
}

func TestToDomain_Label(t *testing.T) {
	tests := []struct {
		name   string
		author *discordgo.User
		member *discordgo.Member
		want   string
	}{
		{"nickname wins", &discordgo.User{ID: "1", Username: "alice", GlobalName: "Alice"}, &discordgo.Member{Nick: "Ali"}, "Ali"},
		{"global name", &discordgo.User{ID: "1", Username: "alice", GlobalName: "Alice"}, &discordgo.Member{}, "Alice"},
		{"username", &discordgo.User{ID: "1", Username: "alice"}, nil, "alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := toDomain(messageCreate("g1", tt.author, tt.member, "hi"))
			if got := msg.SpeakerLabel(); got != tt.want {
				t.Fatalf("label = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDispatch_Filters(t *testing.T) {
	a := NewAdapter(&discordgo.Session{}, nil)
	var calls int
	a.SetHandler(func(context.Context, domain.Message) error {
		calls++
		return nil
	})

	user := &discordgo.User{ID: "1", Username: "alice"}
	_ = a.dispatch(context.Background(), messageCreate("", user, nil, "dm"))
	_ = a.dispatch(context.Background(), &discordgo.MessageCreate{Message: &discordgo.Message{GuildID: "g1"}})
	if calls != 0 {
		t.Fatalf("direct and authorless messages must be ignored, got %d calls", calls)
	}

	_ = a.dispatch(context.Background(), messageCreate("g1", user, nil, "hello"))
	if calls != 1 {
		t.Fatalf("expected guild message to reach the handler, got %d calls", calls)
	}

	bot := toDomain(messageCreate("g1", &discordgo.User{ID: "2", Bot: true}, nil, "beep"))
	if !bot.IsBot {
		t.Fatal("bot authors must be flagged")
	}
}

func TestNewSession(t *testing.T) {
	if _, err := NewSession(""); err == nil {
		t.Fatal("expected error for empty token")
	}
	s, err := NewSession("token")
	if err != nil {
		t.Fatal(err)
	}
	if s.Identify.Intents&discordgo.IntentsMessageContent == 0 || s.Identify.Intents&discordgo.IntentsGuildVoiceStates == 0 {
		t.Fatalf("missing intents: %b", s.Identify.Intents)
	}
}
