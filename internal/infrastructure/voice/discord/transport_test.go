package discord

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"
)

type countingEncoder struct {
	frames  int
	lastPCM []int16
}

func (e *countingEncoder) Encode(pcm []int16, size, _ int) ([]byte, error) {
	if size != frameSize || len(pcm) != frameSize*channels {
		return nil, errors.New("unexpected frame shape")
	}
	e.frames++
	e.lastPCM = append(e.lastPCM[:0], pcm...)
	return []byte{byte(e.frames)}, nil
}

func pcmBytes(samples int, value int16) []byte {
	var buf bytes.Buffer
	for i := 0; i < samples; i++ {
		_ = binary.Write(&buf, binary.LittleEndian, value)
	}
	return buf.Bytes()
}

func TestStreamFrames(t *testing.T) {
	// two full frames and half of a third
	input := pcmBytes(frameSize*channels*5/2, 7)
	enc := &countingEncoder{}
	var sent [][]byte

	err := streamFrames(context.Background(), bytes.NewReader(input), enc, func(frame []byte) error {
		sent = append(sent, frame)
		return nil
	})
	if err != nil {
		t.Fatalf("streamFrames: %v", err)
	}
	if len(sent) != 2 {
		t.Fatalf("expected 2 frames, sent %d", len(sent))
	}
	if enc.lastPCM[0] != 7 {
		t.Fatalf("pcm not decoded little-endian: %d", enc.lastPCM[0])
	}
}

func TestStreamFrames_StopsOnSendError(t *testing.T) {
	input := pcmBytes(frameSize*channels*4, 1)
	enc := &countingEncoder{}
	stop := errors.New("gone")

	err := streamFrames(context.Background(), bytes.NewReader(input), enc, func([]byte) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("expected send error, got %v", err)
	}
	if enc.frames != 1 {
		t.Fatalf("expected to stop after the first frame, encoded %d", enc.frames)
	}
}

func TestStreamFrames_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := streamFrames(ctx, bytes.NewReader(pcmBytes(frameSize*channels, 1)), &countingEncoder{}, func([]byte) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func newTestTransport() *Transport {
	return &Transport{
		ffmpeg: "ffmpeg",
		logger: log.New(&bytes.Buffer{}),
		conns:  make(map[string]*Connection),
	}
}

func botSession(id string) *discordgo.Session {
	state := discordgo.NewState()
	state.User = &discordgo.User{ID: id}
	return &discordgo.Session{State: state}
}

func voiceUpdate(guild, channel, user string) *discordgo.VoiceStateUpdate {
	return &discordgo.VoiceStateUpdate{VoiceState: &discordgo.VoiceState{GuildID: guild, ChannelID: channel, UserID: user}}
}

func TestHandleVoiceState_MarksOnlyBotLoss(t *testing.T) {
	tr := newTestTransport()
	g1 := &Connection{transport: tr, guildID: "g1", done: make(chan struct{})}
	g2 := &Connection{transport: tr, guildID: "g2", done: make(chan struct{})}
	tr.conns["g1"] = g1
	tr.conns["g2"] = g2
	s := botSession("bot")

	tr.handleVoiceState(s, voiceUpdate("g1", "", "someone-else"))
	tr.handleVoiceState(s, voiceUpdate("g1", "other-voice", "bot"))
	if g1.lost() {
		t.Fatal("only the bot leaving every channel counts as loss")
	}

	tr.handleVoiceState(s, voiceUpdate("g1", "", "bot"))
	if !g1.lost() {
		t.Fatal("expected g1 to be marked lost")
	}
	if g2.lost() {
		t.Fatal("other guilds must be untouched")
	}
}

func TestConnection_DestroyReleasesOnce(t *testing.T) {
	tr := newTestTransport()
	old := &Connection{transport: tr, guildID: "g1", done: make(chan struct{})}
	current := &Connection{transport: tr, guildID: "g1", done: make(chan struct{})}
	tr.conns["g1"] = current

	// a superseded connection must not release the guild's active one
	if err := old.Destroy(); err != nil {
		t.Fatal(err)
	}
	if tr.conns["g1"] != current {
		t.Fatal("superseded Destroy evicted the active connection")
	}
	if !old.lost() {
		t.Fatal("destroyed connection should report done")
	}

	if err := current.Destroy(); err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.conns["g1"]; ok {
		t.Fatal("expected the guild to be released")
	}
	if err := current.Destroy(); err != nil {
		t.Fatal("Destroy should be idempotent")
	}
}

func TestPlayer_SpeakingErrorIsLogged(t *testing.T) {
	var buf bytes.Buffer
	tr := newTestTransport()
	tr.logger = log.NewWithOptions(&buf, log.Options{Level: log.DebugLevel})
	// no voice websocket, so Speaking fails
	conn := &Connection{transport: tr, guildID: "g1", vc: &discordgo.VoiceConnection{}, done: make(chan struct{})}
	p := &Player{conn: conn, logger: tr.logger}

	p.setSpeaking(true)

	out := buf.String()
	if !strings.Contains(out, "speaking flag") || !strings.Contains(out, "g1") {
		t.Fatalf("speaking failure not logged: %q", out)
	}
}
