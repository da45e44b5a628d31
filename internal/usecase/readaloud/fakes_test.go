package readaloud

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"voxBot/internal/domain"
)

var quietLogger = log.New(discard{})

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// fakeSynth returns the text as audio. Texts listed in fail return an error.
type fakeSynth struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	// gate, when set, blocks every call until a value is received.
	gate  chan struct{}
	voice string
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	err := f.fail[text]
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return []byte(text), nil
}

func (f *fakeSynth) WithVoice(id string) domain.Synthesizer {
	return &fakeSynth{fail: f.fail, gate: f.gate, voice: id}
}

func (f *fakeSynth) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakePlayer struct {
	mu     sync.Mutex
	played []string
	active int
	// maxActive records the highest number of overlapping Play calls.
	maxActive int
	delay     time.Duration
	block     bool
}

func (p *fakePlayer) Play(ctx context.Context, audio []byte) error {
	p.mu.Lock()
	p.active++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	delay, block := p.delay, p.block
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.mu.Lock()
	p.played = append(p.played, string(audio))
	p.mu.Unlock()
	return nil
}

func (p *fakePlayer) Played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

func (p *fakePlayer) MaxActive() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxActive
}

type fakeConn struct {
	player       *fakePlayer
	subscribeErr error
	destroyErr   error
	// onDestroy runs after the connection is marked destroyed.
	onDestroy func(*fakeConn)

	mu        sync.Mutex
	destroyed int
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{player: &fakePlayer{}, done: make(chan struct{})}
}

func (c *fakeConn) Subscribe() (domain.AudioPlayer, error) {
	if c.subscribeErr != nil {
		return nil, c.subscribeErr
	}
	return c.player, nil
}

func (c *fakeConn) Destroy() error {
	c.mu.Lock()
	c.destroyed++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
	if c.onDestroy != nil {
		c.onDestroy(c)
	}
	return c.destroyErr
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

// Drop simulates the voice gateway dropping the connection.
func (c *fakeConn) Drop() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *fakeConn) Destroyed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

type fakeTransport struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
	// hang makes Connect wait for ctx to end.
	hang bool
	// newConn overrides the connection handed out by Connect.
	newConn func() *fakeConn
}

func (t *fakeTransport) Connect(ctx context.Context, loc domain.CallLocation) (domain.VoiceConnection, error) {
	if t.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if t.err != nil {
		return nil, t.err
	}
	conn := newFakeConn()
	if t.newConn != nil {
		conn = t.newConn()
	}
	t.mu.Lock()
	t.conns = append(t.conns, conn)
	t.mu.Unlock()
	return conn, nil
}

func (t *fakeTransport) Conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[i]
}

// sharedTransport hands out connections that ride on one gateway link per
// guild, like discordgo does. Only the guild's newest connection may tear the
// link down; when it does, every connection on the link is dropped.
type sharedTransport struct {
	delay time.Duration

	mu          sync.Mutex
	inflight    int
	maxInflight int
	latest      map[string]*fakeConn
	links       map[string][]*fakeConn
}

func newSharedTransport(delay time.Duration) *sharedTransport {
	return &sharedTransport{
		delay:  delay,
		latest: make(map[string]*fakeConn),
		links:  make(map[string][]*fakeConn),
	}
}

func (t *sharedTransport) Connect(ctx context.Context, loc domain.CallLocation) (domain.VoiceConnection, error) {
	t.mu.Lock()
	t.inflight++
	if t.inflight > t.maxInflight {
		t.maxInflight = t.inflight
	}
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.inflight--
		t.mu.Unlock()
	}()

	select {
	case <-time.After(t.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	conn := newFakeConn()
	conn.onDestroy = func(c *fakeConn) { t.release(loc.GuildID, c) }

	t.mu.Lock()
	t.latest[loc.GuildID] = conn
	t.links[loc.GuildID] = append(t.links[loc.GuildID], conn)
	t.mu.Unlock()
	return conn, nil
}

func (t *sharedTransport) release(guildID string, c *fakeConn) {
	t.mu.Lock()
	if t.latest[guildID] != c {
		t.mu.Unlock()
		return
	}
	delete(t.latest, guildID)
	dropped := t.links[guildID]
	delete(t.links, guildID)
	t.mu.Unlock()

	for _, other := range dropped {
		other.Drop()
	}
}

func (t *sharedTransport) MaxInflight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxInflight
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (r *recordingPublisher) Publish(topic string, _ any) {
	r.mu.Lock()
	r.topics = append(r.topics, topic)
	r.mu.Unlock()
}

func (r *recordingPublisher) Count(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.topics {
		if t == topic {
			n++
		}
	}
	return n
}

type memoryVoices struct {
	mu     sync.Mutex
	voices map[string]string
	err    error
}

func (m *memoryVoices) SetGuildVoice(_ context.Context, guildID, voice string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.voices == nil {
		m.voices = make(map[string]string)
	}
	m.voices[guildID] = voice
	return nil
}

func (m *memoryVoices) GetGuildVoice(_ context.Context, guildID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	return m.voices[guildID], nil
}

var errBoom = errors.New("boom")

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitIdle(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
}
