package readaloud

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"voxBot/internal/app/events"
	"voxBot/internal/domain"
)

const (
	DefaultSynthesisTimeout = 15 * time.Second
	DefaultPlaybackTimeout  = 30 * time.Second
)

type State int

const (
	StateIdle State = iota
	StatePlaying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Publisher receives session events. *events.Bus implements it.
type Publisher interface {
	Publish(topic string, payload any)
}

type sessionConfig struct {
	ID        string
	CallID    string
	ChannelID string
	Voice     string

	Conn        domain.VoiceConnection
	Player      domain.AudioPlayer
	Synthesizer domain.Synthesizer

	// IsCurrent reports whether the session is still the one registered for
	// its call. The loop stops as soon as it returns false.
	IsCurrent func(*Session) bool

	SynthesisTimeout time.Duration
	PlaybackTimeout  time.Duration

	Publisher Publisher
	Logger    *log.Logger
	Now       func() time.Time
}

// Session is the read-aloud state of one call: its connection, its audio
// output and the queue of text waiting to be spoken. At most one playback
// goroutine runs per session.
type Session struct {
	id        string
	callID    string
	channelID string
	voice     string
	createdAt time.Time

	conn   domain.VoiceConnection
	player domain.AudioPlayer
	synth  domain.Synthesizer

	isCurrent        func(*Session) bool
	synthesisTimeout time.Duration
	playbackTimeout  time.Duration

	publisher Publisher
	logger    *log.Logger
	failures  *failureLog
	now       func() time.Time

	// ctx is canceled by Close and bounds every in-flight item.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	queue     []string
	current   string
	lastError string
	loopDone  chan struct{}
	spoken    uint64
	failed    uint64

	closeOnce sync.Once
	closeErr  error
}

func newSession(cfg sessionConfig) *Session {
	if cfg.SynthesisTimeout <= 0 {
		cfg.SynthesisTimeout = DefaultSynthesisTimeout
	}
	if cfg.PlaybackTimeout <= 0 {
		cfg.PlaybackTimeout = DefaultPlaybackTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IsCurrent == nil {
		cfg.IsCurrent = func(*Session) bool { return true }
	}

	logger := cfg.Logger.With("call", cfg.CallID, "session", cfg.ID)
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		id:               cfg.ID,
		callID:           cfg.CallID,
		channelID:        cfg.ChannelID,
		voice:            cfg.Voice,
		createdAt:        cfg.Now(),
		conn:             cfg.Conn,
		player:           cfg.Player,
		synth:            cfg.Synthesizer,
		isCurrent:        cfg.IsCurrent,
		synthesisTimeout: cfg.SynthesisTimeout,
		playbackTimeout:  cfg.PlaybackTimeout,
		publisher:        cfg.Publisher,
		logger:           logger,
		failures:         newFailureLog(logger),
		now:              cfg.Now,
		ctx:              ctx,
		cancel:           cancel,
	}
}

func (s *Session) ID() string        { return s.id }
func (s *Session) CallID() string    { return s.callID }
func (s *Session) ChannelID() string { return s.channelID }
func (s *Session) Voice() string     { return s.voice }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Enqueue appends text to the queue and starts the playback loop when the
// session is idle. It never waits on synthesis or playback. It returns false
// once the session is closed.
func (s *Session) Enqueue(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return false
	}

	s.queue = append(s.queue, text)
	if s.state == StateIdle {
		s.state = StatePlaying
		done := make(chan struct{})
		s.loopDone = done
		go s.run(done)
	}
	s.publishStatusLocked()
	return true
}

// WaitIdle blocks until the playback loop running at call time has drained
// the queue and exited.
func (s *Session) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	done := s.loopDone
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops playback, drops anything still queued and destroys the voice
// connection. Only the first call does any work.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.queue = nil
		s.current = ""
		s.publishStatusLocked()
		s.mu.Unlock()

		s.cancel()
		if s.conn != nil {
			s.closeErr = s.conn.Destroy()
		}
		s.logger.Info("session closed")
	})
	return s.closeErr
}

func (s *Session) Status() events.SessionStatusDTO {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) run(done chan struct{}) {
	defer close(done)
	for {
		text, ok := s.next()
		if !ok {
			return
		}
		s.speak(text)
	}
}

// next pops the queue head, or moves the session to idle and reports false
// when there is nothing left or the session was detached.
func (s *Session) next() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return "", false
	}
	if !s.isCurrent(s) {
		s.state = StateIdle
		s.current = ""
		s.queue = nil
		return "", false
	}
	if len(s.queue) == 0 {
		s.state = StateIdle
		s.current = ""
		s.publishStatusLocked()
		return "", false
	}

	text := s.queue[0]
	s.queue[0] = ""
	s.queue = s.queue[1:]
	s.current = text
	s.publishStatusLocked()
	return text, true
}

func (s *Session) speak(text string) {
	spoken := events.SpokenDTO{
		SessionID: s.id,
		CallID:    s.callID,
		Text:      text,
	}

	start := s.now()
	audio, err := s.synthesize(text)
	spoken.SynthesisMS = s.now().Sub(start).Milliseconds()

	if err == nil {
		spoken.AudioBytes = len(audio)
		if !s.active() {
			err = domain.ErrSessionClosed
		} else {
			playStart := s.now()
			err = s.play(audio)
			spoken.PlaybackMS = s.now().Sub(playStart).Milliseconds()
		}
	}

	spoken.OK = err == nil
	spoken.FinishedAt = events.Timestamp(s.now())
	if err != nil {
		spoken.Error = err.Error()
	}
	s.finish(err)
	s.publish(events.TopicReadAloudSpoken, spoken)
}

func (s *Session) synthesize(text string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.synthesisTimeout)
	defer cancel()
	audio, err := s.synth.Synthesize(ctx, text)
	if err != nil && s.ctx.Err() != nil {
		return nil, domain.ErrSessionClosed
	}
	return audio, err
}

func (s *Session) play(audio []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.playbackTimeout)
	defer cancel()
	err := s.player.Play(ctx, audio)
	switch {
	case err == nil:
		return nil
	case s.ctx.Err() != nil:
		return domain.ErrSessionClosed
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrPlaybackTimeout
	default:
		return err
	}
}

// active reports whether side effects on the connection are still allowed.
func (s *Session) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StateClosed && s.isCurrent(s)
}

func (s *Session) finish(err error) {
	s.mu.Lock()
	switch {
	case err == nil:
		s.spoken++
	case errors.Is(err, domain.ErrSessionClosed):
	default:
		s.failed++
		s.lastError = err.Error()
	}
	s.current = ""
	s.mu.Unlock()

	if err == nil || errors.Is(err, domain.ErrSessionClosed) {
		return
	}
	s.failures.report(err)
	s.publish(events.TopicAppError, events.AppErrorDTO{
		Source: "readaloud",
		CallID: s.callID,
		Error:  err.Error(),
	})
}

func (s *Session) statusLocked() events.SessionStatusDTO {
	return events.SessionStatusDTO{
		SessionID:   s.id,
		CallID:      s.callID,
		ChannelID:   s.channelID,
		Voice:       s.voice,
		State:       s.state.String(),
		QueueLength: len(s.queue),
		Current:     s.current,
		LastError:   s.lastError,
		Spoken:      s.spoken,
		Failed:      s.failed,
		UpdatedAt:   events.Timestamp(s.now()),
	}
}

func (s *Session) publishStatusLocked() {
	s.publish(events.TopicReadAloudStatus, s.statusLocked())
}

func (s *Session) publish(topic string, payload any) {
	if s.publisher != nil {
		s.publisher.Publish(topic, payload)
	}
}

// failureLog rate-limits per-item failure logging. Suppressed failures are
// counted and reported with the next line that gets through.
type failureLog struct {
	limiter    *rate.Limiter
	suppressed atomic.Uint64
	logger     *log.Logger
}

func newFailureLog(logger *log.Logger) *failureLog {
	return &failureLog{
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 5),
		logger:  logger,
	}
}

func (f *failureLog) report(err error) {
	if !f.limiter.Allow() {
		f.suppressed.Add(1)
		return
	}
	if n := f.suppressed.Swap(0); n > 0 {
		f.logger.Warn("read-aloud item failed", "error", err, "suppressed", n)
		return
	}
	f.logger.Warn("read-aloud item failed", "error", err)
}
