// Package speaker plays read-aloud audio on the local sound device. It is
// the voice transport used in local mode, where chat comes from a stream and
// the bot speaks through the streamer's speakers.
package speaker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hajimehoshi/oto/v2"

	"voxBot/internal/domain"
)

const DefaultSampleRate = 24000

type device interface {
	play(ctx context.Context, p pcm) error
}

// Transport hands out connections that all share one output device.
type Transport struct {
	open   func() (device, error)
	logger *log.Logger

	once    sync.Once
	dev     device
	openErr error

	// playMu keeps clips from different calls from mixing on the device.
	playMu sync.Mutex
}

func NewTransport(sampleRate int, logger *log.Logger) *Transport {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return newTransport(func() (device, error) { return openOto(sampleRate) }, logger)
}

func newTransport(open func() (device, error), logger *log.Logger) *Transport {
	if logger == nil {
		logger = log.Default()
	}
	return &Transport{open: open, logger: logger.WithPrefix("speaker")}
}

// Connect opens the device on first use. The location only labels the
// connection; there is a single speaker.
func (t *Transport) Connect(ctx context.Context, loc domain.CallLocation) (domain.VoiceConnection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.once.Do(func() {
		t.dev, t.openErr = t.open()
	})
	if t.openErr != nil {
		return nil, fmt.Errorf("audio device: %w", t.openErr)
	}
	t.logger.Debug("speaker connected", "call", loc.GuildID)
	return &Connection{transport: t, done: make(chan struct{})}, nil
}

type Connection struct {
	transport *Transport
	done      chan struct{}
	once      sync.Once
}

func (c *Connection) Subscribe() (domain.AudioPlayer, error) {
	return &Player{conn: c}, nil
}

func (c *Connection) Destroy() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *Connection) Done() <-chan struct{} { return c.done }

type Player struct {
	conn *Connection
}

func (p *Player) Play(ctx context.Context, audio []byte) error {
	select {
	case <-p.conn.done:
		return domain.ErrConnectionLost
	default:
	}
	if len(audio) == 0 {
		return errors.New("empty audio")
	}

	decoded, err := decode(audio)
	if err != nil {
		return err
	}

	t := p.conn.transport
	t.playMu.Lock()
	defer t.playMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.conn.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return t.dev.play(ctx, decoded)
}

type otoDevice struct {
	ctx        *oto.Context
	sampleRate int
}

func openOto(sampleRate int) (device, error) {
	otoCtx, ready, err := oto.NewContext(sampleRate, 2, 2)
	if err != nil {
		return nil, fmt.Errorf("oto context: %w", err)
	}
	<-ready
	return &otoDevice{ctx: otoCtx, sampleRate: sampleRate}, nil
}

func (d *otoDevice) play(ctx context.Context, p pcm) error {
	p = resample(p, d.sampleRate)

	player := d.ctx.NewPlayer(bytes.NewReader(p.data))
	defer player.Close()
	player.Play()

	ticker := time.NewTicker(15 * time.Millisecond)
	defer ticker.Stop()

	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
