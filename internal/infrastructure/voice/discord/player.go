package discord

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"
	"layeh.com/gopus"

	"voxBot/internal/domain"
)

const (
	sampleRate = 48000
	channels   = 2
	// 20ms at 48kHz, the frame size Discord expects
	frameSize    = 960
	maxOpusBytes = frameSize * channels * 2
)

type frameEncoder interface {
	Encode(pcm []int16, frameSize, maxDataBytes int) ([]byte, error)
}

func newEncoder() (frameEncoder, error) {
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, err
	}
	return enc, nil
}

// Player decodes any ffmpeg-readable payload (WAV from VOICEVOX, MP3 from
// Google) to 48kHz stereo PCM and sends it as Opus frames.
type Player struct {
	conn    *Connection
	encoder frameEncoder
	ffmpeg  string
	logger  *log.Logger
}

// Play blocks until the last frame has been handed to the voice connection.
func (p *Player) Play(ctx context.Context, audio []byte) error {
	if len(audio) == 0 {
		return errors.New("empty audio")
	}

	p.conn.playMu.Lock()
	defer p.conn.playMu.Unlock()

	if p.conn.lost() || p.conn.vc == nil {
		return domain.ErrConnectionLost
	}

	cmd := exec.CommandContext(ctx, p.ffmpeg,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le", "-ar", "48000", "-ac", "2",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(audio)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	p.setSpeaking(true)
	defer p.setSpeaking(false)

	streamErr := streamFrames(ctx, stdout, p.encoder, p.send(ctx))
	if streamErr != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return streamErr
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// setSpeaking only drives the speaking indicator; audio is sent either way.
func (p *Player) setSpeaking(on bool) {
	if err := p.conn.vc.Speaking(on); err != nil {
		p.logger.Debug("speaking flag", "guild", p.conn.guildID, "speaking", on, "error", err)
	}
}

func (p *Player) send(ctx context.Context) func([]byte) error {
	return func(frame []byte) error {
		select {
		case p.conn.vc.OpusSend <- frame:
			return nil
		case <-p.conn.done:
			return domain.ErrConnectionLost
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// streamFrames reads interleaved s16le PCM from r and hands one encoded
// frame at a time to send. A trailing partial frame is dropped.
func streamFrames(ctx context.Context, r io.Reader, enc frameEncoder, send func([]byte) error) error {
	reader := bufio.NewReaderSize(r, 16384)
	pcm := make([]int16, frameSize*channels)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := binary.Read(reader, binary.LittleEndian, pcm)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read pcm: %w", err)
		}

		frame, err := enc.Encode(pcm, frameSize, maxOpusBytes)
		if err != nil {
			return fmt.Errorf("opus encode: %w", err)
		}
		if err := send(frame); err != nil {
			return err
		}
	}
}
