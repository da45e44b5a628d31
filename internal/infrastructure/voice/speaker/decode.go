package speaker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// pcm is interleaved signed 16-bit little-endian stereo.
type pcm struct {
	data       []byte
	sampleRate int
}

var errUnsupported = errors.New("unsupported audio format")

// decode accepts RIFF/WAVE PCM16 (VOICEVOX) and MP3 (Google TTS).
func decode(audio []byte) (pcm, error) {
	if len(audio) >= 12 && string(audio[0:4]) == "RIFF" && string(audio[8:12]) == "WAVE" {
		return decodeWAV(audio)
	}
	return decodeMP3(audio)
}

func decodeMP3(audio []byte) (pcm, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(audio))
	if err != nil {
		return pcm{}, fmt.Errorf("mp3 decoder: %w", err)
	}
	data, err := io.ReadAll(dec)
	if err != nil {
		return pcm{}, fmt.Errorf("mp3 decode: %w", err)
	}
	return pcm{data: data, sampleRate: dec.SampleRate()}, nil
}

func decodeWAV(audio []byte) (pcm, error) {
	var (
		channels, bits int
		rate           int
		haveFmt        bool
	)

	for off := 12; off+8 <= len(audio); {
		id := string(audio[off : off+4])
		size := int(binary.LittleEndian.Uint32(audio[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(audio) {
			// some encoders write a bogus data size when streaming
			size = len(audio) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return pcm{}, fmt.Errorf("wav: short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(audio[body:])
			channels = int(binary.LittleEndian.Uint16(audio[body+2:]))
			rate = int(binary.LittleEndian.Uint32(audio[body+4:]))
			bits = int(binary.LittleEndian.Uint16(audio[body+14:]))
			if format != 1 || bits != 16 || (channels != 1 && channels != 2) {
				return pcm{}, fmt.Errorf("wav: %w (format=%d bits=%d channels=%d)", errUnsupported, format, bits, channels)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return pcm{}, fmt.Errorf("wav: data before fmt")
			}
			data := audio[body : body+size]
			data = data[:len(data)&^1]
			if channels == 1 {
				data = monoToStereo(data)
			}
			return pcm{data: data, sampleRate: rate}, nil
		}

		off = body + size + size&1
	}
	return pcm{}, fmt.Errorf("wav: no data chunk")
}

func monoToStereo(data []byte) []byte {
	out := make([]byte, len(data)*2)
	for i := 0; i+1 < len(data); i += 2 {
		j := i * 2
		out[j], out[j+1] = data[i], data[i+1]
		out[j+2], out[j+3] = data[i], data[i+1]
	}
	return out
}

// resample converts stereo PCM16 between rates by nearest-sample picking.
// Speech survives this well enough; the device rate normally matches the
// engine output and this is skipped.
func resample(p pcm, rate int) pcm {
	if p.sampleRate == rate || p.sampleRate <= 0 || rate <= 0 {
		return p
	}
	const frame = 4
	inFrames := len(p.data) / frame
	outFrames := int(int64(inFrames) * int64(rate) / int64(p.sampleRate))
	out := make([]byte, outFrames*frame)
	for i := 0; i < outFrames; i++ {
		src := int(int64(i) * int64(p.sampleRate) / int64(rate))
		copy(out[i*frame:(i+1)*frame], p.data[src*frame:(src+1)*frame])
	}
	return pcm{data: out, sampleRate: rate}
}
