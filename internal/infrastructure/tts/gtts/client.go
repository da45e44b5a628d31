// Package gtts synthesizes speech with Google Translate's public TTS
// endpoint. Audio is MP3.
package gtts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hegedustibor/htgo-tts/voices"

	"voxBot/internal/domain"
)

const (
	DefaultEndpoint = "https://translate.google.com/translate_tts"

	// the endpoint rejects longer inputs
	chunkSize = 200
)

type VoiceOption struct {
	Code  string
	Label string
}

var supported = []VoiceOption{
	{Code: voices.Japanese, Label: "日本語"},
	{Code: voices.English, Label: "English US"},
	{Code: voices.EnglishUK, Label: "English UK"},
	{Code: voices.Spanish, Label: "Español"},
	{Code: voices.Portuguese, Label: "Português"},
	{Code: voices.French, Label: "Français"},
	{Code: voices.German, Label: "Deutsch"},
}

type Client struct {
	endpoint string
	voice    string
	httpCli  *http.Client
}

// New returns a client speaking language. Unsupported codes fall back to
// Japanese. An empty endpoint means DefaultEndpoint.
func New(endpoint, language string, httpCli *http.Client) *Client {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultEndpoint
	}
	if httpCli == nil {
		httpCli = &http.Client{Timeout: 15 * time.Second}
	}
	option, _ := FindVoice(language)
	return &Client{endpoint: endpoint, voice: option.Code, httpCli: httpCli}
}

func (c *Client) Voice() string { return c.voice }

func (c *Client) WithVoice(id string) domain.Synthesizer {
	cp := *c
	option, _ := FindVoice(id)
	cp.voice = option.Code
	return &cp
}

func ListVoices() []VoiceOption {
	return append([]VoiceOption(nil), supported...)
}

// FindVoice matches code case-insensitively, then by its language prefix
// (es-es -> es). It reports false and returns Japanese when nothing matches.
func FindVoice(code string) (VoiceOption, bool) {
	code = normalizeVoice(code)
	if code == "" {
		return supported[0], false
	}
	for _, option := range supported {
		if normalizeVoice(option.Code) == code {
			return option, true
		}
	}
	if idx := strings.Index(code, "-"); idx > 0 {
		return FindVoice(code[:idx])
	}
	return supported[0], false
}

func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil, fmt.Errorf("gtts: empty text")
	}

	buf := bytes.NewBuffer(nil)
	for start := 0; start < len(runes); start += chunkSize {
		end := min(start+chunkSize, len(runes))
		audio, err := c.fetchChunk(ctx, string(runes[start:end]))
		if err != nil {
			return nil, err
		}
		buf.Write(audio)
	}
	return buf.Bytes(), nil
}

func (c *Client) fetchChunk(ctx context.Context, text string) ([]byte, error) {
	params := url.Values{}
	params.Set("ie", "UTF-8")
	params.Set("client", "tw-ob")
	params.Set("q", text)
	params.Set("tl", c.voice)
	params.Set("total", "1")
	params.Set("idx", "0")
	params.Set("textlen", strconv.Itoa(len([]rune(text))))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gtts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &domain.SynthesisError{
			Stage:  "translate_tts",
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(body)),
		}
	}

	return io.ReadAll(resp.Body)
}

func normalizeVoice(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
