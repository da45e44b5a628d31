// Package voicevox talks to a VOICEVOX engine over HTTP.
package voicevox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"voxBot/internal/domain"
)

const (
	DefaultBaseURL = "http://127.0.0.1:50021"
	DefaultSpeaker = 1

	StageAudioQuery = "audio_query"
	StageSynthesis  = "synthesis"

	maxErrorBody = 512
)

type Options struct {
	BaseURL string
	Speaker int
	// SpeedScale and VolumeScale override the engine's query defaults when
	// positive.
	SpeedScale  float64
	VolumeScale float64
	HTTPClient  *http.Client
}

// Client synthesizes speech in two steps: audio_query builds the prosody
// query and synthesis renders it to WAV. Failed requests are not retried.
type Client struct {
	baseURL     string
	speaker     int
	speedScale  float64
	volumeScale float64
	httpCli     *http.Client
}

func New(opts Options) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	speaker := opts.Speaker
	if speaker < 0 {
		speaker = DefaultSpeaker
	}
	cli := opts.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:     base,
		speaker:     speaker,
		speedScale:  opts.SpeedScale,
		volumeScale: opts.VolumeScale,
		httpCli:     cli,
	}
}

func (c *Client) Speaker() int { return c.speaker }

// WithVoice returns a copy bound to the speaker id. Ids that do not parse
// as a non-negative integer select the default speaker.
func (c *Client) WithVoice(id string) domain.Synthesizer {
	cp := *c
	cp.speaker = ParseSpeaker(id)
	return &cp
}

func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	query, err := c.audioQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("speaker", strconv.Itoa(c.speaker))
	resp, err := c.post(ctx, "/synthesis?"+params.Encode(), query)
	if err != nil {
		return nil, fmt.Errorf("voicevox %s: %w", StageSynthesis, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(StageSynthesis, resp); err != nil {
		return nil, err
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("voicevox %s: read body: %w", StageSynthesis, err)
	}
	return audio, nil
}

func (c *Client) audioQuery(ctx context.Context, text string) ([]byte, error) {
	params := url.Values{}
	params.Set("text", text)
	params.Set("speaker", strconv.Itoa(c.speaker))

	resp, err := c.post(ctx, "/audio_query?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("voicevox %s: %w", StageAudioQuery, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(StageAudioQuery, resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("voicevox %s: read body: %w", StageAudioQuery, err)
	}
	if c.speedScale <= 0 && c.volumeScale <= 0 {
		return body, nil
	}

	// the query carries many engine-specific fields; only the scales change
	var query map[string]any
	if err := json.Unmarshal(body, &query); err != nil {
		return nil, fmt.Errorf("voicevox %s: decode query: %w", StageAudioQuery, err)
	}
	if c.speedScale > 0 {
		query["speedScale"] = c.speedScale
	}
	if c.volumeScale > 0 {
		query["volumeScale"] = c.volumeScale
	}
	return json.Marshal(query)
}

type Style struct {
	Name string `json:"name"`
	ID   int    `json:"id"`
}

type Speaker struct {
	Name   string  `json:"name"`
	UUID   string  `json:"speaker_uuid"`
	Styles []Style `json:"styles"`
}

// Speakers lists the voices installed in the engine.
func (c *Client) Speakers(ctx context.Context) ([]Speaker, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/speakers", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpCli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voicevox speakers: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("speakers", resp); err != nil {
		return nil, err
	}
	var speakers []Speaker
	if err := json.NewDecoder(resp.Body).Decode(&speakers); err != nil {
		return nil, fmt.Errorf("voicevox speakers: decode: %w", err)
	}
	return speakers, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpCli.Do(req)
}

func checkStatus(stage string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &domain.SynthesisError{
		Stage:  stage,
		Status: resp.StatusCode,
		Body:   strings.TrimSpace(string(body)),
	}
}

// ParseSpeaker converts a configured speaker id, falling back to
// DefaultSpeaker for anything that is not a non-negative integer.
func ParseSpeaker(raw string) int {
	id, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || id < 0 {
		return DefaultSpeaker
	}
	return id
}
