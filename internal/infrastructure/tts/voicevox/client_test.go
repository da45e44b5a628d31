package voicevox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"voxBot/internal/domain"
)

type engine struct {
	mu        sync.Mutex
	speakers  []string
	texts     []string
	queryBody map[string]any
	failStage string
	failCode  int
}

func (e *engine) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/audio_query", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("audio_query method = %s", r.Method)
		}
		e.mu.Lock()
		e.speakers = append(e.speakers, r.URL.Query().Get("speaker"))
		e.texts = append(e.texts, r.URL.Query().Get("text"))
		fail := e.failStage == StageAudioQuery
		e.mu.Unlock()
		if fail {
			http.Error(w, "bad speaker", e.failCode)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accent_phrases":[],"speedScale":1.0,"volumeScale":1.0,"outputSamplingRate":24000}`))
	})
	mux.HandleFunc("/synthesis", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var query map[string]any
		if err := json.Unmarshal(body, &query); err != nil {
			t.Errorf("synthesis body is not the query: %v", err)
		}
		e.mu.Lock()
		e.speakers = append(e.speakers, r.URL.Query().Get("speaker"))
		e.queryBody = query
		fail := e.failStage == StageSynthesis
		e.mu.Unlock()
		if fail {
			w.WriteHeader(e.failCode)
			_, _ = w.Write([]byte("engine exploded"))
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFFfake"))
	})
	mux.HandleFunc("/speakers", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"name":"ずんだもん","speaker_uuid":"u1","styles":[{"name":"ノーマル","id":3}]}]`))
	})
	return mux
}

func (e *engine) seen() (speakers, texts []string, query map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.speakers...), append([]string(nil), e.texts...), e.queryBody
}

func newEngine(t *testing.T) (*engine, *httptest.Server) {
	e := &engine{}
	srv := httptest.NewServer(e.handler(t))
	t.Cleanup(srv.Close)
	return e, srv
}

func TestClient_Synthesize(t *testing.T) {
	e, srv := newEngine(t)
	c := New(Options{BaseURL: srv.URL + "/", Speaker: 3})

	audio, err := c.Synthesize(context.Background(), "こんにちは")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "RIFFfake" {
		t.Fatalf("audio = %q", audio)
	}
	speakers, texts, query := e.seen()
	if len(speakers) != 2 || speakers[0] != "3" || speakers[1] != "3" {
		t.Fatalf("speaker params = %v", speakers)
	}
	if texts[0] != "こんにちは" {
		t.Fatalf("text param = %q", texts[0])
	}
	if query["speedScale"] != 1.0 {
		t.Fatalf("query should pass through unchanged, got %v", query)
	}
}

func TestClient_ScaleOverrides(t *testing.T) {
	e, srv := newEngine(t)
	c := New(Options{BaseURL: srv.URL, SpeedScale: 1.3, VolumeScale: 0.8})

	if _, err := c.Synthesize(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	_, _, query := e.seen()
	if query["speedScale"] != 1.3 || query["volumeScale"] != 0.8 {
		t.Fatalf("scales not applied: %v", query)
	}
	if query["outputSamplingRate"] != 24000.0 {
		t.Fatalf("other fields must survive: %v", query)
	}
}

func TestClient_StageErrors(t *testing.T) {
	tests := []struct {
		stage string
		code  int
	}{
		{StageAudioQuery, http.StatusUnprocessableEntity},
		{StageSynthesis, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			e, srv := newEngine(t)
			e.mu.Lock()
			e.failStage, e.failCode = tt.stage, tt.code
			e.mu.Unlock()
			c := New(Options{BaseURL: srv.URL})

			_, err := c.Synthesize(context.Background(), "x")
			var synthErr *domain.SynthesisError
			if !errors.As(err, &synthErr) {
				t.Fatalf("expected SynthesisError, got %v", err)
			}
			if synthErr.Stage != tt.stage || synthErr.Status != tt.code {
				t.Fatalf("got stage=%s status=%d", synthErr.Stage, synthErr.Status)
			}
			if synthErr.Body == "" {
				t.Fatal("expected the response body to be kept")
			}
		})
	}
}

func TestClient_NoRetry(t *testing.T) {
	e, srv := newEngine(t)
	e.failStage, e.failCode = StageAudioQuery, http.StatusServiceUnavailable
	c := New(Options{BaseURL: srv.URL})

	_, _ = c.Synthesize(context.Background(), "x")
	if _, texts, _ := e.seen(); len(texts) != 1 {
		t.Fatalf("expected a single attempt, got %d", len(texts))
	}
}

func TestClient_ContextCanceled(t *testing.T) {
	_, srv := newEngine(t)
	c := New(Options{BaseURL: srv.URL})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Synthesize(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestClient_WithVoice(t *testing.T) {
	e, srv := newEngine(t)
	base := New(Options{BaseURL: srv.URL, Speaker: 2})

	if _, err := base.WithVoice("8").Synthesize(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	if _, err := base.WithVoice("nope").Synthesize(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	if speakers, _, _ := e.seen(); speakers[0] != "8" || speakers[2] != "1" {
		t.Fatalf("speaker params = %v", speakers)
	}
	if base.Speaker() != 2 {
		t.Fatal("WithVoice must not modify the original client")
	}
}

func TestClient_Speakers(t *testing.T) {
	_, srv := newEngine(t)
	speakers, err := New(Options{BaseURL: srv.URL}).Speakers(context.Background())
	if err != nil {
		t.Fatalf("Speakers: %v", err)
	}
	if len(speakers) != 1 || speakers[0].Styles[0].ID != 3 {
		t.Fatalf("unexpected speakers: %+v", speakers)
	}
}

func TestNew_Defaults(t *testing.T) {
	c := New(Options{Speaker: -1})
	if c.baseURL != DefaultBaseURL {
		t.Fatalf("baseURL = %q", c.baseURL)
	}
	if c.Speaker() != DefaultSpeaker {
		t.Fatalf("speaker = %d", c.Speaker())
	}
}

func TestParseSpeaker(t *testing.T) {
	tests := map[string]int{"": 1, "x": 1, "-3": 1, "0": 0, " 7 ": 7}
	for in, want := range tests {
		if got := ParseSpeaker(in); got != want {
			t.Errorf("ParseSpeaker(%q) = %d, want %d", in, got, want)
		}
	}
}
