package speech

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeProvider is a websocket endpoint that records the dial parameters and
// audio frames, and lets tests push event messages to the client.
type fakeProvider struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu         sync.Mutex
	conn       *websocket.Conn
	query      map[string]string
	authHeader string
	frames     [][]byte
	connected  chan struct{}
}

func newFakeProvider(t *testing.T) *fakeProvider {
	return &fakeProvider{t: t, connected: make(chan struct{})}
}

func (p *fakeProvider) handler(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.query = map[string]string{
		"source":      r.URL.Query().Get("source"),
		"targets":     r.URL.Query().Get("targets"),
		"sample_rate": r.URL.Query().Get("sample_rate"),
		"encoding":    r.URL.Query().Get("encoding"),
	}
	p.authHeader = r.Header.Get("Authorization")
	p.mu.Unlock()

	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.t.Errorf("Upgrade failed: %v", err)
		return
	}

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	close(p.connected)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType == websocket.BinaryMessage {
			p.mu.Lock()
			p.frames = append(p.frames, data)
			p.mu.Unlock()
		}
	}
}

func (p *fakeProvider) send(t *testing.T, msg eventMessage) {
	t.Helper()
	payload, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}
}

func (p *fakeProvider) frameCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

func startProvider(t *testing.T) (*fakeProvider, string) {
	t.Helper()
	provider := newFakeProvider(t)
	srv := httptest.NewServer(http.HandlerFunc(provider.handler))
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return provider, wsURL
}

func newTestRecognizer(t *testing.T, provider *fakeProvider, wsURL string) Recognizer {
	t.Helper()
	factory, err := NewWSFactory(Config{
		Endpoint:    wsURL,
		APIKey:      "test-key",
		SampleRate:  16000,
		DialTimeout: 2 * time.Second,
		StopTimeout: 200 * time.Millisecond,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewWSFactory failed: %v", err)
	}

	rec, err := factory.New(SessionConfig{
		SourceLanguage:  "pt-BR",
		TargetLanguages: []string{"en", "fr"},
	})
	if err != nil {
		t.Fatalf("factory.New failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		rec.Stop(ctx)
	})

	select {
	case <-provider.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("Provider never saw the connection")
	}
	return rec
}

func TestWSFactoryDialParameters(t *testing.T) {
	provider, wsURL := startProvider(t)
	newTestRecognizer(t, provider, wsURL)

	provider.mu.Lock()
	defer provider.mu.Unlock()
	if provider.query["source"] != "pt-BR" {
		t.Errorf("Expected source pt-BR, got %q", provider.query["source"])
	}
	if provider.query["targets"] != "en,fr" {
		t.Errorf("Expected targets en,fr, got %q", provider.query["targets"])
	}
	if provider.query["sample_rate"] != "16000" {
		t.Errorf("Expected sample_rate 16000, got %q", provider.query["sample_rate"])
	}
	if provider.query["encoding"] != "pcm_s16le" {
		t.Errorf("Expected encoding pcm_s16le, got %q", provider.query["encoding"])
	}
	if provider.authHeader != "Bearer test-key" {
		t.Errorf("Expected bearer auth, got %q", provider.authHeader)
	}
}

func TestWSRecognizerForwardsAudio(t *testing.T) {
	provider, wsURL := startProvider(t)
	rec := newTestRecognizer(t, provider, wsURL)

	for i := 0; i < 3; i++ {
		if err := rec.WriteAudio(make([]byte, 640)); err != nil {
			t.Fatalf("WriteAudio failed: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if provider.frameCount() == 3 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Provider received %d frames, want 3", provider.frameCount())
}

func TestWSRecognizerDecodesEvents(t *testing.T) {
	provider, wsURL := startProvider(t)
	rec := newTestRecognizer(t, provider, wsURL)

	provider.send(t, eventMessage{
		Reason:       "translated",
		Text:         "bom dia",
		Translations: map[string]string{"en": "good morning", "fr": "bonjour"},
	})
	provider.send(t, eventMessage{Reason: "nomatch"})
	provider.send(t, eventMessage{Reason: "error", Error: "throttled"})

	want := []Reason{ReasonTranslated, ReasonNoMatch, ReasonError}
	for i, wantReason := range want {
		select {
		case ev := <-rec.Events():
			if ev.Reason != wantReason {
				t.Errorf("Event %d reason = %q, want %q", i, ev.Reason, wantReason)
			}
			if wantReason == ReasonTranslated {
				if ev.Text != "bom dia" || ev.Translations["en"] != "good morning" {
					t.Errorf("Unexpected translated event %+v", ev)
				}
			}
			if wantReason == ReasonError && ev.Err == nil {
				t.Error("Error event carried no error")
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for event %d", i)
		}
	}
}

func TestWSRecognizerReportsCancellationOnConnectionLoss(t *testing.T) {
	provider, wsURL := startProvider(t)
	rec := newTestRecognizer(t, provider, wsURL)

	provider.mu.Lock()
	provider.conn.Close()
	provider.mu.Unlock()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-rec.Events():
			if !ok {
				t.Fatal("Events closed without a canceled event")
			}
			if ev.Reason == ReasonCanceled {
				return
			}
		case <-deadline:
			t.Fatal("Never received cancellation event")
		}
	}
}

func TestWSRecognizerStopIsIdempotent(t *testing.T) {
	provider, wsURL := startProvider(t)
	rec := newTestRecognizer(t, provider, wsURL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rec.Stop(ctx); err != nil {
		t.Fatalf("First Stop failed: %v", err)
	}
	if err := rec.Stop(ctx); err != nil {
		t.Fatalf("Second Stop failed: %v", err)
	}

	if err := rec.WriteAudio([]byte{0x00, 0x01}); err == nil {
		t.Error("Expected WriteAudio to fail after Stop")
	}
}

func TestNewWSFactoryValidation(t *testing.T) {
	logger := testLogger()

	if _, err := NewWSFactory(Config{APIKey: "k"}, logger); err == nil {
		t.Error("Expected error for missing endpoint")
	}
	if _, err := NewWSFactory(Config{Endpoint: "ws://x"}, logger); err == nil {
		t.Error("Expected error for missing API key")
	}
}

func TestNewWSFactoryEnvOverrides(t *testing.T) {
	t.Setenv("TRANSLATION_ENDPOINT", "ws://env.example.com/v1")
	t.Setenv("TRANSLATION_API_KEY", "env-key")

	factory, err := NewWSFactory(Config{Endpoint: "ws://file.example.com", APIKey: "file-key"}, testLogger())
	if err != nil {
		t.Fatalf("NewWSFactory failed: %v", err)
	}
	if factory.config.Endpoint != "ws://env.example.com/v1" {
		t.Errorf("Expected env endpoint to win, got %q", factory.config.Endpoint)
	}
	if factory.config.APIKey != "env-key" {
		t.Errorf("Expected env API key to win, got %q", factory.config.APIKey)
	}
}
