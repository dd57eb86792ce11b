package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Environment variables override the configured credentials, so keys
	// stay out of config files in deployments.
	envAPIKey   = "TRANSLATION_API_KEY"
	envEndpoint = "TRANSLATION_ENDPOINT"
)

// Config contains the websocket recognition client configuration.
type Config struct {
	Endpoint    string
	APIKey      string
	SampleRate  int
	DialTimeout time.Duration
	StopTimeout time.Duration
	EventBuffer int
}

// WSFactory creates websocket-backed recognizers against a streaming
// translation endpoint.
type WSFactory struct {
	config Config
	logger *slog.Logger
}

// NewWSFactory validates the configuration and returns a factory.
// TRANSLATION_API_KEY and TRANSLATION_ENDPOINT override the config values
// when set.
func NewWSFactory(cfg Config, logger *slog.Logger) (*WSFactory, error) {
	if env := os.Getenv(envEndpoint); env != "" {
		cfg.Endpoint = env
	}
	if env := os.Getenv(envAPIKey); env != "" {
		cfg.APIKey = env
	}

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 200 * time.Millisecond
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}

	return &WSFactory{config: cfg, logger: logger}, nil
}

// New dials one recognition stream for the given languages. The connection
// is established synchronously but recognition results arrive asynchronously
// on Events; New never waits for a first result.
func (f *WSFactory) New(cfg SessionConfig) (Recognizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	params := url.Values{}
	params.Set("source", cfg.SourceLanguage)
	params.Set("targets", strings.Join(cfg.TargetLanguages, ","))
	params.Set("sample_rate", strconv.Itoa(f.config.SampleRate))
	params.Set("encoding", "pcm_s16le")

	wsURL := fmt.Sprintf("%s?%s", f.config.Endpoint, params.Encode())

	header := http.Header{}
	header.Set("Authorization", "Bearer "+f.config.APIKey)
	header.Set("X-Request-Id", uuid.NewString())

	dialer := websocket.Dialer{HandshakeTimeout: f.config.DialTimeout}
	conn, resp, err := dialer.Dial(wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("recognition dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("recognition dial failed: %w", err)
	}

	r := &wsRecognizer{
		conn:   conn,
		events: make(chan Event, f.config.EventBuffer),
		audio:  make(chan []byte, 256),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		logger: f.logger.With(
			slog.String("source_language", cfg.SourceLanguage),
			slog.String("target_languages", strings.Join(cfg.TargetLanguages, ",")),
		),
	}

	go r.readLoop()
	go r.writeLoop()

	return r, nil
}

// wsRecognizer streams PCM to the provider over one websocket connection
// and decodes JSON event messages from it.
type wsRecognizer struct {
	conn   *websocket.Conn
	events chan Event
	audio  chan []byte
	stopCh chan struct{}
	done   chan struct{}
	logger *slog.Logger

	stopOnce sync.Once
}

// eventMessage is the provider's wire format for recognition results.
type eventMessage struct {
	Reason       string            `json:"reason"`
	Text         string            `json:"text,omitempty"`
	Translations map[string]string `json:"translations,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// WriteAudio queues one PCM frame for transmission. The queue is bounded;
// when the provider falls behind, frames are dropped rather than blocking
// the audio path (audio is a continuous stream, not a reliable log).
func (r *wsRecognizer) WriteAudio(pcm []byte) error {
	select {
	case <-r.stopCh:
		return fmt.Errorf("recognizer stopped")
	default:
	}

	select {
	case r.audio <- pcm:
		return nil
	default:
		r.logger.Warn("Recognition audio queue full, dropping frame",
			slog.Int("frame_bytes", len(pcm)),
		)
		return nil
	}
}

// Events returns the recognition event stream. The channel is closed after
// Stop, once the read loop has drained.
func (r *wsRecognizer) Events() <-chan Event {
	return r.events
}

// Stop closes the connection and waits, bounded by ctx, for the read loop
// to finish. Teardown errors are swallowed; a stuck provider connection
// must never stall the caller.
func (r *wsRecognizer) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() {
		close(r.stopCh)

		deadline := time.Now().Add(time.Second)
		if d, ok := ctx.Deadline(); ok {
			deadline = d
		}
		_ = r.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = r.conn.Close()
	})

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeLoop is the single writer of audio frames, preserving their order.
func (r *wsRecognizer) writeLoop() {
	for {
		select {
		case <-r.stopCh:
			return
		case pcm := <-r.audio:
			if err := r.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				select {
				case <-r.stopCh:
				default:
					r.logger.Error("Failed to send audio to recognition service",
						slog.String("error", err.Error()),
					)
				}
				return
			}
		}
	}
}

// readLoop decodes provider messages into Events until the connection
// closes. It owns the events channel and closes it on exit.
func (r *wsRecognizer) readLoop() {
	defer close(r.done)
	defer close(r.events)

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			select {
			case <-r.stopCh:
				// Orderly shutdown, connection closed by Stop.
			default:
				r.emit(Event{Reason: ReasonCanceled, Err: err})
			}
			return
		}

		var msg eventMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			r.logger.Warn("Failed to decode recognition message",
				slog.String("error", err.Error()),
				slog.Int("size", len(data)),
			)
			continue
		}

		r.emit(r.toEvent(msg))
	}
}

func (r *wsRecognizer) toEvent(msg eventMessage) Event {
	switch Reason(msg.Reason) {
	case ReasonRecognized, ReasonTranslated, ReasonNoMatch, ReasonCanceled:
		ev := Event{
			Reason:       Reason(msg.Reason),
			Text:         msg.Text,
			Translations: msg.Translations,
		}
		if msg.Error != "" {
			ev.Err = fmt.Errorf("%s", msg.Error)
		}
		return ev
	case ReasonError:
		return Event{Reason: ReasonError, Text: msg.Text, Err: fmt.Errorf("%s", msg.Error)}
	default:
		return Event{Reason: ReasonNoMatch, Text: msg.Text}
	}
}

func (r *wsRecognizer) emit(ev Event) {
	select {
	case r.events <- ev:
	default:
		// The session pump has stalled; dropping the oldest guarantee is
		// worse than dropping this event, so skip it and log.
		r.logger.Warn("Recognition event buffer full, dropping event",
			slog.String("reason", string(ev.Reason)),
		)
	}
}

var _ Recognizer = (*wsRecognizer)(nil)
var _ Factory = (*WSFactory)(nil)
