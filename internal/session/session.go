package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/huaweiacademyifce/translation-vr/internal/language"
	"github.com/huaweiacademyifce/translation-vr/internal/metrics"
	"github.com/huaweiacademyifce/translation-vr/internal/speech"
)

// CaptionSink receives recognized text for fan-out to listeners.
type CaptionSink interface {
	DeliverRecognized(speakerID uint64, text string, translations map[string]string)
}

// Session binds one speaker's audio stream to a live recognizer. Its source
// language and target set are fixed for its lifetime; the orchestrator
// replaces the whole session when either must change.
type Session struct {
	ID             string
	SpeakerID      uint64
	SourceLanguage string
	Targets        *language.Set
	CreatedAt      time.Time

	recognizer speech.Recognizer
	frames     chan []byte
	sink       CaptionSink
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// onTerminal is invoked once when the recognizer reports cancellation
	// or its event stream ends; the orchestrator uses it to drop the
	// session so the next audio frame recreates it.
	onTerminal func(*Session)

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	stopTimeout time.Duration

	mu              sync.Mutex
	framesForwarded uint64
	framesDropped   uint64
	eventsEmitted   uint64
}

// newSession opens a recognizer for the speaker and starts its audio and
// event pumps. It returns without waiting for any recognition result.
func newSession(speakerID uint64, sourceLang string, targets *language.Set,
	factory speech.Factory, sink CaptionSink, onTerminal func(*Session),
	stopTimeout time.Duration, m *metrics.Metrics, logger *slog.Logger) (*Session, error) {

	recognizer, err := factory.New(speech.SessionConfig{
		SourceLanguage:  sourceLang,
		TargetLanguages: targets.Codes(),
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	s := &Session{
		ID:             id,
		SpeakerID:      speakerID,
		SourceLanguage: sourceLang,
		Targets:        targets,
		CreatedAt:      time.Now(),
		recognizer:     recognizer,
		frames:         make(chan []byte, 128),
		sink:           sink,
		metrics:        m,
		onTerminal:     onTerminal,
		ctx:            ctx,
		cancel:         cancel,
		stopTimeout:    stopTimeout,
		logger: logger.With(
			slog.Uint64("speaker_id", speakerID),
			slog.String("session_id", id[:8]),
		),
	}

	s.wg.Add(2)
	go s.audioPump()
	go s.eventPump()

	s.logger.Info("Translation session started",
		slog.String("source_language", sourceLang),
		slog.String("target_languages", targets.String()),
	)

	return s, nil
}

// Push queues one audio frame for the recognizer. It never blocks the
// caller; when the session is backlogged the frame is dropped. Frames that
// are accepted keep their arrival order.
func (s *Session) Push(frame []byte) {
	select {
	case <-s.ctx.Done():
		return
	default:
	}

	select {
	case s.frames <- frame:
	default:
		s.mu.Lock()
		s.framesDropped++
		s.mu.Unlock()
	}
}

// stop cancels the pumps and releases the recognizer with a bounded wait.
// Teardown failures are logged and swallowed.
func (s *Session) stop() {
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()
	if err := s.recognizer.Stop(ctx); err != nil {
		s.logger.Warn("Recognizer stop timed out",
			slog.String("error", err.Error()),
			slog.Duration("timeout", s.stopTimeout),
		)
	}

	s.wg.Wait()

	s.mu.Lock()
	forwarded, dropped := s.framesForwarded, s.framesDropped
	s.mu.Unlock()

	s.logger.Info("Translation session stopped",
		slog.Duration("lifetime", time.Since(s.CreatedAt)),
		slog.Uint64("frames_forwarded", forwarded),
		slog.Uint64("frames_dropped", dropped),
	)
}

// audioPump is the single writer into the recognizer, preserving frame order.
func (s *Session) audioPump() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.frames:
			if err := s.recognizer.WriteAudio(frame); err != nil {
				select {
				case <-s.ctx.Done():
				default:
					s.logger.Warn("Failed to forward audio frame",
						slog.String("error", err.Error()),
					)
				}
				return
			}
			s.mu.Lock()
			s.framesForwarded++
			s.mu.Unlock()
		}
	}
}

// eventPump consumes recognizer events in order. Recognized and translated
// text goes to the caption sink; no-match results are skipped; errors are
// reported but do not end the session; cancellation hands the speaker back
// to the orchestrator for lazy recreation.
func (s *Session) eventPump() {
	defer s.wg.Done()

	events := s.recognizer.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				s.terminal("event stream closed")
				return
			}
			if !s.handleEvent(ev) {
				return
			}
		}
	}
}

// handleEvent processes one event; returns false when the pump should exit.
func (s *Session) handleEvent(ev speech.Event) bool {
	if s.metrics != nil {
		s.metrics.RecordRecognitionEvent(string(ev.Reason))
	}

	switch ev.Reason {
	case speech.ReasonTranslated, speech.ReasonRecognized:
		if ev.Text == "" {
			return true
		}
		s.mu.Lock()
		s.eventsEmitted++
		s.mu.Unlock()
		s.sink.DeliverRecognized(s.SpeakerID, ev.Text, ev.Translations)

	case speech.ReasonNoMatch:
		s.logger.Debug("Recognition produced no match")

	case speech.ReasonError:
		s.logger.Error("Recognition error reported",
			slog.String("error", errString(ev.Err)),
		)

	case speech.ReasonCanceled:
		s.logger.Warn("Recognition canceled",
			slog.String("error", errString(ev.Err)),
		)
		s.terminal("canceled")
		return false
	}
	return true
}

// terminal reports an unrecoverable recognizer state to the orchestrator.
func (s *Session) terminal(cause string) {
	select {
	case <-s.ctx.Done():
		// Already being stopped; nothing to report.
		return
	default:
	}

	s.logger.Info("Translation session terminal", slog.String("cause", cause))
	if s.onTerminal != nil {
		s.onTerminal(s)
	}
}

// Info returns a monitoring snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Info{
		SessionID:       s.ID,
		SpeakerID:       s.SpeakerID,
		SourceLanguage:  s.SourceLanguage,
		TargetLanguages: s.Targets.Codes(),
		CreatedAt:       s.CreatedAt,
		Duration:        time.Since(s.CreatedAt),
		FramesForwarded: s.framesForwarded,
		FramesDropped:   s.framesDropped,
		EventsEmitted:   s.eventsEmitted,
	}
}

// Info is a session snapshot for the monitoring API.
type Info struct {
	SessionID       string        `json:"session_id"`
	SpeakerID       uint64        `json:"speaker_id"`
	SourceLanguage  string        `json:"source_language"`
	TargetLanguages []string      `json:"target_languages"`
	CreatedAt       time.Time     `json:"created_at"`
	Duration        time.Duration `json:"duration"`
	FramesForwarded uint64        `json:"frames_forwarded"`
	FramesDropped   uint64        `json:"frames_dropped"`
	EventsEmitted   uint64        `json:"events_emitted"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
