package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/huaweiacademyifce/translation-vr/internal/language"
	"github.com/huaweiacademyifce/translation-vr/internal/metrics"
	"github.com/huaweiacademyifce/translation-vr/internal/prefs"
	"github.com/huaweiacademyifce/translation-vr/internal/speech"
)

// DefaultStopTimeout bounds how long session teardown waits for the
// recognition service to acknowledge a stop.
const DefaultStopTimeout = 200 * time.Millisecond

// Orchestrator owns every live translation session. It guarantees at most
// one session per speaker, creates sessions lazily on the first audio frame
// after a speaker's source language is known, and tears a session down when
// the speaker leaves or when the listener target set no longer matches the
// one the session was opened with. Recreation is always deferred to the
// next audio frame rather than done eagerly on preference changes.
type Orchestrator struct {
	registry *prefs.Registry
	factory  speech.Factory
	sink     CaptionSink
	logger   *slog.Logger
	metrics  *metrics.Metrics

	stopTimeout time.Duration

	mu       sync.Mutex
	sessions map[uint64]*Session
	dialing  map[uint64]bool
	closed   bool
}

// Config holds the orchestrator's collaborators and tuning.
type Config struct {
	Registry *prefs.Registry
	Factory  speech.Factory
	Sink     CaptionSink
	Metrics  *metrics.Metrics

	// StopTimeout bounds recognizer teardown; zero means DefaultStopTimeout.
	StopTimeout time.Duration
}

// NewOrchestrator creates an orchestrator with no live sessions.
func NewOrchestrator(cfg Config, logger *slog.Logger) *Orchestrator {
	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}

	return &Orchestrator{
		registry:    cfg.Registry,
		factory:     cfg.Factory,
		sink:        cfg.Sink,
		metrics:     cfg.Metrics,
		logger:      logger,
		stopTimeout: stopTimeout,
		sessions:    make(map[uint64]*Session),
		dialing:     make(map[uint64]bool),
	}
}

// DispatchAudio routes one audio frame to the speaker's session, opening
// the session first when none is live. The recognition service dial runs
// without holding the orchestrator lock, so a slow provider only delays
// the speaker being opened, never frame dispatch for the others. Frames
// from speakers that have not announced a source language are dropped, as
// are frames arriving while the speaker's session is still being opened.
// A creation failure is logged and the frame discarded; the next frame
// retries.
func (o *Orchestrator) DispatchAudio(speakerID uint64, frame []byte) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}

	if s, ok := o.sessions[speakerID]; ok {
		o.mu.Unlock()
		o.push(s, frame)
		return
	}

	if o.dialing[speakerID] {
		// A concurrent frame is already opening this speaker's session.
		// Audio is lossy, so this one is dropped.
		o.mu.Unlock()
		return
	}

	sourceLang, ok := o.registry.SourceLanguage(speakerID)
	if !ok {
		o.mu.Unlock()
		o.logger.Debug("Dropping audio from speaker without source language",
			slog.Uint64("speaker_id", speakerID),
		)
		if o.metrics != nil {
			o.metrics.RecordFrameDroppedNoSource()
		}
		return
	}
	targets := o.registry.TargetsExcluding(speakerID)

	// Reserve the speaker's slot so at-most-one-per-speaker holds across
	// the unlocked dial.
	o.dialing[speakerID] = true
	o.mu.Unlock()

	s, err := o.openSession(speakerID, sourceLang, targets)
	if err != nil {
		o.logger.Warn("Failed to open translation session",
			slog.Uint64("speaker_id", speakerID),
			slog.String("error", err.Error()),
		)
		return
	}
	if s == nil {
		// Discarded: the orchestrator stopped or the registry moved while
		// the dial was in flight. The next frame starts over.
		return
	}
	o.push(s, frame)
}

// openSession dials the recognition service with o.mu released, then
// installs the session if the registry state it was opened against still
// holds. It returns (nil, nil) when the freshly opened session had to be
// discarded.
func (o *Orchestrator) openSession(speakerID uint64, sourceLang string, targets *language.Set) (*Session, error) {
	s, err := newSession(speakerID, sourceLang, targets,
		o.factory, o.sink, o.sessionTerminal, o.stopTimeout, o.metrics, o.logger)

	o.mu.Lock()
	delete(o.dialing, speakerID)
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	if o.closed {
		o.mu.Unlock()
		s.stop()
		return nil, nil
	}
	if _, ok := o.registry.SourceLanguage(speakerID); !ok || !s.Targets.Equal(o.registry.TargetsExcluding(speakerID)) {
		o.mu.Unlock()
		o.logger.Info("Discarding session opened against stale preferences",
			slog.Uint64("speaker_id", speakerID),
		)
		s.stop()
		return nil, nil
	}

	o.sessions[speakerID] = s
	if o.metrics != nil {
		o.metrics.RecordSessionCreated()
		o.metrics.SetActiveSessions(len(o.sessions))
	}
	o.mu.Unlock()
	return s, nil
}

func (o *Orchestrator) push(s *Session, frame []byte) {
	s.Push(frame)
	if o.metrics != nil {
		o.metrics.RecordFrameDispatched()
	}
}

// PreferencesChanged reconciles live sessions against the registry. Any
// session whose target set no longer equals the union of the other
// participants' targets is destroyed; the speaker's next audio frame opens
// a replacement with the fresh set. Sessions whose set still matches are
// left untouched.
func (o *Orchestrator) PreferencesChanged() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}

	var stale []*Session
	for speakerID, s := range o.sessions {
		desired := o.registry.TargetsExcluding(speakerID)
		if s.Targets.Equal(desired) {
			continue
		}
		delete(o.sessions, speakerID)
		stale = append(stale, s)

		o.logger.Info("Session targets out of date, scheduling recreation",
			slog.Uint64("speaker_id", speakerID),
			slog.String("current_targets", s.Targets.String()),
			slog.String("desired_targets", desired.String()),
		)
	}
	if o.metrics != nil && len(stale) > 0 {
		o.metrics.SetActiveSessions(len(o.sessions))
	}
	o.mu.Unlock()

	for _, s := range stale {
		if o.metrics != nil {
			o.metrics.RecordSessionRecreated()
		}
		o.destroy(s)
	}
}

// SpeakerDisconnected tears down the speaker's session and removes their
// preference entry. The registry removal fires the change hook, so other
// speakers' sessions get reconciled against the shrunken target union.
func (o *Orchestrator) SpeakerDisconnected(speakerID uint64) {
	o.mu.Lock()
	s, ok := o.sessions[speakerID]
	if ok {
		delete(o.sessions, speakerID)
		if o.metrics != nil {
			o.metrics.SetActiveSessions(len(o.sessions))
		}
	}
	o.mu.Unlock()

	if ok {
		o.destroy(s)
	}
	o.registry.Remove(speakerID)
}

// sessionTerminal is handed to every session; the session calls it when its
// recognizer dies. The identity check keeps a late callback from an old
// session from removing its replacement.
func (o *Orchestrator) sessionTerminal(s *Session) {
	o.mu.Lock()
	live, ok := o.sessions[s.SpeakerID]
	if !ok || live != s {
		o.mu.Unlock()
		return
	}
	delete(o.sessions, s.SpeakerID)
	if o.metrics != nil {
		o.metrics.SetActiveSessions(len(o.sessions))
	}
	o.mu.Unlock()

	go o.destroy(s)
}

// destroy stops a session that has already been unlinked from the map.
func (o *Orchestrator) destroy(s *Session) {
	s.stop()
	if o.metrics != nil {
		o.metrics.RecordSessionDestroyed(time.Since(s.CreatedAt).Seconds())
	}
}

// Stop tears down every live session. The orchestrator accepts no further
// work afterwards.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	remaining := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		remaining = append(remaining, s)
	}
	o.sessions = make(map[uint64]*Session)
	o.mu.Unlock()

	for _, s := range remaining {
		o.destroy(s)
	}
	if o.metrics != nil {
		o.metrics.SetActiveSessions(0)
	}

	o.logger.Info("Session orchestrator stopped",
		slog.Int("sessions_closed", len(remaining)),
	)
}

// SessionCount returns the number of live sessions.
func (o *Orchestrator) SessionCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

// Sessions returns monitoring snapshots of every live session, ordered by
// speaker id.
func (o *Orchestrator) Sessions() []Info {
	o.mu.Lock()
	live := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		live = append(live, s)
	}
	o.mu.Unlock()

	infos := make([]Info, 0, len(live))
	for _, s := range live {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].SpeakerID < infos[j].SpeakerID
	})
	return infos
}
