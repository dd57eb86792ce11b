package prefs

import (
	"log/slog"
	"sync"

	"github.com/huaweiacademyifce/translation-vr/internal/language"
)

// Preference holds one participant's language choices. SourceLanguage is
// stored as announced (the recognition service accepts full tags like
// "pt-BR"); TargetLanguage is stored normalized.
type Preference struct {
	SourceLanguage string
	TargetLanguage string
}

// Registry is the process-wide preference table. Writes are serialized;
// reads see a consistent snapshot. The change hook fires on every
// SetPreference and Remove, even when the stored value did not change,
// because the listener population itself may have shifted.
type Registry struct {
	mu      sync.RWMutex
	entries map[uint64]Preference
	logger  *slog.Logger

	onChange func()
}

// NewRegistry creates an empty preference registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[uint64]Preference),
		logger:  logger,
	}
}

// OnChange installs the hook invoked after every mutation. The registry is
// constructed before the orchestrator; the orchestrator binds itself here
// once it exists.
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// SetPreference stores a participant's languages, normalizing the target.
// Last write wins.
func (r *Registry) SetPreference(participantID uint64, sourceLang, targetLang string) {
	normalized := language.Normalize(targetLang)

	r.mu.Lock()
	r.entries[participantID] = Preference{
		SourceLanguage: sourceLang,
		TargetLanguage: normalized,
	}
	hook := r.onChange
	r.mu.Unlock()

	r.logger.Info("Participant preference updated",
		slog.Uint64("participant_id", participantID),
		slog.String("source_language", sourceLang),
		slog.String("target_language", normalized),
	)

	if hook != nil {
		hook()
	}
}

// Remove deletes a participant's entry. Removing an unknown participant is
// a no-op but still fires the change hook.
func (r *Registry) Remove(participantID uint64) {
	r.mu.Lock()
	delete(r.entries, participantID)
	hook := r.onChange
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
}

// SourceLanguage returns the announced source language for a participant.
func (r *Registry) SourceLanguage(participantID uint64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pref, ok := r.entries[participantID]
	if !ok || pref.SourceLanguage == "" {
		return "", false
	}
	return pref.SourceLanguage, true
}

// TargetsExcluding returns the union of normalized target languages of
// every participant other than the given one. An empty union yields the
// fallback singleton so a session always has at least one target.
func (r *Registry) TargetsExcluding(participantID uint64) *language.Set {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := language.NewSet()
	for id, pref := range r.entries {
		if id == participantID {
			continue
		}
		set.Add(pref.TargetLanguage)
	}

	if set.Len() == 0 {
		set.Add(language.Fallback)
	}
	return set
}

// Listeners returns a snapshot of participant id to normalized target
// language, used by the caption routing path.
func (r *Registry) Listeners() map[uint64]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[uint64]string, len(r.entries))
	for id, pref := range r.entries {
		out[id] = pref.TargetLanguage
	}
	return out
}

// Count returns the number of registered participants.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
