package speech

import (
	"context"
	"fmt"
)

// Reason classifies a recognition event.
type Reason string

const (
	// ReasonRecognized carries final recognized text without translations.
	ReasonRecognized Reason = "recognized"
	// ReasonTranslated carries recognized text plus per-language translations.
	ReasonTranslated Reason = "translated"
	// ReasonNoMatch indicates audio that contained no recognizable speech.
	ReasonNoMatch Reason = "nomatch"
	// ReasonCanceled indicates the provider canceled the recognition stream.
	ReasonCanceled Reason = "canceled"
	// ReasonError indicates a provider-reported error; the stream may continue.
	ReasonError Reason = "error"
)

// Event is one asynchronous result from the recognition capability.
type Event struct {
	Reason       Reason
	Text         string
	Translations map[string]string
	Err          error
}

// SessionConfig fixes the languages of one recognizer for its lifetime.
// Changing either field requires a new recognizer.
type SessionConfig struct {
	SourceLanguage  string
	TargetLanguages []string
}

// Validate checks that the configuration can produce a usable recognizer.
func (c SessionConfig) Validate() error {
	if c.SourceLanguage == "" {
		return fmt.Errorf("source language cannot be empty")
	}
	if len(c.TargetLanguages) == 0 {
		return fmt.Errorf("target languages cannot be empty")
	}
	return nil
}

// Recognizer is one live recognition stream. WriteAudio must preserve the
// order of frames from a single caller; Events delivers results in provider
// order. Stop releases the underlying connection, bounded by ctx.
type Recognizer interface {
	WriteAudio(pcm []byte) error
	Events() <-chan Event
	Stop(ctx context.Context) error
}

// Factory creates recognizers. Construction must not block waiting for a
// first recognition result.
type Factory interface {
	New(cfg SessionConfig) (Recognizer, error)
}
