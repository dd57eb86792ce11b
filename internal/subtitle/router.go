package subtitle

import (
	"log/slog"

	"github.com/huaweiacademyifce/translation-vr/internal/metrics"
	"github.com/huaweiacademyifce/translation-vr/internal/prefs"
)

// Caption is one line of text ready to show to a listener.
type Caption struct {
	SpeakerID uint64 `json:"speaker_id"`
	Text      string `json:"text"`
	Language  string `json:"language"`
}

// Sender delivers a caption to one participant's control connection.
type Sender interface {
	SendCaption(participantID uint64, c Caption) error
}

// Router fans recognized speech out to every listener except the speaker.
// For each listener it prefers the translation that matches the listener's
// target language and falls back to the recognized text otherwise.
type Router struct {
	registry *prefs.Registry
	sender   Sender
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewRouter creates a caption router. The sender is typically the control
// channel server.
func NewRouter(registry *prefs.Registry, sender Sender, m *metrics.Metrics, logger *slog.Logger) *Router {
	return &Router{
		registry: registry,
		sender:   sender,
		metrics:  m,
		logger:   logger,
	}
}

// DeliverRecognized implements the caption sink used by translation
// sessions. Delivery failures for one listener never block the others.
func (r *Router) DeliverRecognized(speakerID uint64, text string, translations map[string]string) {
	listeners := r.registry.Listeners()

	for participantID, target := range listeners {
		if participantID == speakerID {
			continue
		}

		caption := Caption{
			SpeakerID: speakerID,
			Text:      text,
			Language:  target,
		}
		if translated, ok := translations[target]; ok && translated != "" {
			caption.Text = translated
		}

		if err := r.sender.SendCaption(participantID, caption); err != nil {
			r.logger.Warn("Failed to deliver caption",
				slog.Uint64("listener_id", participantID),
				slog.Uint64("speaker_id", speakerID),
				slog.String("error", err.Error()),
			)
			if r.metrics != nil {
				r.metrics.RecordCaptionDropped()
			}
			continue
		}
		if r.metrics != nil {
			r.metrics.RecordCaptionDelivered()
		}
	}
}
