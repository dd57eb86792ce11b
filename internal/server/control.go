package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/huaweiacademyifce/translation-vr/internal/config"
	"github.com/huaweiacademyifce/translation-vr/internal/metrics"
	"github.com/huaweiacademyifce/translation-vr/internal/prefs"
	"github.com/huaweiacademyifce/translation-vr/internal/session"
	"github.com/huaweiacademyifce/translation-vr/internal/subtitle"
)

// Control message types
const (
	controlTypePrefs   = "prefs"
	controlTypeCaption = "caption"
)

// prefsMessage is the inbound preference announcement.
type prefsMessage struct {
	Type           string `json:"type"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

// captionMessage is the outbound caption envelope.
type captionMessage struct {
	Type      string `json:"type"`
	SpeakerID uint64 `json:"speaker_id"`
	Text      string `json:"text"`
	Language  string `json:"language"`
}

// controlClient is one participant's websocket connection. Writes are
// serialized through writeMu because captions arrive from session event
// pumps on arbitrary goroutines.
type controlClient struct {
	participantID uint64
	conn          *websocket.Conn
	writeMu       sync.Mutex
}

func (c *controlClient) writeJSON(v any, deadline time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(deadline)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// ControlServer owns the websocket control channel. Inbound it carries
// language preference announcements; outbound it carries captions. It is
// the subtitle sender used by the caption router.
type ControlServer struct {
	config   *config.ControlConfig
	logger   *slog.Logger
	registry *prefs.Registry
	metrics  *metrics.Metrics

	// orchestrator is bound after construction; the caption router sits
	// between the two and both need the control server first.
	orchestrator *session.Orchestrator

	upgrader websocket.Upgrader
	server   *http.Server

	mu      sync.RWMutex
	clients map[uint64]*controlClient
}

// NewControlServer creates the control channel server. BindOrchestrator
// must be called before Start.
func NewControlServer(cfg *config.ControlConfig, registry *prefs.Registry,
	m *metrics.Metrics, logger *slog.Logger) *ControlServer {

	return &ControlServer{
		config:   cfg,
		logger:   logger,
		registry: registry,
		metrics:  m,
		clients:  make(map[uint64]*controlClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// BindOrchestrator installs the orchestrator notified on disconnects.
func (s *ControlServer) BindOrchestrator(orch *session.Orchestrator) {
	s.orchestrator = orch
}

// Start begins accepting control connections
func (s *ControlServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebsocket)

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.config.Address, s.config.Port),
		Handler: mux,
	}

	s.logger.Info("Control server starting", slog.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Control server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop closes every client connection and shuts the listener down
func (s *ControlServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping control server...")

	s.mu.Lock()
	for _, client := range s.clients {
		client.conn.Close()
	}
	s.clients = make(map[uint64]*controlClient)
	s.mu.Unlock()

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// ClientCount returns the number of connected participants.
func (s *ControlServer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// SendCaption implements subtitle.Sender.
func (s *ControlServer) SendCaption(participantID uint64, c subtitle.Caption) error {
	s.mu.RLock()
	client, ok := s.clients[participantID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("participant %d has no control connection", participantID)
	}

	return client.writeJSON(captionMessage{
		Type:      controlTypeCaption,
		SpeakerID: c.SpeakerID,
		Text:      c.Text,
		Language:  c.Language,
	}, s.config.GetWriteTimeoutDuration())
}

// handleWebsocket upgrades a connection and runs its read loop
func (s *ControlServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	participantID, err := strconv.ParseUint(r.URL.Query().Get("participant"), 10, 64)
	if err != nil {
		http.Error(w, "missing or invalid participant id", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Websocket upgrade failed",
			slog.Uint64("participant_id", participantID),
			slog.String("error", err.Error()),
		)
		return
	}

	client := &controlClient{participantID: participantID, conn: conn}

	s.mu.Lock()
	if old, ok := s.clients[participantID]; ok {
		// A reconnect replaces the previous connection.
		old.conn.Close()
	}
	s.clients[participantID] = client
	count := len(s.clients)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SetControlClients(count)
	}

	s.logger.Info("Participant connected",
		slog.Uint64("participant_id", participantID),
		slog.String("remote_addr", r.RemoteAddr),
	)

	go s.readLoop(client)
}

// readLoop consumes inbound control messages until the connection dies
func (s *ControlServer) readLoop(client *controlClient) {
	defer s.dropClient(client)

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("Control connection closed unexpectedly",
					slog.Uint64("participant_id", client.participantID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var msg prefsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("Malformed control message",
				slog.Uint64("participant_id", client.participantID),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch msg.Type {
		case controlTypePrefs:
			s.registry.SetPreference(client.participantID, msg.SourceLanguage, msg.TargetLanguage)
		default:
			s.logger.Debug("Ignoring unknown control message type",
				slog.Uint64("participant_id", client.participantID),
				slog.String("type", msg.Type),
			)
		}
	}
}

// dropClient unlinks a dead connection and tears down the participant's
// session and preferences. A client replaced by a reconnect is unlinked
// without touching the participant's state.
func (s *ControlServer) dropClient(client *controlClient) {
	client.conn.Close()

	s.mu.Lock()
	current, ok := s.clients[client.participantID]
	replaced := ok && current != client
	if !replaced {
		delete(s.clients, client.participantID)
	}
	count := len(s.clients)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SetControlClients(count)
	}

	if replaced {
		return
	}

	s.logger.Info("Participant disconnected",
		slog.Uint64("participant_id", client.participantID),
	)

	if s.orchestrator != nil {
		s.orchestrator.SpeakerDisconnected(client.participantID)
	} else {
		s.registry.Remove(client.participantID)
	}
}
