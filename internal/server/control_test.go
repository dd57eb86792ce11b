package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/huaweiacademyifce/translation-vr/internal/config"
	"github.com/huaweiacademyifce/translation-vr/internal/prefs"
	"github.com/huaweiacademyifce/translation-vr/internal/subtitle"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestControl(t *testing.T) (*ControlServer, *prefs.Registry, string) {
	t.Helper()
	logger := testLogger()
	registry := prefs.NewRegistry(logger)
	cfg := &config.ControlConfig{Port: 8081, Address: "127.0.0.1", WriteTimeout: 2}
	control := NewControlServer(cfg, registry, nil, logger)

	srv := httptest.NewServer(http.HandlerFunc(control.handleWebsocket))
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return control, registry, wsURL
}

func dialParticipant(t *testing.T, wsURL string, participantID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?participant="+participantID, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForCondition(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestControlRejectsMissingParticipant(t *testing.T) {
	_, _, wsURL := newTestControl(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("Expected dial without participant id to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 response, got %+v", resp)
	}
}

func TestControlRegistersPreferences(t *testing.T) {
	control, registry, wsURL := newTestControl(t)

	conn := dialParticipant(t, wsURL, "7")
	waitForCondition(t, func() bool { return control.ClientCount() == 1 },
		"Client never registered")

	if err := conn.WriteJSON(prefsMessage{
		Type:           controlTypePrefs,
		SourceLanguage: "pt-BR",
		TargetLanguage: "EN-us",
	}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	waitForCondition(t, func() bool {
		source, ok := registry.SourceLanguage(7)
		return ok && source == "pt-BR"
	}, "Preference never reached the registry")

	// Target language is stored normalized.
	if target := registry.Listeners()[7]; target != "en" {
		t.Errorf("Expected normalized target en, got %q", target)
	}
}

func TestControlDeliversCaptions(t *testing.T) {
	control, _, wsURL := newTestControl(t)

	conn := dialParticipant(t, wsURL, "9")
	waitForCondition(t, func() bool { return control.ClientCount() == 1 },
		"Client never registered")

	err := control.SendCaption(9, subtitle.Caption{
		SpeakerID: 4,
		Text:      "good morning",
		Language:  "en",
	})
	if err != nil {
		t.Fatalf("SendCaption failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg captionMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if msg.Type != controlTypeCaption || msg.SpeakerID != 4 || msg.Text != "good morning" {
		t.Errorf("Unexpected caption %+v", msg)
	}
}

func TestControlSendCaptionToUnknownParticipant(t *testing.T) {
	control, _, _ := newTestControl(t)

	if err := control.SendCaption(42, subtitle.Caption{Text: "hi"}); err == nil {
		t.Error("Expected error for participant without a connection")
	}
}

func TestControlDisconnectRemovesPreferences(t *testing.T) {
	control, registry, wsURL := newTestControl(t)

	conn := dialParticipant(t, wsURL, "5")
	waitForCondition(t, func() bool { return control.ClientCount() == 1 },
		"Client never registered")

	if err := conn.WriteJSON(prefsMessage{
		Type:           controlTypePrefs,
		SourceLanguage: "en-US",
		TargetLanguage: "pt",
	}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	waitForCondition(t, func() bool { return registry.Count() == 1 },
		"Preference never registered")

	conn.Close()
	waitForCondition(t, func() bool { return control.ClientCount() == 0 },
		"Client never dropped")
	waitForCondition(t, func() bool { return registry.Count() == 0 },
		"Preference survived the disconnect")
}

func TestControlReconnectReplacesConnection(t *testing.T) {
	control, registry, wsURL := newTestControl(t)

	first := dialParticipant(t, wsURL, "3")
	waitForCondition(t, func() bool { return control.ClientCount() == 1 },
		"First client never registered")

	if err := first.WriteJSON(prefsMessage{
		Type:           controlTypePrefs,
		SourceLanguage: "fr-CA",
		TargetLanguage: "fr",
	}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	waitForCondition(t, func() bool { return registry.Count() == 1 },
		"Preference never registered")

	// Reconnecting as the same participant replaces the old connection
	// without dropping the stored preferences. The server closes the old
	// connection, which surfaces as a read error here.
	second := dialParticipant(t, wsURL, "3")
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatal("Expected first connection to be closed by the reconnect")
	}
	waitForCondition(t, func() bool { return control.ClientCount() == 1 },
		"Replacement connection not tracked")

	// Give the first connection's read loop time to unwind; preferences
	// must survive because the replacement is still connected.
	time.Sleep(50 * time.Millisecond)
	if registry.Count() != 1 {
		t.Errorf("Expected preferences to survive reconnect, registry has %d", registry.Count())
	}

	if err := control.SendCaption(3, subtitle.Caption{SpeakerID: 1, Text: "oi", Language: "fr"}); err != nil {
		t.Fatalf("SendCaption after reconnect failed: %v", err)
	}
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg captionMessage
	if err := second.ReadJSON(&msg); err != nil {
		t.Fatalf("Replacement connection got no caption: %v", err)
	}
}
