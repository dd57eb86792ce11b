// Standalone fake recognition service for local testing. It speaks the
// websocket protocol the speech package dials: binary PCM frames in, JSON
// event messages out. Roughly every two seconds of received audio it emits
// a translated event with canned text for each requested target language.
//
// Run with: go run test_speech_server.go
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
)

type eventMessage struct {
	Reason       string            `json:"reason"`
	Text         string            `json:"text,omitempty"`
	Translations map[string]string `json:"translations,omitempty"`
	Error        string            `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

var cannedLines = []string{
	"hello there",
	"how is it going",
	"this is a test caption",
	"one more line",
}

func translateHandler(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	targets := strings.Split(r.URL.Query().Get("targets"), ",")
	sampleRate, _ := strconv.Atoi(r.URL.Query().Get("sample_rate"))
	if sampleRate == 0 {
		sampleRate = 16000
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("stream opened: source=%s targets=%v sample_rate=%d auth=%t",
		source, targets, sampleRate, r.Header.Get("Authorization") != "")

	bytesPerEvent := sampleRate * 2 * 2 // ~2 seconds of PCM16
	received := 0
	line := 0

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("stream closed: %v", err)
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		received += len(data)
		if received < bytesPerEvent {
			continue
		}
		received = 0

		text := cannedLines[line%len(cannedLines)]
		line++

		translations := make(map[string]string, len(targets))
		for _, target := range targets {
			if target == "" {
				continue
			}
			translations[target] = fmt.Sprintf("[%s] %s", target, text)
		}

		event := eventMessage{
			Reason:       "translated",
			Text:         text,
			Translations: translations,
		}
		payload, _ := json.Marshal(event)
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("write failed: %v", err)
			return
		}
		log.Printf("emitted: %q -> %v", text, targets)
	}
}

func main() {
	http.HandleFunc("/v1/translate", translateHandler)

	addr := ":9090"
	log.Printf("fake speech service listening on %s", addr)
	log.Printf("point the server at it with TRANSLATION_ENDPOINT=ws://localhost%s/v1/translate", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal(err)
	}
}
