// Command client streams microphone-style audio to the translation service
// and prints the captions it receives back. Without an input file it sends
// a generated tone, which is enough to exercise the whole pipeline against
// a running server.
package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/huaweiacademyifce/translation-vr/internal/capture"
	"github.com/huaweiacademyifce/translation-vr/internal/protocol"
	"github.com/huaweiacademyifce/translation-vr/internal/subtitle"
)

type prefsMessage struct {
	Type           string `json:"type"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

type captionMessage struct {
	Type      string `json:"type"`
	SpeakerID uint64 `json:"speaker_id"`
	Text      string `json:"text"`
	Language  string `json:"language"`
}

// consoleDisplay renders captions on stdout.
type consoleDisplay struct{}

func (consoleDisplay) ShowText(text string) { fmt.Printf("  >> %s\n", text) }
func (consoleDisplay) Clear()               {}

func main() {
	serverAddr := flag.String("server", "127.0.0.1:4444", "UDP audio server address")
	controlURL := flag.String("control", "ws://127.0.0.1:8081/ws", "Control channel URL")
	participant := flag.Uint64("participant", 1, "Participant id")
	sourceLang := flag.String("source", "pt-BR", "Source language announced to the server")
	targetLang := flag.String("target", "en", "Preferred caption language")
	inputPath := flag.String("input", "", "Raw PCM16 little-endian 48kHz mono file (empty sends a tone)")
	duration := flag.Duration("duration", 0, "How long to stream (0 runs until interrupted)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()
	if *duration > 0 {
		go func() {
			select {
			case <-time.After(*duration):
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	if err := run(ctx, logger, *serverAddr, *controlURL, *participant, *sourceLang, *targetLang, *inputPath); err != nil {
		logger.Error("Client failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, serverAddr, controlURL string,
	participant uint64, sourceLang, targetLang, inputPath string) error {

	// Control channel: announce preferences and receive captions.
	wsURL := fmt.Sprintf("%s?participant=%d", controlURL, participant)
	wsConn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial control channel: %w", err)
	}
	defer wsConn.Close()

	if err := wsConn.WriteJSON(prefsMessage{
		Type:           "prefs",
		SourceLanguage: sourceLang,
		TargetLanguage: targetLang,
	}); err != nil {
		return fmt.Errorf("failed to announce preferences: %w", err)
	}
	logger.Info("Preferences announced",
		slog.String("source_language", sourceLang),
		slog.String("target_language", targetLang),
	)

	displays := subtitle.NewDisplays()
	displays.SetDefault(subtitle.NewHoldDisplay(consoleDisplay{}, 3*time.Second))
	go receiveCaptions(ctx, wsConn, displays, logger)

	// UDP audio path.
	udpAddr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve server address: %w", err)
	}
	udpConn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return fmt.Errorf("failed to dial UDP server: %w", err)
	}
	defer udpConn.Close()

	ring, err := capture.NewRing(capture.DefaultCaptureRate) // 1 second clip
	if err != nil {
		return err
	}

	var sequence uint32
	pipeline, err := capture.NewPipeline(ring, capture.PipelineConfig{}, func(frame []byte) {
		packet, err := protocol.EncodePacket(participant, sequence, frame)
		if err != nil {
			logger.Warn("Failed to encode frame", slog.String("error", err.Error()))
			return
		}
		sequence++
		if _, err := udpConn.Write(packet); err != nil {
			// Audio is lossy; keep streaming.
			logger.Debug("Failed to send frame", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return err
	}

	go pipeline.Run(ctx)

	logger.Info("Streaming audio",
		slog.String("server", serverAddr),
		slog.Uint64("participant_id", participant),
		slog.Int("frame_bytes", pipeline.FrameBytes()),
	)

	if inputPath != "" {
		return feedFromFile(ctx, ring, inputPath)
	}
	feedTone(ctx, ring)
	return nil
}

// receiveCaptions prints every caption the server pushes until the
// connection or context ends.
func receiveCaptions(ctx context.Context, conn *websocket.Conn, displays *subtitle.Displays, logger *slog.Logger) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				logger.Warn("Control connection lost", slog.String("error", err.Error()))
			}
			return
		}

		var msg captionMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "caption" {
			continue
		}

		fmt.Printf("[speaker %d, %s]\n", msg.SpeakerID, msg.Language)
		displays.Dispatch(subtitle.Caption{
			SpeakerID: msg.SpeakerID,
			Text:      msg.Text,
			Language:  msg.Language,
		})
	}
}

// feedFromFile streams a raw PCM16 48kHz mono file into the ring at
// real-time pace.
func feedFromFile(ctx context.Context, ring *capture.Ring, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	const samplesPerTick = capture.DefaultCaptureRate / 100 // 10ms
	raw := make([]byte, samplesPerTick*2)
	samples := make([]float32, samplesPerTick)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := io.ReadFull(f, raw)
			if err != nil {
				if err == io.EOF || err == io.ErrUnexpectedEOF {
					if n == 0 {
						return nil
					}
				} else {
					return fmt.Errorf("failed to read input file: %w", err)
				}
			}
			for i := 0; i < n/2; i++ {
				s := int16(binary.LittleEndian.Uint16(raw[i*2:]))
				samples[i] = float32(s) / math.MaxInt16
			}
			ring.Write(samples[:n/2])
			if n < len(raw) {
				return nil
			}
		}
	}
}

// feedTone streams a 440Hz tone into the ring at real-time pace.
func feedTone(ctx context.Context, ring *capture.Ring) {
	const samplesPerTick = capture.DefaultCaptureRate / 100 // 10ms
	samples := make([]float32, samplesPerTick)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	var phase float64
	step := 2 * math.Pi * 440 / capture.DefaultCaptureRate

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i := range samples {
				samples[i] = float32(0.3 * math.Sin(phase))
				phase += step
			}
			ring.Write(samples)
		}
	}
}
