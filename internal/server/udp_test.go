package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/huaweiacademyifce/translation-vr/internal/config"
	"github.com/huaweiacademyifce/translation-vr/internal/prefs"
	"github.com/huaweiacademyifce/translation-vr/internal/protocol"
	"github.com/huaweiacademyifce/translation-vr/internal/session"
	"github.com/huaweiacademyifce/translation-vr/internal/speech"
)

// stubRecognizer counts the audio frames it receives.
type stubRecognizer struct {
	events chan speech.Event

	mu      sync.Mutex
	frames  int
	stopped bool
}

func (r *stubRecognizer) WriteAudio(frame []byte) error {
	r.mu.Lock()
	r.frames++
	r.mu.Unlock()
	return nil
}

func (r *stubRecognizer) Events() <-chan speech.Event {
	return r.events
}

func (r *stubRecognizer) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stopped {
		r.stopped = true
		close(r.events)
	}
	return nil
}

func (r *stubRecognizer) frameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

type stubFactory struct {
	mu     sync.Mutex
	opened []*stubRecognizer
}

func (f *stubFactory) New(cfg speech.SessionConfig) (speech.Recognizer, error) {
	r := &stubRecognizer{events: make(chan speech.Event, 4)}
	f.mu.Lock()
	f.opened = append(f.opened, r)
	f.mu.Unlock()
	return r, nil
}

func (f *stubFactory) last() *stubRecognizer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.opened) == 0 {
		return nil
	}
	return f.opened[len(f.opened)-1]
}

type discardSink struct{}

func (discardSink) DeliverRecognized(uint64, string, map[string]string) {}

// newTestUDPServer starts a server on an ephemeral port with a stubbed
// recognition backend.
func newTestUDPServer(t *testing.T, workers int) (*UDPServer, *prefs.Registry, *stubFactory) {
	t.Helper()
	logger := testLogger()
	registry := prefs.NewRegistry(logger)
	factory := &stubFactory{}
	orch := session.NewOrchestrator(session.Config{
		Registry:    registry,
		Factory:     factory,
		Sink:        discardSink{},
		StopTimeout: 50 * time.Millisecond,
	}, logger)
	registry.OnChange(orch.PreferencesChanged)
	t.Cleanup(orch.Stop)

	cfg := &config.ServerConfig{
		UDPPort:     0,
		BindAddress: "127.0.0.1",
		BufferSize:  65536,
		Workers:     workers,
		QueueSize:   64,
	}
	srv := NewUDPServer(cfg, logger, orch, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv, registry, factory
}

func TestUDPServerShardsBySpeaker(t *testing.T) {
	cfg := &config.ServerConfig{Workers: 4, QueueSize: 8}
	srv := NewUDPServer(cfg, testLogger(), nil, nil)

	for speaker := uint64(0); speaker < 8; speaker++ {
		packet, err := protocol.EncodePacket(speaker, 1, []byte{0x01, 0x02})
		if err != nil {
			t.Fatalf("EncodePacket failed: %v", err)
		}
		want := int(speaker % 4)
		if got := srv.shardFor(packet); got != want {
			t.Errorf("Speaker %d landed on shard %d, want %d", speaker, got, want)
		}
		// Stable across retransmits.
		if got := srv.shardFor(packet); got != want {
			t.Errorf("Speaker %d did not shard consistently", speaker)
		}
	}

	// Too short for a header: the parse error is counted on shard 0.
	if got := srv.shardFor([]byte{0x02, 0x00}); got != 0 {
		t.Errorf("Short datagram landed on shard %d, want 0", got)
	}
}

func TestUDPServerProcessesDatagrams(t *testing.T) {
	srv, registry, factory := newTestUDPServer(t, 4)
	registry.SetPreference(9, "pt-BR", "en")

	conn, err := net.Dial("udp", srv.conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("Failed to dial server: %v", err)
	}
	defer conn.Close()

	pcm := make([]byte, 640)
	for i := 0; i < 3; i++ {
		packet, err := protocol.EncodePacket(9, uint32(i), pcm)
		if err != nil {
			t.Fatalf("EncodePacket failed: %v", err)
		}
		if _, err := conn.Write(packet); err != nil {
			t.Fatalf("Failed to send packet: %v", err)
		}
	}

	waitForCondition(t, func() bool {
		rec := factory.last()
		return rec != nil && rec.frameCount() == 3
	}, "Frames never reached the recognizer")

	stats := srv.GetStatistics()
	if stats.PacketsProcessed < 3 {
		t.Errorf("Expected at least 3 processed packets, got %d", stats.PacketsProcessed)
	}
	if stats.ParseErrors != 0 {
		t.Errorf("Expected no parse errors, got %d", stats.ParseErrors)
	}
}

func TestUDPServerStopWhileReceiving(t *testing.T) {
	srv, _, _ := newTestUDPServer(t, 2)

	conn, err := net.Dial("udp", srv.conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("Failed to dial server: %v", err)
	}
	defer conn.Close()

	packet, err := protocol.EncodePacket(1, 0, make([]byte, 320))
	if err != nil {
		t.Fatalf("EncodePacket failed: %v", err)
	}

	// Hammer the server while it shuts down; a receive racing Stop must
	// not panic on a closed queue.
	done := make(chan struct{})
	var senderWG sync.WaitGroup
	senderWG.Add(1)
	go func() {
		defer senderWG.Done()
		for {
			select {
			case <-done:
				return
			default:
				conn.Write(packet)
			}
		}
	}()

	time.Sleep(20 * time.Millisecond)
	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	close(done)
	senderWG.Wait()
}
