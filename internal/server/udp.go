package server

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/huaweiacademyifce/translation-vr/internal/config"
	"github.com/huaweiacademyifce/translation-vr/internal/metrics"
	"github.com/huaweiacademyifce/translation-vr/internal/protocol"
	"github.com/huaweiacademyifce/translation-vr/internal/session"
)

// UDPServer receives audio datagrams from clients and routes each frame to
// the speaker's translation session.
type UDPServer struct {
	conn         *net.UDPConn
	config       *config.ServerConfig
	logger       *slog.Logger
	orchestrator *session.Orchestrator
	metrics      *metrics.Metrics

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Packet processing. Each worker drains its own shard, and datagrams
	// are sharded by speaker id, so one speaker's frames keep their
	// arrival order through the pool.
	shards []chan *incomingPacket

	// Basic counters exposed over the stats API
	packetsReceived  uint64
	packetsProcessed uint64
	parseErrors      uint64
	packetsDropped   uint64
	mu               sync.RWMutex
}

// incomingPacket represents a received UDP packet with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// NewUDPServer creates a new UDP server instance
func NewUDPServer(cfg *config.ServerConfig, logger *slog.Logger,
	orchestrator *session.Orchestrator, m *metrics.Metrics) *UDPServer {

	ctx, cancel := context.WithCancel(context.Background())

	shardCap := cfg.QueueSize / cfg.Workers
	if shardCap < 1 {
		shardCap = 1
	}
	shards := make([]chan *incomingPacket, cfg.Workers)
	for i := range shards {
		shards[i] = make(chan *incomingPacket, shardCap)
	}

	return &UDPServer{
		config:       cfg,
		logger:       logger,
		orchestrator: orchestrator,
		metrics:      m,
		ctx:          ctx,
		cancel:       cancel,
		shards:       shards,
	}
}

// Start begins listening for UDP packets
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.UDPPort))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("UDP server started",
		slog.String("address", addr.String()),
		slog.Int("buffer_size", s.config.BufferSize),
		slog.Int("workers", s.config.Workers),
	)

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.packetProcessor(i)
	}

	s.wg.Add(1)
	go s.receiveLoop()

	return nil
}

// Stop gracefully stops the UDP server
func (s *UDPServer) Stop() error {
	s.logger.Info("Stopping UDP server...")

	s.cancel()

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	// Workers drain on context cancellation; the shards stay open so a
	// receive racing the shutdown can never send on a closed channel.
	s.wg.Wait()

	s.mu.RLock()
	packetsReceived := s.packetsReceived
	packetsProcessed := s.packetsProcessed
	parseErrors := s.parseErrors
	s.mu.RUnlock()

	s.logger.Info("UDP server stopped",
		slog.Uint64("packets_received", packetsReceived),
		slog.Uint64("packets_processed", packetsProcessed),
		slog.Uint64("parse_errors", parseErrors),
	)

	return nil
}

// receiveLoop is the main packet receiving loop
func (s *UDPServer) receiveLoop() {
	defer s.wg.Done()

	buffer := make([]byte, s.config.BufferSize)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("Receive loop stopping due to context cancellation")
			return
		default:
			// Continue to receive packets
		}

		// Set read deadline to check for context cancellation periodically
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue // Check context and try again
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		s.mu.Lock()
		s.packetsReceived++
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordPacketReceived()
			s.metrics.SetQueueSize(s.queuedPackets())
		}

		// Copy packet data; the read buffer is reused.
		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		select {
		case s.shards[s.shardFor(packetData)] <- packet:
			// Packet queued successfully
		default:
			// Shard full; audio is lossy by contract, so drop it.
			s.mu.Lock()
			s.packetsDropped++
			s.mu.Unlock()
			s.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// shardFor picks the worker shard for a datagram by speaker id, keeping
// each speaker's frames on one worker. Datagrams too short to carry a
// header go to shard 0, whose worker counts the parse error.
func (s *UDPServer) shardFor(data []byte) int {
	if len(data) < protocol.HeaderSize {
		return 0
	}
	speakerID := binary.BigEndian.Uint64(data[3:11])
	return int(speakerID % uint64(len(s.shards)))
}

// packetProcessor processes packets from its own shard
func (s *UDPServer) packetProcessor(workerID int) {
	defer s.wg.Done()

	s.logger.Debug("Packet processor started", slog.Int("worker_id", workerID))

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("Packet processor stopped", slog.Int("worker_id", workerID))
			return
		case packet := <-s.shards[workerID]:
			s.handlePacket(packet, workerID)
		}
	}
}

// handlePacket parses one datagram and dispatches its audio frame
func (s *UDPServer) handlePacket(packet *incomingPacket, workerID int) {
	parsed, err := protocol.ParsePacket(packet.data)
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordParseError()
		}

		s.logger.Error("Failed to parse packet",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("packet_size", len(packet.data)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
		return
	}

	s.mu.Lock()
	s.packetsProcessed++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordPacketProcessed()
	}

	if len(parsed.Audio.AudioData) == 0 {
		s.logger.Debug("Ignoring audio packet with no samples",
			slog.Uint64("speaker_id", parsed.Header.SpeakerID),
			slog.Uint64("sequence", uint64(parsed.Audio.Sequence)),
			slog.Int("worker_id", workerID),
		)
		return
	}

	s.orchestrator.DispatchAudio(parsed.Header.SpeakerID, parsed.Audio.AudioData)

	s.logger.Debug("Audio packet processed",
		slog.Uint64("speaker_id", parsed.Header.SpeakerID),
		slog.Uint64("sequence", uint64(parsed.Audio.Sequence)),
		slog.Int("audio_size", len(parsed.Audio.AudioData)),
		slog.Int("worker_id", workerID),
	)
}

// queuedPackets returns the number of packets waiting across all shards.
func (s *UDPServer) queuedPackets() int {
	total := 0
	for _, shard := range s.shards {
		total += len(shard)
	}
	return total
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	queueCapacity := 0
	for _, shard := range s.shards {
		queueCapacity += cap(shard)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return ServerStatistics{
		PacketsReceived:  s.packetsReceived,
		PacketsProcessed: s.packetsProcessed,
		ParseErrors:      s.parseErrors,
		PacketsDropped:   s.packetsDropped,
		ActiveSessions:   uint64(s.orchestrator.SessionCount()),
		QueueSize:        uint64(s.queuedPackets()),
		QueueCapacity:    uint64(queueCapacity),
	}
}

// ServerStatistics represents server performance metrics
type ServerStatistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	ParseErrors      uint64 `json:"parse_errors"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	ActiveSessions   uint64 `json:"active_sessions"`
	QueueSize        uint64 `json:"queue_size"`
	QueueCapacity    uint64 `json:"queue_capacity"`
}
