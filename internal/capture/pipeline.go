package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	// DefaultChunkMs is the frame length sent on the wire.
	DefaultChunkMs = 20
	// DefaultCaptureRate is the microphone sample rate.
	DefaultCaptureRate = 48000
	// DefaultTargetRate is the sample rate the recognition service expects.
	DefaultTargetRate = 16000
)

// PipelineConfig tunes the capture pipeline.
type PipelineConfig struct {
	ChunkMs     int // frame length in milliseconds
	CaptureRate int // ring sample rate in Hz
	TargetRate  int // output sample rate in Hz
}

// applyDefaults fills zero fields with the standard rates.
func (c *PipelineConfig) applyDefaults() {
	if c.ChunkMs == 0 {
		c.ChunkMs = DefaultChunkMs
	}
	if c.CaptureRate == 0 {
		c.CaptureRate = DefaultCaptureRate
	}
	if c.TargetRate == 0 {
		c.TargetRate = DefaultTargetRate
	}
}

// Validate checks that the rates produce whole chunks and an integer
// decimation factor.
func (c *PipelineConfig) Validate() error {
	if c.ChunkMs <= 0 {
		return fmt.Errorf("chunk_ms must be positive (got %d)", c.ChunkMs)
	}
	if c.CaptureRate <= 0 || c.TargetRate <= 0 {
		return fmt.Errorf("sample rates must be positive (got %d -> %d)", c.CaptureRate, c.TargetRate)
	}
	if c.CaptureRate%c.TargetRate != 0 {
		return fmt.Errorf("capture rate %d is not an integer multiple of target rate %d", c.CaptureRate, c.TargetRate)
	}
	if c.CaptureRate*c.ChunkMs%1000 != 0 || c.TargetRate*c.ChunkMs%1000 != 0 {
		return fmt.Errorf("chunk of %dms is not a whole number of samples", c.ChunkMs)
	}
	return nil
}

// Pipeline drains complete chunks from a ring, downsamples them by
// dropping samples (nearest neighbour), converts them to little-endian
// PCM16 and hands each finished frame to the emit callback.
type Pipeline struct {
	ring *Ring
	emit func(frame []byte)

	chunkMs            int
	samplesPerChunk    int // at capture rate
	outSamplesPerChunk int // at target rate
	decimation         int

	lastPos int
	scratch []float32
}

// NewPipeline creates a pipeline reading from the ring. Every completed
// frame is, in order, passed to emit. The ring must hold a whole number of
// chunks so the wraparound arithmetic stays aligned.
func NewPipeline(ring *Ring, cfg PipelineConfig, emit func(frame []byte)) (*Pipeline, error) {
	if ring == nil {
		return nil, fmt.Errorf("pipeline needs a sample ring")
	}
	if emit == nil {
		return nil, fmt.Errorf("pipeline needs an emit callback")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	samplesPerChunk := cfg.CaptureRate * cfg.ChunkMs / 1000
	if ring.Size()%samplesPerChunk != 0 {
		return nil, fmt.Errorf("ring of %d samples does not hold whole %dms chunks", ring.Size(), cfg.ChunkMs)
	}

	return &Pipeline{
		ring:               ring,
		emit:               emit,
		chunkMs:            cfg.ChunkMs,
		samplesPerChunk:    samplesPerChunk,
		outSamplesPerChunk: cfg.TargetRate * cfg.ChunkMs / 1000,
		decimation:         cfg.CaptureRate / cfg.TargetRate,
		scratch:            make([]float32, samplesPerChunk),
	}, nil
}

// FrameBytes returns the size in bytes of each emitted frame.
func (p *Pipeline) FrameBytes() int {
	return p.outSamplesPerChunk * 2
}

// Poll drains every complete chunk written to the ring since the previous
// poll. It returns the number of frames emitted.
func (p *Pipeline) Poll() int {
	pos := p.ring.Position()
	diff := pos - p.lastPos
	if diff < 0 {
		diff += p.ring.Size()
	}

	emitted := 0
	for diff >= p.samplesPerChunk {
		p.ring.Read(p.scratch, p.lastPos)
		p.lastPos = (p.lastPos + p.samplesPerChunk) % p.ring.Size()
		diff -= p.samplesPerChunk

		p.emit(p.encodeChunk())
		emitted++
	}
	return emitted
}

// encodeChunk downsamples the scratch buffer and packs it as PCM16.
func (p *Pipeline) encodeChunk() []byte {
	frame := make([]byte, p.outSamplesPerChunk*2)
	out := 0
	for i := 0; i < len(p.scratch) && out < p.outSamplesPerChunk; i += p.decimation {
		s := p.scratch[i]
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		sample := int16(math.Round(float64(s) * math.MaxInt16))
		binary.LittleEndian.PutUint16(frame[out*2:], uint16(sample))
		out++
	}
	return frame
}

// Run polls at the chunk interval until the context is canceled. Callers
// that drive the pipeline from their own clock use Poll directly.
func (p *Pipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(p.chunkMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll()
		}
	}
}
