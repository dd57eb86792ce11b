package protocol

import (
	"encoding/binary"
	"fmt"
)

// Protocol constants
const (
	// Packet types
	PacketTypeAudio = 0x02

	// Packet structure sizes
	HeaderSize             = 11 // 1 + 2 + 8 bytes
	AudioPayloadHeaderSize = 4  // Sequence number (4 bytes)

	// MaxAudioDataSize bounds the PCM payload of a single datagram. A
	// 20ms frame at 16kHz is 640 bytes; anything past 100ms is malformed.
	MaxAudioDataSize = 3200
)

// Header represents the 11-byte packet header
// Layout: [PacketType:1][PacketLen:2][SpeakerID:8]
type Header struct {
	PacketType uint8  // 0x02=Audio
	PacketLen  uint16 // Total packet size (header + payload)
	SpeakerID  uint64 // Stable participant identifier
}

// AudioPayload represents the audio packet payload
// Layout: [Sequence:4][AudioData:N]
type AudioPayload struct {
	Sequence  uint32 // Packet sequence number
	AudioData []byte // PCM16 little-endian audio data
}

// AudioPacket represents a fully parsed audio datagram
type AudioPacket struct {
	Header *Header
	Audio  *AudioPayload
}

// ParseHeader parses the 11-byte packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	return &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		SpeakerID:  binary.BigEndian.Uint64(data[3:11]),
	}, nil
}

// ParseAudioPayload parses the audio packet payload (4-byte sequence + PCM data)
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadHeaderSize, len(data))
	}

	payload := &AudioPayload{
		Sequence: binary.BigEndian.Uint32(data[0:4]),
	}

	if len(data) > AudioPayloadHeaderSize {
		payload.AudioData = make([]byte, len(data)-AudioPayloadHeaderSize)
		copy(payload.AudioData, data[AudioPayloadHeaderSize:])
	}

	return payload, nil
}

// ParsePacket parses a complete audio datagram (header + payload)
func ParsePacket(data []byte) (*AudioPacket, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: expected at least %d bytes, got %d", HeaderSize, len(data))
	}

	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	payload, err := ParseAudioPayload(data[HeaderSize:])
	if err != nil {
		return nil, fmt.Errorf("failed to parse audio payload: %w", err)
	}

	return &AudioPacket{Header: header, Audio: payload}, nil
}

// EncodePacket serializes an audio frame into a datagram ready to send
func EncodePacket(speakerID uint64, sequence uint32, audioData []byte) ([]byte, error) {
	if len(audioData) == 0 {
		return nil, fmt.Errorf("audio data must not be empty")
	}
	if len(audioData) > MaxAudioDataSize {
		return nil, fmt.Errorf("audio data too large: %d bytes (maximum %d)", len(audioData), MaxAudioDataSize)
	}
	if len(audioData)%2 != 0 {
		return nil, fmt.Errorf("audio data length must be even (got %d bytes)", len(audioData))
	}

	total := HeaderSize + AudioPayloadHeaderSize + len(audioData)
	packet := make([]byte, total)
	packet[0] = PacketTypeAudio
	binary.BigEndian.PutUint16(packet[1:3], uint16(total))
	binary.BigEndian.PutUint64(packet[3:11], speakerID)
	binary.BigEndian.PutUint32(packet[11:15], sequence)
	copy(packet[HeaderSize+AudioPayloadHeaderSize:], audioData)

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if header.PacketType != PacketTypeAudio {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	payloadSize := int(header.PacketLen) - HeaderSize
	if payloadSize < AudioPayloadHeaderSize {
		return fmt.Errorf("audio packet payload too small: expected at least %d, got %d",
			AudioPayloadHeaderSize, payloadSize)
	}
	if payloadSize > AudioPayloadHeaderSize+MaxAudioDataSize {
		return fmt.Errorf("audio packet payload too large: %d bytes (maximum %d)",
			payloadSize, AudioPayloadHeaderSize+MaxAudioDataSize)
	}

	return nil
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	packetType := "Audio"
	if h.PacketType != PacketTypeAudio {
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}
	return fmt.Sprintf("Header{Type:%s, Len:%d, SpeakerID:%d}", packetType, h.PacketLen, h.SpeakerID)
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Sequence:%d, AudioDataLen:%d}", a.Sequence, len(a.AudioData))
}
