package protocol

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    *Header
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid audio header",
			data: []byte{
				0x02,       // PacketType: Audio
				0x02, 0x8F, // PacketLen: 655 (11 + 4 + 640)
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x30, 0x39, // SpeakerID: 12345
			},
			expected: &Header{
				PacketType: PacketTypeAudio,
				PacketLen:  655,
				SpeakerID:  12345,
			},
			expectError: false,
		},
		{
			name: "large speaker id",
			data: []byte{
				0x02,
				0x00, 0x20,
				0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
			},
			expected: &Header{
				PacketType: PacketTypeAudio,
				PacketLen:  32,
				SpeakerID:  ^uint64(0),
			},
			expectError: false,
		},
		{
			name:        "header too short",
			data:        []byte{0x02, 0x00},
			expected:    nil,
			expectError: true,
			errorMsg:    "header too short",
		},
		{
			name:        "empty data",
			data:        []byte{},
			expected:    nil,
			expectError: true,
			errorMsg:    "header too short",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseHeader(tt.data)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				} else if *result != *tt.expected {
					t.Errorf("Expected header %+v, got %+v", tt.expected, result)
				}
			}
		})
	}
}

func TestParseAudioPayload(t *testing.T) {
	pcm := []byte{0x10, 0x00, 0xF0, 0xFF, 0x20, 0x00}
	data := make([]byte, AudioPayloadHeaderSize+len(pcm))
	binary.BigEndian.PutUint32(data[0:4], 42)
	copy(data[AudioPayloadHeaderSize:], pcm)

	payload, err := ParseAudioPayload(data)
	if err != nil {
		t.Fatalf("ParseAudioPayload failed: %v", err)
	}
	if payload.Sequence != 42 {
		t.Errorf("Expected sequence 42, got %d", payload.Sequence)
	}
	if !bytes.Equal(payload.AudioData, pcm) {
		t.Errorf("Audio data mismatch: got %v", payload.AudioData)
	}

	// Sequence only, no samples.
	payload, err = ParseAudioPayload(data[:4])
	if err != nil {
		t.Fatalf("ParseAudioPayload on bare sequence failed: %v", err)
	}
	if len(payload.AudioData) != 0 {
		t.Errorf("Expected empty audio data, got %d bytes", len(payload.AudioData))
	}

	if _, err := ParseAudioPayload(data[:3]); err == nil {
		t.Error("Expected error for truncated payload")
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	pcm := make([]byte, 640)
	for i := range pcm {
		pcm[i] = byte(i)
	}

	packet, err := EncodePacket(987654321, 7, pcm)
	if err != nil {
		t.Fatalf("EncodePacket failed: %v", err)
	}
	if len(packet) != HeaderSize+AudioPayloadHeaderSize+len(pcm) {
		t.Fatalf("Unexpected packet size %d", len(packet))
	}

	parsed, err := ParsePacket(packet)
	if err != nil {
		t.Fatalf("ParsePacket failed: %v", err)
	}
	if parsed.Header.SpeakerID != 987654321 {
		t.Errorf("Expected speaker 987654321, got %d", parsed.Header.SpeakerID)
	}
	if parsed.Audio.Sequence != 7 {
		t.Errorf("Expected sequence 7, got %d", parsed.Audio.Sequence)
	}
	if !bytes.Equal(parsed.Audio.AudioData, pcm) {
		t.Error("Audio data did not survive the round trip")
	}
}

func TestEncodePacketRejectsBadAudio(t *testing.T) {
	if _, err := EncodePacket(1, 0, nil); err == nil {
		t.Error("Expected error for empty audio data")
	}
	if _, err := EncodePacket(1, 0, []byte{0x01}); err == nil {
		t.Error("Expected error for odd-length audio data")
	}
	if _, err := EncodePacket(1, 0, make([]byte, MaxAudioDataSize+2)); err == nil {
		t.Error("Expected error for oversized audio data")
	}
}

func TestParsePacketValidation(t *testing.T) {
	pcm := []byte{0x00, 0x01}
	good, err := EncodePacket(5, 1, pcm)
	if err != nil {
		t.Fatalf("EncodePacket failed: %v", err)
	}

	t.Run("length mismatch", func(t *testing.T) {
		truncated := good[:len(good)-1]
		if _, err := ParsePacket(truncated); err == nil {
			t.Error("Expected error for truncated packet")
		}
	})

	t.Run("unknown packet type", func(t *testing.T) {
		bad := make([]byte, len(good))
		copy(bad, good)
		bad[0] = 0x7F
		if _, err := ParsePacket(bad); err == nil {
			t.Error("Expected error for unknown packet type")
		}
	})

	t.Run("declared length too small", func(t *testing.T) {
		bad := make([]byte, HeaderSize+1)
		bad[0] = PacketTypeAudio
		binary.BigEndian.PutUint16(bad[1:3], uint16(len(bad)))
		if _, err := ParsePacket(bad); err == nil {
			t.Error("Expected error for payload smaller than sequence header")
		}
	})
}

func TestHeaderString(t *testing.T) {
	h := &Header{PacketType: PacketTypeAudio, PacketLen: 655, SpeakerID: 3}
	s := h.String()
	if !strings.Contains(s, "Audio") || !strings.Contains(s, "655") {
		t.Errorf("Unexpected header string %q", s)
	}

	h.PacketType = 0x09
	if !strings.Contains(h.String(), "Unknown") {
		t.Errorf("Expected Unknown type in %q", h.String())
	}
}
