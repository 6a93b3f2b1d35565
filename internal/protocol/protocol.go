package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Protocol constants
const (
	// Packet types
	PacketTypeStart = 0x01
	PacketTypeAudio = 0x02
	PacketTypeStop  = 0x03

	// Packet structure sizes
	HeaderSize             = 8  // 1 + 2 + 4 + 1 bytes
	StartPayloadSize       = 68 // 64 + 4 bytes
	AudioPayloadHeaderSize = 4  // Sequence number (4 bytes)
	SampleSize             = 4  // float32

	// NameSize is the fixed width of the stream name in start packets
	NameSize = 64

	// MaxChannels is the largest interleaved channel count accepted
	MaxChannels = 8

	// MaxPacketSize is bounded by the 16-bit length field
	MaxPacketSize = math.MaxUint16
)

// Header represents the 8-byte packet header
// Layout: [PacketType:1][PacketLen:2][StreamID:4][Channels:1]
type Header struct {
	PacketType uint8  // 0x01=Start, 0x02=Audio, 0x03=Stop
	PacketLen  uint16 // Total packet size (header + payload)
	StreamID   uint32 // Unique stream identifier
	Channels   uint8  // Interleaved channel count, 1..8
}

// StartPayload announces a stream
// Layout: [Name:64][SampleRate:4]
type StartPayload struct {
	Name       [NameSize]byte // Null-terminated string (64 bytes)
	SampleRate uint32
}

// AudioPayload carries interleaved samples
// Layout: [Sequence:4][Samples:N*4] with samples as little-endian float32
type AudioPayload struct {
	Sequence uint32
	Samples  []float32
}

// ParsedPacket represents a fully parsed packet
type ParsedPacket struct {
	Header *Header
	Start  *StartPayload // Only set for start packets
	Audio  *AudioPayload // Only set for audio packets
}

// ParseHeader parses the 8-byte packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	header := &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		StreamID:   binary.BigEndian.Uint32(data[3:7]),
		Channels:   data[7],
	}

	return header, nil
}

// ParseStartPayload parses the 68-byte start packet payload
func ParseStartPayload(data []byte) (*StartPayload, error) {
	if len(data) < StartPayloadSize {
		return nil, fmt.Errorf("start payload too short: expected %d bytes, got %d",
			StartPayloadSize, len(data))
	}

	payload := &StartPayload{}
	copy(payload.Name[:], data[0:NameSize])
	payload.SampleRate = binary.BigEndian.Uint32(data[NameSize : NameSize+4])

	if payload.SampleRate == 0 {
		return nil, fmt.Errorf("sample rate cannot be zero")
	}

	return payload, nil
}

// ParseAudioPayload parses the audio packet payload (4-byte sequence + samples)
func ParseAudioPayload(data []byte, channels uint8) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadHeaderSize, len(data))
	}

	sampleBytes := data[AudioPayloadHeaderSize:]
	if len(sampleBytes)%SampleSize != 0 {
		return nil, fmt.Errorf("audio data length %d is not a multiple of %d", len(sampleBytes), SampleSize)
	}

	count := len(sampleBytes) / SampleSize
	if channels > 0 && count%int(channels) != 0 {
		return nil, fmt.Errorf("sample count %d is not a multiple of %d channels", count, channels)
	}

	payload := &AudioPayload{
		Sequence: binary.BigEndian.Uint32(data[0:4]),
		Samples:  make([]float32, count),
	}
	for i := range payload.Samples {
		bits := binary.LittleEndian.Uint32(sampleBytes[i*SampleSize:])
		payload.Samples[i] = math.Float32frombits(bits)
	}

	return payload, nil
}

// ParsePacket parses a complete packet (header + payload)
func ParsePacket(data []byte) (*ParsedPacket, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: expected at least %d bytes, got %d", HeaderSize, len(data))
	}

	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	// Validate packet length matches actual data
	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payloadData := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeStart:
		payload, err := ParseStartPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse start payload: %w", err)
		}
		packet.Start = payload

	case PacketTypeAudio:
		payload, err := ParseAudioPayload(payloadData, header.Channels)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Audio = payload

	case PacketTypeStop:
		// No payload
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if !IsValidChannels(header.Channels) {
		return fmt.Errorf("invalid channel count: %d (must be 1..%d)", header.Channels, MaxChannels)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	// Validate expected payload sizes
	payloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeStart:
		if payloadSize != StartPayloadSize {
			return fmt.Errorf("start packet payload size mismatch: expected %d, got %d",
				StartPayloadSize, payloadSize)
		}
	case PacketTypeAudio:
		if payloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("audio packet payload too small: expected at least %d, got %d",
				AudioPayloadHeaderSize, payloadSize)
		}
	case PacketTypeStop:
		if payloadSize != 0 {
			return fmt.Errorf("stop packet must have no payload, got %d bytes", payloadSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeStart || ptype == PacketTypeAudio || ptype == PacketTypeStop
}

// IsValidChannels checks if the channel count is supported
func IsValidChannels(channels uint8) bool {
	return channels >= 1 && channels <= MaxChannels
}

// ExtractString extracts a null-terminated string from a fixed-size byte array
func ExtractString(buf []byte) string {
	nullPos := len(buf)
	for i, b := range buf {
		if b == 0 {
			nullPos = i
			break
		}
	}
	return string(buf[:nullPos])
}

// GetName extracts the stream name as a string
func (s *StartPayload) GetName() string {
	return ExtractString(s.Name[:])
}

// MaxSamplesPerPacket returns how many samples fit into one audio packet
func MaxSamplesPerPacket() int {
	return (MaxPacketSize - HeaderSize - AudioPayloadHeaderSize) / SampleSize
}

func putHeader(buf []byte, ptype uint8, streamID uint32, channels uint8) {
	buf[0] = ptype
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(buf)))
	binary.BigEndian.PutUint32(buf[3:7], streamID)
	buf[7] = channels
}

// BuildStartPacket encodes a start packet. Names longer than NameSize-1 bytes are truncated.
func BuildStartPacket(streamID uint32, channels uint8, name string, sampleRate uint32) ([]byte, error) {
	if !IsValidChannels(channels) {
		return nil, fmt.Errorf("invalid channel count: %d", channels)
	}
	if sampleRate == 0 {
		return nil, fmt.Errorf("sample rate cannot be zero")
	}

	buf := make([]byte, HeaderSize+StartPayloadSize)
	putHeader(buf, PacketTypeStart, streamID, channels)

	nameBytes := []byte(name)
	if len(nameBytes) > NameSize-1 {
		nameBytes = nameBytes[:NameSize-1]
	}
	copy(buf[HeaderSize:], nameBytes)
	binary.BigEndian.PutUint32(buf[HeaderSize+NameSize:], sampleRate)

	return buf, nil
}

// BuildAudioPacket encodes interleaved samples into an audio packet
func BuildAudioPacket(streamID uint32, channels uint8, sequence uint32, samples []float32) ([]byte, error) {
	if !IsValidChannels(channels) {
		return nil, fmt.Errorf("invalid channel count: %d", channels)
	}
	if len(samples)%int(channels) != 0 {
		return nil, fmt.Errorf("sample count %d is not a multiple of %d channels", len(samples), channels)
	}
	if len(samples) > MaxSamplesPerPacket() {
		return nil, fmt.Errorf("too many samples for one packet: %d (max %d)", len(samples), MaxSamplesPerPacket())
	}

	buf := make([]byte, HeaderSize+AudioPayloadHeaderSize+len(samples)*SampleSize)
	putHeader(buf, PacketTypeAudio, streamID, channels)
	binary.BigEndian.PutUint32(buf[HeaderSize:], sequence)

	offset := HeaderSize + AudioPayloadHeaderSize
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[offset+i*SampleSize:], math.Float32bits(s))
	}

	return buf, nil
}

// BuildStopPacket encodes a stop packet
func BuildStopPacket(streamID uint32, channels uint8) ([]byte, error) {
	if !IsValidChannels(channels) {
		return nil, fmt.Errorf("invalid channel count: %d", channels)
	}
	buf := make([]byte, HeaderSize)
	putHeader(buf, PacketTypeStop, streamID, channels)
	return buf, nil
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType string

	switch h.PacketType {
	case PacketTypeStart:
		packetType = "Start"
	case PacketTypeAudio:
		packetType = "Audio"
	case PacketTypeStop:
		packetType = "Stop"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, StreamID:%d, Channels:%d}",
		packetType, h.PacketLen, h.StreamID, h.Channels)
}

// String returns a human-readable representation of the start payload
func (s *StartPayload) String() string {
	return fmt.Sprintf("StartPayload{Name:%q, SampleRate:%d}", s.GetName(), s.SampleRate)
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Sequence:%d, Samples:%d}", a.Sequence, len(a.Samples))
}
