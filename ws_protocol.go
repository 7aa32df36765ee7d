package scopeplot

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// Protocol constants
const (
	// ProtocolVersion is the current version of the WS2 protocol
	ProtocolVersion byte = 1

	// Message type constants
	MessageTypeData      byte = 0x01
	MessageTypeMetadata  byte = 0x02
	MessageTypeStreamEnd byte = 0x03

	// Header size in bytes
	EnvelopeHeaderSize = 8

	// DataMessageHeaderSize covers the Offset and Length fields of a DATA
	// payload.
	DataMessageHeaderSize = 8
)

// EnvelopeHeader is the fixed 8 byte little-endian header in front of every
// message: version, two reserved bytes, type and payload length.
type EnvelopeHeader struct {
	Version  byte
	Reserved [2]byte
	Type     byte
	Length   uint32
}

// DataMessage carries a contiguous run of samples starting at row Offset.
type DataMessage struct {
	Offset     uint32
	Length     uint32
	Times      []float64
	Amplitudes []float64
}

// StreamEndMessage is sent once the whole capture has been streamed.
type StreamEndMessage struct {
	Error bool
	Msg   string
}

// WSMessage is a decoded envelope with its payload, which is one of
// DataMessage, Metadata or StreamEndMessage.
type WSMessage struct {
	Header  EnvelopeHeader
	Payload interface{}
}

func EncodeEnvelopeHeader(env EnvelopeHeader) []byte {
	buf := make([]byte, EnvelopeHeaderSize)
	buf[0] = env.Version
	buf[1] = env.Reserved[0]
	buf[2] = env.Reserved[1]
	buf[3] = env.Type
	binary.LittleEndian.PutUint32(buf[4:8], env.Length)
	return buf
}

func DecodeEnvelopeHeader(buf []byte) (EnvelopeHeader, error) {
	if len(buf) < EnvelopeHeaderSize {
		return EnvelopeHeader{}, fmt.Errorf("buffer too short: expected at least %d bytes, got %d", EnvelopeHeaderSize, len(buf))
	}

	env := EnvelopeHeader{
		Version: buf[0],
		Type:    buf[3],
		Length:  binary.LittleEndian.Uint32(buf[4:8]),
	}
	env.Reserved[0] = buf[1]
	env.Reserved[1] = buf[2]

	return env, nil
}

// EncodeDataMessage writes Offset, Length, then the times and the amplitudes
// as float64 arrays.
func EncodeDataMessage(msg DataMessage) ([]byte, error) {
	if len(msg.Times) != len(msg.Amplitudes) {
		return nil, fmt.Errorf("times and amplitudes must have same length: times=%d, amplitudes=%d", len(msg.Times), len(msg.Amplitudes))
	}
	if uint32(len(msg.Times)) != msg.Length {
		return nil, fmt.Errorf("Length field (%d) doesn't match array length (%d)", msg.Length, len(msg.Times))
	}

	buf := make([]byte, DataMessageHeaderSize+int(msg.Length)*8*2)
	binary.LittleEndian.PutUint32(buf[0:4], msg.Offset)
	binary.LittleEndian.PutUint32(buf[4:8], msg.Length)

	offset := putFloats(buf, DataMessageHeaderSize, msg.Times)
	putFloats(buf, offset, msg.Amplitudes)

	return buf, nil
}

func DecodeDataMessage(buf []byte) (DataMessage, error) {
	if len(buf) < DataMessageHeaderSize {
		return DataMessage{}, fmt.Errorf("buffer too short for DATA message: expected at least %d bytes, got %d", DataMessageHeaderSize, len(buf))
	}

	msg := DataMessage{
		Offset: binary.LittleEndian.Uint32(buf[0:4]),
		Length: binary.LittleEndian.Uint32(buf[4:8]),
	}

	expectedSize := uint64(DataMessageHeaderSize) + uint64(msg.Length)*8*2
	if uint64(len(buf)) != expectedSize {
		return DataMessage{}, fmt.Errorf("buffer size mismatch: expected %d bytes for %d samples, got %d", expectedSize, msg.Length, len(buf))
	}

	var offset int
	msg.Times, offset = getFloats(buf, DataMessageHeaderSize, int(msg.Length))
	msg.Amplitudes, _ = getFloats(buf, offset, int(msg.Length))

	return msg, nil
}

func putFloats(buf []byte, offset int, values []float64) int {
	for _, v := range values {
		binary.LittleEndian.PutUint64(buf[offset:offset+8], math.Float64bits(v))
		offset += 8
	}
	return offset
}

func getFloats(buf []byte, offset int, n int) ([]float64, int) {
	values := make([]float64, n)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[offset : offset+8]))
		offset += 8
	}
	return values, offset
}

// METADATA and STREAM_END payloads are a 4 byte JSON length followed by the
// JSON document.
func encodeJSONPayload(kind string, v interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", kind, err)
	}

	buf := make([]byte, 4+len(jsonData))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(jsonData)))
	copy(buf[4:], jsonData)

	return buf, nil
}

func decodeJSONPayload(kind string, buf []byte, v interface{}) error {
	if len(buf) < 4 {
		return fmt.Errorf("buffer too short for %s message: expected at least 4 bytes, got %d", kind, len(buf))
	}

	jsonLength := binary.LittleEndian.Uint32(buf[0:4])
	expectedSize := 4 + uint64(jsonLength)
	if uint64(len(buf)) != expectedSize {
		return fmt.Errorf("buffer size mismatch: expected %d bytes, got %d", expectedSize, len(buf))
	}

	if err := json.Unmarshal(buf[4:], v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", kind, err)
	}

	return nil
}

func EncodeMetadataMessage(metadata Metadata) ([]byte, error) {
	return encodeJSONPayload("METADATA", metadata)
}

func DecodeMetadataMessage(buf []byte) (Metadata, error) {
	var metadata Metadata
	err := decodeJSONPayload("METADATA", buf, &metadata)
	return metadata, err
}

func EncodeStreamEndMessage(msg StreamEndMessage) ([]byte, error) {
	return encodeJSONPayload("STREAM_END", msg)
}

func DecodeStreamEndMessage(buf []byte) (StreamEndMessage, error) {
	var msg StreamEndMessage
	err := decodeJSONPayload("STREAM_END", buf, &msg)
	return msg, err
}

// EncodeWSMessage encodes the payload, fixes up Header.Length and returns
// envelope plus payload.
func EncodeWSMessage(msg WSMessage) ([]byte, error) {
	var payload []byte
	var err error

	switch msg.Header.Type {
	case MessageTypeData:
		dataMsg, ok := msg.Payload.(DataMessage)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: expected DataMessage for type 0x%02x, got %T", msg.Header.Type, msg.Payload)
		}
		payload, err = EncodeDataMessage(dataMsg)
	case MessageTypeMetadata:
		metadata, ok := msg.Payload.(Metadata)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: expected Metadata for type 0x%02x, got %T", msg.Header.Type, msg.Payload)
		}
		payload, err = EncodeMetadataMessage(metadata)
	case MessageTypeStreamEnd:
		streamEnd, ok := msg.Payload.(StreamEndMessage)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: expected StreamEndMessage for type 0x%02x, got %T", msg.Header.Type, msg.Payload)
		}
		payload, err = EncodeStreamEndMessage(streamEnd)
	default:
		return nil, fmt.Errorf("unknown message type: 0x%02x", msg.Header.Type)
	}

	if err != nil {
		return nil, err
	}

	msg.Header.Length = uint32(len(payload))

	return append(EncodeEnvelopeHeader(msg.Header), payload...), nil
}

func DecodeWSMessage(buf []byte) (WSMessage, error) {
	env, err := DecodeEnvelopeHeader(buf)
	if err != nil {
		return WSMessage{}, err
	}

	expectedSize := uint64(EnvelopeHeaderSize) + uint64(env.Length)
	if uint64(len(buf)) < expectedSize {
		return WSMessage{}, fmt.Errorf("buffer too short: expected %d bytes (header + payload), got %d", expectedSize, len(buf))
	}

	payloadBytes := buf[EnvelopeHeaderSize:expectedSize]

	var payload interface{}
	switch env.Type {
	case MessageTypeData:
		payload, err = DecodeDataMessage(payloadBytes)
	case MessageTypeMetadata:
		payload, err = DecodeMetadataMessage(payloadBytes)
	case MessageTypeStreamEnd:
		payload, err = DecodeStreamEndMessage(payloadBytes)
	default:
		return WSMessage{}, fmt.Errorf("unknown message type: 0x%02x", env.Type)
	}

	if err != nil {
		return WSMessage{}, err
	}

	return WSMessage{
		Header:  env,
		Payload: payload,
	}, nil
}

// SplitDataMessages cuts the capture into DATA messages of at most chunkSize
// samples each, in row order.
func SplitDataMessages(capture *WaveformCapture, chunkSize int) []DataMessage {
	if chunkSize <= 0 {
		chunkSize = capture.Len()
	}

	messages := make([]DataMessage, 0, capture.Len()/chunkSize+1)
	for start := 0; start < capture.Len(); start += chunkSize {
		end := Min(start+chunkSize, capture.Len())
		messages = append(messages, DataMessage{
			Offset:     uint32(start),
			Length:     uint32(end - start),
			Times:      capture.times[start:end],
			Amplitudes: capture.amplitudes[start:end],
		})
	}

	return messages
}
