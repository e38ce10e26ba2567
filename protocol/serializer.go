package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Serializer defines the contract for serializing and deserializing command payloads.
// This allows different terminals to choose their preferred format (JSON, CBOR, etc.)
// while interacting with the order engine.
type Serializer interface {
	// Marshal serializes a Go struct (e.g. AddItemCommand) into bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes bytes into a Go struct.
	// v must be a pointer to the target struct.
	Unmarshal(data []byte, v any) error
}

// DefaultJSONSerializer uses encoding/json.
type DefaultJSONSerializer struct{}

func (s *DefaultJSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (s *DefaultJSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// CBORSerializer encodes with Core Deterministic Encoding (RFC 8949 §4.2),
// so the same command always produces identical bytes.
type CBORSerializer struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORSerializer creates a CBORSerializer.
// Struct fields fall back to their json tags, so payloads keep the same field names in both formats.
func NewCBORSerializer() (*CBORSerializer, error) {
	encOptions := cbor.CoreDetEncOptions()
	// Keep nanoseconds; the default unix-seconds mode would truncate timestamps.
	encOptions.Time = cbor.TimeRFC3339Nano
	enc, err := encOptions.EncMode()
	if err != nil {
		return nil, fmt.Errorf("protocol: CBOR encoder initialization failed: %w", err)
	}

	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("protocol: CBOR decoder initialization failed: %w", err)
	}

	return &CBORSerializer{enc: enc, dec: dec}, nil
}

func (s *CBORSerializer) Marshal(v any) ([]byte, error) {
	return s.enc.Marshal(v)
}

func (s *CBORSerializer) Unmarshal(data []byte, v any) error {
	return s.dec.Unmarshal(data, v)
}

// SerializerByName returns the serializer registered under name ("json" or "cbor").
func SerializerByName(name string) (Serializer, error) {
	switch name {
	case "", "json":
		return &DefaultJSONSerializer{}, nil
	case "cbor":
		return NewCBORSerializer()
	default:
		return nil, fmt.Errorf("protocol: unknown serializer %q", name)
	}
}
