package event

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Serializer turns domain events into the opaque payload bytes stored in
// the log and back. The log itself never looks inside the payload.
type Serializer[E any] interface {
	Serialize(event E) ([]byte, error)
	Deserialize(data []byte) (E, error)
}

// Raw passes payload bytes through unchanged.
type Raw struct{}

func (Raw) Serialize(event []byte) ([]byte, error) { return event, nil }

func (Raw) Deserialize(data []byte) ([]byte, error) { return data, nil }

// JSON serializes events with encoding/json.
type JSON[E any] struct{}

func (JSON[E]) Serialize(event E) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("serialize event: %w", err)
	}
	return data, nil
}

func (JSON[E]) Deserialize(data []byte) (E, error) {
	var event E
	if err := json.Unmarshal(data, &event); err != nil {
		return event, fmt.Errorf("deserialize event: %w", err)
	}
	return event, nil
}

// Proto serializes protobuf messages. New must return an empty message of
// the concrete type to decode into.
type Proto[M proto.Message] struct {
	New func() M
}

func (p Proto[M]) Serialize(event M) ([]byte, error) {
	data, err := proto.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("serialize event: %w", err)
	}
	return data, nil
}

func (p Proto[M]) Deserialize(data []byte) (M, error) {
	msg := p.New()
	if err := proto.Unmarshal(data, msg); err != nil {
		var zero M
		return zero, fmt.Errorf("deserialize event: %w", err)
	}
	return msg, nil
}
