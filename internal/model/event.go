package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event is one entry in a flow's history. The same payload is published
// on the event bus under Topic.
type Event struct {
	ID        int64           `json:"id"`
	Topic     string          `json:"topic"`
	FlowID    string          `json:"flow_id"`
	Actor     string          `json:"actor,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewEvent encodes payload as JSON. ID and CreatedAt are assigned by the
// store.
func NewEvent(topic, flowID, actor string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", topic, err)
	}
	return &Event{Topic: topic, FlowID: flowID, Actor: actor, Payload: data}, nil
}

// Kind is the topic without its "flows." namespace, e.g. "canvas.saved".
func (e *Event) Kind() string {
	return strings.TrimPrefix(e.Topic, "flows.")
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %d has no payload", e.ID)
	}
	return json.Unmarshal(e.Payload, v)
}
