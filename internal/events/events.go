package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alfredjeanlab/flowcanvas/internal/model"
)

// Event topic constants
const (
	TopicFlowCreated = "flows.flow.created"
	TopicFlowUpdated = "flows.flow.updated"
	TopicFlowDeleted = "flows.flow.deleted"

	// Canvas session events
	TopicCanvasSaved = "flows.canvas.saved"
	TopicNodeStatus  = "flows.node.status"

	// Backup monitor events
	TopicBackupRestored = "flows.backup.restored"
	TopicBackupWarning  = "flows.backup.warning"

	// TopicAll matches every flow event.
	TopicAll = "flows.>"
)

// Event types

type FlowCreated struct {
	Flow *model.Flow `json:"flow"`
}

type FlowUpdated struct {
	Flow    *model.Flow    `json:"flow"`
	Changes map[string]any `json:"changes,omitempty"` // field name -> new value
}

type FlowDeleted struct {
	FlowID string `json:"flow_id"`
}

// Canvas events

type CanvasSaved struct {
	FlowID    string `json:"flow_id"`
	SessionID string `json:"session_id"`
	Created   bool   `json:"created"`
	Nodes     int    `json:"nodes"`
	Edges     int    `json:"edges"`
	Issues    int    `json:"issues"`
}

type NodeStatus struct {
	FlowID    string           `json:"flow_id"`
	SessionID string           `json:"session_id"`
	NodeID    string           `json:"node_id"`
	Status    model.NodeStatus `json:"status"`
	Error     string           `json:"error,omitempty"`
}

// Backup events

type BackupRestored struct {
	FlowID     string    `json:"flow_id"`
	SessionID  string    `json:"session_id"`
	Expected   int       `json:"expected"`
	Live       int       `json:"live"`
	Restored   int       `json:"restored"`
	SnapshotAt time.Time `json:"snapshot_at"`
}

type BackupWarning struct {
	FlowID    string `json:"flow_id"`
	SessionID string `json:"session_id"`
	Expected  int    `json:"expected"`
	Live      int    `json:"live"`
	Message   string `json:"message"`
}

// Publisher emits events to the bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Subscriber receives events from the bus. Topics may use NATS wildcards
// such as TopicAll.
type Subscriber interface {
	Subscribe(topic string) (*Subscription, error)
	Close() error
}

// Message is a single event received from the bus.
type Message struct {
	Topic string
	Data  []byte
}

// Decode unmarshals the JSON payload into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s event: %w", m.Topic, err)
	}
	return nil
}

// NoopPublisher discards events. It is used when no bus is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, any) error { return nil }

func (NoopPublisher) Close() error { return nil }
