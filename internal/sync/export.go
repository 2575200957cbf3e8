package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/flowcanvas/internal/model"
	"github.com/alfredjeanlab/flowcanvas/internal/store"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	FlowCount  int       `json:"flow_count"`
	EventCount int       `json:"event_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes every flow in the store as JSONL to w. Flows are
// sorted by ID and each is followed by its event history.
func ExportJSONL(ctx context.Context, s store.Store, w io.Writer) error {
	// Fetch all flows (no filter, no limit).
	flows, _, err := s.ListFlows(ctx, model.FlowFilter{Sort: "createdDate"})
	if err != nil {
		return fmt.Errorf("list flows: %w", err)
	}
	sort.Slice(flows, func(i, j int) bool {
		return flows[i].ID < flows[j].ID
	})

	history := make(map[string][]*model.Event, len(flows))
	events := 0
	for _, f := range flows {
		evts, err := s.GetEvents(ctx, f.ID)
		if err != nil {
			return fmt.Errorf("get events for %s: %w", f.ID, err)
		}
		history[f.ID] = evts
		events += len(evts)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:    "1",
		Type:       "header",
		Timestamp:  time.Now().UTC(),
		FlowCount:  len(flows),
		EventCount: events,
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, f := range flows {
		if err := enc.Encode(record{Type: "flow", Data: f}); err != nil {
			return fmt.Errorf("encode flow %s: %w", f.ID, err)
		}
		for _, e := range history[f.ID] {
			if err := enc.Encode(record{Type: "event", Data: e}); err != nil {
				return fmt.Errorf("encode event %d of %s: %w", e.ID, f.ID, err)
			}
		}
	}

	return nil
}
