package model

import (
	"strings"
	"testing"
)

func TestNewEvent(t *testing.T) {
	e, err := NewEvent("flows.canvas.saved", "cf-1", "alice", map[string]int{"nodes": 3})
	if err != nil {
		t.Fatal(err)
	}
	if e.FlowID != "cf-1" || e.Actor != "alice" {
		t.Errorf("event = %+v", e)
	}
	if got := string(e.Payload); got != `{"nodes":3}` {
		t.Errorf("payload = %s", got)
	}
	if got := e.Kind(); got != "canvas.saved" {
		t.Errorf("Kind() = %q", got)
	}

	var decoded struct{ Nodes int }
	if err := e.Decode(&decoded); err != nil || decoded.Nodes != 3 {
		t.Errorf("Decode = %+v, %v", decoded, err)
	}

	if _, err := NewEvent("flows.flow.created", "cf-1", "", func() {}); err == nil {
		t.Error("expected error encoding a func payload")
	}
}

func TestEventDecode_Empty(t *testing.T) {
	e := &Event{ID: 7, Topic: "flows.flow.deleted"}
	err := e.Decode(&struct{}{})
	if err == nil || !strings.Contains(err.Error(), "event 7 has no payload") {
		t.Errorf("Decode error = %v", err)
	}
}
