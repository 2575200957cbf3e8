package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/flowcanvas/internal/events"
)

func TestMatchTopicPattern(t *testing.T) {
	tests := []struct {
		pattern, topic string
		want           bool
	}{
		{"flows.flow.created", "flows.flow.created", true},
		{"flows.flow.*", "flows.flow.created", true},
		{"flows.*.created", "flows.flow.created", true},
		{"flows.>", "flows.node.status", true},
		{"flows.>", "flows", false},
		{"flows.flow.*", "flows.flow", false},
		{"flows.flow.*", "flows.flow.created.extra", false},
		{"flows.node.status", "flows.flow.created", false},
	}
	for _, tt := range tests {
		if got := matchTopicPattern(tt.pattern, tt.topic); got != tt.want {
			t.Errorf("matchTopicPattern(%q, %q) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
		}
	}
}

func TestParseTopics(t *testing.T) {
	got := parseTopics(" flows.flow.*, ,flows.node.status ")
	if len(got) != 2 || got[0] != "flows.flow.*" || got[1] != "flows.node.status" {
		t.Fatalf("unexpected topics: %q", got)
	}
	if parseTopics("") != nil {
		t.Fatal("expected nil for empty query")
	}
}

func TestPayloadMentionsFlow(t *testing.T) {
	if !payloadMentionsFlow([]byte(`{"flow_id":"cf-1","node_id":"llm_0"}`), "cf-1") {
		t.Error("expected top-level flow_id to match")
	}
	if !payloadMentionsFlow([]byte(`{"flow":{"id":"cf-1","name":"x"}}`), "cf-1") {
		t.Error("expected embedded flow id to match")
	}
	if payloadMentionsFlow([]byte(`{"flow_id":"cf-10"}`), "cf-1") {
		t.Error("expected prefix id not to match")
	}
}

func TestEventRing(t *testing.T) {
	r := newEventRing(3)
	for i := uint64(1); i <= 5; i++ {
		r.push(sseEvent{ID: i})
	}
	got := r.since(0)
	if len(got) != 3 || got[0].ID != 3 || got[2].ID != 5 {
		t.Fatalf("expected ids 3..5 oldest first, got %+v", got)
	}
	if got := r.since(4); len(got) != 1 || got[0].ID != 5 {
		t.Fatalf("expected only id 5, got %+v", got)
	}
}

func TestSSEHub_Filters(t *testing.T) {
	h := newSSEHub()
	all := h.subscribe(nil, "")
	flowOnly := h.subscribe([]string{"flows.flow.*"}, "")
	one := h.subscribe(nil, "cf-1")
	defer h.unsubscribe(all)
	defer h.unsubscribe(flowOnly)
	defer h.unsubscribe(one)

	h.broadcast(events.TopicFlowCreated, []byte(`{"flow":{"id":"cf-1"}}`))
	h.broadcast(events.TopicNodeStatus, []byte(`{"flow_id":"cf-2"}`))

	if n := len(all.ch); n != 2 {
		t.Errorf("expected 2 events for unfiltered client, got %d", n)
	}
	if n := len(flowOnly.ch); n != 1 {
		t.Errorf("expected 1 event for topic-filtered client, got %d", n)
	}
	if n := len(one.ch); n != 1 {
		t.Errorf("expected 1 event for flow-filtered client, got %d", n)
	}
	if evt := <-all.ch; evt.ID != 1 || evt.Topic != events.TopicFlowCreated {
		t.Errorf("unexpected first event: %+v", evt)
	}
}

func TestSSEHub_SlowClientDoesNotBlock(t *testing.T) {
	h := newSSEHub()
	c := h.subscribe(nil, "")
	defer h.unsubscribe(c)

	done := make(chan struct{})
	go func() {
		for range sseClientBuffer + 10 {
			h.broadcast("flows.flow.updated", []byte(`{}`))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a full client")
	}
	if len(c.ch) != sseClientBuffer {
		t.Fatalf("expected buffer to be full, got %d", len(c.ch))
	}
}

func TestEventStream(t *testing.T) {
	e := newTestEnv(t, nil)
	ts := httptest.NewServer(e.handler)
	defer ts.Close()

	// An event published before connecting is only seen through replay.
	e.do(t, http.MethodPost, "/api/v1/chatflows", map[string]any{"name": "Before"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/events/stream?topics=flows.flow.*", nil)
	req.Header.Set("Last-Event-ID", "0")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", ct)
	}

	e.do(t, http.MethodPost, "/api/v1/chatflows", map[string]any{"name": "After"})

	sc := bufio.NewScanner(resp.Body)
	var data []string
	for sc.Scan() && len(data) < 2 {
		line := sc.Text()
		if strings.HasPrefix(line, "event:") && line != "event:"+events.TopicFlowCreated {
			t.Fatalf("unexpected event line %q", line)
		}
		if strings.HasPrefix(line, "data:") {
			data = append(data, line)
		}
	}
	if len(data) != 2 {
		t.Fatalf("expected 2 events, got %d (%v)", len(data), sc.Err())
	}
	if !strings.Contains(data[0], `"Before"`) || !strings.Contains(data[1], `"After"`) {
		t.Fatalf("expected replayed then live event, got %q", data)
	}
}
