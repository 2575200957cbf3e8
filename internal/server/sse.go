package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// sseReplaySize is the number of recent events kept for Last-Event-ID
	// reconnection.
	sseReplaySize = 1000

	sseKeepaliveInterval = 15 * time.Second

	// sseClientBuffer is how many events a slow client may fall behind
	// before events are dropped for it.
	sseClientBuffer = 64
)

// sseEvent is one event as sent to stream clients.
type sseEvent struct {
	ID    uint64
	Topic string
	Data  []byte // JSON payload
}

// eventRing keeps the most recent events in arrival order.
type eventRing struct {
	mu   sync.RWMutex
	buf  []sseEvent
	next int
	full bool
}

func newEventRing(size int) *eventRing {
	return &eventRing{buf: make([]sseEvent, size)}
}

func (r *eventRing) push(evt sseEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = evt
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// since returns the buffered events with ID > lastID, oldest first.
func (r *eventRing) since(lastID uint64) []sseEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start, n := 0, r.next
	if r.full {
		start, n = r.next, len(r.buf)
	}
	var out []sseEvent
	for i := range n {
		evt := r.buf[(start+i)%len(r.buf)]
		if evt.ID > lastID {
			out = append(out, evt)
		}
	}
	return out
}

// sseHub fans out events from recordAndPublish to stream clients.
type sseHub struct {
	mu      sync.RWMutex
	clients map[*sseClient]struct{}
	nextID  atomic.Uint64
	replay  *eventRing
}

// sseClient is one connected stream consumer.
type sseClient struct {
	topics []string // topic patterns; empty matches all
	flowID string   // only events for this flow; empty matches all
	ch     chan sseEvent
}

func newSSEHub() *sseHub {
	return &sseHub{
		clients: make(map[*sseClient]struct{}),
		replay:  newEventRing(sseReplaySize),
	}
}

// broadcast assigns the next id to the event, buffers it for replay, and
// hands it to every matching client. Slow clients miss events rather than
// block the publisher.
func (h *sseHub) broadcast(topic string, payload []byte) {
	evt := sseEvent{ID: h.nextID.Add(1), Topic: topic, Data: payload}
	h.replay.push(evt)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.matches(evt) {
			continue
		}
		select {
		case c.ch <- evt:
		default:
		}
	}
}

func (h *sseHub) subscribe(topics []string, flowID string) *sseClient {
	c := &sseClient{topics: topics, flowID: flowID, ch: make(chan sseEvent, sseClientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *sseHub) unsubscribe(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (c *sseClient) matches(evt sseEvent) bool {
	if c.flowID != "" && !payloadMentionsFlow(evt.Data, c.flowID) {
		return false
	}
	if len(c.topics) == 0 {
		return true
	}
	for _, pattern := range c.topics {
		if matchTopicPattern(pattern, evt.Topic) {
			return true
		}
	}
	return false
}

// payloadMentionsFlow reports whether an event payload carries flowID as
// its flow id. Every flow event has either a top-level flow_id or an
// embedded flow object.
func payloadMentionsFlow(data []byte, flowID string) bool {
	quoted := strconv.Quote(flowID)
	return strings.Contains(string(data), `"flow_id":`+quoted) ||
		strings.Contains(string(data), `"id":`+quoted)
}

// matchTopicPattern matches a dot-separated topic against a pattern.
// "*" matches one segment and a trailing ">" one or more (NATS-style).
func matchTopicPattern(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	patParts := strings.Split(pattern, ".")
	topParts := strings.Split(topic, ".")
	for i, pp := range patParts {
		if pp == ">" {
			return i < len(topParts)
		}
		if i >= len(topParts) {
			return false
		}
		if pp != "*" && pp != topParts[i] {
			return false
		}
	}
	return len(patParts) == len(topParts)
}

func parseTopics(q string) []string {
	var topics []string
	for _, t := range strings.Split(q, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

// handleEventStream handles GET /api/v1/events/stream. Optional query
// parameters: topics (comma-separated patterns) and flow (a flow id).
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	q := r.URL.Query()
	client := s.sseHub.subscribe(parseTopics(q.Get("topics")), q.Get("flow"))
	defer s.sseHub.unsubscribe(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if lastID, err := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64); err == nil {
		for _, evt := range s.sseHub.replay.since(lastID) {
			if client.matches(evt) {
				writeSSEEvent(w, evt)
			}
		}
		flusher.Flush()
	}

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-client.ch:
			writeSSEEvent(w, evt)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, evt sseEvent) {
	fmt.Fprintf(w, "id:%d\nevent:%s\ndata:%s\n\n", evt.ID, evt.Topic, evt.Data)
}
