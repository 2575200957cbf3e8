// Package server exposes flows, the node catalog, and canvas editing
// sessions over HTTP.
package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/flowcanvas/internal/auth"
	"github.com/alfredjeanlab/flowcanvas/internal/backup"
	"github.com/alfredjeanlab/flowcanvas/internal/catalog"
	"github.com/alfredjeanlab/flowcanvas/internal/events"
	"github.com/alfredjeanlab/flowcanvas/internal/model"
	"github.com/alfredjeanlab/flowcanvas/internal/session"
	"github.com/alfredjeanlab/flowcanvas/internal/store"
)

// Config wires a Server. Store and Catalog are required; everything else
// has a usable zero value.
type Config struct {
	Store       store.Store
	Publisher   events.Publisher
	Catalog     *catalog.Resolver
	Rules       model.Rules
	Backups     *backup.Manager
	Auth        *auth.Authenticator
	CORSOrigins []string
	Logger      *slog.Logger

	AutosaveInterval time.Duration
	MonitorInterval  time.Duration
	SessionIdle      time.Duration // 0 disables idle reaping
}

// Server holds the HTTP API state.
type Server struct {
	store     store.Store
	publisher events.Publisher
	sseHub    *sseHub
	catalog   *catalog.Resolver
	backups   *backup.Manager
	auth      *auth.Authenticator
	cors      []string
	logger    *slog.Logger
	sessions  *session.Manager
}

// New returns a Server and starts its session manager.
func New(cfg Config) *Server {
	if cfg.Publisher == nil {
		cfg.Publisher = &events.NoopPublisher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		store:     cfg.Store,
		publisher: cfg.Publisher,
		sseHub:    newSSEHub(),
		catalog:   cfg.Catalog,
		backups:   cfg.Backups,
		auth:      cfg.Auth,
		cors:      cfg.CORSOrigins,
		logger:    cfg.Logger,
	}

	var reaper *session.ReaperConfig
	if cfg.SessionIdle > 0 {
		reaper = &session.ReaperConfig{IdleTimeout: cfg.SessionIdle}
	}
	s.sessions = session.NewManager(session.Config{
		Store:            cfg.Store,
		Catalog:          cfg.Catalog,
		Rules:            cfg.Rules,
		Backups:          cfg.Backups,
		Emit:             s.recordAndPublish,
		Logger:           cfg.Logger,
		AutosaveInterval: cfg.AutosaveInterval,
		MonitorInterval:  cfg.MonitorInterval,
		Reaper:           reaper,
	})
	return s
}

// Sessions returns the canvas session manager.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// Shutdown closes every open canvas session.
func (s *Server) Shutdown(ctx context.Context) {
	s.sessions.Shutdown(ctx)
}

// recordAndPublish persists an event to the store, publishes it to NATS and
// fans it out to SSE clients. All three are best-effort; failures are
// logged but do not block the caller. Node status events are not recorded.
func (s *Server) recordAndPublish(ctx context.Context, topic, flowID, actor string, event any) {
	rec, err := model.NewEvent(topic, flowID, actor, event)
	if err != nil {
		slog.Warn("failed to marshal event", "topic", topic, "flow_id", flowID, "error", err)
		return
	}
	if flowID != "" && topic != events.TopicNodeStatus {
		if err := s.store.RecordEvent(ctx, rec); err != nil {
			slog.Warn("failed to record event", "topic", topic, "flow_id", flowID, "error", err)
		}
	}
	if err := s.publisher.Publish(ctx, topic, event); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "flow_id", flowID, "error", err)
	}
	s.sseHub.broadcast(topic, rec.Payload)
}

// inputError indicates invalid user input.
// The HTTP layer maps this to 400.
type inputError string

func (e inputError) Error() string { return string(e) }
