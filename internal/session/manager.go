package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alfredjeanlab/flowcanvas/internal/backup"
	"github.com/alfredjeanlab/flowcanvas/internal/canvas"
	"github.com/alfredjeanlab/flowcanvas/internal/catalog"
	"github.com/alfredjeanlab/flowcanvas/internal/events"
	"github.com/alfredjeanlab/flowcanvas/internal/idgen"
	"github.com/alfredjeanlab/flowcanvas/internal/model"
	"github.com/alfredjeanlab/flowcanvas/internal/reconcile"
	"github.com/alfredjeanlab/flowcanvas/internal/store"
)

var (
	// ErrSessionNotFound is returned for unknown or closed session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotAFlow is returned by Import when the text is not a serialized graph.
	ErrNotAFlow = errors.New("clipboard does not contain a flow")
	// ErrBackupsDisabled is returned by Recover when no backup store is configured.
	ErrBackupsDisabled = errors.New("backups are disabled")
)

const (
	DefaultAutosaveInterval = 30 * time.Second
	DefaultFlowName         = "Untitled"
)

// startPosition is where the start node of a new agentflow is placed.
var startPosition = model.Position{X: 100, Y: 100}

// EmitFunc records and publishes a flow event.
type EmitFunc func(ctx context.Context, topic, flowID, actor string, event any)

// Config wires a Manager to its collaborators. Store and Catalog are
// required.
type Config struct {
	Store   store.Store
	Catalog *catalog.Resolver
	Rules   model.Rules
	Backups *backup.Manager // nil disables snapshots, autosave, and the monitor
	Emit    EmitFunc
	Logger  *slog.Logger

	AutosaveInterval time.Duration // 0 = default, negative disables
	MonitorInterval  time.Duration // 0 = default, negative disables
	Reaper           *ReaperConfig // nil disables idle reaping
}

// OpenRequest describes the flow a session edits. An empty FlowID starts
// a new flow.
type OpenRequest struct {
	FlowID         string         `json:"flowId,omitempty"`
	Name           string         `json:"name,omitempty"`
	Type           model.FlowType `json:"type,omitempty"`
	Actor          string         `json:"-"`
	WorkspaceID    string         `json:"-"`
	OrganizationID string         `json:"-"`
}

// Manager owns all open sessions.
type Manager struct {
	cfg        Config
	reg        *Registry
	reconciler *reconcile.Reconciler
	logger     *slog.Logger
}

// NewManager returns a Manager and starts the idle reaper if configured.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Emit == nil {
		cfg.Emit = func(context.Context, string, string, string, any) {}
	}
	if cfg.AutosaveInterval == 0 {
		cfg.AutosaveInterval = DefaultAutosaveInterval
	}
	if cfg.MonitorInterval == 0 {
		cfg.MonitorInterval = backup.DefaultCheckInterval
	}
	m := &Manager{
		cfg:        cfg,
		reg:        NewRegistry(),
		reconciler: reconcile.New(cfg.Catalog, cfg.Logger),
		logger:     cfg.Logger,
	}
	if cfg.Reaper != nil {
		rc := *cfg.Reaper
		if rc.OnIdle == nil {
			rc.OnIdle = func(id string) {
				if err := m.Close(context.Background(), id); err != nil && !errors.Is(err, ErrSessionNotFound) {
					m.logger.Warn("closing idle session failed", "session_id", id, "err", err)
				}
			}
		}
		m.reg.StartReaper(&rc)
	}
	return m
}

// Registry exposes the session roster.
func (m *Manager) Registry() *Registry {
	return m.reg
}

// Reconciler returns the reconciler used on load and sync.
func (m *Manager) Reconciler() *reconcile.Reconciler {
	return m.reconciler
}

// Open loads a flow into a new session. Stored nodes are reconciled with
// the current templates. A new, empty agentflow gets a start node.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*View, error) {
	if err := m.cfg.Catalog.Load(ctx); err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	id, err := idgen.SessionID()
	if err != nil {
		return nil, err
	}
	s := &Session{
		ID:             id,
		Actor:          req.Actor,
		WorkspaceID:    req.WorkspaceID,
		OrganizationID: req.OrganizationID,
		Type:           req.Type,
		OpenedAt:       time.Now().UTC(),
		name:           strings.TrimSpace(req.Name),
	}

	graph := &model.Graph{Nodes: []*model.Node{}, Edges: []*model.Edge{}}
	if req.FlowID != "" {
		flow, err := m.cfg.Store.GetFlow(ctx, req.FlowID)
		if err != nil {
			return nil, fmt.Errorf("get flow %s: %w", req.FlowID, err)
		}
		if graph, err = flow.Graph(); err != nil {
			return nil, fmt.Errorf("decode flow %s: %w", req.FlowID, err)
		}
		s.flowID = flow.ID
		s.Type = flow.Type
		if s.name == "" {
			s.name = flow.Name
		}
		if s.WorkspaceID == "" {
			s.WorkspaceID = flow.WorkspaceID
		}
		if s.OrganizationID == "" {
			s.OrganizationID = flow.OrganizationID
		}
	}
	if s.Type == "" {
		s.Type = model.FlowTypeChatflow
	}
	if s.name == "" {
		s.name = DefaultFlowName
	}

	graph, s.report = m.reconciler.Graph(graph)
	s.canvas = canvas.New(m.cfg.Rules, canvas.WithBeforeRemove(m.snapshotHook(s)))
	if s.issues, err = s.canvas.Load(graph); err != nil {
		return nil, err
	}
	s.outdated = m.reconciler.Outdated(graph)

	if req.FlowID == "" && s.Type == model.FlowTypeAgentflow && s.canvas.NodeCount() == 0 {
		if err := m.seedStart(s.canvas); err != nil {
			m.logger.Warn("seeding start node failed", "session_id", s.ID, "err", err)
		}
		s.canvas.MarkClean()
	}

	m.start(s)
	m.reg.Add(s)
	m.logger.Info("session opened", "session_id", s.ID, "flow_id", s.flowID,
		"nodes", s.canvas.NodeCount(), "upgraded", len(s.report.Upgraded), "missing", len(s.report.Missing))

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view(), nil
}

func (m *Manager) seedStart(c *canvas.Canvas) error {
	name, ok := c.Rules().StartName()
	if !ok {
		return errors.New("no start node type configured")
	}
	tpl, ok := m.cfg.Catalog.Lookup(name)
	if !ok {
		return fmt.Errorf("%s: %w", name, catalog.ErrTemplateNotFound)
	}
	n, err := c.AddNode(tpl, startPosition)
	if err != nil {
		return err
	}
	return c.SetLabel(n.ID, "Start")
}

// snapshotHook stores the pre-removal graph. It runs under the session
// lock, so it must not touch the session itself beyond its ids.
func (m *Manager) snapshotHook(s *Session) func(*model.Graph) {
	return func(g *model.Graph) {
		if m.cfg.Backups == nil {
			return
		}
		if err := m.cfg.Backups.Snapshot(context.Background(), s.backupID(), g); err != nil {
			m.logger.Warn("snapshot failed", "session_id", s.ID, "flow_id", s.FlowID(), "err", err)
		}
	}
}

// start launches the autosave loop and the loss monitor.
func (m *Manager) start(s *Session) {
	if m.cfg.Backups == nil {
		return
	}
	if m.cfg.MonitorInterval > 0 {
		s.monitor = backup.NewMonitor(s.backupID(), monitorTarget{s: s}, m.cfg.Backups, backup.MonitorConfig{
			Interval: m.cfg.MonitorInterval,
			Notify:   func(n backup.Notice) { m.onNotice(s, n) },
			Logger:   m.logger.With("session_id", s.ID),
		})
		s.monitor.Start()
	}
	if m.cfg.AutosaveInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			m.autosaveLoop(ctx, s)
		}()
	}
}

func (m *Manager) onNotice(s *Session, n backup.Notice) {
	ctx := context.Background()
	switch n.Kind {
	case backup.NoticeRestored:
		m.cfg.Emit(ctx, events.TopicBackupRestored, s.FlowID(), s.Actor, events.BackupRestored{
			FlowID:     s.FlowID(),
			SessionID:  s.ID,
			Expected:   n.Expected,
			Live:       n.Live,
			Restored:   n.Restored,
			SnapshotAt: n.SnapshotAt,
		})
	default:
		m.cfg.Emit(ctx, events.TopicBackupWarning, s.FlowID(), s.Actor, events.BackupWarning{
			FlowID:    s.FlowID(),
			SessionID: s.ID,
			Expected:  n.Expected,
			Live:      n.Live,
			Message:   n.Message,
		})
	}
}

func (m *Manager) autosaveLoop(ctx context.Context, s *Session) {
	ticker := time.NewTicker(m.cfg.AutosaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.autosave(ctx, s)
		}
	}
}

// autosave stores the graph if it has unsaved changes.
func (m *Manager) autosave(ctx context.Context, s *Session) {
	s.mu.Lock()
	if !s.canvas.Dirty() || s.canvas.NodeCount() == 0 {
		s.mu.Unlock()
		return
	}
	g := s.canvas.Graph()
	s.mu.Unlock()

	if err := m.cfg.Backups.Autosave(ctx, s.backupID(), g); err != nil {
		m.logger.Warn("autosave failed", "session_id", s.ID, "err", err)
		return
	}
	m.logger.Debug("autosaved", "session_id", s.ID, "flow_id", s.FlowID(), "nodes", len(g.Nodes))
}

func (m *Manager) session(id string) (*Session, error) {
	if !idgen.Session.Owns(id) {
		return nil, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	s, ok := m.reg.Get(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	return s, nil
}

// Session returns the open session with the given id.
func (m *Manager) Session(id string) (*Session, error) {
	return m.session(id)
}

// Get returns the current state of a session.
func (m *Manager) Get(id string) (*View, error) {
	s, err := m.session(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	return s.view(), nil
}

// Do runs fn with exclusive access to the session's canvas. Mutations of
// one session are applied in call order.
func (m *Manager) Do(id string, fn func(c *canvas.Canvas) error) error {
	s, err := m.session(id)
	if err != nil {
		return err
	}
	m.reg.Touch(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	return fn(s.canvas)
}

// SetStatus records a node's execution status and publishes it.
func (m *Manager) SetStatus(ctx context.Context, id, nodeID string, status model.NodeStatus, errMsg string) error {
	s, err := m.session(id)
	if err != nil {
		return err
	}
	if err := m.Do(id, func(c *canvas.Canvas) error {
		return c.SetStatus(nodeID, status, errMsg)
	}); err != nil {
		return err
	}
	m.cfg.Emit(ctx, events.TopicNodeStatus, s.FlowID(), s.Actor, events.NodeStatus{
		FlowID:    s.FlowID(),
		SessionID: s.ID,
		NodeID:    nodeID,
		Status:    status,
		Error:     errMsg,
	})
	return nil
}

// Save persists the canvas. The first save of a new flow creates it.
// Writes are last-write-wins against other sessions of the same flow.
func (m *Manager) Save(ctx context.Context, id, name string) (*model.Flow, error) {
	s, err := m.session(id)
	if err != nil {
		return nil, err
	}
	m.reg.Touch(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}

	if name = strings.TrimSpace(name); name != "" {
		s.name = name
	}
	issues := s.canvas.Integrity()
	for _, is := range issues {
		m.logger.Warn("integrity issue", "session_id", s.ID, "flow_id", s.FlowID(), "kind", is.Kind, "id", is.ID, "detail", is.Detail)
	}

	g := s.canvas.ForSave()
	data, err := g.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal graph: %w", err)
	}
	if m.cfg.Backups != nil {
		if err := m.cfg.Backups.Snapshot(ctx, s.backupID(), s.canvas.Graph()); err != nil {
			m.logger.Warn("pre-save snapshot failed", "session_id", s.ID, "err", err)
		}
	}

	created := s.FlowID() == ""
	var flow *model.Flow
	if created {
		flowID, err := idgen.FlowID()
		if err != nil {
			return nil, err
		}
		flow = &model.Flow{
			ID:             flowID,
			Name:           s.name,
			FlowData:       string(data),
			Type:           s.Type,
			WorkspaceID:    s.WorkspaceID,
			OrganizationID: s.OrganizationID,
			CreatedBy:      s.Actor,
		}
		if err := model.ValidateFlow(flow); err != nil {
			return nil, err
		}
		if err := m.cfg.Store.CreateFlow(ctx, flow); err != nil {
			return nil, fmt.Errorf("create flow: %w", err)
		}
		s.setFlowID(flow.ID)
		m.cfg.Emit(ctx, events.TopicFlowCreated, flow.ID, s.Actor, events.FlowCreated{Flow: flow})
		if m.cfg.Backups != nil {
			if err := m.cfg.Backups.Discard(ctx, backup.UnsavedID(s.ID)); err != nil {
				m.logger.Warn("discarding unsaved-flow backups failed", "session_id", s.ID, "err", err)
			}
		}
	} else {
		if flow, err = m.cfg.Store.GetFlow(ctx, s.FlowID()); err != nil {
			return nil, fmt.Errorf("get flow %s: %w", s.FlowID(), err)
		}
		flow.Name = s.name
		flow.FlowData = string(data)
		if err := model.ValidateFlow(flow); err != nil {
			return nil, err
		}
		if err := m.cfg.Store.UpdateFlow(ctx, flow); err != nil {
			return nil, fmt.Errorf("update flow: %w", err)
		}
		m.cfg.Emit(ctx, events.TopicFlowUpdated, flow.ID, s.Actor, events.FlowUpdated{
			Flow:    flow,
			Changes: map[string]any{"name": flow.Name, "flowData": true},
		})
	}

	s.canvas.MarkClean()
	if m.cfg.Backups != nil {
		if err := m.cfg.Backups.ClearAutosave(ctx, flow.ID); err != nil {
			m.logger.Warn("clearing autosave failed", "flow_id", flow.ID, "err", err)
		}
	}
	m.cfg.Emit(ctx, events.TopicCanvasSaved, flow.ID, s.Actor, events.CanvasSaved{
		FlowID:    flow.ID,
		SessionID: s.ID,
		Created:   created,
		Nodes:     len(g.Nodes),
		Edges:     len(g.Edges),
		Issues:    len(issues),
	})
	m.logger.Info("flow saved", "session_id", s.ID, "flow_id", flow.ID, "created", created, "nodes", len(g.Nodes))
	return flow, nil
}

// Import replaces the canvas with a graph pasted as text. Imported nodes
// are reconciled with the current templates.
func (m *Manager) Import(ctx context.Context, id, text string) (*View, error) {
	g, ok := canvas.ParseClipboard(text)
	if !ok {
		return nil, ErrNotAFlow
	}
	return m.replace(id, g, true)
}

// ImportGraph is Import for an already decoded graph.
func (m *Manager) ImportGraph(ctx context.Context, id string, g *model.Graph) (*View, error) {
	return m.replace(id, g, true)
}

func (m *Manager) replace(id string, g *model.Graph, reconcileNodes bool) (*View, error) {
	s, err := m.session(id)
	if err != nil {
		return nil, err
	}
	m.reg.Touch(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	if reconcileNodes {
		g, s.report = m.reconciler.Graph(g)
	}
	issues, err := s.canvas.Replace(g)
	if err != nil {
		return nil, err
	}
	s.issues = issues
	s.outdated = m.reconciler.Outdated(g)
	return s.view(), nil
}

// Recover restores the latest snapshot of the session's flow if it is
// still fresh.
func (m *Manager) Recover(ctx context.Context, id string) (*View, error) {
	if m.cfg.Backups == nil {
		return nil, ErrBackupsDisabled
	}
	s, err := m.session(id)
	if err != nil {
		return nil, err
	}
	snap, err := m.cfg.Backups.Recover(ctx, s.backupID())
	if err != nil {
		return nil, err
	}
	v, err := m.replace(id, snap.Graph(), false)
	if err != nil {
		return nil, err
	}
	m.cfg.Emit(ctx, events.TopicBackupRestored, s.FlowID(), s.Actor, events.BackupRestored{
		FlowID:     s.FlowID(),
		SessionID:  s.ID,
		Live:       len(v.Graph.Nodes),
		Restored:   len(snap.Nodes),
		SnapshotAt: snap.Time(),
	})
	return v, nil
}

// Sync refetches the template catalog and upgrades outdated nodes,
// dropping edges whose handles vanished.
func (m *Manager) Sync(ctx context.Context, id string) (*View, error) {
	s, err := m.session(id)
	if err != nil {
		return nil, err
	}
	if err := m.cfg.Catalog.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("refresh templates: %w", err)
	}
	m.reg.Touch(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	out, rep := m.reconciler.Sync(s.canvas.Graph())
	s.report = rep
	if rep.Changed() {
		if s.issues, err = s.canvas.Replace(out); err != nil {
			return nil, err
		}
	}
	s.outdated = m.reconciler.Outdated(out)
	return s.view(), nil
}

// Close stops the session's background work and unregisters it. Unsaved
// changes are autosaved first.
func (m *Manager) Close(ctx context.Context, id string) error {
	s, ok := m.reg.Remove(id)
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}

	// Stop background work before taking the lock; a running monitor
	// check may be waiting for it.
	if s.monitor != nil {
		s.monitor.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	if m.cfg.Backups != nil {
		m.autosave(ctx, s)
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	m.logger.Info("session closed", "session_id", id, "flow_id", s.FlowID())
	return nil
}

// Shutdown closes every session and stops the reaper.
func (m *Manager) Shutdown(ctx context.Context) {
	m.reg.Stop()
	for _, id := range m.reg.IDs() {
		if err := m.Close(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			m.logger.Warn("closing session failed", "session_id", id, "err", err)
		}
	}
}
