// Package session manages canvas editing sessions: one canvas per open
// flow, with mutations serialized, backups taken, and saves routed to the
// flow store.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/alfredjeanlab/flowcanvas/internal/backup"
	"github.com/alfredjeanlab/flowcanvas/internal/canvas"
	"github.com/alfredjeanlab/flowcanvas/internal/model"
	"github.com/alfredjeanlab/flowcanvas/internal/reconcile"
)

// Session is one open canvas. All canvas access goes through mu.
type Session struct {
	ID             string
	Actor          string
	WorkspaceID    string
	OrganizationID string
	Type           model.FlowType
	OpenedAt       time.Time

	idMu   sync.RWMutex
	flowID string

	mu       sync.Mutex
	name     string
	canvas   *canvas.Canvas
	issues   []canvas.Issue
	report   reconcile.Report
	outdated []string
	closed   bool

	monitor *backup.Monitor
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// FlowID returns the id of the persisted flow, or "" before the first save.
func (s *Session) FlowID() string {
	s.idMu.RLock()
	defer s.idMu.RUnlock()
	return s.flowID
}

// backupID is the id the session's snapshots and autosaves are stored
// under: the flow id once saved, a per-session id before that.
func (s *Session) backupID() string {
	if id := s.FlowID(); id != "" {
		return id
	}
	return backup.UnsavedID(s.ID)
}

func (s *Session) setFlowID(id string) {
	s.idMu.Lock()
	s.flowID = id
	s.idMu.Unlock()
	if s.monitor != nil {
		s.monitor.SetFlowID(id)
	}
}

// View is a point-in-time copy of a session's state.
type View struct {
	SessionID string           `json:"sessionId"`
	FlowID    string           `json:"flowId,omitempty"`
	Name      string           `json:"name"`
	Type      model.FlowType   `json:"type"`
	Graph     *model.Graph     `json:"graph"`
	Dirty     bool             `json:"dirty"`
	Issues    []canvas.Issue   `json:"issues,omitempty"`
	Reconcile reconcile.Report `json:"reconcile"`
	Outdated  []string         `json:"outdated,omitempty"`
	OpenedAt  time.Time        `json:"openedAt"`
}

// view must be called with s.mu held.
func (s *Session) view() *View {
	return &View{
		SessionID: s.ID,
		FlowID:    s.FlowID(),
		Name:      s.name,
		Type:      s.Type,
		Graph:     s.canvas.Graph(),
		Dirty:     s.canvas.Dirty(),
		Issues:    append([]canvas.Issue(nil), s.issues...),
		Reconcile: s.report,
		Outdated:  append([]string(nil), s.outdated...),
		OpenedAt:  s.OpenedAt,
	}
}

// monitorTarget adapts a session to backup.Target.
type monitorTarget struct {
	s *Session
}

func (t monitorTarget) Counts() backup.Counts {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return backup.Counts{
		Nodes:      t.s.canvas.NodeCount(),
		Removed:    t.s.canvas.Removed(),
		Generation: t.s.canvas.Generation(),
	}
}

func (t monitorTarget) Restore(g *model.Graph) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	issues, err := t.s.canvas.Replace(g)
	if err != nil {
		return err
	}
	t.s.issues = issues
	return nil
}
