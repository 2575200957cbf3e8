package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/flowcanvas/internal/model"
)

const (
	DefaultCheckInterval = 5 * time.Second
	DefaultLossThreshold = 0.5
)

// Counts is what the monitor samples from a live canvas.
type Counts struct {
	Nodes      int
	Removed    int // cumulative nodes removed by explicit deletes
	Generation int // bumps when the whole graph is replaced
}

// Target is the canvas being watched. Implementations must be safe to
// call from the monitor goroutine.
type Target interface {
	Counts() Counts
	Restore(g *model.Graph) error
}

// NoticeKind distinguishes monitor outcomes.
type NoticeKind string

const (
	NoticeRestored NoticeKind = "restored"
	NoticeWarning  NoticeKind = "warning"
)

// Notice is delivered to the notify callback when node loss is detected.
type Notice struct {
	Kind       NoticeKind `json:"kind"`
	FlowID     string     `json:"flowId"`
	Expected   int        `json:"expected"`
	Live       int        `json:"live"`
	Restored   int        `json:"restored,omitempty"`
	SnapshotAt time.Time  `json:"snapshotAt,omitzero"`
	Message    string     `json:"message"`
}

// MonitorConfig configures a Monitor. Zero values take the defaults.
type MonitorConfig struct {
	Interval  time.Duration
	Threshold float64
	Notify    func(Notice)
	Logger    *slog.Logger
}

// Monitor periodically compares the live node count of a target with the
// count it expects and restores the latest snapshot when more than the
// threshold share of nodes vanished without an explicit delete.
type Monitor struct {
	idMu   sync.RWMutex
	flowID string

	target    Target
	mgr       *Manager
	interval  time.Duration
	threshold float64
	notify    func(Notice)
	logger    *slog.Logger

	mu       sync.Mutex
	primed   bool
	expected int
	removed  int
	gen      int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor for one flow.
func NewMonitor(flowID string, target Target, mgr *Manager, cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultCheckInterval
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultLossThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Monitor{
		flowID:    flowID,
		target:    target,
		mgr:       mgr,
		interval:  cfg.Interval,
		threshold: cfg.Threshold,
		notify:    cfg.Notify,
		logger:    cfg.Logger,
	}
}

// SetFlowID updates the flow whose snapshot is recovered, used after the
// first save of a new flow.
func (m *Monitor) SetFlowID(id string) {
	m.idMu.Lock()
	m.flowID = id
	m.idMu.Unlock()
}

// FlowID returns the flow being watched.
func (m *Monitor) FlowID() string {
	m.idMu.RLock()
	defer m.idMu.RUnlock()
	return m.flowID
}

// Start begins periodic checks. The first check records the baseline.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx)
	}()
}

// Stop cancels the monitor and waits for an in-flight check.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context) {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check samples the target once. It returns the notice it delivered, if
// any.
func (m *Monitor) Check(ctx context.Context) (Notice, bool) {
	c := m.target.Counts()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.primed || c.Generation != m.gen {
		m.rebase(c)
		return Notice{}, false
	}

	// Explicit deletes lower the expectation.
	m.expected -= c.Removed - m.removed
	m.removed = c.Removed
	if m.expected < 0 {
		m.expected = 0
	}

	if c.Nodes >= m.expected || float64(c.Nodes) >= m.threshold*float64(m.expected) {
		m.expected = c.Nodes
		return Notice{}, false
	}

	n := m.recover(ctx, c)
	if m.notify != nil {
		m.notify(n)
	}
	return n, true
}

func (m *Monitor) rebase(c Counts) {
	m.primed = true
	m.expected = c.Nodes
	m.removed = c.Removed
	m.gen = c.Generation
}

// recover runs with m.mu held.
func (m *Monitor) recover(ctx context.Context, c Counts) Notice {
	flowID := m.FlowID()
	n := Notice{FlowID: flowID, Expected: m.expected, Live: c.Nodes}
	log := m.logger.With("flow_id", flowID, "expected", m.expected, "live", c.Nodes)

	snap, err := m.mgr.Recover(ctx, flowID)
	if err == nil && len(snap.Nodes) <= c.Nodes {
		err = fmt.Errorf("snapshot has %d nodes", len(snap.Nodes))
	}
	if err == nil {
		err = m.target.Restore(snap.Graph())
	}
	if err != nil {
		n.Kind = NoticeWarning
		switch {
		case errors.Is(err, ErrNoSnapshot):
			n.Message = "Nodes disappeared unexpectedly and no backup is available"
		case errors.Is(err, ErrSnapshotStale):
			n.Message = "Nodes disappeared unexpectedly and the latest backup is too old to restore"
		default:
			n.Message = "Nodes disappeared unexpectedly and the backup could not be restored"
		}
		log.Warn("node loss detected, restore skipped", "err", err)
		m.expected = c.Nodes
		return n
	}

	n.Kind = NoticeRestored
	n.Restored = len(snap.Nodes)
	n.SnapshotAt = snap.Time()
	n.Message = fmt.Sprintf("Restored %d nodes from backup", len(snap.Nodes))
	log.Info("node loss detected, snapshot restored", "restored", len(snap.Nodes))

	// The restore replaced the graph; the next sample rebases.
	m.expected = len(snap.Nodes)
	return n
}
