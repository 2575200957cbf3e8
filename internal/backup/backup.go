// Package backup snapshots canvas graphs to a key/value store and restores
// them when the live graph loses nodes unexpectedly.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alfredjeanlab/flowcanvas/internal/model"
)

const (
	SnapshotPrefix = "flowise_node_backup_"
	AutosavePrefix = "flowise_autosave_"

	DefaultMaxSnapshots = 5
	DefaultMaxAge       = 5 * time.Minute
)

var (
	// ErrNoSnapshot is returned when no snapshot exists for a flow.
	ErrNoSnapshot = errors.New("no snapshot")
	// ErrSnapshotStale is returned by Recover when the latest snapshot is
	// older than the freshness window.
	ErrSnapshotStale = errors.New("snapshot too old")
)

// UnsavedID returns the id that stands in for a flow id while the flow
// edited by sessionID has not been saved. Each session gets its own keys so
// unsaved canvases in different workspaces never share a backup.
func UnsavedID(sessionID string) string {
	return "new-" + sessionID
}

// SnapshotKey returns the storage key for a flow's snapshot. An empty id
// maps to the legacy "new" key; sessions pass UnsavedID instead.
func SnapshotKey(flowID string) string {
	if flowID == "" {
		flowID = "new"
	}
	return SnapshotPrefix + flowID
}

// AutosaveKey returns the storage key for a flow's autosave.
func AutosaveKey(flowID string) string {
	if flowID == "" {
		flowID = "new"
	}
	return AutosavePrefix + flowID
}

// Snapshot is a stored copy of a graph. Timestamp is unix milliseconds.
type Snapshot struct {
	Nodes     []*model.Node `json:"nodes"`
	Edges     []*model.Edge `json:"edges"`
	Timestamp int64         `json:"timestamp"`
}

// Time returns the snapshot timestamp.
func (s *Snapshot) Time() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// Graph returns the snapshot contents as a graph.
func (s *Snapshot) Graph() *model.Graph {
	g := &model.Graph{Nodes: s.Nodes, Edges: s.Edges}
	if g.Nodes == nil {
		g.Nodes = []*model.Node{}
	}
	if g.Edges == nil {
		g.Edges = []*model.Edge{}
	}
	return g
}

// Autosave is the periodic copy of an unsaved flow.
type Autosave struct {
	FlowData  string `json:"flowData"`
	Timestamp int64  `json:"timestamp"`
	NodeCount int    `json:"nodeCount"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMaxSnapshots sets how many snapshots are retained across all flows.
func WithMaxSnapshots(n int) Option {
	return func(m *Manager) { m.maxSnapshots = n }
}

// WithMaxAge sets how old a snapshot may be and still be recovered.
func WithMaxAge(d time.Duration) Option {
	return func(m *Manager) { m.maxAge = d }
}

// Manager reads and writes snapshots and autosaves.
type Manager struct {
	kv           KV
	now          func() time.Time
	logger       *slog.Logger
	maxSnapshots int
	maxAge       time.Duration
}

// NewManager returns a Manager storing into kv.
func NewManager(kv KV, opts ...Option) *Manager {
	m := &Manager{
		kv:           kv,
		now:          time.Now,
		logger:       slog.Default(),
		maxSnapshots: DefaultMaxSnapshots,
		maxAge:       DefaultMaxAge,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// MaxAge returns the recovery freshness window.
func (m *Manager) MaxAge() time.Duration { return m.maxAge }

// Snapshot stores g as the latest snapshot for flowID and evicts the oldest
// snapshots beyond the retention limit.
func (m *Manager) Snapshot(ctx context.Context, flowID string, g *model.Graph) error {
	snap := Snapshot{Nodes: g.Nodes, Edges: g.Edges, Timestamp: m.now().UnixMilli()}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := m.kv.Set(ctx, SnapshotKey(flowID), data); err != nil {
		return err
	}
	m.logger.Debug("snapshot stored", "flow_id", flowID, "nodes", len(g.Nodes), "edges", len(g.Edges))
	return m.evict(ctx)
}

func (m *Manager) evict(ctx context.Context) error {
	keys, err := m.kv.Keys(ctx, SnapshotPrefix)
	if err != nil {
		return err
	}
	if len(keys) <= m.maxSnapshots {
		return nil
	}

	type stamped struct {
		key string
		ts  int64
	}
	all := make([]stamped, 0, len(keys))
	for _, k := range keys {
		snap, err := m.read(ctx, k)
		if err != nil {
			// Unreadable entries sort first and get evicted.
			all = append(all, stamped{key: k})
			continue
		}
		all = append(all, stamped{key: k, ts: snap.Timestamp})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].ts < all[j].ts })

	for _, s := range all[:len(all)-m.maxSnapshots] {
		if err := m.kv.Delete(ctx, s.key); err != nil {
			return err
		}
		m.logger.Debug("snapshot evicted", "key", s.key)
	}
	return nil
}

func (m *Manager) read(ctx context.Context, key string) (*Snapshot, error) {
	data, err := m.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return &snap, nil
}

// Latest returns the stored snapshot for flowID.
func (m *Manager) Latest(ctx context.Context, flowID string) (*Snapshot, error) {
	snap, err := m.read(ctx, SnapshotKey(flowID))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, ErrNoSnapshot
	}
	return snap, err
}

// Recover returns the snapshot for flowID if it is younger than the
// freshness window.
func (m *Manager) Recover(ctx context.Context, flowID string) (*Snapshot, error) {
	snap, err := m.Latest(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if age := m.now().Sub(snap.Time()); age >= m.maxAge {
		return nil, fmt.Errorf("snapshot is %s old: %w", age.Round(time.Second), ErrSnapshotStale)
	}
	return snap, nil
}

// Discard removes the snapshot and autosave for flowID.
func (m *Manager) Discard(ctx context.Context, flowID string) error {
	if err := m.kv.Delete(ctx, SnapshotKey(flowID)); err != nil {
		return err
	}
	return m.kv.Delete(ctx, AutosaveKey(flowID))
}

// Autosave stores the serialized graph for flowID.
func (m *Manager) Autosave(ctx context.Context, flowID string, g *model.Graph) error {
	flowData, err := g.Marshal()
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	data, err := json.Marshal(Autosave{
		FlowData:  string(flowData),
		Timestamp: m.now().UnixMilli(),
		NodeCount: len(g.Nodes),
	})
	if err != nil {
		return fmt.Errorf("marshal autosave: %w", err)
	}
	return m.kv.Set(ctx, AutosaveKey(flowID), data)
}

// ClearAutosave removes the autosave for flowID, typically after a save.
func (m *Manager) ClearAutosave(ctx context.Context, flowID string) error {
	return m.kv.Delete(ctx, AutosaveKey(flowID))
}

// LoadAutosave returns the autosave for flowID.
func (m *Manager) LoadAutosave(ctx context.Context, flowID string) (*Autosave, error) {
	data, err := m.kv.Get(ctx, AutosaveKey(flowID))
	if err != nil {
		return nil, err
	}
	var a Autosave
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode autosave: %w", err)
	}
	return &a, nil
}
