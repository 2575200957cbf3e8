// Package memory implements store.Store in process memory. It backs
// development servers and tests; data is lost on exit.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/flowcanvas/internal/model"
	"github.com/alfredjeanlab/flowcanvas/internal/store"
)

// Store is an in-memory store.Store.
type Store struct {
	mu     sync.RWMutex
	flows  map[string]*model.Flow
	events []*model.Event
	nextID int64
	now    func() time.Time
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		flows: make(map[string]*model.Flow),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func clone(f *model.Flow) *model.Flow {
	c := *f
	return &c
}

func (s *Store) CreateFlow(_ context.Context, f *model.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[f.ID]; ok {
		return fmt.Errorf("flow %s already exists", f.ID)
	}
	now := s.now()
	f.CreatedDate, f.UpdatedDate = now, now
	s.flows[f.ID] = clone(f)
	return nil
}

func (s *Store) GetFlow(_ context.Context, id string) (*model.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return clone(f), nil
}

func (s *Store) ListFlows(_ context.Context, filter model.FlowFilter) ([]*model.Flow, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(filter.Search)
	var out []*model.Flow
	for _, f := range s.flows {
		if len(filter.Type) > 0 && !containsType(filter.Type, f.Type) {
			continue
		}
		if filter.WorkspaceID != "" && f.WorkspaceID != filter.WorkspaceID {
			continue
		}
		if filter.OrganizationID != "" && f.OrganizationID != filter.OrganizationID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(f.Name), search) &&
			!strings.Contains(strings.ToLower(f.Category), search) {
			continue
		}
		out = append(out, clone(f))
	}
	sortFlows(out, filter.Sort)

	total := len(out)
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			out = nil
		} else {
			out = out[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, total, nil
}

func containsType(types []model.FlowType, t model.FlowType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func sortFlows(flows []*model.Flow, key string) {
	desc := strings.HasPrefix(key, "-")
	var less func(a, b *model.Flow) bool
	switch strings.TrimPrefix(key, "-") {
	case "name":
		less = func(a, b *model.Flow) bool { return a.Name < b.Name }
	case "type":
		less = func(a, b *model.Flow) bool { return a.Type < b.Type }
	case "createdDate":
		less = func(a, b *model.Flow) bool { return a.CreatedDate.Before(b.CreatedDate) }
	case "updatedDate":
		less = func(a, b *model.Flow) bool { return a.UpdatedDate.Before(b.UpdatedDate) }
	default:
		desc = true
		less = func(a, b *model.Flow) bool { return a.UpdatedDate.Before(b.UpdatedDate) }
	}
	sort.SliceStable(flows, func(i, j int) bool {
		if desc {
			i, j = j, i
		}
		if less(flows[i], flows[j]) {
			return true
		}
		if less(flows[j], flows[i]) {
			return false
		}
		return flows[i].ID < flows[j].ID
	})
}

// UpdateFlow overwrites the stored flow; the last write wins.
func (s *Store) UpdateFlow(_ context.Context, f *model.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.flows[f.ID]
	if !ok {
		return sql.ErrNoRows
	}
	f.CreatedDate = old.CreatedDate
	f.UpdatedDate = s.now()
	if !f.UpdatedDate.After(old.UpdatedDate) {
		f.UpdatedDate = old.UpdatedDate.Add(time.Microsecond)
	}
	s.flows[f.ID] = clone(f)
	return nil
}

func (s *Store) DeleteFlow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.flows, id)
	return nil
}

func (s *Store) CountFlows(_ context.Context, flowType model.FlowType, workspaceID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, f := range s.flows {
		if (flowType == "" || f.Type == flowType) && (workspaceID == "" || f.WorkspaceID == workspaceID) {
			n++
		}
	}
	return n, nil
}

func (s *Store) RecordEvent(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	e.CreatedAt = s.now()
	c := *e
	s.events = append(s.events, &c)
	return nil
}

func (s *Store) GetEvents(_ context.Context, flowID string) ([]*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Event
	for _, e := range s.events {
		if e.FlowID == flowID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

// RunInTransaction runs fn against a copy of the store and commits the
// copy back when fn succeeds. Transactions are serialized.
func (s *Store) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Store{
		flows:  make(map[string]*model.Flow, len(s.flows)),
		events: append([]*model.Event(nil), s.events...),
		nextID: s.nextID,
		now:    s.now,
	}
	for id, f := range s.flows {
		tx.flows[id] = clone(f)
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.flows = tx.flows
	s.events = tx.events
	s.nextID = tx.nextID
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
