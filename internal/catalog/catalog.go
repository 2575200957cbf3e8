// Package catalog resolves node type names to their canonical templates.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/alfredjeanlab/flowcanvas/internal/model"
)

// ErrTemplateNotFound is returned by Lookup for unknown node type names.
var ErrTemplateNotFound = errors.New("template not found")

// Source fetches the full list of node templates.
type Source interface {
	Templates(ctx context.Context) ([]*model.Template, error)
}

// Resolver fetches templates from a Source once and serves lookups from
// memory until Refresh is called. It is safe for concurrent use.
type Resolver struct {
	src Source

	mu      sync.RWMutex
	loaded  bool
	byName  map[string]*model.Template
	ordered []*model.Template
}

// NewResolver returns a Resolver backed by src.
func NewResolver(src Source) *Resolver {
	return &Resolver{src: src}
}

// Load fetches templates if they have not been fetched yet.
func (r *Resolver) Load(ctx context.Context) error {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if loaded {
		return nil
	}
	return r.Refresh(ctx)
}

// Refresh unconditionally refetches templates from the source. Templates
// that fail validation are skipped.
func (r *Resolver) Refresh(ctx context.Context) error {
	tpls, err := r.src.Templates(ctx)
	if err != nil {
		return fmt.Errorf("fetch templates: %w", err)
	}

	byName := make(map[string]*model.Template, len(tpls))
	ordered := make([]*model.Template, 0, len(tpls))
	for _, t := range tpls {
		if t == nil || model.ValidateTemplate(t) != nil {
			continue
		}
		if _, dup := byName[t.Name]; dup {
			continue
		}
		byName[t.Name] = t
		ordered = append(ordered, t)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	r.mu.Lock()
	r.byName = byName
	r.ordered = ordered
	r.loaded = true
	r.mu.Unlock()
	return nil
}

// Lookup returns the template for a node type name. It never fetches;
// call Load first.
func (r *Resolver) Lookup(name string) (*model.Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// Get is Lookup with an error for unknown names.
func (r *Resolver) Get(ctx context.Context, name string) (*model.Template, error) {
	if err := r.Load(ctx); err != nil {
		return nil, err
	}
	t, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrTemplateNotFound)
	}
	return t, nil
}

// Templates returns all loaded templates sorted by name.
func (r *Resolver) Templates(ctx context.Context) ([]*model.Template, error) {
	if err := r.Load(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*model.Template(nil), r.ordered...), nil
}

// StaticSource serves a fixed template list.
type StaticSource []*model.Template

// Templates implements Source.
func (s StaticSource) Templates(context.Context) ([]*model.Template, error) {
	return []*model.Template(s), nil
}
