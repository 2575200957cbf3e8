// Package reconcile migrates stored nodes to the current versions of their
// templates without losing user-entered values.
package reconcile

import (
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/flowcanvas/internal/model"
)

// Lookup resolves a node type name to its current template.
// *catalog.Resolver satisfies it.
type Lookup interface {
	Lookup(name string) (*model.Template, bool)
}

// Outcome describes what happened to a single node.
type Outcome int

const (
	Unchanged Outcome = iota
	Upgraded
	Reinitialized
	MissingTemplate
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Upgraded:
		return "upgraded"
	case Reinitialized:
		return "reinitialized"
	case MissingTemplate:
		return "missing_template"
	case Failed:
		return "failed"
	}
	return "unchanged"
}

// Report summarizes a graph reconciliation by node id.
type Report struct {
	Upgraded      []string `json:"upgraded,omitempty"`
	Reinitialized []string `json:"reinitialized,omitempty"`
	Missing       []string `json:"missing,omitempty"`
	Failed        []string `json:"failed,omitempty"`
	RemovedEdges  []string `json:"removedEdges,omitempty"`
}

// Changed reports whether reconciliation modified the graph.
func (r Report) Changed() bool {
	return len(r.Upgraded) > 0 || len(r.Reinitialized) > 0 || len(r.RemovedEdges) > 0
}

func (r *Report) record(id string, o Outcome) {
	switch o {
	case Upgraded:
		r.Upgraded = append(r.Upgraded, id)
	case Reinitialized:
		r.Reinitialized = append(r.Reinitialized, id)
	case MissingTemplate:
		r.Missing = append(r.Missing, id)
	case Failed:
		r.Failed = append(r.Failed, id)
	}
}

// Reconciler re-applies current templates to stored nodes.
type Reconciler struct {
	lookup Lookup
	logger *slog.Logger
}

// New returns a Reconciler. A nil logger discards output.
func New(lookup Lookup, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reconciler{lookup: lookup, logger: logger}
}

// Node reconciles a single node. The returned node is n itself when
// nothing changed or when reconciliation failed; otherwise it is a new
// node and n is left untouched.
func (r *Reconciler) Node(n *model.Node) (out *model.Node, outcome Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("reconcile node failed", "node_id", n.ID, "name", n.Data.Name, "err", fmt.Sprint(rec))
			out, outcome = n, Failed
		}
	}()

	tpl, ok := r.lookup.Lookup(n.Data.Name)
	if !ok {
		r.logger.Warn("template not found", "node_id", n.ID, "name", n.Data.Name)
		return n, MissingTemplate
	}

	incomplete := n.Data.Incomplete()
	if !incomplete && tpl.Version <= n.Data.Version {
		return n, Unchanged
	}

	up := n.Clone()
	up.Data = merge(tpl, &up.Data, n.ID)
	if incomplete {
		return up, Reinitialized
	}
	return up, Upgraded
}

// merge builds fresh data from tpl and carries over the values of old
// whose keys the template still declares.
func merge(tpl *model.Template, old *model.NodeData, id string) model.NodeData {
	fresh := tpl.InitNode(id)

	for key, v := range old.Inputs {
		if _, ok := fresh.Inputs[key]; ok && v != nil {
			fresh.Inputs[key] = v
		}
	}
	for key, v := range old.Outputs {
		if _, ok := fresh.Outputs[key]; ok && v != nil {
			fresh.Outputs[key] = v
		}
	}

	fresh.Credential = old.Credential
	if old.Label != "" {
		fresh.Label = old.Label
	}
	fresh.Selected = false
	if old.Status != "" {
		fresh.Status = old.Status
	}
	if old.Category != "" {
		fresh.Category = old.Category
	}
	if old.Description != "" {
		fresh.Description = old.Description
	}
	if old.Documentation != "" {
		fresh.Documentation = old.Documentation
	}
	return fresh
}

// Graph reconciles every node of g. One failing node never blocks the
// rest. Edges are left as they are.
func (r *Reconciler) Graph(g *model.Graph) (*model.Graph, Report) {
	var rep Report
	out := &model.Graph{
		Nodes:    make([]*model.Node, len(g.Nodes)),
		Edges:    g.Edges,
		Viewport: g.Viewport,
	}
	for i, n := range g.Nodes {
		up, o := r.Node(n)
		out.Nodes[i] = up
		rep.record(n.ID, o)
	}
	return out, rep
}

// Sync upgrades outdated nodes like Graph and additionally drops edges
// whose handles disappeared from an upgraded node.
func (r *Reconciler) Sync(g *model.Graph) (*model.Graph, Report) {
	out, rep := r.Graph(g)

	changed := make(map[string]*model.Node)
	for _, id := range append(append([]string(nil), rep.Upgraded...), rep.Reinitialized...) {
		changed[id] = nil
	}
	for _, n := range out.Nodes {
		if _, ok := changed[n.ID]; ok {
			changed[n.ID] = n
		}
	}

	edges := make([]*model.Edge, 0, len(g.Edges))
	for _, e := range g.Edges {
		if src, ok := changed[e.Source]; ok && src != nil && !src.Data.HasOutputHandle(e.SourceHandle) {
			rep.RemovedEdges = append(rep.RemovedEdges, e.ID)
			continue
		}
		if tgt, ok := changed[e.Target]; ok && tgt != nil && !tgt.Data.HasInputHandle(e.TargetHandle) {
			rep.RemovedEdges = append(rep.RemovedEdges, e.ID)
			continue
		}
		edges = append(edges, e)
	}
	out.Edges = edges
	return out, rep
}

// Outdated returns the ids of nodes whose template has a newer version.
func (r *Reconciler) Outdated(g *model.Graph) []string {
	var ids []string
	for _, n := range g.Nodes {
		if tpl, ok := r.lookup.Lookup(n.Data.Name); ok && tpl.Version > n.Data.Version {
			ids = append(ids, n.ID)
		}
	}
	return ids
}
