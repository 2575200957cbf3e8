// Package canvas holds the in-memory graph of one editing session and
// applies structural edits to it.
//
// A Canvas is not safe for concurrent use. Callers serialize access; the
// session layer runs every mutation of a session under one lock.
package canvas

import (
	"errors"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/flowcanvas/internal/model"
)

var (
	// ErrNodeNotFound is returned when an operation names an unknown node.
	ErrNodeNotFound = errors.New("node not found")
	// ErrEdgeNotFound is returned when an operation names an unknown edge.
	ErrEdgeNotFound = errors.New("edge not found")
	// ErrUnknownInput is returned when an input name is not declared by the node.
	ErrUnknownInput = errors.New("unknown input")
	// ErrPlacementRejected matches every *PlacementError.
	ErrPlacementRejected = errors.New("placement rejected")
)

// PlacementError reports why a node could not be dropped where requested.
type PlacementError struct {
	Reason string
}

func (e *PlacementError) Error() string {
	return "placement rejected: " + e.Reason
}

// Is makes errors.Is(err, ErrPlacementRejected) match.
func (e *PlacementError) Is(target error) bool {
	return target == ErrPlacementRejected
}

// CredentialInput is the input key the editor uses for a node's credential
// before it is hoisted into NodeData.Credential on save.
const CredentialInput = "FLOWISE_CREDENTIAL_ID"

// Default container dimensions used for hit-testing before the container
// has been measured.
const (
	DefaultContainerWidth  = 300
	DefaultContainerHeight = 250
)

// DefaultDuplicateOffset is the horizontal gap between a node and its copy.
const DefaultDuplicateOffset = 50

const (
	sharedParentZIndex = 9999
	defaultEdgeType    = "agentFlow"
)

// Option configures a Canvas.
type Option func(*Canvas)

// WithBeforeRemove registers a hook that receives a copy of the graph
// before any removal affecting more than one node or edge.
func WithBeforeRemove(fn func(*model.Graph)) Option {
	return func(c *Canvas) { c.beforeRemove = fn }
}

// WithEdgeType sets the render type assigned to new edges.
func WithEdgeType(t string) Option {
	return func(c *Canvas) { c.edgeType = t }
}

// Canvas is the graph store of one editing session.
type Canvas struct {
	rules    model.Rules
	edgeType string

	nodes    []*model.Node
	byID     map[string]*model.Node
	children map[string][]string // parent id -> child ids
	edges    []*model.Edge
	edgeByID map[string]*model.Edge
	viewport *model.Viewport

	dirty        bool
	removed      int
	generation   int
	beforeRemove func(*model.Graph)
}

// New returns an empty canvas governed by rules.
func New(rules model.Rules, opts ...Option) *Canvas {
	c := &Canvas{
		rules:    rules,
		edgeType: defaultEdgeType,
		byID:     make(map[string]*model.Node),
		children: make(map[string][]string),
		edgeByID: make(map[string]*model.Edge),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Rules returns the node kind rules of the canvas.
func (c *Canvas) Rules() model.Rules {
	return c.rules
}

// Graph returns a deep copy of the current graph.
func (c *Canvas) Graph() *model.Graph {
	g := &model.Graph{
		Nodes: make([]*model.Node, len(c.nodes)),
		Edges: make([]*model.Edge, len(c.edges)),
	}
	for i, n := range c.nodes {
		g.Nodes[i] = n.Clone()
	}
	for i, e := range c.edges {
		g.Edges[i] = e.Clone()
	}
	if c.viewport != nil {
		vp := *c.viewport
		g.Viewport = &vp
	}
	return g
}

// Node returns a copy of the node with the given id.
func (c *Canvas) Node(id string) (*model.Node, bool) {
	n, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// NodeCount returns the number of live nodes.
func (c *Canvas) NodeCount() int {
	return len(c.nodes)
}

// EdgeCount returns the number of live edges.
func (c *Canvas) EdgeCount() int {
	return len(c.edges)
}

// Children returns the ids of the direct children of a container.
func (c *Canvas) Children(id string) []string {
	return append([]string(nil), c.children[id]...)
}

// Dirty reports whether the graph changed since the last MarkClean.
func (c *Canvas) Dirty() bool {
	return c.dirty
}

// MarkClean clears the dirty flag after a successful save.
func (c *Canvas) MarkClean() {
	c.dirty = false
}

// Removed returns the number of nodes removed by explicit deletes since
// the canvas was created.
func (c *Canvas) Removed() int {
	return c.removed
}

// Generation increments whenever the whole graph is replaced.
func (c *Canvas) Generation() int {
	return c.generation
}

// SetViewport records the pan/zoom state saved with the flow.
func (c *Canvas) SetViewport(vp model.Viewport) {
	c.viewport = &vp
}

// Load replaces the graph with g and marks the canvas clean. Node
// invariants are enforced strictly; edges whose endpoints do not exist are
// dropped and reported.
func (c *Canvas) Load(g *model.Graph) ([]Issue, error) {
	issues, err := c.replace(g)
	if err != nil {
		return nil, err
	}
	c.dirty = false
	return issues, nil
}

// Replace swaps in an imported graph and marks the canvas dirty.
func (c *Canvas) Replace(g *model.Graph) ([]Issue, error) {
	issues, err := c.replace(g)
	if err != nil {
		return nil, err
	}
	c.dirty = true
	return issues, nil
}

func (c *Canvas) replace(g *model.Graph) ([]Issue, error) {
	if err := validateNodes(g.Nodes); err != nil {
		return nil, err
	}

	c.nodes = make([]*model.Node, 0, len(g.Nodes))
	c.byID = make(map[string]*model.Node, len(g.Nodes))
	c.children = make(map[string][]string)
	c.edges = make([]*model.Edge, 0, len(g.Edges))
	c.edgeByID = make(map[string]*model.Edge, len(g.Edges))

	for _, n := range g.Nodes {
		c.insertNode(n.Clone())
	}

	var issues []Issue
	for _, e := range g.Edges {
		if _, ok := c.byID[e.Source]; !ok {
			issues = append(issues, Issue{Kind: IssueOrphanEdge, ID: e.ID, Detail: "missing source " + e.Source})
			continue
		}
		if _, ok := c.byID[e.Target]; !ok {
			issues = append(issues, Issue{Kind: IssueOrphanEdge, ID: e.ID, Detail: "missing target " + e.Target})
			continue
		}
		if _, dup := c.edgeByID[e.ID]; dup {
			issues = append(issues, Issue{Kind: IssueDuplicateEdge, ID: e.ID})
			continue
		}
		ec := e.Clone()
		c.edges = append(c.edges, ec)
		c.edgeByID[ec.ID] = ec
	}

	c.viewport = nil
	if g.Viewport != nil {
		vp := *g.Viewport
		c.viewport = &vp
	}
	c.generation++
	return issues, nil
}

func validateNodes(nodes []*model.Node) error {
	var ve model.ValidationError
	byID := make(map[string]*model.Node, len(nodes))
	for i, n := range nodes {
		if n.ID == "" {
			ve.Errors = append(ve.Errors, model.FieldError{Field: "nodes[" + strconv.Itoa(i) + "].id", Message: "is required"})
			continue
		}
		if _, dup := byID[n.ID]; dup {
			ve.Errors = append(ve.Errors, model.FieldError{Field: "nodes[" + strconv.Itoa(i) + "].id", Message: "duplicate node " + strconv.Quote(n.ID)})
			continue
		}
		byID[n.ID] = n
	}
	for _, n := range nodes {
		if !n.HasParent() {
			continue
		}
		parent, ok := byID[n.ParentNode]
		if !ok {
			ve.Errors = append(ve.Errors, model.FieldError{Field: n.ID + ".parentNode", Message: "references missing node " + strconv.Quote(n.ParentNode)})
			continue
		}
		if parent.HasParent() {
			ve.Errors = append(ve.Errors, model.FieldError{Field: n.ID + ".parentNode", Message: "nested containers are not supported"})
		}
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}

func (c *Canvas) insertNode(n *model.Node) {
	c.nodes = append(c.nodes, n)
	c.byID[n.ID] = n
	if n.HasParent() {
		c.children[n.ParentNode] = append(c.children[n.ParentNode], n.ID)
	}
}

// uniqueID returns name_N for the smallest N not already taken.
func (c *Canvas) uniqueID(name string) string {
	for i := 0; ; i++ {
		id := name + "_" + strconv.Itoa(i)
		if _, taken := c.byID[id]; !taken {
			return id
		}
	}
}

// uniqueLabel numbers a node's label by the same suffix as its id. Start
// nodes and sticky notes keep the template label.
func (c *Canvas) uniqueLabel(tpl *model.Template, id string) string {
	switch c.rules.Kind(tpl.Name) {
	case model.KindStart, model.KindStickyNote:
		return tpl.Label
	}
	return tpl.Label + " " + idSuffix(id)
}

func idSuffix(id string) string {
	if i := strings.LastIndex(id, "_"); i >= 0 {
		return id[i+1:]
	}
	return id
}
