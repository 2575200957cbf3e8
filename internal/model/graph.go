package model

import (
	"encoding/json"
	"fmt"

	"github.com/mohae/deepcopy"
)

// Position is a canvas coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport is the saved pan/zoom state of the canvas.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// Graph is the serialized flowData of a flow.
type Graph struct {
	Nodes    []*Node   `json:"nodes"`
	Edges    []*Edge   `json:"edges"`
	Viewport *Viewport `json:"viewport,omitempty"`
}

// ParseGraph decodes flowData. Empty input yields an empty graph.
func ParseGraph(data []byte) (*Graph, error) {
	g := &Graph{}
	if len(data) == 0 {
		return g.normalize(), nil
	}
	if err := json.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("decode flow data: %w", err)
	}
	return g.normalize(), nil
}

// Marshal encodes the graph as flowData.
func (g *Graph) Marshal() (json.RawMessage, error) {
	data, err := json.Marshal(g.normalize())
	if err != nil {
		return nil, fmt.Errorf("encode flow data: %w", err)
	}
	return data, nil
}

func (g *Graph) normalize() *Graph {
	if g.Nodes == nil {
		g.Nodes = []*Node{}
	}
	if g.Edges == nil {
		g.Edges = []*Edge{}
	}
	return g
}

// Clone returns a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	out := &Graph{
		Nodes: make([]*Node, len(g.Nodes)),
		Edges: make([]*Edge, len(g.Edges)),
	}
	for i, n := range g.Nodes {
		out.Nodes[i] = n.Clone()
	}
	for i, e := range g.Edges {
		out.Edges[i] = e.Clone()
	}
	if g.Viewport != nil {
		vp := *g.Viewport
		out.Viewport = &vp
	}
	return out
}

// Node is a single step of a flow placed on the canvas.
type Node struct {
	ID               string    `json:"id"`
	Type             string    `json:"type,omitempty"` // render type: agentFlow, iteration, stickyNote, customNode
	Position         Position  `json:"position"`
	PositionAbsolute *Position `json:"positionAbsolute,omitempty"`
	Width            float64   `json:"width,omitempty"`
	Height           float64   `json:"height,omitempty"`
	ParentNode       string    `json:"parentNode,omitempty"`
	Extent           string    `json:"extent,omitempty"`
	Selected         bool      `json:"selected,omitempty"`
	Data             NodeData  `json:"data"`
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	return deepcopy.Copy(n).(*Node)
}

// HasParent reports whether the node lives inside a container.
func (n *Node) HasParent() bool {
	return n.ParentNode != ""
}

// NodeStatus is the execution status shown on a node while a flow runs.
type NodeStatus string

const (
	NodeStatusInProgress NodeStatus = "INPROGRESS"
	NodeStatusFinished   NodeStatus = "FINISHED"
	NodeStatusError      NodeStatus = "ERROR"
	NodeStatusStopped    NodeStatus = "STOPPED"
)

// IsValid checks whether the status is a known value.
func (s NodeStatus) IsValid() bool {
	switch s {
	case NodeStatusInProgress, NodeStatusFinished, NodeStatusError, NodeStatusStopped:
		return true
	}
	return false
}

// NodeData is the typed payload of a node: identity, the schema it was
// built from, and the user's values for that schema.
type NodeData struct {
	ID            string         `json:"id"`
	Label         string         `json:"label"`
	Name          string         `json:"name"`
	Version       float64        `json:"version,omitempty"`
	Type          string         `json:"type,omitempty"`
	Category      string         `json:"category,omitempty"`
	Description   string         `json:"description,omitempty"`
	Documentation string         `json:"documentation,omitempty"`
	Color         string         `json:"color,omitempty"`
	BaseClasses   []string       `json:"baseClasses,omitempty"`
	Credential    string         `json:"credential,omitempty"`
	InputParams   []InputParam   `json:"inputParams"`
	InputAnchors  []InputAnchor  `json:"inputAnchors"`
	OutputAnchors []OutputAnchor `json:"outputAnchors"`
	Inputs        map[string]any `json:"inputs"`
	Outputs       map[string]any `json:"outputs,omitempty"`
	Selected      bool           `json:"selected,omitempty"`
	Status        NodeStatus     `json:"status,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Incomplete reports whether the node is missing any of its anchor schemas,
// which happens with hand-edited or truncated flow files.
func (d *NodeData) Incomplete() bool {
	return d.InputParams == nil || d.InputAnchors == nil || d.OutputAnchors == nil
}

// InputAnchor returns the input anchor with the given name.
func (d *NodeData) InputAnchor(name string) (*InputAnchor, bool) {
	for i := range d.InputAnchors {
		if d.InputAnchors[i].Name == name {
			return &d.InputAnchors[i], true
		}
	}
	return nil, false
}

// InputParam returns the input parameter with the given name.
func (d *NodeData) InputParam(name string) (*InputParam, bool) {
	for i := range d.InputParams {
		if d.InputParams[i].Name == name {
			return &d.InputParams[i], true
		}
	}
	return nil, false
}

// InputByHandle resolves a target handle to the input name it addresses.
// Both anchors and variable-accepting params can be connection targets.
func (d *NodeData) InputByHandle(handle string) (name string, list bool, ok bool) {
	for _, a := range d.InputAnchors {
		if a.ID == handle {
			return a.Name, a.List, true
		}
	}
	for _, p := range d.InputParams {
		if p.ID == handle {
			return p.Name, p.List, true
		}
	}
	return "", false, false
}

// HasOutputHandle reports whether handle names one of the node's output
// anchors or one of their options.
func (d *NodeData) HasOutputHandle(handle string) bool {
	for _, a := range d.OutputAnchors {
		if a.ID == handle {
			return true
		}
		for _, o := range a.Options {
			if o.ID == handle {
				return true
			}
		}
	}
	return false
}

// HasInputHandle reports whether handle names one of the node's inputs.
func (d *NodeData) HasInputHandle(handle string) bool {
	_, _, ok := d.InputByHandle(handle)
	return ok
}

// HasInputKey reports whether name is declared by the node's schema.
func (d *NodeData) HasInputKey(name string) bool {
	if _, ok := d.InputParam(name); ok {
		return true
	}
	_, ok := d.InputAnchor(name)
	return ok
}

// HasOutputKey reports whether name is declared by an output anchor.
func (d *NodeData) HasOutputKey(name string) bool {
	for _, a := range d.OutputAnchors {
		if a.Name == name {
			return true
		}
	}
	return false
}

// ParamOption is one choice of an options-typed input parameter.
type ParamOption struct {
	Label       string `json:"label" yaml:"label"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// InputParam is a user-editable input field of a node.
type InputParam struct {
	ID               string        `json:"id,omitempty" yaml:"id,omitempty"`
	Label            string        `json:"label" yaml:"label"`
	Name             string        `json:"name" yaml:"name"`
	Type             string        `json:"type" yaml:"type"`
	Description      string        `json:"description,omitempty" yaml:"description,omitempty"`
	Default          any           `json:"default,omitempty" yaml:"default,omitempty"`
	Placeholder      string        `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Options          []ParamOption `json:"options,omitempty" yaml:"options,omitempty"`
	Optional         bool          `json:"optional,omitempty" yaml:"optional,omitempty"`
	List             bool          `json:"list,omitempty" yaml:"list,omitempty"`
	AcceptVariable   bool          `json:"acceptVariable,omitempty" yaml:"acceptVariable,omitempty"`
	AdditionalParams bool          `json:"additionalParams,omitempty" yaml:"additionalParams,omitempty"`
	Rows             int           `json:"rows,omitempty" yaml:"rows,omitempty"`
}

// InputAnchor is a connectable input slot of a node.
type InputAnchor struct {
	ID          string `json:"id,omitempty" yaml:"id,omitempty"`
	Label       string `json:"label" yaml:"label"`
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Optional    bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
	List        bool   `json:"list,omitempty" yaml:"list,omitempty"`
}

// OutputOption is one selectable output of an options-typed output anchor.
type OutputOption struct {
	ID          string `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string `json:"name" yaml:"name"`
	Label       string `json:"label" yaml:"label"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// OutputAnchor is a connectable output slot of a node.
type OutputAnchor struct {
	ID          string         `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string         `json:"name" yaml:"name"`
	Label       string         `json:"label" yaml:"label"`
	Type        string         `json:"type,omitempty" yaml:"type,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Options     []OutputOption `json:"options,omitempty" yaml:"options,omitempty"`
	Default     string         `json:"default,omitempty" yaml:"default,omitempty"`
}

// EdgeData carries branch labelling for conditional and human-input edges.
type EdgeData struct {
	EdgeLabel    string `json:"edgeLabel,omitempty"`
	IsHumanInput bool   `json:"isHumanInput,omitempty"`
}

// Edge connects an output handle of one node to an input handle of another.
type Edge struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	SourceHandle string    `json:"sourceHandle"`
	Target       string    `json:"target"`
	TargetHandle string    `json:"targetHandle"`
	Type         string    `json:"type,omitempty"`
	ZIndex       int       `json:"zIndex,omitempty"`
	Data         *EdgeData `json:"data,omitempty"`
}

// Clone returns a copy of the edge.
func (e *Edge) Clone() *Edge {
	out := *e
	if e.Data != nil {
		d := *e.Data
		out.Data = &d
	}
	return &out
}

// Label returns the edge's branch label, or "" when it has none.
func (e *Edge) Label() string {
	if e.Data == nil {
		return ""
	}
	return e.Data.EdgeLabel
}

// EdgeID derives the deterministic identifier of an edge.
func EdgeID(source, sourceHandle, target, targetHandle string) string {
	return source + "-" + sourceHandle + "-" + target + "-" + targetHandle
}
