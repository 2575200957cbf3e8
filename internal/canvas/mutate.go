package canvas

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/flowcanvas/internal/model"
)

// PlaceOption adjusts how AddNode places a node.
type PlaceOption func(*placement)

type placement struct {
	parent string
}

// InParent places the node inside the given container instead of
// hit-testing the drop position. The position is then already relative
// to the container.
func InParent(id string) PlaceOption {
	return func(p *placement) { p.parent = id }
}

// AddNode creates a node from tpl at pos and selects it. A drop inside a
// container's bounds makes the node that container's child with
// container-relative coordinates.
func (c *Canvas) AddNode(tpl *model.Template, pos model.Position, opts ...PlaceOption) (*model.Node, error) {
	var p placement
	for _, o := range opts {
		o(&p)
	}

	kind := c.rules.Kind(tpl.Name)
	if kind.Singleton() {
		for _, n := range c.nodes {
			if n.Data.Name == tpl.Name {
				return nil, &PlacementError{Reason: fmt.Sprintf("Only one %s node is allowed", strings.ToLower(tpl.Label))}
			}
		}
	}

	var parent *model.Node
	relative := pos
	if p.parent != "" {
		n, ok := c.byID[p.parent]
		if !ok {
			return nil, fmt.Errorf("parent %s: %w", p.parent, ErrNodeNotFound)
		}
		if c.rules.Kind(n.Data.Name) != model.KindContainer {
			return nil, &PlacementError{Reason: fmt.Sprintf("%s is not a container", n.Data.Label)}
		}
		parent = n
	} else if parent = c.containerAt(pos); parent != nil {
		relative = model.Position{X: pos.X - parent.Position.X, Y: pos.Y - parent.Position.Y}
	}

	if parent != nil {
		switch kind {
		case model.KindContainer:
			return nil, &PlacementError{Reason: "Nested iteration node is not supported yet"}
		case model.KindHumanInput:
			return nil, &PlacementError{Reason: "Human input node is not supported inside Iteration node"}
		}
	}

	id := c.uniqueID(tpl.Name)
	n := &model.Node{
		ID:       id,
		Type:     kind.RenderType(),
		Position: relative,
		Data:     tpl.InitNode(id),
	}
	n.Data.Label = c.uniqueLabel(tpl, id)
	if parent != nil {
		n.ParentNode = parent.ID
		n.Extent = "parent"
		n.PositionAbsolute = &model.Position{X: parent.Position.X + relative.X, Y: parent.Position.Y + relative.Y}
	} else {
		abs := pos
		n.PositionAbsolute = &abs
	}

	c.insertNode(n)
	c.selectOnly(id)
	c.dirty = true
	return n.Clone(), nil
}

// containerAt returns the first top-level container whose bounds contain pos.
func (c *Canvas) containerAt(pos model.Position) *model.Node {
	for _, n := range c.nodes {
		if n.HasParent() || c.rules.Kind(n.Data.Name) != model.KindContainer {
			continue
		}
		w, h := n.Width, n.Height
		if w == 0 {
			w = DefaultContainerWidth
		}
		if h == 0 {
			h = DefaultContainerHeight
		}
		if pos.X >= n.Position.X && pos.X <= n.Position.X+w && pos.Y >= n.Position.Y && pos.Y <= n.Position.Y+h {
			return n
		}
	}
	return nil
}

// DeleteNode removes the node, every descendant, and every edge touching
// them. Inputs of surviving nodes that referenced a removed node are
// cleaned up. It returns the ids of all removed nodes.
func (c *Canvas) DeleteNode(id string) ([]string, error) {
	if _, ok := c.byID[id]; !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNodeNotFound)
	}

	removed := c.descendants(id)
	removed = append(removed, id)
	gone := make(map[string]bool, len(removed))
	for _, rid := range removed {
		gone[rid] = true
	}

	var doomed []*model.Edge
	for _, e := range c.edges {
		if gone[e.Source] || gone[e.Target] {
			doomed = append(doomed, e)
		}
	}

	if c.beforeRemove != nil && len(removed)+len(doomed) > 1 {
		c.beforeRemove(c.Graph())
	}

	for _, e := range doomed {
		if gone[e.Source] && !gone[e.Target] {
			c.clearConnectedInput(e)
		}
	}

	c.removeNodes(gone)
	c.removeEdges(doomed)
	for _, rid := range removed {
		c.sweepReferences(rid)
	}

	c.removed += len(removed)
	c.dirty = true
	return removed, nil
}

// descendants walks the parent->children index breadth first.
func (c *Canvas) descendants(id string) []string {
	var out []string
	queue := append([]string(nil), c.children[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		out = append(out, next)
		queue = append(queue, c.children[next]...)
	}
	return out
}

func (c *Canvas) removeNodes(gone map[string]bool) {
	kept := c.nodes[:0]
	for _, n := range c.nodes {
		if gone[n.ID] {
			delete(c.byID, n.ID)
			delete(c.children, n.ID)
			continue
		}
		kept = append(kept, n)
	}
	c.nodes = kept

	for parent, ids := range c.children {
		live := ids[:0]
		for _, cid := range ids {
			if !gone[cid] {
				live = append(live, cid)
			}
		}
		if len(live) == 0 {
			delete(c.children, parent)
		} else {
			c.children[parent] = live
		}
	}
}

func (c *Canvas) removeEdges(doomed []*model.Edge) {
	if len(doomed) == 0 {
		return
	}
	drop := make(map[string]bool, len(doomed))
	for _, e := range doomed {
		drop[e.ID] = true
		delete(c.edgeByID, e.ID)
	}
	kept := c.edges[:0]
	for _, e := range c.edges {
		if !drop[e.ID] {
			kept = append(kept, e)
		}
	}
	c.edges = kept
}

// DeleteEdge removes an edge and clears the input it was feeding.
func (c *Canvas) DeleteEdge(id string) error {
	e, ok := c.edgeByID[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrEdgeNotFound)
	}
	c.clearConnectedInput(e)
	c.removeEdges([]*model.Edge{e})
	c.dirty = true
	return nil
}

// clearConnectedInput resets the target input an edge was feeding. List
// anchors drop the source's entries, variable-accepting params lose the
// placeholder and every other input is emptied.
func (c *Canvas) clearConnectedInput(e *model.Edge) {
	target, ok := c.byID[e.Target]
	if !ok {
		return
	}
	name, ok := inputName(&target.Data, e.TargetHandle)
	if !ok {
		return
	}
	if target.Data.Inputs == nil {
		target.Data.Inputs = map[string]any{}
	}

	if a, ok := target.Data.InputAnchor(name); ok && a.List {
		target.Data.Inputs[name] = model.FilterList(target.Data.Inputs[name], func(s string) bool {
			return model.ReferencesNode(s, e.Source)
		})
		return
	}
	if p, ok := target.Data.InputParam(name); ok && p.AcceptVariable {
		s, _ := target.Data.Inputs[name].(string)
		target.Data.Inputs[name] = strings.TrimSpace(strings.ReplaceAll(s, model.Reference(e.Source), ""))
		return
	}
	target.Data.Inputs[name] = ""
}

// inputName resolves a target handle to an input name, falling back to the
// name segment of the handle for nodes whose anchor ids were hand edited.
func inputName(d *model.NodeData, handle string) (string, bool) {
	if name, _, ok := d.InputByHandle(handle); ok {
		return name, true
	}
	parts := strings.Split(handle, "-")
	if len(parts) >= 3 && parts[1] == "input" && d.HasInputKey(parts[2]) {
		return parts[2], true
	}
	return "", false
}

// sweepReferences strips placeholders for a removed node from every
// surviving input, including those that were never wired by an edge.
func (c *Canvas) sweepReferences(removedID string) {
	ref := model.Reference(removedID)
	for _, n := range c.nodes {
		for key, v := range n.Data.Inputs {
			switch val := v.(type) {
			case string:
				if !model.ReferencesNode(val, removedID) {
					continue
				}
				if model.IsReference(val) {
					n.Data.Inputs[key] = ""
				} else {
					n.Data.Inputs[key] = strings.TrimSpace(strings.ReplaceAll(val, ref, ""))
				}
			case []any, []string:
				n.Data.Inputs[key] = model.FilterList(val, func(s string) bool {
					return model.ReferencesNode(s, removedID)
				})
			}
		}
	}
}

// DuplicateNode copies a node next to the original under a fresh id.
// Anchor ids are rewritten for the new id and inputs that referenced other
// nodes are cleared. Singleton nodes cannot be duplicated.
func (c *Canvas) DuplicateNode(id string, offset float64) (*model.Node, error) {
	orig, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNodeNotFound)
	}
	// The original is still on the canvas, so a copy would be a second one.
	if kind := c.rules.Kind(orig.Data.Name); kind.Singleton() {
		return nil, &PlacementError{Reason: fmt.Sprintf("Only one %s node is allowed", kind)}
	}

	newID := c.uniqueID(orig.Data.Name)
	dup := orig.Clone()
	dx := orig.Width + offset
	dup.ID = newID
	dup.Position.X += dx
	if dup.PositionAbsolute != nil {
		dup.PositionAbsolute.X += dx
	}
	dup.Selected = false
	dup.Data.ID = newID
	dup.Data.Selected = false
	dup.Data.Label = orig.Data.Label + " (" + idSuffix(newID) + ")"

	for i := range dup.Data.InputParams {
		dup.Data.InputParams[i].ID = strings.Replace(dup.Data.InputParams[i].ID, id, newID, 1)
	}
	for i := range dup.Data.InputAnchors {
		dup.Data.InputAnchors[i].ID = strings.Replace(dup.Data.InputAnchors[i].ID, id, newID, 1)
	}
	for i := range dup.Data.OutputAnchors {
		a := &dup.Data.OutputAnchors[i]
		a.ID = strings.Replace(a.ID, id, newID, 1)
		for j := range a.Options {
			a.Options[j].ID = strings.Replace(a.Options[j].ID, id, newID, 1)
		}
	}

	for key, v := range dup.Data.Inputs {
		switch val := v.(type) {
		case string:
			if model.IsReference(val) {
				dup.Data.Inputs[key] = ""
			}
		case []any, []string:
			dup.Data.Inputs[key] = model.FilterList(val, model.IsReference)
		}
	}

	c.insertNode(dup)
	c.dirty = true
	return dup.Clone(), nil
}

// Connection names the two handles of a proposed edge.
type Connection struct {
	Source       string `json:"source"`
	SourceHandle string `json:"sourceHandle"`
	Target       string `json:"target"`
	TargetHandle string `json:"targetHandle"`
}

// Connect adds an edge for conn and wires the source's output into the
// target input. Invalid connections are refused without error: ok is false
// and the graph is unchanged.
func (c *Canvas) Connect(conn Connection) (edge *model.Edge, ok bool) {
	src, found := c.byID[conn.Source]
	if !found {
		return nil, false
	}
	tgt, found := c.byID[conn.Target]
	if !found || src.ID == tgt.ID {
		return nil, false
	}
	if !src.Data.HasOutputHandle(conn.SourceHandle) {
		return nil, false
	}
	name, list, found := tgt.Data.InputByHandle(conn.TargetHandle)
	if !found {
		return nil, false
	}

	id := model.EdgeID(conn.Source, conn.SourceHandle, conn.Target, conn.TargetHandle)
	if _, dup := c.edgeByID[id]; dup {
		return nil, false
	}
	_, isParam := tgt.Data.InputParam(name)
	if !list && !isParam {
		for _, e := range c.edges {
			if e.Target == tgt.ID && e.TargetHandle == conn.TargetHandle {
				return nil, false
			}
		}
	}
	if c.reaches(tgt.ID, src.ID) {
		return nil, false
	}

	e := &model.Edge{
		ID:           id,
		Source:       conn.Source,
		SourceHandle: conn.SourceHandle,
		Target:       conn.Target,
		TargetHandle: conn.TargetHandle,
		Type:         c.edgeType,
	}
	switch c.rules.Kind(src.Data.Name) {
	case model.KindCondition:
		e.Data = &model.EdgeData{EdgeLabel: conditionLabel(conn.SourceHandle)}
	case model.KindHumanInput:
		label := "reject"
		if lastSegment(conn.SourceHandle) == "0" {
			label = "proceed"
		}
		e.Data = &model.EdgeData{EdgeLabel: label, IsHumanInput: true}
	}
	if src.HasParent() && src.ParentNode == tgt.ParentNode {
		e.ZIndex = sharedParentZIndex
	}

	c.wireInput(tgt, name, list, conn.Source)
	c.edges = append(c.edges, e)
	c.edgeByID[e.ID] = e
	c.dirty = true
	return e.Clone(), true
}

func (c *Canvas) wireInput(tgt *model.Node, name string, list bool, sourceID string) {
	if tgt.Data.Inputs == nil {
		tgt.Data.Inputs = map[string]any{}
	}
	ref := model.Reference(sourceID)
	if p, ok := tgt.Data.InputParam(name); ok && p.AcceptVariable {
		s, _ := tgt.Data.Inputs[name].(string)
		if !strings.Contains(s, ref) {
			tgt.Data.Inputs[name] = strings.TrimSpace(s + " " + ref)
		}
		return
	}
	if list {
		tgt.Data.Inputs[name] = model.AppendUnique(tgt.Data.Inputs[name], ref)
		return
	}
	tgt.Data.Inputs[name] = ref
}

// reaches reports whether to is reachable from from along existing edges.
func (c *Canvas) reaches(from, to string) bool {
	seen := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			return true
		}
		for _, e := range c.edges {
			if e.Source == cur && !seen[e.Target] {
				seen[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}
	return false
}

// conditionLabel numbers a condition branch by the last segment of its
// handle, defaulting to "0" when that segment is not a number.
func conditionLabel(handle string) string {
	seg := lastSegment(handle)
	if _, err := strconv.ParseFloat(seg, 64); err != nil {
		return "0"
	}
	return seg
}

func lastSegment(handle string) string {
	if i := strings.LastIndex(handle, "-"); i >= 0 {
		return handle[i+1:]
	}
	return handle
}

// UpdateInputs sets input values on a node. Every key must be declared by
// the node's schema, except the credential key.
func (c *Canvas) UpdateInputs(id string, values map[string]any) error {
	n, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNodeNotFound)
	}
	for key := range values {
		if key != CredentialInput && !n.Data.HasInputKey(key) {
			return fmt.Errorf("%s.%s: %w", id, key, ErrUnknownInput)
		}
	}
	if n.Data.Inputs == nil {
		n.Data.Inputs = map[string]any{}
	}
	for key, v := range values {
		n.Data.Inputs[key] = v
	}
	c.dirty = true
	return nil
}

// SetLabel renames a node.
func (c *Canvas) SetLabel(id, label string) error {
	n, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNodeNotFound)
	}
	n.Data.Label = label
	c.dirty = true
	return nil
}

// MoveNode sets a node's position. Positions of children stay relative to
// their container.
func (c *Canvas) MoveNode(id string, pos model.Position) error {
	n, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNodeNotFound)
	}
	n.Position = pos
	abs := pos
	if n.HasParent() {
		if p, ok := c.byID[n.ParentNode]; ok {
			abs = model.Position{X: p.Position.X + pos.X, Y: p.Position.Y + pos.Y}
		}
	}
	n.PositionAbsolute = &abs
	for _, cid := range c.children[id] {
		child := c.byID[cid]
		child.PositionAbsolute = &model.Position{X: pos.X + child.Position.X, Y: pos.Y + child.Position.Y}
	}
	c.dirty = true
	return nil
}

// SetStatus records the execution status of a node. Status is transient and
// does not mark the canvas dirty.
func (c *Canvas) SetStatus(id string, status model.NodeStatus, errMsg string) error {
	n, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNodeNotFound)
	}
	n.Data.Status = status
	n.Data.Error = errMsg
	return nil
}

// ClearStatus removes execution status from every node.
func (c *Canvas) ClearStatus() {
	for _, n := range c.nodes {
		n.Data.Status = ""
		n.Data.Error = ""
	}
}

// Select marks one node selected and every other node unselected. An
// empty id clears the selection.
func (c *Canvas) Select(id string) error {
	if id != "" {
		if _, ok := c.byID[id]; !ok {
			return fmt.Errorf("%s: %w", id, ErrNodeNotFound)
		}
	}
	c.selectOnly(id)
	return nil
}

func (c *Canvas) selectOnly(id string) {
	for _, n := range c.nodes {
		n.Data.Selected = n.ID == id
		n.Selected = n.ID == id
	}
}

// ForSave returns the graph as it should be persisted: credentials hoisted
// out of inputs and selection and execution state stripped.
func (c *Canvas) ForSave() *model.Graph {
	g := c.Graph()
	for _, n := range g.Nodes {
		if v, ok := n.Data.Inputs[CredentialInput]; ok {
			if s, ok := v.(string); ok {
				n.Data.Credential = s
			}
			delete(n.Data.Inputs, CredentialInput)
		}
		n.Selected = false
		n.Data.Selected = false
		n.Data.Status = ""
		n.Data.Error = ""
	}
	return g
}
