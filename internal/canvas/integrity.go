package canvas

import (
	"encoding/json"
	"strings"

	"github.com/alfredjeanlab/flowcanvas/internal/model"
)

// IssueKind classifies a graph integrity problem.
type IssueKind string

const (
	IssueOrphanEdge        IssueKind = "orphan_edge"
	IssueDuplicateEdge     IssueKind = "duplicate_edge"
	IssueMissingHandle     IssueKind = "missing_handle"
	IssueDanglingReference IssueKind = "dangling_reference"
	IssueIncompleteNode    IssueKind = "incomplete_node"
)

// Issue is one integrity problem found in a graph.
type Issue struct {
	Kind   IssueKind `json:"kind"`
	ID     string    `json:"id"`
	Detail string    `json:"detail,omitempty"`
}

// Integrity inspects the live graph for problems that would corrupt a save:
// edges whose handles no longer exist, inputs referencing missing nodes and
// nodes without an anchor schema.
func (c *Canvas) Integrity() []Issue {
	var issues []Issue
	for _, e := range c.edges {
		src, ok := c.byID[e.Source]
		if !ok {
			issues = append(issues, Issue{Kind: IssueOrphanEdge, ID: e.ID, Detail: "missing source " + e.Source})
			continue
		}
		tgt, ok := c.byID[e.Target]
		if !ok {
			issues = append(issues, Issue{Kind: IssueOrphanEdge, ID: e.ID, Detail: "missing target " + e.Target})
			continue
		}
		if !src.Data.HasOutputHandle(e.SourceHandle) {
			issues = append(issues, Issue{Kind: IssueMissingHandle, ID: e.ID, Detail: "source handle " + e.SourceHandle})
		}
		if !tgt.Data.HasInputHandle(e.TargetHandle) {
			issues = append(issues, Issue{Kind: IssueMissingHandle, ID: e.ID, Detail: "target handle " + e.TargetHandle})
		}
	}

	for _, n := range c.nodes {
		if n.Data.Incomplete() {
			issues = append(issues, Issue{Kind: IssueIncompleteNode, ID: n.ID})
		}
		for key, v := range n.Data.Inputs {
			for _, s := range inputStrings(v) {
				for _, ref := range referencedNodes(s) {
					if _, ok := c.byID[ref]; !ok {
						issues = append(issues, Issue{Kind: IssueDanglingReference, ID: n.ID, Detail: key + " -> " + ref})
					}
				}
			}
		}
	}
	return issues
}

func inputStrings(v any) []string {
	if s, ok := v.(string); ok {
		return []string{s}
	}
	l, _ := model.StringList(v)
	return l
}

// referencedNodes extracts node ids from {{<id>.data.instance}} placeholders.
func referencedNodes(s string) []string {
	var ids []string
	for {
		start := strings.Index(s, "{{")
		if start < 0 {
			return ids
		}
		s = s[start+2:]
		end := strings.Index(s, "}}")
		if end < 0 {
			return ids
		}
		inner := s[:end]
		s = s[end+2:]
		if id, ok := strings.CutSuffix(inner, ".data.instance"); ok && id != "" {
			ids = append(ids, id)
		}
	}
}

// ParseClipboard interprets pasted text as a flow when it has the shape
// {"nodes":[...],"edges":[...]}. Anything else is ignored.
func ParseClipboard(text string) (*model.Graph, bool) {
	if !strings.Contains(text, `{"nodes":[`) || !strings.Contains(text, `],"edges":[`) {
		return nil, false
	}
	var g model.Graph
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &g); err != nil {
		return nil, false
	}
	if g.Nodes == nil {
		g.Nodes = []*model.Node{}
	}
	if g.Edges == nil {
		g.Edges = []*model.Edge{}
	}
	return &g, true
}
