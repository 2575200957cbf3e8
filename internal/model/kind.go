package model

// NodeKind classifies node types by the structural rules that apply to them.
type NodeKind int

const (
	KindGeneric NodeKind = iota
	KindStart
	KindContainer
	KindCondition
	KindHumanInput
	KindStickyNote
)

// String returns the string representation of the kind.
func (k NodeKind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindContainer:
		return "container"
	case KindCondition:
		return "condition"
	case KindHumanInput:
		return "humanInput"
	case KindStickyNote:
		return "stickyNote"
	}
	return "generic"
}

// Singleton reports whether at most one node of this kind may exist in a graph.
func (k NodeKind) Singleton() bool {
	return k == KindStart
}

// RenderType is the canvas node type written into Node.Type.
func (k NodeKind) RenderType() string {
	switch k {
	case KindContainer:
		return "iteration"
	case KindStickyNote:
		return "stickyNote"
	}
	return "agentFlow"
}

// Rules maps template names to node kinds. Unknown names are generic.
type Rules struct {
	kinds map[string]NodeKind
}

// NewRules builds Rules from an explicit name to kind mapping.
func NewRules(kinds map[string]NodeKind) Rules {
	m := make(map[string]NodeKind, len(kinds))
	for name, k := range kinds {
		m[name] = k
	}
	return Rules{kinds: m}
}

// DefaultRules returns the agentflow node names.
func DefaultRules() Rules {
	return NewRules(map[string]NodeKind{
		"startAgentflow":          KindStart,
		"iterationAgentflow":      KindContainer,
		"conditionAgentflow":      KindCondition,
		"conditionAgentAgentflow": KindCondition,
		"humanInputAgentflow":     KindHumanInput,
		"stickyNoteAgentflow":     KindStickyNote,
	})
}

// Kind returns the kind for a template name.
func (r Rules) Kind(name string) NodeKind {
	return r.kinds[name]
}

// StartName returns the template name of the start kind, if any.
func (r Rules) StartName() (string, bool) {
	for name, k := range r.kinds {
		if k == KindStart {
			return name, true
		}
	}
	return "", false
}
