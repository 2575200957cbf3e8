package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Template is the canonical, versioned schema of a node type as served by
// the node catalog.
type Template struct {
	Name          string         `json:"name" yaml:"name"`
	Label         string         `json:"label" yaml:"label"`
	Version       float64        `json:"version" yaml:"version"`
	Type          string         `json:"type,omitempty" yaml:"type,omitempty"`
	Category      string         `json:"category,omitempty" yaml:"category,omitempty"`
	Description   string         `json:"description,omitempty" yaml:"description,omitempty"`
	Documentation string         `json:"documentation,omitempty" yaml:"documentation,omitempty"`
	Color         string         `json:"color,omitempty" yaml:"color,omitempty"`
	BaseClasses   []string       `json:"baseClasses,omitempty" yaml:"baseClasses,omitempty"`
	Inputs        []InputParam   `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs       []OutputAnchor `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// paramTypes are input types edited in place. Every other input type is an
// anchor that receives a connection.
var paramTypes = map[string]bool{
	"asyncOptions":      true,
	"asyncMultiOptions": true,
	"options":           true,
	"multiOptions":      true,
	"datagrid":          true,
	"string":            true,
	"number":            true,
	"boolean":           true,
	"password":          true,
	"json":              true,
	"code":              true,
	"date":              true,
	"file":              true,
	"folder":            true,
	"tabs":              true,
	"array":             true,
	"conditionFunction": true,
}

// IsParamType reports whether an input of type t is an editable parameter
// rather than an anchor.
func IsParamType(t string) bool {
	return paramTypes[t]
}

// ValidateTemplate checks a Template for constraint violations.
func ValidateTemplate(t *Template) error {
	var ve ValidationError

	if strings.TrimSpace(t.Name) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "name", Message: "is required"})
	} else if strings.ContainsAny(t.Name, "-_ ") {
		ve.Errors = append(ve.Errors, FieldError{Field: "name", Message: "must not contain '-', '_' or spaces"})
	}
	if t.Version < 0 {
		ve.Errors = append(ve.Errors, FieldError{Field: "version", Message: "must not be negative"})
	}

	seen := make(map[string]bool, len(t.Inputs))
	for i, in := range t.Inputs {
		if in.Name == "" {
			ve.Errors = append(ve.Errors, FieldError{Field: fmt.Sprintf("inputs[%d].name", i), Message: "is required"})
			continue
		}
		if seen[in.Name] {
			ve.Errors = append(ve.Errors, FieldError{Field: fmt.Sprintf("inputs[%d].name", i), Message: fmt.Sprintf("duplicate input %q", in.Name)})
		}
		seen[in.Name] = true
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// InitNode builds fresh node data for the template under nodeID: anchor ids
// are derived from the node id and inputs and outputs take their defaults.
func (t *Template) InitNode(nodeID string) NodeData {
	d := NodeData{
		ID:            nodeID,
		Label:         t.Label,
		Name:          t.Name,
		Version:       t.Version,
		Type:          t.Type,
		Category:      t.Category,
		Description:   t.Description,
		Documentation: t.Documentation,
		Color:         t.Color,
		BaseClasses:   append([]string(nil), t.BaseClasses...),
		InputParams:   []InputParam{},
		InputAnchors:  []InputAnchor{},
		OutputAnchors: []OutputAnchor{},
		Inputs:        map[string]any{},
		Outputs:       map[string]any{},
	}

	for _, in := range t.Inputs {
		id := InputHandle(nodeID, in.Name, in.Type)
		if IsParamType(in.Type) || in.AcceptVariable {
			p := in
			p.ID = id
			p.Options = append([]ParamOption(nil), in.Options...)
			d.InputParams = append(d.InputParams, p)
			if in.Default != nil {
				d.Inputs[in.Name] = in.Default
			} else {
				d.Inputs[in.Name] = ""
			}
			continue
		}
		d.InputAnchors = append(d.InputAnchors, InputAnchor{
			ID:          id,
			Label:       in.Label,
			Name:        in.Name,
			Type:        in.Type,
			Description: in.Description,
			Optional:    in.Optional,
			List:        in.List,
		})
		if in.List {
			d.Inputs[in.Name] = []any{}
		} else {
			d.Inputs[in.Name] = ""
		}
	}

	for i, out := range t.Outputs {
		a := out
		a.ID = OutputHandle(nodeID, i, out.Name, out.Type)
		a.Options = make([]OutputOption, len(out.Options))
		for j, o := range out.Options {
			o.ID = OutputHandle(nodeID, j, o.Name, o.Type)
			a.Options[j] = o
		}
		d.OutputAnchors = append(d.OutputAnchors, a)
		if len(a.Options) > 0 {
			def := a.Default
			if def == "" {
				def = a.Options[0].Name
			}
			d.Outputs[a.Name] = def
		}
	}
	if len(t.Outputs) == 0 && len(t.BaseClasses) > 0 {
		d.OutputAnchors = append(d.OutputAnchors, OutputAnchor{
			ID:    OutputHandle(nodeID, 0, t.Name, strings.Join(t.BaseClasses, "|")),
			Name:  t.Name,
			Label: t.Type,
			Type:  strings.Join(t.BaseClasses, " | "),
		})
	}
	return d
}

// InputHandle is the anchor id of a node input.
func InputHandle(nodeID, name, typ string) string {
	return nodeID + "-input-" + name + "-" + typ
}

// OutputHandle is the anchor id of a node output. Typed outputs are
// addressed by name and type; untyped outputs, such as condition
// branches, by position so the branch number is the last id segment.
func OutputHandle(nodeID string, index int, name, typ string) string {
	if typ == "" {
		return nodeID + "-output-" + strconv.Itoa(index)
	}
	return nodeID + "-output-" + name + "-" + typ
}
