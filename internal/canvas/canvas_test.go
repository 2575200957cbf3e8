package canvas

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/flowcanvas/internal/model"
)

var testRules = model.NewRules(map[string]model.NodeKind{
	"start":      model.KindStart,
	"iteration":  model.KindContainer,
	"condition":  model.KindCondition,
	"humanInput": model.KindHumanInput,
})

var templates = map[string]*model.Template{
	"start": {
		Name: "start", Label: "Start", Version: 1,
		Outputs: []model.OutputAnchor{{Name: "start", Label: "Start"}},
	},
	"llm": {
		Name: "llm", Label: "LLM", Version: 1, BaseClasses: []string{"LLM"},
		Inputs: []model.InputParam{
			{Label: "Input", Name: "input", Type: "Runnable"},
			{Label: "Tools", Name: "tools", Type: "Tool", List: true},
			{Label: "Prompt", Name: "prompt", Type: "string", AcceptVariable: true},
		},
	},
	"condition": {
		Name: "condition", Label: "Condition", Version: 1,
		Inputs:  []model.InputParam{{Label: "Input", Name: "input", Type: "Runnable"}},
		Outputs: []model.OutputAnchor{{Name: "0"}, {Name: "1"}, {Name: "2"}},
	},
	"humanInput": {
		Name: "humanInput", Label: "Human Input", Version: 1,
		Inputs:  []model.InputParam{{Label: "Input", Name: "input", Type: "Runnable"}},
		Outputs: []model.OutputAnchor{{Name: "proceed"}, {Name: "reject"}},
	},
	"iteration": {
		Name: "iteration", Label: "Iteration", Version: 1,
		Inputs:  []model.InputParam{{Label: "Input", Name: "input", Type: "Runnable"}},
		Outputs: []model.OutputAnchor{{Name: "done"}},
	},
}

func newCanvas(opts ...Option) *Canvas {
	return New(testRules, opts...)
}

func add(t *testing.T, c *Canvas, name string, x, y float64, opts ...PlaceOption) *model.Node {
	t.Helper()
	n, err := c.AddNode(templates[name], model.Position{X: x, Y: y}, opts...)
	require.NoError(t, err)
	return n
}

func connect(t *testing.T, c *Canvas, src, srcHandle, tgt, tgtHandle string) *model.Edge {
	t.Helper()
	e, ok := c.Connect(Connection{Source: src, SourceHandle: srcHandle, Target: tgt, TargetHandle: tgtHandle})
	require.True(t, ok, "connect %s -> %s", srcHandle, tgtHandle)
	return e
}

func inputOf(t *testing.T, c *Canvas, id, key string) any {
	t.Helper()
	n, ok := c.Node(id)
	require.True(t, ok, "node %s", id)
	return n.Data.Inputs[key]
}

func TestAddNode_UniqueIDsAndLabels(t *testing.T) {
	c := newCanvas()
	a := add(t, c, "llm", 0, 0)
	b := add(t, c, "llm", 400, 0)

	assert.Equal(t, "llm_0", a.ID)
	assert.Equal(t, "llm_1", b.ID)
	assert.Equal(t, "LLM 1", b.Data.Label)
	assert.Equal(t, "agentFlow", b.Type)
	assert.True(t, c.Dirty())

	first, _ := c.Node("llm_0")
	second, _ := c.Node("llm_1")
	assert.False(t, first.Data.Selected, "older node should be deselected")
	assert.True(t, second.Data.Selected)
}

func TestAddNode_ReusesFreedID(t *testing.T) {
	c := newCanvas()
	add(t, c, "llm", 0, 0)
	add(t, c, "llm", 0, 0)
	_, err := c.DeleteNode("llm_0")
	require.NoError(t, err)

	n := add(t, c, "llm", 0, 0)
	assert.Equal(t, "llm_0", n.ID)
}

func TestAddNode_SecondStartRejected(t *testing.T) {
	c := newCanvas()
	add(t, c, "start", 0, 0)
	before := c.Graph()

	_, err := c.AddNode(templates["start"], model.Position{X: 500, Y: 500})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPlacementRejected))
	var pe *PlacementError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Reason, "Only one start node")
	assert.Equal(t, before, c.Graph(), "graph must be unchanged")
}

func TestAddNode_StartKeepsTemplateLabel(t *testing.T) {
	c := newCanvas()
	n := add(t, c, "start", 0, 0)
	assert.Equal(t, "Start", n.Data.Label)
}

func TestAddNode_DropInsideContainer(t *testing.T) {
	c := newCanvas()
	it := add(t, c, "iteration", 100, 100)
	assert.Equal(t, "iteration", it.Type)

	child := add(t, c, "llm", 150, 160)
	assert.Equal(t, it.ID, child.ParentNode)
	assert.Equal(t, "parent", child.Extent)
	assert.Equal(t, model.Position{X: 50, Y: 60}, child.Position)
	assert.Equal(t, []string{child.ID}, c.Children(it.ID))

	outside := add(t, c, "llm", 100+DefaultContainerWidth+1, 100)
	assert.Empty(t, outside.ParentNode)
}

func TestAddNode_ContainerRestrictions(t *testing.T) {
	c := newCanvas()
	add(t, c, "iteration", 0, 0)

	for _, name := range []string{"iteration", "humanInput"} {
		_, err := c.AddNode(templates[name], model.Position{X: 10, Y: 10})
		assert.ErrorIs(t, err, ErrPlacementRejected, name)
	}
	assert.Equal(t, 1, c.NodeCount())

	_, err := c.AddNode(templates["iteration"], model.Position{X: 10, Y: 10}, InParent("iteration_0"))
	assert.ErrorIs(t, err, ErrPlacementRejected)
}

func TestAddNode_InParent(t *testing.T) {
	c := newCanvas()
	add(t, c, "iteration", 1000, 1000)

	n := add(t, c, "llm", 5, 5, InParent("iteration_0"))
	assert.Equal(t, "iteration_0", n.ParentNode)
	assert.Equal(t, model.Position{X: 5, Y: 5}, n.Position)
	assert.Equal(t, &model.Position{X: 1005, Y: 1005}, n.PositionAbsolute)

	_, err := c.AddNode(templates["llm"], model.Position{}, InParent("nope"))
	assert.ErrorIs(t, err, ErrNodeNotFound)

	_, err = c.AddNode(templates["llm"], model.Position{}, InParent("llm_0"))
	assert.ErrorIs(t, err, ErrPlacementRejected)
}

func TestDeleteNode_ClearsDependentInput(t *testing.T) {
	// A (start) -> B (llm); deleting A leaves only B with its input cleared.
	c := newCanvas()
	add(t, c, "start", 0, 0)
	add(t, c, "llm", 300, 0)
	connect(t, c, "start_0", "start_0-output-0", "llm_0", "llm_0-input-input-Runnable")
	require.Equal(t, "{{start_0.data.instance}}", inputOf(t, c, "llm_0", "input"))

	removed, err := c.DeleteNode("start_0")
	require.NoError(t, err)
	assert.Equal(t, []string{"start_0"}, removed)

	g := c.Graph()
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, "llm_0", g.Nodes[0].ID)
	assert.Empty(t, g.Edges)
	assert.Equal(t, "", inputOf(t, c, "llm_0", "input"))
}

func TestDeleteNode_RemovesDescendantsAndEdges(t *testing.T) {
	var snapshots []*model.Graph
	c := newCanvas(WithBeforeRemove(func(g *model.Graph) { snapshots = append(snapshots, g) }))

	add(t, c, "start", -500, 0)
	add(t, c, "iteration", 0, 0)
	add(t, c, "llm", 10, 10) // llm_0 in iteration_0
	add(t, c, "llm", 50, 50) // llm_1 in iteration_0
	add(t, c, "llm", 900, 0) // llm_2 outside
	connect(t, c, "start_0", "start_0-output-0", "iteration_0", "iteration_0-input-input-Runnable")
	connect(t, c, "llm_0", "llm_0-output-llm-LLM", "llm_1", "llm_1-input-input-Runnable")
	connect(t, c, "llm_1", "llm_1-output-llm-LLM", "llm_2", "llm_2-input-input-Runnable")
	connect(t, c, "iteration_0", "iteration_0-output-0", "llm_2", "llm_2-input-tools-Tool")

	removed, err := c.DeleteNode("iteration_0")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"iteration_0", "llm_0", "llm_1"}, removed)

	g := c.Graph()
	var ids []string
	for _, n := range g.Nodes {
		ids = append(ids, n.ID)
	}
	assert.ElementsMatch(t, []string{"start_0", "llm_2"}, ids)
	assert.Empty(t, g.Edges)
	assert.Empty(t, c.Children("iteration_0"))
	assert.Equal(t, "", inputOf(t, c, "llm_2", "input"))
	assert.Equal(t, []any{}, inputOf(t, c, "llm_2", "tools"))
	assert.Equal(t, 3, c.Removed())

	require.Len(t, snapshots, 1, "bulk removal must snapshot first")
	assert.Len(t, snapshots[0].Nodes, 5)
}

func TestDeleteNode_SingleElementSkipsSnapshot(t *testing.T) {
	called := false
	c := newCanvas(WithBeforeRemove(func(*model.Graph) { called = true }))
	add(t, c, "llm", 0, 0)
	_, err := c.DeleteNode("llm_0")
	require.NoError(t, err)
	assert.False(t, called)
}

func TestDeleteNode_ListAndVariableInputs(t *testing.T) {
	c := newCanvas()
	add(t, c, "llm", 0, 0)   // llm_0
	add(t, c, "llm", 0, 300) // llm_1
	add(t, c, "llm", 400, 0) // llm_2 consumes both
	connect(t, c, "llm_0", "llm_0-output-llm-LLM", "llm_2", "llm_2-input-tools-Tool")
	connect(t, c, "llm_1", "llm_1-output-llm-LLM", "llm_2", "llm_2-input-tools-Tool")
	require.NoError(t, c.UpdateInputs("llm_2", map[string]any{"prompt": "answer using"}))
	connect(t, c, "llm_0", "llm_0-output-llm-LLM", "llm_2", "llm_2-input-prompt-string")
	require.Equal(t, "answer using {{llm_0.data.instance}}", inputOf(t, c, "llm_2", "prompt"))

	_, err := c.DeleteNode("llm_0")
	require.NoError(t, err)

	assert.Equal(t, []any{"{{llm_1.data.instance}}"}, inputOf(t, c, "llm_2", "tools"))
	assert.Equal(t, "answer using", inputOf(t, c, "llm_2", "prompt"))
	assert.Equal(t, 1, c.EdgeCount())
}

func TestDeleteNode_SweepsUnwiredReferences(t *testing.T) {
	c := newCanvas()
	add(t, c, "llm", 0, 0)
	add(t, c, "llm", 300, 0)
	require.NoError(t, c.UpdateInputs("llm_1", map[string]any{"prompt": "{{llm_0.data.instance}}"}))

	_, err := c.DeleteNode("llm_0")
	require.NoError(t, err)
	assert.Equal(t, "", inputOf(t, c, "llm_1", "prompt"))
}

func TestDeleteNode_NotFound(t *testing.T) {
	_, err := newCanvas().DeleteNode("ghost")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestDeleteEdge(t *testing.T) {
	called := false
	c := newCanvas(WithBeforeRemove(func(*model.Graph) { called = true }))
	add(t, c, "start", 0, 0)
	add(t, c, "llm", 300, 0)
	e := connect(t, c, "start_0", "start_0-output-0", "llm_0", "llm_0-input-input-Runnable")
	c.MarkClean()

	require.NoError(t, c.DeleteEdge(e.ID))
	assert.Equal(t, 0, c.EdgeCount())
	assert.Equal(t, 2, c.NodeCount())
	assert.Equal(t, "", inputOf(t, c, "llm_0", "input"))
	assert.True(t, c.Dirty())
	assert.False(t, called)

	assert.ErrorIs(t, c.DeleteEdge(e.ID), ErrEdgeNotFound)
}

func TestDuplicateNode(t *testing.T) {
	c := newCanvas()
	tpl := templates["llm"]
	orig := &model.Node{ID: "llm_0", Type: "agentFlow", Position: model.Position{X: 10, Y: 20}, Width: 200, Data: tpl.InitNode("llm_0")}
	orig.Data.Label = "LLM 0"
	orig.Data.Inputs["input"] = "{{start_0.data.instance}}"
	orig.Data.Inputs["tools"] = []any{"{{tool_0.data.instance}}", "literal"}
	orig.Data.Inputs["prompt"] = "be brief"
	orig.Data.Selected = true
	_, err := c.Load(&model.Graph{Nodes: []*model.Node{orig}})
	require.NoError(t, err)

	dup, err := c.DuplicateNode("llm_0", DefaultDuplicateOffset)
	require.NoError(t, err)

	assert.Equal(t, "llm_1", dup.ID)
	assert.Equal(t, "llm_1", dup.Data.ID)
	assert.Equal(t, model.Position{X: 260, Y: 20}, dup.Position)
	assert.Equal(t, "LLM 0 (1)", dup.Data.Label)
	assert.False(t, dup.Data.Selected)

	require.Len(t, dup.Data.InputAnchors, len(orig.Data.InputAnchors))
	for i, a := range orig.Data.InputAnchors {
		want := a
		want.ID = strings.Replace(a.ID, "llm_0", "llm_1", 1)
		assert.Equal(t, want, dup.Data.InputAnchors[i])
	}
	assert.Equal(t, "llm_1-input-prompt-string", dup.Data.InputParams[0].ID)
	assert.Equal(t, "llm_1-output-llm-LLM", dup.Data.OutputAnchors[0].ID)

	assert.Equal(t, "", dup.Data.Inputs["input"])
	assert.Equal(t, []any{"literal"}, dup.Data.Inputs["tools"])
	assert.Equal(t, "be brief", dup.Data.Inputs["prompt"])

	// The original is untouched.
	again, _ := c.Node("llm_0")
	assert.Equal(t, "{{start_0.data.instance}}", again.Data.Inputs["input"])
	assert.Equal(t, "llm_0-input-input-Runnable", again.Data.InputAnchors[0].ID)
}

func TestDuplicateNode_StartRejected(t *testing.T) {
	c := newCanvas()
	add(t, c, "start", 0, 0)
	before := c.Graph()

	_, err := c.DuplicateNode("start_0", DefaultDuplicateOffset)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPlacementRejected))
	var pe *PlacementError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "Only one start node is allowed", pe.Reason)
	assert.Equal(t, before, c.Graph(), "graph must be unchanged")
	assert.Equal(t, 1, c.NodeCount())
}

func TestDuplicateNode_KeepsParent(t *testing.T) {
	c := newCanvas()
	add(t, c, "iteration", 0, 0)
	add(t, c, "llm", 10, 10)

	dup, err := c.DuplicateNode("llm_0", 10)
	require.NoError(t, err)
	assert.Equal(t, "iteration_0", dup.ParentNode)
	assert.ElementsMatch(t, []string{"llm_0", "llm_1"}, c.Children("iteration_0"))
}

func TestConnect_ConditionBranchLabels(t *testing.T) {
	c := newCanvas()
	add(t, c, "condition", 0, 0)
	for i := 0; i < 3; i++ {
		add(t, c, "llm", 400, float64(i*200))
	}
	for i, want := range []string{"0", "1", "2"} {
		target := "llm_" + want
		e := connect(t, c, "condition_0", "condition_0-output-"+want, target, target+"-input-input-Runnable")
		assert.Equal(t, want, e.Label(), "branch %d", i)
		assert.Equal(t, "agentFlow", e.Type)
	}
}

func TestConditionLabel_NonNumeric(t *testing.T) {
	assert.Equal(t, "0", conditionLabel("condition_0-output-else"))
	assert.Equal(t, "7", conditionLabel("condition_0-output-7"))
}

func TestConnect_HumanInputLabels(t *testing.T) {
	c := newCanvas()
	add(t, c, "humanInput", 0, 0)
	add(t, c, "llm", 400, 0)
	add(t, c, "llm", 400, 300)

	e := connect(t, c, "humanInput_0", "humanInput_0-output-0", "llm_0", "llm_0-input-input-Runnable")
	assert.Equal(t, "proceed", e.Label())
	assert.True(t, e.Data.IsHumanInput)

	e = connect(t, c, "humanInput_0", "humanInput_0-output-1", "llm_1", "llm_1-input-input-Runnable")
	assert.Equal(t, "reject", e.Label())
}

func TestConnect_EdgeIDAndWiring(t *testing.T) {
	c := newCanvas()
	add(t, c, "start", 0, 0)
	add(t, c, "llm", 300, 0)
	e := connect(t, c, "start_0", "start_0-output-0", "llm_0", "llm_0-input-input-Runnable")

	assert.Equal(t, "start_0-start_0-output-0-llm_0-llm_0-input-input-Runnable", e.ID)
	assert.Nil(t, e.Data)
	assert.Zero(t, e.ZIndex)
}

func TestConnect_RejectsSilently(t *testing.T) {
	c := newCanvas()
	add(t, c, "start", 0, 0)
	add(t, c, "llm", 300, 0)
	add(t, c, "llm", 600, 0)
	connect(t, c, "start_0", "start_0-output-0", "llm_0", "llm_0-input-input-Runnable")
	connect(t, c, "llm_0", "llm_0-output-llm-LLM", "llm_1", "llm_1-input-input-Runnable")
	before := c.Graph()

	for name, conn := range map[string]Connection{
		"unknown source": {Source: "ghost", SourceHandle: "ghost-output-0", Target: "llm_0", TargetHandle: "llm_0-input-tools-Tool"},
		"unknown target": {Source: "start_0", SourceHandle: "start_0-output-0", Target: "ghost", TargetHandle: "ghost-input-x-y"},
		"self loop":      {Source: "llm_0", SourceHandle: "llm_0-output-llm-LLM", Target: "llm_0", TargetHandle: "llm_0-input-tools-Tool"},
		"bad source":     {Source: "start_0", SourceHandle: "start_0-output-9", Target: "llm_0", TargetHandle: "llm_0-input-tools-Tool"},
		"bad target":     {Source: "start_0", SourceHandle: "start_0-output-0", Target: "llm_0", TargetHandle: "llm_0-input-missing-Tool"},
		"duplicate":      {Source: "start_0", SourceHandle: "start_0-output-0", Target: "llm_0", TargetHandle: "llm_0-input-input-Runnable"},
		"occupied":       {Source: "llm_1", SourceHandle: "llm_1-output-llm-LLM", Target: "llm_0", TargetHandle: "llm_0-input-input-Runnable"},
		"cycle":          {Source: "llm_1", SourceHandle: "llm_1-output-llm-LLM", Target: "llm_0", TargetHandle: "llm_0-input-tools-Tool"},
	} {
		e, ok := c.Connect(conn)
		assert.False(t, ok, name)
		assert.Nil(t, e, name)
	}
	assert.Equal(t, before, c.Graph())
}

func TestConnect_ZIndexInsideSharedContainer(t *testing.T) {
	c := newCanvas()
	add(t, c, "iteration", 0, 0)
	add(t, c, "llm", 10, 10)
	add(t, c, "llm", 100, 100)
	add(t, c, "llm", 900, 900)

	inside := connect(t, c, "llm_0", "llm_0-output-llm-LLM", "llm_1", "llm_1-input-input-Runnable")
	assert.Equal(t, 9999, inside.ZIndex)

	across := connect(t, c, "llm_1", "llm_1-output-llm-LLM", "llm_2", "llm_2-input-input-Runnable")
	assert.Zero(t, across.ZIndex)
}

func TestLoad_EnforcesNodeInvariants(t *testing.T) {
	for name, nodes := range map[string][]*model.Node{
		"duplicate id":   {{ID: "a"}, {ID: "a"}},
		"missing parent": {{ID: "a", ParentNode: "p"}},
		"nested":         {{ID: "p"}, {ID: "q", ParentNode: "p"}, {ID: "r", ParentNode: "q"}},
		"empty id":       {{ID: ""}},
	} {
		_, err := newCanvas().Load(&model.Graph{Nodes: nodes})
		var ve *model.ValidationError
		assert.ErrorAs(t, err, &ve, name)
	}
}

func TestLoad_DropsOrphanEdges(t *testing.T) {
	c := newCanvas()
	issues, err := c.Load(&model.Graph{
		Nodes: []*model.Node{{ID: "a"}, {ID: "b", ParentNode: "a"}},
		Edges: []*model.Edge{
			{ID: "ok", Source: "a", Target: "b"},
			{ID: "orphan", Source: "a", Target: "zzz"},
		},
	})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, IssueOrphanEdge, issues[0].Kind)
	assert.Equal(t, 1, c.EdgeCount())
	assert.Equal(t, []string{"b"}, c.Children("a"))
	assert.False(t, c.Dirty())
	assert.Equal(t, 1, c.Generation())
}

func TestReplace_MarksDirty(t *testing.T) {
	c := newCanvas()
	_, err := c.Replace(&model.Graph{Nodes: []*model.Node{{ID: "x"}}})
	require.NoError(t, err)
	assert.True(t, c.Dirty())
}

func TestForSave(t *testing.T) {
	c := newCanvas()
	add(t, c, "llm", 0, 0)
	require.NoError(t, c.UpdateInputs("llm_0", map[string]any{CredentialInput: "cred-1"}))
	require.NoError(t, c.SetStatus("llm_0", model.NodeStatusError, "boom"))

	g := c.ForSave()
	n := g.Nodes[0]
	assert.Equal(t, "cred-1", n.Data.Credential)
	assert.NotContains(t, n.Data.Inputs, CredentialInput)
	assert.False(t, n.Data.Selected)
	assert.Empty(t, n.Data.Status)
	assert.Empty(t, n.Data.Error)

	live, _ := c.Node("llm_0")
	assert.Equal(t, model.NodeStatusError, live.Data.Status, "ForSave must not touch the live graph")
}

func TestUpdateInputs_UnknownKey(t *testing.T) {
	c := newCanvas()
	add(t, c, "llm", 0, 0)
	assert.ErrorIs(t, c.UpdateInputs("llm_0", map[string]any{"nope": 1}), ErrUnknownInput)
	assert.ErrorIs(t, c.UpdateInputs("ghost", map[string]any{}), ErrNodeNotFound)
}

func TestMoveNode_UpdatesChildren(t *testing.T) {
	c := newCanvas()
	add(t, c, "iteration", 0, 0)
	add(t, c, "llm", 10, 20)

	require.NoError(t, c.MoveNode("iteration_0", model.Position{X: 100, Y: 100}))
	child, _ := c.Node("llm_0")
	assert.Equal(t, model.Position{X: 10, Y: 20}, child.Position)
	assert.Equal(t, &model.Position{X: 110, Y: 120}, child.PositionAbsolute)
}

func TestIntegrity(t *testing.T) {
	c := newCanvas()
	add(t, c, "llm", 0, 0)
	require.NoError(t, c.UpdateInputs("llm_0", map[string]any{"prompt": "use {{gone_3.data.instance}}"}))
	_, err := c.Replace(&model.Graph{
		Nodes: append(c.Graph().Nodes, &model.Node{ID: "bare", Data: model.NodeData{ID: "bare"}}),
		Edges: []*model.Edge{{ID: "e1", Source: "llm_0", SourceHandle: "llm_0-output-nope", Target: "bare", TargetHandle: "bare-input-x-y"}},
	})
	require.NoError(t, err)

	kinds := map[IssueKind]int{}
	for _, is := range c.Integrity() {
		kinds[is.Kind]++
	}
	assert.Equal(t, 2, kinds[IssueMissingHandle])
	assert.Equal(t, 1, kinds[IssueDanglingReference])
	assert.Equal(t, 1, kinds[IssueIncompleteNode])
}

func TestParseClipboard(t *testing.T) {
	g, ok := ParseClipboard(`{"nodes":[{"id":"a","position":{"x":1,"y":2},"data":{"id":"a"}}],"edges":[]}`)
	require.True(t, ok)
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, "a", g.Nodes[0].ID)

	for _, text := range []string{
		"hello world",
		`{"nodes": [], "edges": []}`,
		`{"nodes":[],"edges":[` + "garbage",
	} {
		_, ok := ParseClipboard(text)
		assert.False(t, ok, text)
	}
}
