package model

import "testing"

func conditionTemplate() *Template {
	return &Template{
		Name:    "conditionAgentflow",
		Label:   "Condition",
		Version: 1,
		Inputs: []InputParam{
			{Label: "Conditions", Name: "conditions", Type: "array"},
		},
		Outputs: []OutputAnchor{
			{Name: "0", Label: "Condition 0"},
			{Name: "1", Label: "Else"},
		},
	}
}

func llmTemplate() *Template {
	return &Template{
		Name:        "llm",
		Label:       "LLM",
		Version:     2,
		BaseClasses: []string{"LLM", "Runnable"},
		Inputs: []InputParam{
			{Label: "Model", Name: "model", Type: "BaseChatModel"},
			{Label: "Tools", Name: "tools", Type: "Tool", List: true},
			{Label: "Prompt", Name: "prompt", Type: "string", AcceptVariable: true},
			{Label: "Temperature", Name: "temperature", Type: "number", Default: 0.7},
		},
	}
}

func TestInitNode_SplitsParamsAndAnchors(t *testing.T) {
	d := llmTemplate().InitNode("llm_0")

	if len(d.InputAnchors) != 2 || len(d.InputParams) != 2 {
		t.Fatalf("anchors=%d params=%d", len(d.InputAnchors), len(d.InputParams))
	}
	if d.InputAnchors[0].ID != "llm_0-input-model-BaseChatModel" {
		t.Errorf("anchor id = %q", d.InputAnchors[0].ID)
	}
	if d.InputParams[0].ID != "llm_0-input-prompt-string" {
		t.Errorf("param id = %q", d.InputParams[0].ID)
	}
	if d.Inputs["temperature"] != 0.7 {
		t.Errorf("temperature default = %v", d.Inputs["temperature"])
	}
	if l, ok := d.Inputs["tools"].([]any); !ok || len(l) != 0 {
		t.Errorf("list anchor default = %#v", d.Inputs["tools"])
	}
	if d.Inputs["model"] != "" {
		t.Errorf("single anchor default = %#v", d.Inputs["model"])
	}
	if len(d.OutputAnchors) != 1 || d.OutputAnchors[0].ID != "llm_0-output-llm-LLM|Runnable" {
		t.Errorf("outputs = %+v", d.OutputAnchors)
	}
	if d.Version != 2 || d.Name != "llm" || d.ID != "llm_0" {
		t.Errorf("identity = %+v", d)
	}
}

func TestInitNode_ConditionOutputsAreNumbered(t *testing.T) {
	d := conditionTemplate().InitNode("conditionAgentflow_3")
	if len(d.OutputAnchors) != 2 {
		t.Fatalf("outputs = %d", len(d.OutputAnchors))
	}
	if d.OutputAnchors[1].ID != "conditionAgentflow_3-output-1" {
		t.Errorf("id = %q", d.OutputAnchors[1].ID)
	}
}

func TestInitNode_OutputOptionsDefault(t *testing.T) {
	tpl := &Template{
		Name: "retriever",
		Outputs: []OutputAnchor{{
			Name: "output", Label: "Output", Type: "options",
			Options: []OutputOption{
				{Name: "retriever", Label: "Retriever", Type: "Retriever"},
				{Name: "document", Label: "Document", Type: "Document"},
			},
		}},
	}
	d := tpl.InitNode("retriever_1")
	if d.Outputs["output"] != "retriever" {
		t.Errorf("default output = %v", d.Outputs["output"])
	}
	if d.OutputAnchors[0].Options[1].ID != "retriever_1-output-document-Document" {
		t.Errorf("option id = %q", d.OutputAnchors[0].Options[1].ID)
	}
	if tpl.Outputs[0].Options[0].ID != "" {
		t.Error("InitNode must not mutate the template")
	}
}

func TestValidateTemplate(t *testing.T) {
	if err := ValidateTemplate(llmTemplate()); err != nil {
		t.Fatalf("valid template: %v", err)
	}
	bad := &Template{
		Name:    "bad_name",
		Version: -1,
		Inputs:  []InputParam{{Name: "a"}, {Name: "a"}, {}},
	}
	errs := fieldErrors(t, ValidateTemplate(bad))
	for _, f := range []string{"name", "version", "inputs[1].name", "inputs[2].name"} {
		if !hasFieldError(errs, f) {
			t.Errorf("expected error on %s, got %+v", f, errs)
		}
	}
}
