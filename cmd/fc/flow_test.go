package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alfredjeanlab/flowcanvas/internal/catalog"
	"github.com/alfredjeanlab/flowcanvas/internal/client"
	"github.com/alfredjeanlab/flowcanvas/internal/model"
	"github.com/alfredjeanlab/flowcanvas/internal/server"
	"github.com/alfredjeanlab/flowcanvas/internal/store/memory"
)

func TestParseFlowImport(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"empty", "  \n", nil, false},
		{"array", `[{"id":"cf-1","name":"a","type":"AGENTFLOW"},{"name":"b"}]`, []string{"cf-1", ""}, false},
		{"jsonl", "{\"id\":\"cf-1\",\"name\":\"a\"}\n\n{\"id\":\"cf-2\",\"name\":\"b\"}\n", []string{"cf-1", "cf-2"}, false},
		{"bad line", "{\"id\":\"cf-1\"}\nnot json\n", nil, true},
		{"bad array", `[{"id":]`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reqs, err := parseFlowImport([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(reqs) != len(tt.want) {
				t.Fatalf("got %d flows, want %d", len(reqs), len(tt.want))
			}
			for i, id := range tt.want {
				if reqs[i].ID != id {
					t.Errorf("flow %d id = %q, want %q", i, reqs[i].ID, id)
				}
			}
		})
	}
}

func TestParseFlowImport_KeepsFields(t *testing.T) {
	reqs, err := parseFlowImport([]byte(`[{"id":"cf-1","name":"a","type":"AGENTFLOW","flowData":"{\"nodes\":[]}","deployed":true,"category":"x;y"}]`))
	if err != nil {
		t.Fatal(err)
	}
	r := reqs[0]
	if r.Type != "AGENTFLOW" || !r.Deployed || r.Category != "x;y" || r.FlowData != `{"nodes":[]}` {
		t.Fatalf("unexpected request %+v", r)
	}
}

func TestExportFlows_PagesAndRoundTrips(t *testing.T) {
	srv := server.New(server.Config{
		Store:            memory.New(),
		Catalog:          catalog.NewResolver(catalog.StaticSource(nil)),
		Rules:            model.DefaultRules(),
		AutosaveInterval: -1,
		MonitorInterval:  -1,
	})
	defer srv.Shutdown(context.Background())
	ts := httptest.NewServer(srv.NewHTTPHandler())
	defer ts.Close()

	ctx := context.Background()
	c := client.NewHTTPClient(ts.URL, "")

	const n = exportPageSize + 5
	reqs := make([]*client.CreateFlowRequest, 0, n)
	for i := 0; i < n; i++ {
		reqs = append(reqs, &client.CreateFlowRequest{Name: "flow", Type: "CHATFLOW"})
	}
	if _, err := c.ImportFlows(ctx, reqs); err != nil {
		t.Fatalf("ImportFlows: %v", err)
	}

	var buf bytes.Buffer
	written, err := exportFlows(ctx, c, &buf)
	if err != nil {
		t.Fatalf("exportFlows: %v", err)
	}
	if written != n {
		t.Fatalf("written = %d, want %d", written, n)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != n {
		t.Fatalf("got %d lines, want %d", len(lines), n)
	}
	ids := make(map[string]bool, n)
	for _, line := range lines {
		var f model.Flow
		if err := json.Unmarshal([]byte(line), &f); err != nil {
			t.Fatalf("bad line %q: %v", line, err)
		}
		ids[f.ID] = true
	}
	if len(ids) != n {
		t.Fatalf("expected %d distinct flows, got %d", n, len(ids))
	}

	back, err := parseFlowImport(buf.Bytes())
	if err != nil || len(back) != n {
		t.Fatalf("re-import parse: %d %v", len(back), err)
	}
}
