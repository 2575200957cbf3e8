package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/flowcanvas/internal/canvas"
	"github.com/alfredjeanlab/flowcanvas/internal/model"
	"github.com/alfredjeanlab/flowcanvas/internal/reconcile"
	"github.com/alfredjeanlab/flowcanvas/internal/session"
	"github.com/alfredjeanlab/flowcanvas/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

// nameWidth is the room left for the name column after the fixed columns
// of the flow list.
func nameWidth() int {
	return max(ui.Width(120)-70, 20)
}

func printFlowTable(f *model.Flow) {
	fmt.Printf("ID:          %s\n", f.ID)
	fmt.Printf("Name:        %s\n", f.Name)
	fmt.Printf("Type:        %s\n", f.Type)
	if f.Category != "" {
		fmt.Printf("Category:    %s\n", f.Category)
	}
	fmt.Printf("Deployed:    %t\n", f.Deployed)
	fmt.Printf("Public:      %t\n", f.IsPublic)
	if f.WorkspaceID != "" {
		fmt.Printf("Workspace:   %s\n", f.WorkspaceID)
	}
	if f.CreatedBy != "" {
		fmt.Printf("Created By:  %s\n", f.CreatedBy)
	}
	if !f.CreatedDate.IsZero() {
		fmt.Printf("Created At:  %s\n", f.CreatedDate.Format(timeLayout))
	}
	if !f.UpdatedDate.IsZero() {
		fmt.Printf("Updated At:  %s\n", f.UpdatedDate.Format(timeLayout))
	}
	if g, err := f.Graph(); err == nil {
		fmt.Printf("Graph:       %d nodes, %d edges\n", len(g.Nodes), len(g.Edges))
	} else {
		fmt.Printf("Graph:       %s\n", ui.RenderError(err.Error()))
	}
}

func printFlowListTable(flows []*model.Flow, total int) {
	width := nameWidth()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tDEPLOYED\tUPDATED\tNAME")
	for _, f := range flows {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n",
			f.ID,
			f.Type,
			f.Deployed,
			f.UpdatedDate.Format(timeLayout),
			truncate(f.Name, width),
		)
	}
	w.Flush()
	fmt.Printf("\n%d flows (%d total)\n", len(flows), total)
}

func printEvents(events []*model.Event) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tEVENT\tACTOR")
	for _, e := range events {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.ID, e.CreatedAt.Format(timeLayout), e.Kind(), e.Actor)
	}
	w.Flush()
}

func printTemplateList(tpls []*model.Template) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tCATEGORY\tLABEL")
	for _, t := range tpls {
		fmt.Fprintf(w, "%s\t%g\t%s\t%s\n", t.Name, t.Version, t.Category, t.Label)
	}
	w.Flush()
	fmt.Printf("\n%d node types\n", len(tpls))
}

func printTemplate(t *model.Template) {
	fmt.Printf("Name:        %s\n", t.Name)
	fmt.Printf("Label:       %s\n", t.Label)
	fmt.Printf("Version:     %g\n", t.Version)
	if t.Category != "" {
		fmt.Printf("Category:    %s\n", t.Category)
	}
	if t.Description != "" {
		fmt.Printf("Description: %s\n", t.Description)
	}
	if len(t.BaseClasses) > 0 {
		fmt.Printf("Classes:     %s\n", strings.Join(t.BaseClasses, ", "))
	}
	if len(t.Inputs) > 0 {
		fmt.Println("Inputs:")
		for _, in := range t.Inputs {
			opt := ""
			if in.Optional {
				opt = ui.RenderMuted(" (optional)")
			}
			fmt.Printf("  %s %s%s\n", in.Name, ui.RenderMuted(in.Type), opt)
		}
	}
	if len(t.Outputs) > 0 {
		fmt.Println("Outputs:")
		for _, out := range t.Outputs {
			fmt.Printf("  %s\n", out.Name)
		}
	}
}

func printView(v *session.View) {
	name := v.Name
	if v.Dirty {
		name += ui.RenderWarn(" *")
	}
	fmt.Printf("Session:     %s\n", v.SessionID)
	if v.FlowID != "" {
		fmt.Printf("Flow:        %s\n", v.FlowID)
	} else {
		fmt.Printf("Flow:        %s\n", ui.RenderMuted("(unsaved)"))
	}
	fmt.Printf("Name:        %s\n", name)
	fmt.Printf("Type:        %s\n", v.Type)
	fmt.Printf("Opened At:   %s\n", v.OpenedAt.Format(timeLayout))
	if !reportEmpty(v.Reconcile) {
		printReport(os.Stdout, v.Reconcile)
	}
	if len(v.Outdated) > 0 {
		fmt.Printf("Outdated:    %s\n", ui.RenderWarn(strings.Join(v.Outdated, ", ")))
	}
	if v.Graph == nil {
		return
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tTYPE\tSTATUS\tPOSITION\tLABEL")
	for _, n := range v.Graph.Nodes {
		id := n.ID
		if n.ParentNode != "" {
			id = "  " + id
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f,%.0f\t%s\n",
			id, n.Data.Name, ui.RenderStatus(string(n.Data.Status)), n.Position.X, n.Position.Y, n.Data.Label)
	}
	w.Flush()

	if len(v.Graph.Edges) > 0 {
		fmt.Println()
		printEdges(v.Graph.Edges)
	}
	if len(v.Issues) > 0 {
		fmt.Println()
		printIssues(v.Issues)
	}
}

func printEdges(edges []*model.Edge) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EDGE\tSOURCE\tTARGET")
	for _, e := range edges {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.ID, e.SourceHandle, e.TargetHandle)
	}
	w.Flush()
}

func printIssues(issues []canvas.Issue) {
	if len(issues) == 0 {
		fmt.Println(ui.RenderOK("no integrity issues"))
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ISSUE\tID\tDETAIL")
	for _, is := range issues {
		fmt.Fprintf(w, "%s\t%s\t%s\n", ui.RenderWarn(string(is.Kind)), is.ID, is.Detail)
	}
	w.Flush()
}

func printRoster(entries []session.Entry) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tFLOW\tACTOR\tOPS\tIDLE")
	for _, e := range entries {
		idle := time.Duration(e.IdleSecs * float64(time.Second)).Round(time.Second).String()
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", e.SessionID, e.FlowID, e.Actor, e.Operations, idle)
	}
	w.Flush()
	fmt.Printf("\n%d open sessions\n", len(entries))
}

// printReport lists the node ids touched by a reconcile pass.
func printReport(w io.Writer, r reconcile.Report) {
	line := func(label string, ids []string, render func(string) string) {
		if len(ids) > 0 {
			fmt.Fprintf(w, "%-13s%s\n", label+":", render(strings.Join(ids, ", ")))
		}
	}
	if reportEmpty(r) {
		fmt.Fprintln(w, ui.RenderOK("all nodes up to date"))
		return
	}
	line("Upgraded", r.Upgraded, ui.RenderOK)
	line("Reinit", r.Reinitialized, ui.RenderWarn)
	line("Missing", r.Missing, ui.RenderError)
	line("Failed", r.Failed, ui.RenderError)
	line("Edges Gone", r.RemovedEdges, ui.RenderMuted)
}

func reportEmpty(r reconcile.Report) bool {
	return !r.Changed() && len(r.Missing) == 0 && len(r.Failed) == 0
}
