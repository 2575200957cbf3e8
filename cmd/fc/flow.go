package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alfredjeanlab/flowcanvas/internal/client"
	"github.com/alfredjeanlab/flowcanvas/internal/model"
	"github.com/spf13/cobra"
)

var flowCmd = &cobra.Command{
	Use:     "flow",
	Short:   "Manage stored flows",
	GroupID: "flows",
}

var flowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List flows",
	RunE: func(cmd *cobra.Command, args []string) error {
		types, _ := cmd.Flags().GetStringSlice("type")
		search, _ := cmd.Flags().GetString("search")
		sort, _ := cmd.Flags().GetString("sort")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		resp, err := flowClient.ListFlows(context.Background(), &client.ListFlowsRequest{
			Type:   upperAll(types),
			Search: search,
			Sort:   sort,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			printJSON(resp.Flows)
		} else {
			printFlowListTable(resp.Flows, resp.Total)
		}
		return nil
	},
}

var flowShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a flow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		graphOnly, _ := cmd.Flags().GetBool("graph")

		flow, err := flowClient.GetFlow(context.Background(), args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		switch {
		case graphOnly:
			var out bytes.Buffer
			if err := json.Indent(&out, []byte(flow.FlowData), "", "  "); err != nil {
				fmt.Println(flow.FlowData)
				return nil
			}
			fmt.Println(out.String())
		case jsonOutput:
			printJSON(flow)
		default:
			printFlowTable(flow)
		}
		return nil
	},
}

var flowCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a flow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flowType, _ := cmd.Flags().GetString("type")
		category, _ := cmd.Flags().GetString("category")
		file, _ := cmd.Flags().GetString("file")
		deployed, _ := cmd.Flags().GetBool("deployed")
		public, _ := cmd.Flags().GetBool("public")

		req := &client.CreateFlowRequest{
			Name:     args[0],
			Type:     strings.ToUpper(flowType),
			Category: category,
			Deployed: deployed,
			IsPublic: public,
		}
		if file != "" {
			data, err := readInput(file)
			if err != nil {
				return err
			}
			req.FlowData = string(data)
		}

		flow, err := flowClient.CreateFlow(context.Background(), req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			printJSON(flow)
		} else {
			fmt.Printf("Created %s (%s)\n", flow.ID, flow.Name)
		}
		return nil
	},
}

var flowUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a flow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &client.UpdateFlowRequest{}
		flags := cmd.Flags()

		if flags.Changed("name") {
			v, _ := flags.GetString("name")
			req.Name = &v
		}
		if flags.Changed("type") {
			v, _ := flags.GetString("type")
			v = strings.ToUpper(v)
			req.Type = &v
		}
		if flags.Changed("category") {
			v, _ := flags.GetString("category")
			req.Category = &v
		}
		if flags.Changed("deployed") {
			v, _ := flags.GetBool("deployed")
			req.Deployed = &v
		}
		if flags.Changed("public") {
			v, _ := flags.GetBool("public")
			req.IsPublic = &v
		}
		if flags.Changed("file") {
			file, _ := flags.GetString("file")
			data, err := readInput(file)
			if err != nil {
				return err
			}
			v := string(data)
			req.FlowData = &v
		}

		flow, err := flowClient.UpdateFlow(context.Background(), args[0], req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			printJSON(flow)
		} else {
			fmt.Printf("Updated %s\n", flow.ID)
		}
		return nil
	},
}

var flowDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete one or more flows",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, id := range args {
			if err := flowClient.DeleteFlow(context.Background(), id); err != nil {
				fmt.Fprintf(os.Stderr, "Error deleting %s: %v\n", id, err)
				os.Exit(1)
			}
			if !jsonOutput {
				fmt.Printf("Deleted %s\n", id)
			}
		}
		if jsonOutput {
			printJSON(map[string]any{"deleted": args})
		}
		return nil
	},
}

var flowEventsCmd = &cobra.Command{
	Use:   "events <id>",
	Short: "Show the event history of a flow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		evts, err := flowClient.GetEvents(context.Background(), args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if jsonOutput {
			printJSON(evts)
		} else {
			printEvents(evts)
		}
		return nil
	},
}

var flowChangedCmd = &cobra.Command{
	Use:   "changed <id> <since>",
	Short: "Report whether a flow changed after a timestamp (RFC 3339)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := time.Parse(time.RFC3339Nano, args[1])
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", args[1], err)
		}
		changed, err := flowClient.HasChanged(context.Background(), args[0], since)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if jsonOutput {
			printJSON(map[string]bool{"isChanged": changed})
		} else {
			fmt.Println(changed)
		}
		return nil
	},
}

var flowExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every visible flow as JSON lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		outPath, _ := cmd.Flags().GetString("output")

		var w io.Writer = os.Stdout
		if outPath != "" && outPath != "-" {
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}

		n, err := exportFlows(context.Background(), flowClient, w)
		if err != nil {
			return err
		}
		if outPath != "" && outPath != "-" {
			fmt.Fprintf(os.Stderr, "exported %d flows to %s\n", n, outPath)
		}
		return nil
	},
}

var flowImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import flows from a JSON array or JSON lines file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(args[0])
		if err != nil {
			return err
		}
		reqs, err := parseFlowImport(data)
		if err != nil {
			return err
		}
		if len(reqs) == 0 {
			return fmt.Errorf("%s: no flows found", args[0])
		}

		flows, err := flowClient.ImportFlows(context.Background(), reqs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if jsonOutput {
			printJSON(flows)
		} else {
			printFlowListTable(flows, len(flows))
		}
		return nil
	},
}

const exportPageSize = 100

// exportFlows pages through ListFlows and writes one flow per line.
func exportFlows(ctx context.Context, c client.FlowClient, w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	written := 0
	for offset := 0; ; offset += exportPageSize {
		resp, err := c.ListFlows(ctx, &client.ListFlowsRequest{Sort: "createdDate", Limit: exportPageSize, Offset: offset})
		if err != nil {
			return written, err
		}
		for _, f := range resp.Flows {
			if err := enc.Encode(f); err != nil {
				return written, err
			}
			written++
		}
		if len(resp.Flows) < exportPageSize || offset+len(resp.Flows) >= resp.Total {
			return written, nil
		}
	}
}

// parseFlowImport accepts a JSON array of flows or one flow per line, the
// format written by export.
func parseFlowImport(data []byte) ([]*client.CreateFlowRequest, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var flows []*model.Flow
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &flows); err != nil {
			return nil, fmt.Errorf("parsing flows: %w", err)
		}
	} else {
		sc := bufio.NewScanner(bytes.NewReader(trimmed))
		sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
		line := 0
		for sc.Scan() {
			line++
			text := bytes.TrimSpace(sc.Bytes())
			if len(text) == 0 {
				continue
			}
			var f model.Flow
			if err := json.Unmarshal(text, &f); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			flows = append(flows, &f)
		}
		if err := sc.Err(); err != nil {
			return nil, err
		}
	}

	reqs := make([]*client.CreateFlowRequest, 0, len(flows))
	for _, f := range flows {
		reqs = append(reqs, &client.CreateFlowRequest{
			ID:       f.ID,
			Name:     f.Name,
			FlowData: f.FlowData,
			Type:     string(f.Type),
			Category: f.Category,
			Deployed: f.Deployed,
			IsPublic: f.IsPublic,
		})
	}
	return reqs, nil
}

func upperAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToUpper(s))
	}
	return out
}

func init() {
	flowListCmd.Flags().StringSlice("type", nil, "filter by flow type (chatflow, agentflow, multiagent, assistant)")
	flowListCmd.Flags().String("search", "", "case-insensitive name search")
	flowListCmd.Flags().String("sort", "", "sort key, '-' prefix for descending (e.g. -updatedDate)")
	flowListCmd.Flags().Int("limit", 0, "maximum number of flows")
	flowListCmd.Flags().Int("offset", 0, "number of flows to skip")

	flowShowCmd.Flags().Bool("graph", false, "print only the serialized graph")

	flowCreateCmd.Flags().String("type", "chatflow", "flow type")
	flowCreateCmd.Flags().String("category", "", "category tags, ';' separated")
	flowCreateCmd.Flags().StringP("file", "f", "", "graph JSON file ('-' for stdin)")
	flowCreateCmd.Flags().Bool("deployed", false, "mark the flow deployed")
	flowCreateCmd.Flags().Bool("public", false, "mark the flow public")

	flowUpdateCmd.Flags().String("name", "", "new name")
	flowUpdateCmd.Flags().String("type", "", "new flow type")
	flowUpdateCmd.Flags().String("category", "", "new category tags")
	flowUpdateCmd.Flags().StringP("file", "f", "", "replacement graph JSON file ('-' for stdin)")
	flowUpdateCmd.Flags().Bool("deployed", false, "deployed flag")
	flowUpdateCmd.Flags().Bool("public", false, "public flag")

	flowExportCmd.Flags().StringP("output", "o", "", "output file (default stdout)")

	flowCmd.AddCommand(flowListCmd)
	flowCmd.AddCommand(flowShowCmd)
	flowCmd.AddCommand(flowCreateCmd)
	flowCmd.AddCommand(flowUpdateCmd)
	flowCmd.AddCommand(flowDeleteCmd)
	flowCmd.AddCommand(flowEventsCmd)
	flowCmd.AddCommand(flowChangedCmd)
	flowCmd.AddCommand(flowExportCmd)
	flowCmd.AddCommand(flowImportCmd)
}
