package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/alfredjeanlab/flowcanvas/internal/client"
	"github.com/alfredjeanlab/flowcanvas/internal/model"
	"github.com/alfredjeanlab/flowcanvas/internal/session"
	"github.com/spf13/cobra"
)

var canvasCmd = &cobra.Command{
	Use:     "canvas",
	Short:   "Edit flows through server-side canvas sessions",
	GroupID: "canvas",
}

var canvasListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open canvas sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := flowClient.Roster(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if jsonOutput {
			printJSON(entries)
		} else {
			printRoster(entries)
		}
		return nil
	},
}

var canvasOpenCmd = &cobra.Command{
	Use:   "open [flow-id]",
	Short: "Open a stored flow, or a new one, on a canvas",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flowType, _ := cmd.Flags().GetString("type")
		name, _ := cmd.Flags().GetString("name")

		req := &client.OpenCanvasRequest{Name: name, Type: strings.ToUpper(flowType)}
		if len(args) == 1 {
			req.FlowID = args[0]
		}
		return runView(func(ctx context.Context) (*session.View, error) {
			return flowClient.OpenCanvas(ctx, req)
		})
	},
}

var canvasShowCmd = &cobra.Command{
	Use:   "show <session>",
	Short: "Show a canvas session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runView(func(ctx context.Context) (*session.View, error) {
			return flowClient.GetCanvas(ctx, args[0])
		})
	},
}

var canvasAddCmd = &cobra.Command{
	Use:   "add <session> <node-type>",
	Short: "Place a node built from a catalog template",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		x, _ := cmd.Flags().GetFloat64("x")
		y, _ := cmd.Flags().GetFloat64("y")
		parent, _ := cmd.Flags().GetString("parent")

		node, err := flowClient.AddNode(context.Background(), args[0], &client.AddNodeRequest{
			Name:     args[1],
			X:        x,
			Y:        y,
			ParentID: parent,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printNode(node, "Added")
		return nil
	},
}

var canvasRemoveCmd = &cobra.Command{
	Use:   "rm <session> <node>",
	Short: "Delete a node, its children and its edges",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		removed, err := flowClient.DeleteNode(context.Background(), args[0], args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if jsonOutput {
			printJSON(map[string]any{"removed": removed})
		} else {
			fmt.Printf("Removed %s\n", strings.Join(removed, ", "))
		}
		return nil
	},
}

var canvasDuplicateCmd = &cobra.Command{
	Use:   "dup <session> <node>",
	Short: "Duplicate a node",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		node, err := flowClient.DuplicateNode(context.Background(), args[0], args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printNode(node, "Duplicated as")
		return nil
	},
}

var canvasConnectCmd = &cobra.Command{
	Use:   "connect <session> <source-handle> <target-handle>",
	Short: "Connect an output anchor to an input",
	Long: `Connect proposes an edge between two handles. Node ids are taken from the
handle prefixes ("<node>-output-..." and "<node>-input-...") unless
--source or --target is given. A connection the canvas rules reject is
reported and exits non-zero.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		target, _ := cmd.Flags().GetString("target")
		if source == "" {
			source = handleNode(args[1], "-output-")
		}
		if target == "" {
			target = handleNode(args[2], "-input-")
		}

		edge, ok, err := flowClient.Connect(context.Background(), args[0], &client.ConnectRequest{
			Source:       source,
			SourceHandle: args[1],
			Target:       target,
			TargetHandle: args[2],
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if jsonOutput {
			printJSON(map[string]any{"connected": ok, "edge": edge})
		} else if ok {
			fmt.Printf("Connected %s\n", edge.ID)
		}
		if !ok {
			return fmt.Errorf("connection rejected: %s -> %s", args[1], args[2])
		}
		return nil
	},
}

var canvasDisconnectCmd = &cobra.Command{
	Use:   "disconnect <session> <edge>",
	Short: "Delete an edge",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := flowClient.DeleteEdge(context.Background(), args[0], args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if !jsonOutput {
			fmt.Printf("Deleted %s\n", args[1])
		}
		return nil
	},
}

var canvasSetCmd = &cobra.Command{
	Use:   "set <session> <node> [key=value...]",
	Short: "Set node input values",
	Long: `Set updates input values on a node. Values that parse as JSON (numbers,
booleans, arrays, objects, quoted strings) are sent as such; anything
else is sent as a plain string.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &client.UpdateInputsRequest{}
		if cmd.Flags().Changed("label") {
			label, _ := cmd.Flags().GetString("label")
			req.Label = &label
		}
		if len(args) > 2 {
			req.Inputs = make(map[string]any, len(args)-2)
			for _, kv := range args[2:] {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("invalid input %q (expected key=value)", kv)
				}
				req.Inputs[k] = parseInputValue(v)
			}
		}
		if req.Label == nil && len(req.Inputs) == 0 {
			return fmt.Errorf("nothing to set; pass key=value pairs or --label")
		}

		node, err := flowClient.UpdateInputs(context.Background(), args[0], args[1], req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printNode(node, "Updated")
		return nil
	},
}

var canvasStatusCmd = &cobra.Command{
	Use:   "status <session> <node> <INPROGRESS|FINISHED|ERROR|STOPPED>",
	Short: "Set a node's execution status",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		errMsg, _ := cmd.Flags().GetString("error")
		status := model.NodeStatus(strings.ToUpper(args[2]))

		if err := flowClient.SetStatus(context.Background(), args[0], args[1], status, errMsg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if !jsonOutput {
			fmt.Printf("%s %s\n", args[1], string(status))
		}
		return nil
	},
}

var canvasImportCmd = &cobra.Command{
	Use:   "import <session> <file>",
	Short: "Replace the canvas graph with an exported flow",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(args[1])
		if err != nil {
			return err
		}
		return runView(func(ctx context.Context) (*session.View, error) {
			return flowClient.ImportCanvas(ctx, args[0], string(data))
		})
	},
}

var canvasSyncCmd = &cobra.Command{
	Use:   "sync <session>",
	Short: "Upgrade outdated nodes to their current templates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runView(func(ctx context.Context) (*session.View, error) {
			return flowClient.SyncCanvas(ctx, args[0])
		})
	},
}

var canvasRecoverCmd = &cobra.Command{
	Use:   "recover <session>",
	Short: "Restore the latest local backup of the canvas",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runView(func(ctx context.Context) (*session.View, error) {
			return flowClient.RecoverCanvas(ctx, args[0])
		})
	},
}

var canvasSaveCmd = &cobra.Command{
	Use:   "save <session>",
	Short: "Persist the canvas as a flow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")

		flow, err := flowClient.SaveCanvas(context.Background(), args[0], name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if jsonOutput {
			printJSON(flow)
		} else {
			fmt.Printf("Saved %s (%s)\n", flow.ID, flow.Name)
		}
		return nil
	},
}

var canvasCloseCmd = &cobra.Command{
	Use:   "close <session>",
	Short: "Close a canvas session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := flowClient.CloseCanvas(context.Background(), args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if !jsonOutput {
			fmt.Printf("Closed %s\n", args[0])
		}
		return nil
	},
}

var canvasIntegrityCmd = &cobra.Command{
	Use:   "integrity <session>",
	Short: "Check the canvas graph for structural problems",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issues, err := flowClient.Integrity(context.Background(), args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if jsonOutput {
			printJSON(issues)
		} else {
			printIssues(issues)
		}
		if len(issues) > 0 {
			return fmt.Errorf("%d integrity issues", len(issues))
		}
		return nil
	},
}

func runView(fn func(ctx context.Context) (*session.View, error)) error {
	v, err := fn(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if jsonOutput {
		printJSON(v)
	} else {
		printView(v)
	}
	return nil
}

func printNode(n *model.Node, verb string) {
	if jsonOutput {
		printJSON(n)
		return
	}
	fmt.Printf("%s %s (%s) at %.0f,%.0f\n", verb, n.ID, n.Data.Label, n.Position.X, n.Position.Y)
}

// handleNode returns the node id prefix of a handle, or the handle itself
// when sep is absent.
func handleNode(handle, sep string) string {
	if i := strings.Index(handle, sep); i > 0 {
		return handle[:i]
	}
	return handle
}

func parseInputValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

func init() {
	canvasOpenCmd.Flags().String("type", "chatflow", "flow type for a new canvas")
	canvasOpenCmd.Flags().String("name", "", "name for a new canvas")

	canvasAddCmd.Flags().Float64("x", 0, "x position")
	canvasAddCmd.Flags().Float64("y", 0, "y position")
	canvasAddCmd.Flags().String("parent", "", "container node to place the node in")

	canvasConnectCmd.Flags().String("source", "", "source node id")
	canvasConnectCmd.Flags().String("target", "", "target node id")

	canvasSetCmd.Flags().String("label", "", "new node label")

	canvasStatusCmd.Flags().String("error", "", "error message for ERROR status")

	canvasSaveCmd.Flags().String("name", "", "flow name (required for a canvas never saved)")

	canvasCmd.AddCommand(canvasListCmd)
	canvasCmd.AddCommand(canvasOpenCmd)
	canvasCmd.AddCommand(canvasShowCmd)
	canvasCmd.AddCommand(canvasAddCmd)
	canvasCmd.AddCommand(canvasRemoveCmd)
	canvasCmd.AddCommand(canvasDuplicateCmd)
	canvasCmd.AddCommand(canvasConnectCmd)
	canvasCmd.AddCommand(canvasDisconnectCmd)
	canvasCmd.AddCommand(canvasSetCmd)
	canvasCmd.AddCommand(canvasStatusCmd)
	canvasCmd.AddCommand(canvasImportCmd)
	canvasCmd.AddCommand(canvasSyncCmd)
	canvasCmd.AddCommand(canvasRecoverCmd)
	canvasCmd.AddCommand(canvasSaveCmd)
	canvasCmd.AddCommand(canvasCloseCmd)
	canvasCmd.AddCommand(canvasIntegrityCmd)
}
