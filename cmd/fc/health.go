package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/flowcanvas/internal/client"
	"github.com/alfredjeanlab/flowcanvas/internal/ui"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Report whether the server is up",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetDuration("wait")

		start := time.Now()
		status, err := awaitHealthy(cmd.Context(), flowClient, wait, 500*time.Millisecond)
		elapsed := time.Since(start).Round(time.Millisecond)

		if jsonOutput {
			out := map[string]any{"url": serverURL, "status": status, "elapsed_ms": elapsed.Milliseconds()}
			if err != nil {
				out["error"] = err.Error()
			}
			printJSON(out)
		} else if err == nil {
			fmt.Printf("%s %s (%s)\n", serverURL, ui.RenderOK(status), elapsed)
		}
		return err
	},
}

// awaitHealthy polls c until it reports "ok" or wait has passed. A zero
// wait checks exactly once.
func awaitHealthy(ctx context.Context, c client.FlowClient, wait, every time.Duration) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	deadline := time.Now().Add(wait)
	for {
		status, err := c.Health(ctx)
		if err == nil && status == "ok" {
			return status, nil
		}
		if err == nil {
			err = fmt.Errorf("server reports %q", status)
		}
		if !time.Now().Add(every).Before(deadline) {
			return status, fmt.Errorf("unhealthy: %w", err)
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-time.After(every):
		}
	}
}

func init() {
	healthCmd.Flags().Duration("wait", 0, "keep polling until healthy or this long has passed")
}
