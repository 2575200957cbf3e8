package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/alfredjeanlab/flowcanvas/internal/client"
	"github.com/alfredjeanlab/flowcanvas/internal/events"
	"github.com/alfredjeanlab/flowcanvas/internal/model"
	"github.com/alfredjeanlab/flowcanvas/internal/ui"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Watch flows for changes",
	GroupID: "flows",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		types, _ := cmd.Flags().GetStringSlice("type")
		search, _ := cmd.Flags().GetString("search")
		interval, _ := cmd.Flags().GetDuration("interval")
		once, _ := cmd.Flags().GetBool("once")
		natsURL, _ := cmd.Flags().GetString("nats")

		req := &client.ListFlowsRequest{Type: upperAll(types), Search: search}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		seen := make(map[string]time.Time)

		if err := queryAndPrint(ctx, req, seen); err != nil {
			return err
		}
		if once {
			return nil
		}

		if natsURL == "" {
			natsURL = os.Getenv("FLOWCANVAS_NATS_URL")
		}
		if natsURL == "" {
			natsURL = activeRemoteNATSURL()
		}
		if natsURL != "" {
			return watchNATS(ctx, natsURL, req, seen)
		}
		return watchPoll(ctx, interval, req, seen)
	},
}

// watchNATS re-queries after flow events, debounced so a burst of saves
// costs one list call.
func watchNATS(ctx context.Context, natsURL string, req *client.ListFlowsRequest, seen map[string]time.Time) error {
	// A reconnect may have dropped events; re-query right away.
	reconnectCh := make(chan struct{}, 1)

	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("nats reconnected")
			select {
			case reconnectCh <- struct{}{}:
			default:
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer sub.Close()

	flowEvents, err := sub.Subscribe(events.TopicAll)
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	defer flowEvents.Close()

	debounce := time.NewTimer(0)
	debounce.Stop()
	select {
	case <-debounce.C:
	default:
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-flowEvents.C():
			if !ok {
				return nil
			}
			slog.Debug("flow event", "topic", msg.Topic)
			debounce.Reset(200 * time.Millisecond)
		case <-reconnectCh:
			debounce.Reset(0)
		case <-debounce.C:
			if err := queryAndPrint(ctx, req, seen); err != nil {
				return err
			}
		}
	}
}

func watchPoll(ctx context.Context, interval time.Duration, req *client.ListFlowsRequest, seen map[string]time.Time) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := queryAndPrint(ctx, req, seen); err != nil {
			return err
		}
	}
}

func queryAndPrint(ctx context.Context, req *client.ListFlowsRequest, seen map[string]time.Time) error {
	resp, err := flowClient.ListFlows(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	changed, removed := diffFlows(resp.Flows, seen)
	if jsonOutput {
		if len(changed) > 0 || len(removed) > 0 {
			printJSON(map[string]any{"changed": changed, "removed": removed})
		}
		return nil
	}
	if len(changed) > 0 {
		printFlowListTable(changed, resp.Total)
	}
	for _, id := range removed {
		fmt.Printf("%s %s\n", ui.RenderMuted("removed"), id)
	}
	return nil
}

// diffFlows returns flows that are new or have a different updatedDate
// than last seen, and the ids of seen flows no longer listed. seen is
// updated in place.
func diffFlows(flows []*model.Flow, seen map[string]time.Time) (changed []*model.Flow, removed []string) {
	present := make(map[string]bool, len(flows))
	for _, f := range flows {
		present[f.ID] = true
		prev, ok := seen[f.ID]
		if !ok || !f.UpdatedDate.Equal(prev) {
			changed = append(changed, f)
		}
		seen[f.ID] = f.UpdatedDate
	}
	for id := range seen {
		if !present[id] {
			removed = append(removed, id)
			delete(seen, id)
		}
	}
	sort.Strings(removed)
	return changed, removed
}

func init() {
	watchCmd.Flags().StringSlice("type", nil, "filter by flow type")
	watchCmd.Flags().String("search", "", "case-insensitive name search")
	watchCmd.Flags().Duration("interval", 5*time.Second, "polling interval without NATS")
	watchCmd.Flags().Bool("once", false, "exit after the first query")
	watchCmd.Flags().String("nats", "", "NATS URL for event-driven updates")
}
