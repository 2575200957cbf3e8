package main

import (
	"fmt"
	"os"

	"github.com/alfredjeanlab/flowcanvas/internal/client"
	"github.com/alfredjeanlab/flowcanvas/internal/ui"
	"github.com/spf13/cobra"
)

var (
	serverURL  string
	token      string
	jsonOutput bool

	flowClient client.FlowClient
)

func defaultServerURL() string {
	if s := os.Getenv("FLOWCANVAS_URL"); s != "" {
		return s
	}
	if u := activeRemoteURL(); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func defaultToken() string {
	if s := os.Getenv("FLOWCANVAS_TOKEN"); s != "" {
		return s
	}
	return activeRemoteToken()
}

var rootCmd = &cobra.Command{
	Use:   "fc <command>",
	Short: "CLI client for the flowcanvas service",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if serverURL == "" {
			return fmt.Errorf("no server URL; pass --url or run 'fc remote use <name>'")
		}
		flowClient = client.NewHTTPClient(serverURL, token)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if flowClient != nil {
			flowClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", defaultServerURL(), "server URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", defaultToken(), "bearer token")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "flows", Title: "Flows:"},
		&cobra.Group{ID: "canvas", Title: "Canvas:"},
		&cobra.Group{ID: "catalog", Title: "Catalog:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Flows
	rootCmd.AddCommand(flowCmd)
	rootCmd.AddCommand(watchCmd)

	// Canvas
	rootCmd.AddCommand(canvasCmd)

	// Catalog
	rootCmd.AddCommand(nodesCmd)
	rootCmd.AddCommand(reconcileCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	if !ui.ShouldUseColor() {
		ui.ForceNoColor()
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
