package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alfredjeanlab/flowcanvas/internal/catalog"
	"github.com/alfredjeanlab/flowcanvas/internal/model"
	"github.com/alfredjeanlab/flowcanvas/internal/reconcile"
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <flow-file>",
	Short: "Reconcile a flow file against a node catalog without a server",
	Long: `Reconcile reads a serialized flow graph ("-" for stdin), re-applies the
current template of every node and prints what changed. With --write the
updated graph is written back to the file.`,
	GroupID: "catalog",
	Args:    cobra.ExactArgs(1),
	// Runs entirely offline.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		catalogURL, _ := cmd.Flags().GetString("catalog-url")
		catalogFile, _ := cmd.Flags().GetString("catalog")
		write, _ := cmd.Flags().GetBool("write")
		verbose, _ := cmd.Flags().GetBool("verbose")
		path := args[0]

		if catalogURL == "" && catalogFile == "" {
			return errors.New("one of --catalog or --catalog-url is required")
		}
		src, err := catalogSource(catalogURL, catalogFile, token)
		if err != nil {
			return err
		}
		resolver := catalog.NewResolver(src)
		if err := resolver.Load(context.Background()); err != nil {
			return err
		}

		data, err := readInput(path)
		if err != nil {
			return err
		}
		g, err := model.ParseGraph(data)
		if err != nil {
			return err
		}

		var logger *slog.Logger
		if verbose {
			logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
		}
		out, report := reconcile.New(resolver, logger).Graph(g)

		if write && path != "-" && report.Changed() {
			encoded, err := out.Marshal()
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(encoded), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}
		}

		if jsonOutput {
			printJSON(report)
		} else {
			printReport(cmd.OutOrStdout(), report)
		}
		return nil
	},
}

// catalogSource picks the template source; a URL wins over a file. With
// neither the catalog is empty.
func catalogSource(url, file, tok string) (catalog.Source, error) {
	switch {
	case url != "":
		return catalog.NewHTTPSource(url, tok), nil
	case file != "":
		if _, err := os.Stat(file); err != nil {
			return nil, fmt.Errorf("catalog file: %w", err)
		}
		return catalog.FileSource{Path: file}, nil
	}
	return catalog.StaticSource(nil), nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func init() {
	reconcileCmd.Flags().String("catalog", "", "YAML or JSON file of node templates")
	reconcileCmd.Flags().String("catalog-url", "", "node catalog service URL")
	reconcileCmd.Flags().Bool("write", false, "write the reconciled graph back to the file")
	reconcileCmd.Flags().BoolP("verbose", "v", false, "log per-node decisions to stderr")
}
