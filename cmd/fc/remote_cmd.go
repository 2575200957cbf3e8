package main

import (
	"fmt"
	"net/url"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var remoteCmd = &cobra.Command{
	Use:     "remote",
	Short:   "Manage saved server connections",
	GroupID: "system",
	// Only the local remotes file is touched; no client is needed.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
}

var remoteAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Save a server under a name (replaces an existing entry)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		target, err := checkServerURL(args[1])
		if err != nil {
			return err
		}
		tok, _ := cmd.Flags().GetString("token")
		natsURL, _ := cmd.Flags().GetString("nats")
		activate, _ := cmd.Flags().GetBool("activate")

		err = editRemotes(func(cfg *RemotesConfig) error {
			cfg.Remotes[name] = Remote{URL: target, Token: tok, NATSURL: natsURL}
			if activate {
				cfg.Active = name
			}
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved remote %s -> %s\n", name, target)
		return nil
	},
}

var remoteRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Forget a saved remote",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		err := editRemotes(func(cfg *RemotesConfig) error {
			if _, err := cfg.lookup(name); err != nil {
				return err
			}
			delete(cfg.Remotes, name)
			if cfg.Active == name {
				cfg.Active = ""
			}
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed remote %s\n", name)
		return nil
	},
}

var remoteRenameCmd = &cobra.Command{
	Use:   "rename <old> <new>",
	Short: "Rename a saved remote",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, to := args[0], args[1]
		err := editRemotes(func(cfg *RemotesConfig) error {
			r, err := cfg.lookup(from)
			if err != nil {
				return err
			}
			if _, taken := cfg.Remotes[to]; taken {
				return fmt.Errorf("remote %q already exists", to)
			}
			delete(cfg.Remotes, from)
			cfg.Remotes[to] = r
			if cfg.Active == from {
				cfg.Active = to
			}
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "renamed remote %s to %s\n", from, to)
		return nil
	},
}

var remoteListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List saved remotes",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRemotesConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(cfg.Remotes) == 0 {
			fmt.Fprintln(out, "no remotes saved; add one with 'fc remote add <name> <url>'")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  NAME\tURL\tTOKEN\tNATS")
		for _, name := range cfg.names() {
			r := cfg.Remotes[name]
			marker := "  "
			if name == cfg.Active {
				marker = "* "
			}
			fmt.Fprintf(w, "%s%s\t%s\t%s\t%s\n", marker, name, r.URL, maskToken(r.Token, "..."), r.NATSURL)
		}
		return w.Flush()
	},
}

var remoteUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Make a saved remote the default for other commands",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		err := editRemotes(func(cfg *RemotesConfig) error {
			if _, err := cfg.lookup(name); err != nil {
				return err
			}
			cfg.Active = name
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "now using remote %s\n", name)
		return nil
	},
}

var remoteShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show a saved remote (the active one by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRemotesConfig()
		if err != nil {
			return err
		}
		name := cfg.Active
		if len(args) == 1 {
			name = args[0]
		}
		if name == "" {
			return fmt.Errorf("no active remote; pass a name or run 'fc remote use <name>'")
		}
		r, err := cfg.lookup(name)
		if err != nil {
			return err
		}

		if name == cfg.Active {
			name += " (active)"
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "name:\t%s\n", name)
		fmt.Fprintf(w, "url:\t%s\n", r.URL)
		if r.Token != "" {
			fmt.Fprintf(w, "token:\t%s\n", maskToken(r.Token, strings.Repeat("*", max(len(r.Token)-8, 0))))
		}
		if r.NATSURL != "" {
			fmt.Fprintf(w, "nats_url:\t%s\n", r.NATSURL)
		}
		return w.Flush()
	},
}

// maskToken keeps the first eight characters of tok and replaces the rest
// with suffix.
func maskToken(tok, suffix string) string {
	if len(tok) <= 8 {
		return tok
	}
	return tok[:8] + suffix
}

// checkServerURL requires an absolute http or https URL and strips any
// trailing slash.
func checkServerURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q: want http(s)://host[:port]", raw)
	}
	return strings.TrimRight(raw, "/"), nil
}

func init() {
	remoteAddCmd.Flags().String("token", "", "bearer token sent with every request")
	remoteAddCmd.Flags().String("nats", "", "NATS URL used by 'fc watch'")
	remoteAddCmd.Flags().Bool("activate", false, "also make this the active remote")

	remoteCmd.AddCommand(remoteAddCmd, remoteUseCmd, remoteListCmd, remoteShowCmd, remoteRenameCmd, remoteRemoveCmd)
}
