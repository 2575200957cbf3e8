package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Exchange basic credentials for a bearer token",
	Long: `Login authenticates against a server running in basic auth mode and
prints the issued token. With --save the token is stored on the active remote.`,
	GroupID: "system",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		save, _ := cmd.Flags().GetBool("save")

		password, err := readPassword()
		if err != nil {
			return err
		}
		tok, err := flowClient.Login(context.Background(), args[0], password)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}

		if save {
			cfg, err := loadRemotesConfig()
			if err != nil {
				return err
			}
			r, ok := cfg.Remotes[cfg.Active]
			if !ok {
				return fmt.Errorf("no active remote; run 'fc remote use <name>' first")
			}
			r.Token = tok
			cfg.Remotes[cfg.Active] = r
			if err := saveRemotesConfig(cfg); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "token saved to remote %q\n", cfg.Active)
			return nil
		}

		if jsonOutput {
			printJSON(map[string]string{"token": tok})
		} else {
			fmt.Println(tok)
		}
		return nil
	},
}

// readPassword prompts on a terminal, or reads one line from piped stdin.
func readPassword() (string, error) {
	if pw := os.Getenv("FLOWCANVAS_PASSWORD"); pw != "" {
		return pw, nil
	}
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func init() {
	loginCmd.Flags().Bool("save", false, "store the token on the active remote")
}
