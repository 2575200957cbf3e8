package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// GitDestination commits the export to a file inside a local clone and
// pushes the branch to origin.
type GitDestination struct {
	repo   string
	file   string // relative to repo
	branch string
}

// NewGitDestination returns a destination for an existing clone at repo.
// The branch is created from HEAD if it does not exist locally.
func NewGitDestination(repo, file, branch string) *GitDestination {
	return &GitDestination{repo: repo, file: filepath.ToSlash(file), branch: branch}
}

// Name returns "git:<repo>/<file>@<branch>".
func (d *GitDestination) Name() string {
	return "git:" + filepath.Join(d.repo, d.file) + "@" + d.branch
}

// Write replaces the export file and commits it when its content changed.
func (d *GitDestination) Write(ctx context.Context, data []byte) error {
	if _, err := d.git(ctx, "checkout", d.branch); err != nil {
		if _, err := d.git(ctx, "checkout", "-b", d.branch); err != nil {
			return err
		}
	}
	// Fails when origin has no such branch yet.
	_, _ = d.git(ctx, "pull", "--ff-only", "origin", d.branch)

	path := filepath.Join(d.repo, filepath.FromSlash(d.file))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	if _, err := d.git(ctx, "add", "--", d.file); err != nil {
		return err
	}

	status, err := d.git(ctx, "status", "--porcelain", "--", d.file)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(status)) == 0 {
		return nil
	}

	if _, err := d.git(ctx, "commit", "-m", commitMessage(data), "--", d.file); err != nil {
		return err
	}
	_, err = d.git(ctx, "push", "origin", d.branch)
	return err
}

func (d *GitDestination) git(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = d.repo
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, bytes.TrimSpace(out))
	}
	return out, nil
}

// commitMessage summarizes the export using its header line.
func commitMessage(data []byte) string {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	var h header
	if err := json.Unmarshal(line, &h); err != nil || h.Type != "header" {
		return "sync: update flow export"
	}
	return fmt.Sprintf("sync: %d flows, %d events", h.FlowCount, h.EventCount)
}
