package main

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jkaninda/sanduku/internal/sandbox"
)

// transfer is a host<->sandbox file copy parsed from a --put or --get flag.
type transfer struct {
	Local  string
	Remote string
}

// parsePuts parses --put specs of the form "local" or "local:remote".
// Without an explicit remote the file lands in /workspace/input.
func parsePuts(specs []string) ([]transfer, error) {
	out := make([]transfer, 0, len(specs))
	for _, spec := range specs {
		local, remote, ok := strings.Cut(spec, ":")
		if local == "" {
			return nil, fmt.Errorf("invalid --put %q: expected local[:remote]", spec)
		}
		if !ok || remote == "" {
			remote = path.Join(sandbox.WorkspaceInput, filepath.Base(local))
		}
		out = append(out, transfer{Local: local, Remote: remote})
	}
	return out, nil
}

// parseGets parses --get specs of the form "remote" or "remote:local".
// Without an explicit local path the file lands in the workspace downloads dir.
func parseGets(specs []string, downloadPath func(string) string) ([]transfer, error) {
	out := make([]transfer, 0, len(specs))
	for _, spec := range specs {
		remote, local, ok := strings.Cut(spec, ":")
		if remote == "" {
			return nil, fmt.Errorf("invalid --get %q: expected remote[:local]", spec)
		}
		if !ok || local == "" {
			local = downloadPath(path.Base(remote))
		}
		out = append(out, transfer{Local: local, Remote: remote})
	}
	return out, nil
}

// stageFiles copies local files into the sandbox before the command runs.
// Remote paths are checked against the executor's allowed roots.
func stageFiles(ctx context.Context, sc *SharedComponents, sb sandbox.Sandbox, puts []transfer) error {
	for _, tr := range puts {
		if err := sc.Executor.ValidatePath(tr.Remote); err != nil {
			return err
		}
		data, err := os.ReadFile(tr.Local)
		if err != nil {
			return fmt.Errorf("reading %s: %w", tr.Local, err)
		}
		if err := sb.WriteFile(ctx, tr.Remote, string(data)); err != nil {
			return fmt.Errorf("staging %s: %w", tr.Remote, err)
		}
		sc.Logger.Debug("file staged", "local", tr.Local, "remote", tr.Remote)
	}
	return nil
}

// fetchFiles copies sandbox files back to the host after the command ran.
// Missing files are reported, not fatal: the command may have legitimately
// not produced them.
func fetchFiles(ctx context.Context, sc *SharedComponents, sb sandbox.Sandbox, gets []transfer) error {
	for _, tr := range gets {
		if err := sc.Executor.ValidatePath(tr.Remote); err != nil {
			return err
		}
		content, err := sb.ReadFile(ctx, tr.Remote)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not fetch %s: %v\n", tr.Remote, err)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(tr.Local), 0750); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(tr.Local), err)
		}
		if err := os.WriteFile(tr.Local, []byte(content), 0600); err != nil {
			return fmt.Errorf("writing %s: %w", tr.Local, err)
		}
		fmt.Fprintf(os.Stderr, "fetched: %s -> %s\n", tr.Remote, tr.Local)
	}
	return nil
}

// fetchGenerated downloads every file the run left in /workspace/output into
// the workspace downloads directory.
func fetchGenerated(ctx context.Context, sc *SharedComponents, sb sandbox.Sandbox, generated []string) error {
	gets := make([]transfer, 0, len(generated))
	for _, remote := range generated {
		gets = append(gets, transfer{
			Local:  sc.Workspace.DownloadPath(path.Base(remote)),
			Remote: remote,
		})
	}
	return fetchFiles(ctx, sc, sb, gets)
}
