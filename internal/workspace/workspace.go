// Package workspace manages the sanduku home directory layout.
//
// All host-side state lives under a single root (default ~/.sanduku):
//
//	~/.sanduku/
//	├── config.json    # optional configuration file
//	├── data/          # execution history database
//	├── logs/          # log files
//	└── downloads/     # files pulled out of sandboxes
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// defaultRelativePath is the workspace location relative to the user home directory.
const defaultRelativePath = ".sanduku"

// Workspace represents the sanduku home directory on the host.
type Workspace struct {
	// Root is the absolute path of the workspace directory.
	Root string

	mu      sync.Mutex
	created map[string]bool
}

// New creates a Workspace rooted at the given path.
// The path may start with ~ which is expanded to the user home directory.
// The root directory is created if it does not exist.
func New(root string) (*Workspace, error) {
	resolved, err := resolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace path: %w", err)
	}
	w := &Workspace{
		Root:    resolved,
		created: make(map[string]bool),
	}
	if err := w.ensureDir(w.Root, 0750); err != nil {
		return nil, err
	}
	return w, nil
}

// Default creates a Workspace at ~/.sanduku.
func Default() (*Workspace, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	return New(filepath.Join(home, defaultRelativePath))
}

// --- Directory accessors ---

// DataDir returns <root>/data, creating it if needed.
func (w *Workspace) DataDir() string {
	return w.dir("data")
}

// LogsDir returns <root>/logs, creating it if needed.
func (w *Workspace) LogsDir() string {
	return w.dir("logs")
}

// DownloadsDir returns <root>/downloads, creating it if needed.
func (w *Workspace) DownloadsDir() string {
	return w.dir("downloads")
}

// --- Derived paths ---

// ConfigPath returns <root>/config.json. The file itself is not created.
func (w *Workspace) ConfigPath() string {
	return filepath.Join(w.Root, "config.json")
}

// DatabasePath returns <root>/data/sanduku.db, the execution history database.
func (w *Workspace) DatabasePath() string {
	return filepath.Join(w.DataDir(), "sanduku.db")
}

// DownloadPath returns a path under downloads/ for a file pulled out of a
// sandbox. The name is sanitized to prevent directory traversal.
func (w *Workspace) DownloadPath(name string) string {
	return filepath.Join(w.DownloadsDir(), sanitizeName(name))
}

// EnsureAll creates all standard workspace directories.
// Call this during first startup.
func (w *Workspace) EnsureAll() error {
	dirs := []string{
		w.DataDir(),
		w.LogsDir(),
		w.DownloadsDir(),
	}
	for _, d := range dirs {
		if err := w.ensureDir(d, 0750); err != nil {
			return err
		}
	}
	return nil
}

// --- Internal helpers ---

// dir returns an absolute path under the workspace root and ensures the directory exists.
func (w *Workspace) dir(name string) string {
	p := filepath.Join(w.Root, name)
	_ = w.ensureDir(p, 0750)
	return p
}

// ensureDir creates a directory if it doesn't already exist.
// Uses a cache to avoid redundant stat/mkdir calls.
func (w *Workspace) ensureDir(path string, perm os.FileMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.created[path] {
		return nil
	}

	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	w.created[path] = true
	return nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// sanitizeName replaces path separator characters to prevent directory traversal.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" {
		name = "unnamed"
	}
	return name
}
