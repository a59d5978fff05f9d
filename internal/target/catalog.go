// Package target vets which executables a debug session may load.
// Sessions only ever start programs resolved through a Catalog rooted
// at a single targets directory.
package target

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ErrInvalid is returned when a requested target name is rejected.
var ErrInvalid = errors.New("invalid target")

// Catalog lists and resolves executables inside one directory. With
// Watch running, List serves from an in-memory copy kept fresh by
// fsnotify; otherwise each List scans the directory.
type Catalog struct {
	dir    string
	logger *slog.Logger

	mu       sync.RWMutex
	cached   []string
	watching bool
}

// NewCatalog creates a catalog rooted at dir. The directory itself
// does not have to exist yet; a missing directory just lists empty.
func NewCatalog(dir string, logger *slog.Logger) (*Catalog, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve targets dir: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Catalog{dir: abs, logger: logger}, nil
}

// Dir returns the absolute targets directory.
func (c *Catalog) Dir() string {
	return c.dir
}

// Resolve maps a bare target name to an absolute executable path.
// Names carrying path separators or a leading dot, names escaping the
// targets directory, and files that are missing, non-regular, or not
// executable are all rejected.
func (c *Catalog) Resolve(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrInvalid)
	}
	if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalid, name)
	}

	path := filepath.Join(c.dir, name)
	if !strings.HasPrefix(path, c.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes targets directory", ErrInvalid, name)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %q does not exist", ErrInvalid, name)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %q is not a regular file", ErrInvalid, name)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return "", fmt.Errorf("%w: %q is not executable", ErrInvalid, name)
	}

	return path, nil
}

// List returns the sorted names of all executable files in the targets
// directory.
func (c *Catalog) List() ([]string, error) {
	c.mu.RLock()
	if c.watching {
		out := append([]string(nil), c.cached...)
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	return c.scan()
}

// scan reads the directory directly.
func (c *Catalog) scan() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read targets dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
			continue
		}
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}

	sort.Strings(names)
	return names, nil
}

// Watch keeps the catalog's list fresh until ctx is cancelled. It
// performs an initial scan, then rescans on every directory event.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	if err := watcher.Add(c.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", c.dir, err)
	}

	names, err := c.scan()
	if err != nil {
		watcher.Close()
		return err
	}

	c.mu.Lock()
	c.cached = names
	c.watching = true
	c.mu.Unlock()

	go func() {
		defer watcher.Close()
		defer func() {
			c.mu.Lock()
			c.watching = false
			c.mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				c.rescan()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("targets watcher error", "error", err)
			}
		}
	}()

	return nil
}

// rescan refreshes the cached list after a directory event.
func (c *Catalog) rescan() {
	names, err := c.scan()
	if err != nil {
		c.logger.Warn("targets rescan failed", "error", err)
		return
	}

	c.mu.Lock()
	c.cached = names
	c.mu.Unlock()
}
