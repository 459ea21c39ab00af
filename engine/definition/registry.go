package definition

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/compozy/tasktree/engine/core"
	"github.com/compozy/tasktree/engine/spec"
	"github.com/compozy/tasktree/pkg/logger"
)

// Registry indexes loaded processes by name.
type Registry struct {
	loader    *Loader
	mu        sync.RWMutex
	processes map[string]*spec.Process
	files     map[string]string
}

func NewRegistry(loader *Loader) *Registry {
	return &Registry{
		loader:    loader,
		processes: make(map[string]*spec.Process),
		files:     make(map[string]string),
	}
}

// AddFile loads path and registers its process. Two different files cannot
// define the same process name.
func (r *Registry) AddFile(ctx context.Context, path string) (*spec.Process, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	p, err := r.loader.LoadFile(ctx, abs)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.files[p.Name()]; ok && prev != abs {
		return nil, core.NewError(
			fmt.Errorf("process %q is defined in both %s and %s", p.Name(), prev, abs),
			core.CodeDefinition,
			map[string]any{"process": p.Name()},
		)
	}
	r.processes[p.Name()] = p
	r.files[p.Name()] = abs
	return p, nil
}

// AddDir registers every *.yaml and *.yml file below dir.
func (r *Registry) AddDir(ctx context.Context, dir string) (int, error) {
	matches, err := doublestar.FilepathGlob(filepath.Join(dir, "**", "*.{yaml,yml}"))
	if err != nil {
		return 0, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	slices.Sort(matches)
	for _, path := range matches {
		if _, err := r.AddFile(ctx, path); err != nil {
			return 0, err
		}
	}
	logger.FromContext(ctx).Info("definitions registered", "dir", dir, "files", len(matches))
	return len(matches), nil
}

// Lookup returns the process registered under name.
func (r *Registry) Lookup(name string) (*spec.Process, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processes[name]
	if !ok {
		return nil, core.NewError(
			fmt.Errorf("unknown process %q", name),
			core.CodeDefinition,
			map[string]any{"process": name},
		)
	}
	return p, nil
}

// Names lists registered process names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.processes))
	for name := range r.processes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
