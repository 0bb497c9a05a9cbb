// Package registry holds the step executors available to the dispatcher, keyed by node type.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"plugin"
	"sort"
	"strings"

	"github.com/dukex/flowpilot/pkg/protocol"
)

var ErrExecutorNotRegistered = errors.New("no executor registered for node type")

type Registry struct {
	logger    *slog.Logger
	executors map[string]protocol.StepExecutor
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:    log.With("module", "registry"),
		executors: make(map[string]protocol.StepExecutor),
	}
}

// Register adds an executor, replacing any executor already registered for its type.
func (r *Registry) Register(executor protocol.StepExecutor) {
	if _, exists := r.executors[executor.Type()]; exists {
		r.logger.Warn("replacing registered executor", "node_type", executor.Type())
	}

	r.executors[executor.Type()] = executor
}

// Get returns the executor for a node type.
func (r *Registry) Get(nodeType string) (protocol.StepExecutor, error) {
	executor, ok := r.executors[nodeType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrExecutorNotRegistered, nodeType)
	}

	return executor, nil
}

// Types lists the registered node types in sorted order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.executors))
	for nodeType := range r.executors {
		types = append(types, nodeType)
	}

	sort.Strings(types)

	return types
}

// LoadPlugins registers every executor exported as "Executor" by the .so files under <pluginsPath>/executors.
func (r *Registry) LoadPlugins(pluginsPath string) (int, error) {
	executors, err := loadPlugin[protocol.StepExecutor](r.logger, pluginsPath, "Executor")
	if err != nil {
		return 0, err
	}

	for _, executor := range executors {
		r.Register(executor)
	}

	return len(executors), nil
}

func loadPlugin[T any](logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	rootPath := path.Join(pluginsPath, strings.ToLower(symbolName)+"s")

	pluginPathList, err := pluginFiles(rootPath)
	if err != nil {
		return nil, err
	}

	l := logger.With(slog.String("path", rootPath), slog.String("type", symbolName))
	l.Info("Loading plugins", "count", len(pluginPathList))

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(path.Join(rootPath, p))
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", p, err)
		}

		castV, ok := symbolAs[T](v)
		if !ok {
			return nil, fmt.Errorf("plugin %s: symbol %s has unexpected type %T", p, symbolName, v)
		}

		pluginList = append(pluginList, castV)

		l.Info("Loaded plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}

// pluginFiles lists the .so files below root, relative to it. A missing root yields no plugins.
func pluginFiles(root string) ([]string, error) {
	files := make([]string, 0)

	err := fs.WalkDir(os.DirFS(root), ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() && path.Ext(p) == ".so" {
			files = append(files, p)
		}

		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to scan plugins: %w", err)
	}

	return files, nil
}

// symbolAs accepts both exported values and exported variables, which plugin.Lookup returns as pointers.
func symbolAs[T any](symbol plugin.Symbol) (T, bool) {
	if v, ok := symbol.(T); ok {
		return v, true
	}

	if p, ok := symbol.(*T); ok && p != nil {
		return *p, true
	}

	var zero T

	return zero, false
}
