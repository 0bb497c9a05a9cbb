// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dukex/flowpilot/pkg/registry"
)

// NewRegistry registers the built-in step executors, then any plugin found under pluginsPath. Plugins
// replace built-ins of the same type.
func NewRegistry(log *slog.Logger, pluginsPath string) (*registry.Registry, error) {
	reg := registry.NewRegistry(log)
	reg.RegisterDefaultNodes(http.DefaultClient)

	if pluginsPath == "" {
		return reg, nil
	}

	loaded, err := reg.LoadPlugins(pluginsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load executor plugins: %w", err)
	}

	log.Info("Executors registered", "plugins", loaded, "types", reg.Types())

	return reg, nil
}
