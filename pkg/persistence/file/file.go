// Package file provides file-based persistence implementation for workflows, runs and connections.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/flowpilot/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root           string
	workflowRepo   *WorkflowRepository
	runRepo        *RunRepository
	connectionRepo *ConnectionRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:           cleanRoot,
		workflowRepo:   NewWorkflowRepository(cleanRoot),
		runRepo:        NewRunRepository(cleanRoot),
		connectionRepo: NewConnectionRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) RunRepository() persistence.RunRepository {
	return fp.runRepo
}

func (fp *Persistence) ConnectionRepository() persistence.ConnectionRepository {
	return fp.connectionRepo
}

// writeJSON replaces path atomically with the JSON encoding of value.
func writeJSON(path string, value any) error {
	err := os.MkdirAll(filepath.Dir(path), 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	err = os.Rename(tmp.Name(), path)
	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	return nil
}

// readJSON decodes path into value. A missing file reports found=false.
func readJSON(path string, value any) (bool, error) {
	body, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	err = json.Unmarshal(body, value)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}

	return true, nil
}

// safeName keeps identifiers from escaping their directory.
func safeName(id string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(id)
}
