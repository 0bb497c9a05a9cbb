package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error constants are available", func(t *testing.T) {
		assert.NotNil(t, persistence.ErrWorkflowNotFound)
		assert.NotNil(t, persistence.ErrRunNotFound)
		assert.NotNil(t, persistence.ErrRunAlreadyExists)
		assert.NotNil(t, persistence.ErrConnectionNotFound)
	})

	t.Run("error checking functions work correctly", func(t *testing.T) {
		runErr := persistence.NewRunError("GetRun", "run-123", persistence.ErrRunNotFound)
		wrapped := fmt.Errorf("dispatch: %w", runErr)

		assert.True(t, persistence.IsRunNotFound(runErr))
		assert.True(t, persistence.IsRunNotFound(wrapped))
		assert.False(t, persistence.IsWorkflowNotFound(runErr))
		assert.True(t, persistence.IsConnectionNotFound(fmt.Errorf("lookup: %w", persistence.ErrConnectionNotFound)))
		assert.True(t, errors.Is(runErr, persistence.ErrRunNotFound))
	})

	t.Run("run error contains context", func(t *testing.T) {
		err := persistence.NewRunError("CreateRun", "run-123", persistence.ErrRunAlreadyExists)

		assert.Contains(t, err.Error(), "CreateRun")
		assert.Contains(t, err.Error(), "run-123")
		assert.Contains(t, err.Error(), "run already exists")
	})

	t.Run("step error contains node", func(t *testing.T) {
		err := persistence.NewStepError("BeginStep", "run-123", "node-a", errors.New("connection reset"))

		assert.Contains(t, err.Error(), "step node-a of run run-123")
		assert.Contains(t, err.Error(), "connection reset")
	})
}
