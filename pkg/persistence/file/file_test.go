package file

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	fp := NewPersistence("/tmp/test")
	assert.Equal(t, "/tmp/test", fp.root)

	fp = NewPersistence("file:///tmp/test")
	assert.Equal(t, "/tmp/test", fp.root)
}

func TestPersistence_HealthCheck(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	require.NoError(t, fp.HealthCheck(t.Context()))

	missing := NewPersistence(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, missing.HealthCheck(t.Context()), os.ErrNotExist)
}

func TestWorkflowRepository_ActiveByTrigger(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	repo := fp.WorkflowRepository()
	ctx := t.Context()

	matching := &models.Workflow{
		CompanyID: "company-1", Name: "Doc flow", Active: true,
		Definition: models.WorkflowDefinition{Trigger: models.TriggerSpec{Type: models.TriggerTypeDocumentCompleted}},
	}
	require.NoError(t, repo.Save(ctx, matching))
	assert.NotEmpty(t, matching.ID)

	inactive := &models.Workflow{
		CompanyID: "company-1", Name: "Off", Active: false,
		Definition: models.WorkflowDefinition{Trigger: models.TriggerSpec{Type: models.TriggerTypeDocumentCompleted}},
	}
	require.NoError(t, repo.Save(ctx, inactive))

	workflows, err := repo.ActiveByTrigger(ctx, "company-1", models.TriggerTypeDocumentCompleted)
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, matching.ID, workflows[0].ID)

	workflows, err = repo.ActiveByTrigger(ctx, "company-2", models.TriggerTypeDocumentCompleted)
	require.NoError(t, err)
	assert.Empty(t, workflows)

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func newTestRun() *models.WorkflowRun {
	return &models.WorkflowRun{
		WorkflowID:     "wf-1",
		CompanyID:      "company-1",
		Status:         models.RunStatusQueued,
		TriggerType:    models.TriggerTypeManual,
		TriggerPayload: map[string]any{"x": "y"},
		Steps: []*models.WorkflowRunStep{
			{NodeID: "b", Position: 1, Status: models.StepStatusPending},
			{NodeID: "a", Position: 0, Status: models.StepStatusPending},
		},
	}
}

func TestRunRepository_Lifecycle(t *testing.T) {
	repo := NewPersistence(t.TempDir()).RunRepository()
	ctx := t.Context()
	now := time.Now().UTC()

	run := newTestRun()
	require.NoError(t, repo.CreateRun(ctx, run))
	require.ErrorIs(t, repo.CreateRun(ctx, run), persistence.ErrRunAlreadyExists)

	stored, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", stored.Steps[0].NodeID, "steps come back in plan order")

	changed, err := repo.BeginStep(ctx, run.ID, "a", now)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.CompleteStep(ctx, run.ID, "a", map[string]any{"n": 1.0}, now)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.CompleteStep(ctx, run.ID, "a", map[string]any{"n": 2.0}, now)
	require.NoError(t, err)
	assert.False(t, changed)

	skipped, err := repo.SkipSteps(ctx, run.ID, []string{"b"})
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)

	changed, err = repo.CompleteRun(ctx, run.ID, now)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.AdvanceRun(ctx, run.ID, "b")
	require.NoError(t, err)
	assert.False(t, changed)

	stored, err = repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)
	assert.Equal(t, map[string]any{"n": 1.0}, stored.Steps[0].Output)
	assert.Equal(t, models.StepStatusSkipped, stored.Steps[1].Status)

	_, err = repo.GetRun(ctx, "missing")
	assert.True(t, persistence.IsRunNotFound(err))
}

func TestRunRepository_BeginStepHasSingleWinner(t *testing.T) {
	repo := NewPersistence(t.TempDir()).RunRepository()
	ctx := t.Context()

	run := newTestRun()
	require.NoError(t, repo.CreateRun(ctx, run))

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			changed, err := repo.BeginStep(ctx, run.ID, "a", time.Now().UTC())
			assert.NoError(t, err)

			if changed {
				winners.Add(1)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestRunRepository_RunsByStatus(t *testing.T) {
	repo := NewPersistence(t.TempDir()).RunRepository()
	ctx := t.Context()

	old := newTestRun()
	old.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, repo.CreateRun(ctx, old))

	fresh := newTestRun()
	require.NoError(t, repo.CreateRun(ctx, fresh))

	runs, err := repo.RunsByStatus(ctx, models.RunStatusQueued, time.Now().UTC().Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, old.ID, runs[0].ID)

	changed, err := repo.AdvanceRun(ctx, old.ID, "b")
	require.NoError(t, err)
	require.True(t, changed)

	runs, err = repo.RunsByStatus(ctx, models.RunStatusQueued, time.Now().UTC().Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestConnectionRepository(t *testing.T) {
	repo := NewPersistence(t.TempDir()).ConnectionRepository()
	ctx := t.Context()

	require.NoError(t, repo.Save(ctx, &models.IntegrationConnection{
		CompanyID: "company-1", Provider: models.ProviderEmail, ExternalAccountID: "inbox@acme.test",
	}))

	companyID, err := repo.CompanyByAccount(ctx, models.ProviderEmail, "inbox@acme.test")
	require.NoError(t, err)
	assert.Equal(t, "company-1", companyID)

	_, err = repo.CompanyByAccount(ctx, models.ProviderSlack, "inbox@acme.test")
	assert.True(t, persistence.IsConnectionNotFound(err))
}
