package trigger_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/flowpilot/pkg/connections"
	"github.com/dukex/flowpilot/pkg/extraction"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/otelhelper"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/dukex/flowpilot/pkg/persistence/file"
	"github.com/dukex/flowpilot/pkg/runs"
	"github.com/dukex/flowpilot/pkg/trigger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExtractor struct {
	result map[string]any
	err    error
	calls  [][]extraction.FieldSpec
}

func (s *stubExtractor) Extract(_ context.Context, _ string, fields []extraction.FieldSpec) (map[string]any, error) {
	s.calls = append(s.calls, fields)

	return s.result, s.err
}

type fixture struct {
	matcher   *trigger.Matcher
	store     *file.Persistence
	extractor *stubExtractor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := file.NewPersistence(t.TempDir())
	extractor := &stubExtractor{result: map[string]any{}}
	resolver := connections.NewResolver(store.ConnectionRepository(), connections.NewMemoryCache(time.Minute), time.Minute, logger)

	require.NoError(t, store.ConnectionRepository().Save(t.Context(), &models.IntegrationConnection{
		CompanyID: "company-1", Provider: models.ProviderSlack, ExternalAccountID: "T1",
	}))
	require.NoError(t, store.ConnectionRepository().Save(t.Context(), &models.IntegrationConnection{
		CompanyID: "company-1", Provider: models.ProviderEmail, ExternalAccountID: "ops@acme.test",
	}))
	require.NoError(t, store.ConnectionRepository().Save(t.Context(), &models.IntegrationConnection{
		CompanyID: "company-1", Provider: models.ProviderFic, ExternalAccountID: "fic-9",
	}))

	matcher := trigger.NewMatcher(
		store.WorkflowRepository(),
		runs.NewService(store.RunRepository(), logger),
		resolver,
		extractor,
		otelhelper.NoopTracer(),
		logger,
	)

	return &fixture{matcher: matcher, store: store, extractor: extractor}
}

func (f *fixture) save(t *testing.T, workflow *models.Workflow) *models.Workflow {
	t.Helper()

	if workflow.CompanyID == "" {
		workflow.CompanyID = "company-1"
	}

	workflow.Active = true
	require.NoError(t, f.store.WorkflowRepository().Save(t.Context(), workflow))

	return workflow
}

func TestMatch_DocumentCompleted(t *testing.T) {
	f := newFixture(t)

	workflow := f.save(t, &models.Workflow{
		Name: "Contract signed",
		Definition: models.WorkflowDefinition{
			Nodes:   []models.WorkflowNode{{ID: "a", Type: "log"}},
			Edges:   []models.WorkflowEdge{},
			Trigger: models.TriggerSpec{Type: models.TriggerTypeDocumentCompleted, Config: map[string]any{"templateId": "t1"}},
		},
	})
	f.save(t, &models.Workflow{
		Name: "Other template",
		Definition: models.WorkflowDefinition{
			Nodes:   []models.WorkflowNode{{ID: "a", Type: "log"}},
			Trigger: models.TriggerSpec{Type: models.TriggerTypeDocumentCompleted, Config: map[string]any{"templateId": "t2"}},
		},
	})

	created, err := f.matcher.Match(t.Context(), models.DocumentCompletedEvent{
		CompanyID:   "company-1",
		TemplateID:  "t1",
		RequestID:   "req-1",
		CompletedBy: "signer@acme.test",
		ResultURL:   "https://files.acme.test/req-1.pdf",
		Fields:      map[string]any{"amount": 120.0},
	})
	require.NoError(t, err)
	require.Len(t, created, 1)

	stored, err := f.store.RunRepository().GetRun(t.Context(), created[0].ID)
	require.NoError(t, err)

	assert.Equal(t, workflow.ID, stored.WorkflowID)
	assert.Equal(t, models.RunStatusQueued, stored.Status)
	require.Len(t, stored.Steps, 1)
	assert.Equal(t, "a", stored.Steps[0].NodeID)
	assert.Equal(t, models.StepStatusPending, stored.Steps[0].Status)

	assert.Equal(t, 120.0, stored.TriggerPayload["amount"])
	assert.Equal(t, map[string]any{
		"requestId":   "req-1",
		"completedBy": "signer@acme.test",
		"resultUrl":   "https://files.acme.test/req-1.pdf",
	}, stored.TriggerPayload[trigger.MetaKey])
}

func TestMatch_MalformedConfigDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)

	f.save(t, &models.Workflow{
		Name: "Broken",
		Definition: models.WorkflowDefinition{
			Nodes:   []models.WorkflowNode{{ID: "a", Type: "log"}},
			Trigger: models.TriggerSpec{Type: models.TriggerTypeDocumentCompleted, Config: map[string]any{"templateId": map[string]any{"bad": true}}},
		},
	})
	f.save(t, &models.Workflow{
		Name: "Invalid graph",
		Definition: models.WorkflowDefinition{
			Nodes:   []models.WorkflowNode{{ID: "a", Type: "log"}},
			Edges:   []models.WorkflowEdge{{From: "a", To: "ghost"}},
			Trigger: models.TriggerSpec{Type: models.TriggerTypeDocumentCompleted, Config: map[string]any{"templateId": "t1"}},
		},
	})
	healthy := f.save(t, &models.Workflow{
		Name: "Healthy",
		Definition: models.WorkflowDefinition{
			Nodes:   []models.WorkflowNode{{ID: "a", Type: "log"}},
			Trigger: models.TriggerSpec{Type: models.TriggerTypeDocumentCompleted, Config: map[string]any{"templateId": "t1"}},
		},
	})

	created, err := f.matcher.Match(t.Context(), models.DocumentCompletedEvent{CompanyID: "company-1", TemplateID: "t1"})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, healthy.ID, created[0].WorkflowID)
}

func slackWorkflow(config map[string]any, nodes ...models.WorkflowNode) *models.Workflow {
	if len(nodes) == 0 {
		nodes = []models.WorkflowNode{{ID: "a", Type: "log", Config: map[string]any{"message": "{{trigger.payload.text}}"}}}
	}

	return &models.Workflow{
		Name: "Slack flow",
		Definition: models.WorkflowDefinition{
			Nodes:   nodes,
			Trigger: models.TriggerSpec{Type: models.TriggerTypeSlackMessage, Config: config},
		},
	}
}

func TestMatch_SlackFilters(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]any
		event   models.SlackMessageEvent
		matches bool
	}{
		{
			name:    "no filters",
			config:  map[string]any{},
			event:   models.SlackMessageEvent{TeamID: "T1", ChannelID: "C1", UserID: "U1", Text: "hi"},
			matches: true,
		},
		{
			name:    "channel allowed",
			config:  map[string]any{"channelIds": []any{"C1", "C2"}},
			event:   models.SlackMessageEvent{TeamID: "T1", ChannelID: "C2", UserID: "U1", Text: "hi"},
			matches: true,
		},
		{
			name:    "channel rejected",
			config:  map[string]any{"channelId": "C1"},
			event:   models.SlackMessageEvent{TeamID: "T1", ChannelID: "C9", UserID: "U1", Text: "hi"},
			matches: false,
		},
		{
			name:    "user rejected",
			config:  map[string]any{"userIds": "U2, U3"},
			event:   models.SlackMessageEvent{TeamID: "T1", ChannelID: "C1", UserID: "U1", Text: "hi"},
			matches: false,
		},
		{
			name:    "all keywords present",
			config:  map[string]any{"keywords": "invoice, urgent"},
			event:   models.SlackMessageEvent{TeamID: "T1", ChannelID: "C1", UserID: "U1", Text: "URGENT: new Invoice for ACME"},
			matches: true,
		},
		{
			name:    "one keyword missing",
			config:  map[string]any{"keywords": []any{"invoice", "urgent"}},
			event:   models.SlackMessageEvent{TeamID: "T1", ChannelID: "C1", UserID: "U1", Text: "new invoice"},
			matches: false,
		},
		{
			name:    "unknown team",
			config:  map[string]any{},
			event:   models.SlackMessageEvent{TeamID: "T404", ChannelID: "C1", UserID: "U1", Text: "hi"},
			matches: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.save(t, slackWorkflow(tt.config))

			created, err := f.matcher.Match(t.Context(), tt.event)
			require.NoError(t, err)

			if tt.matches {
				assert.Len(t, created, 1)
			} else {
				assert.Empty(t, created)
			}
		})
	}
}

func TestMatch_SlackExtractionFromDeclaredFields(t *testing.T) {
	f := newFixture(t)
	f.extractor.result = map[string]any{"customer": "ACME", "ignored": "x"}

	f.save(t, slackWorkflow(map[string]any{
		"slackFields": []any{"customer", "amount"},
		"slackFieldMeta": map[string]any{
			"amount": map[string]any{"description": "invoice amount", "required": false},
			"due":    map[string]any{"description": "due date"},
		},
	}))

	created, err := f.matcher.Match(t.Context(), models.SlackMessageEvent{TeamID: "T1", ChannelID: "C1", UserID: "U1", Text: "bill ACME"})
	require.NoError(t, err)
	require.Len(t, created, 1)

	require.Len(t, f.extractor.calls, 1)
	assert.Equal(t, []extraction.FieldSpec{
		{Key: "customer", Required: true},
		{Key: "amount", Description: "invoice amount", Required: false},
		{Key: "due", Description: "due date", Required: true},
	}, f.extractor.calls[0])

	payload := created[0].TriggerPayload
	assert.Equal(t, "ACME", payload["customer"])
	assert.NotContains(t, payload, "ignored")
	assert.Equal(t, "bill ACME", payload["text"])
	assert.Equal(t, []string{`missing required field "due"`}, payload[trigger.WarningsKey])
}

func TestMatch_SlackExtractionFallsBackToReferencedKeys(t *testing.T) {
	f := newFixture(t)
	f.extractor.result = map[string]any{"orderId": "42"}

	f.save(t, slackWorkflow(map[string]any{},
		models.WorkflowNode{ID: "a", Type: "log", Config: map[string]any{"message": "order {{trigger.payload.orderId}} from {{trigger.payload.userId}}"}},
		models.WorkflowNode{ID: "b", Type: "http_request", Config: map[string]any{"url": "https://api.test/{{ trigger.payload.orderId }}"}},
	))

	created, err := f.matcher.Match(t.Context(), models.SlackMessageEvent{TeamID: "T1", ChannelID: "C1", UserID: "U1", Text: "order 42"})
	require.NoError(t, err)
	require.Len(t, created, 1)

	require.Len(t, f.extractor.calls, 1)
	assert.Equal(t, []extraction.FieldSpec{{Key: "orderId", Required: true}}, f.extractor.calls[0])
	assert.Equal(t, "42", created[0].TriggerPayload["orderId"])
	assert.Equal(t, []string{}, created[0].TriggerPayload[trigger.WarningsKey])
}

func TestMatch_ExtractionFailureIsAWarning(t *testing.T) {
	f := newFixture(t)
	f.extractor.err = errors.New("model unavailable")

	f.save(t, slackWorkflow(map[string]any{"slackFields": "customer"}))

	created, err := f.matcher.Match(t.Context(), models.SlackMessageEvent{TeamID: "T1", ChannelID: "C1", UserID: "U1", Text: "hi"})
	require.NoError(t, err)
	require.Len(t, created, 1)

	assert.Equal(t, []string{
		"field extraction failed: model unavailable",
		`missing required field "customer"`,
	}, created[0].TriggerPayload[trigger.WarningsKey])
}

func TestMatch_EmailSenderAllowList(t *testing.T) {
	f := newFixture(t)

	f.save(t, &models.Workflow{
		Name: "Supplier mail",
		Definition: models.WorkflowDefinition{
			Nodes:   []models.WorkflowNode{{ID: "a", Type: "log"}},
			Trigger: models.TriggerSpec{Type: models.TriggerTypeEmailInbound, Config: map[string]any{"fromAllowList": "@supplier.test, boss@acme.test", "keywords": "invoice"}},
		},
	})

	created, err := f.matcher.Match(t.Context(), models.EmailInboundEvent{Mailbox: "ops@acme.test", From: "billing@Supplier.test", Subject: "Invoice 7"})
	require.NoError(t, err)
	assert.Len(t, created, 1)
	assert.Equal(t, "Invoice 7", created[0].TriggerPayload["subject"])

	created, err = f.matcher.Match(t.Context(), models.EmailInboundEvent{Mailbox: "ops@acme.test", From: "spam@elsewhere.test", Subject: "Invoice 7"})
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestMatch_FicEventType(t *testing.T) {
	f := newFixture(t)

	f.save(t, &models.Workflow{
		Name: "Any fic event",
		Definition: models.WorkflowDefinition{
			Nodes:   []models.WorkflowNode{{ID: "a", Type: "log"}},
			Trigger: models.TriggerSpec{Type: models.TriggerTypeFicEvent},
		},
	})
	f.save(t, &models.Workflow{
		Name: "Paid invoices",
		Definition: models.WorkflowDefinition{
			Nodes:   []models.WorkflowNode{{ID: "a", Type: "log"}},
			Trigger: models.TriggerSpec{Type: models.TriggerTypeFicEvent, Config: map[string]any{"eventType": "invoice.paid"}},
		},
	})

	created, err := f.matcher.Match(t.Context(), models.FicEvent{AccountID: "fic-9", EventType: "invoice.created", Data: map[string]any{"id": "inv-1"}})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "inv-1", created[0].TriggerPayload["id"])
	assert.Equal(t, "invoice.created", created[0].TriggerPayload["eventType"])

	created, err = f.matcher.Match(t.Context(), models.FicEvent{AccountID: "fic-9", EventType: "invoice.paid"})
	require.NoError(t, err)
	assert.Len(t, created, 2)
}

func TestMatch_Manual(t *testing.T) {
	f := newFixture(t)

	workflow := f.save(t, &models.Workflow{
		Name: "Manual",
		Definition: models.WorkflowDefinition{
			Nodes:   []models.WorkflowNode{{ID: "a", Type: "log"}, {ID: "b", Type: "log"}},
			Edges:   []models.WorkflowEdge{{From: "a", To: "b"}},
			Trigger: models.TriggerSpec{Type: models.TriggerTypeManual},
		},
	})

	created, err := f.matcher.Match(t.Context(), models.ManualEvent{CompanyID: "company-1", WorkflowID: workflow.ID, Payload: map[string]any{"k": "v"}})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, models.TriggerTypeManual, created[0].TriggerType)
	assert.Len(t, created[0].Steps, 2)

	_, err = f.matcher.Match(t.Context(), models.ManualEvent{CompanyID: "company-2", WorkflowID: workflow.ID})
	assert.True(t, persistence.IsWorkflowNotFound(err))

	workflow.Active = false
	require.NoError(t, f.store.WorkflowRepository().Save(t.Context(), workflow))

	_, err = f.matcher.Match(t.Context(), models.ManualEvent{CompanyID: "company-1", WorkflowID: workflow.ID})
	assert.ErrorIs(t, err, trigger.ErrWorkflowInactive)
}

func TestMatch_DuplicateEventsCreateDuplicateRuns(t *testing.T) {
	f := newFixture(t)
	f.save(t, slackWorkflow(map[string]any{}))

	event := models.SlackMessageEvent{TeamID: "T1", ChannelID: "C1", UserID: "U1", Text: "hi", Timestamp: "1.0"}

	first, err := f.matcher.Match(t.Context(), event)
	require.NoError(t, err)

	second, err := f.matcher.Match(t.Context(), event)
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].ID, second[0].ID)
}
