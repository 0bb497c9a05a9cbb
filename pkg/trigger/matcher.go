// Package trigger matches inbound events against tenant workflows and creates the resulting runs.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/dukex/flowpilot/pkg/extraction"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/otelhelper"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/dukex/flowpilot/pkg/planner"
	"github.com/dukex/flowpilot/pkg/runs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Payload keys added by the matcher.
const (
	WarningsKey = "_warnings"
	MetaKey     = "__meta"
)

var (
	ErrUnsupportedEvent = errors.New("unsupported inbound event")
	ErrWorkflowInactive = errors.New("workflow is not active")
)

// RunCreator persists planned runs.
type RunCreator interface {
	CreateRun(ctx context.Context, input runs.NewRun) (*models.WorkflowRun, error)
}

// TenantResolver finds the tenant owning an external account.
type TenantResolver interface {
	Resolve(ctx context.Context, provider, externalAccountID string) (string, bool, error)
}

// Matcher turns inbound events into queued runs. It never mutates anything but the runs it creates.
type Matcher struct {
	workflows persistence.WorkflowRepository
	runs      RunCreator
	tenants   TenantResolver
	extractor extraction.Extractor
	tracer    trace.Tracer
	logger    *slog.Logger
}

func NewMatcher(
	workflows persistence.WorkflowRepository,
	runCreator RunCreator,
	tenants TenantResolver,
	extractor extraction.Extractor,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Matcher {
	return &Matcher{
		workflows: workflows,
		runs:      runCreator,
		tenants:   tenants,
		extractor: extractor,
		tracer:    tracer,
		logger:    logger.With("module", "trigger_matcher"),
	}
}

// candidate is a workflow that passed filtering together with the payload its run starts from.
type candidate struct {
	workflow *models.Workflow
	payload  map[string]any
}

// Match creates one queued run per matching workflow. Runs created before a persistence failure are
// returned along with the error.
func (m *Matcher) Match(ctx context.Context, event models.InboundEvent) ([]*models.WorkflowRun, error) {
	if event == nil {
		return nil, ErrUnsupportedEvent
	}

	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "trigger.match",
		attribute.String(otelhelper.TriggerTypeKey, string(event.TriggerType())))
	defer span.End()

	candidates, err := m.candidates(ctx, event)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	created := make([]*models.WorkflowRun, 0, len(candidates))

	var errs []error

	for _, c := range candidates {
		run, err := m.runs.CreateRun(ctx, runs.NewRun{
			WorkflowID:     c.workflow.ID,
			CompanyID:      c.workflow.CompanyID,
			TriggerType:    event.TriggerType(),
			TriggerPayload: c.payload,
			Definition:     c.workflow.Definition,
			PlannedOrder:   planner.Plan(c.workflow.Definition.Nodes, c.workflow.Definition.Edges),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("workflow %s: %w", c.workflow.ID, err))

			continue
		}

		created = append(created, run)
	}

	span.SetAttributes(attribute.Int(otelhelper.MatchCountKey, len(created)))

	err = errors.Join(errs...)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return created, err
}

func (m *Matcher) candidates(ctx context.Context, event models.InboundEvent) ([]candidate, error) {
	switch e := event.(type) {
	case models.DocumentCompletedEvent:
		return m.matchDocument(ctx, e)
	case *models.DocumentCompletedEvent:
		return m.matchDocument(ctx, *e)
	case models.EmailInboundEvent:
		return m.matchEmail(ctx, e)
	case *models.EmailInboundEvent:
		return m.matchEmail(ctx, *e)
	case models.SlackMessageEvent:
		return m.matchSlack(ctx, e)
	case *models.SlackMessageEvent:
		return m.matchSlack(ctx, *e)
	case models.FicEvent:
		return m.matchFic(ctx, e)
	case *models.FicEvent:
		return m.matchFic(ctx, *e)
	case models.ManualEvent:
		return m.matchManual(ctx, e)
	case *models.ManualEvent:
		return m.matchManual(ctx, *e)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedEvent, event)
	}
}

// activeWorkflows loads the tenant's active workflows of a trigger type, dropping invalid definitions.
func (m *Matcher) activeWorkflows(ctx context.Context, companyID string, triggerType models.TriggerType) ([]*models.Workflow, error) {
	workflows, err := m.workflows.ActiveByTrigger(ctx, companyID, triggerType)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflows: %w", err)
	}

	valid := make([]*models.Workflow, 0, len(workflows))

	for _, workflow := range workflows {
		err := workflow.Definition.Validate()
		if err != nil {
			m.logger.WarnContext(ctx, "skipping workflow with invalid definition",
				"workflow_id", workflow.ID, "company_id", companyID, "error", err)

			continue
		}

		valid = append(valid, workflow)
	}

	return valid, nil
}

func (m *Matcher) matchDocument(ctx context.Context, event models.DocumentCompletedEvent) ([]candidate, error) {
	workflows, err := m.activeWorkflows(ctx, event.CompanyID, models.TriggerTypeDocumentCompleted)
	if err != nil {
		return nil, err
	}

	matched := make([]candidate, 0)

	for _, workflow := range workflows {
		var cfg DocumentConfig

		if err := decodeConfig(workflow.Definition.Trigger.Config, &cfg); err != nil {
			m.logger.WarnContext(ctx, "trigger config does not decode", "workflow_id", workflow.ID, "error", err)

			continue
		}

		if cfg.TemplateID == "" || cfg.TemplateID != event.TemplateID {
			continue
		}

		payload := maps.Clone(event.Fields)
		if payload == nil {
			payload = map[string]any{}
		}

		payload[MetaKey] = map[string]any{
			"requestId":   event.RequestID,
			"completedBy": event.CompletedBy,
			"resultUrl":   event.ResultURL,
		}

		matched = append(matched, candidate{workflow: workflow, payload: payload})
	}

	return matched, nil
}

// tenant resolves the owning company, reporting ok=false for unknown accounts.
func (m *Matcher) tenant(ctx context.Context, provider, account string) (string, bool, error) {
	companyID, ok, err := m.tenants.Resolve(ctx, provider, account)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve tenant: %w", err)
	}

	if !ok {
		m.logger.InfoContext(ctx, "no tenant for external account", "provider", provider, "account", account)
	}

	return companyID, ok, nil
}

func (m *Matcher) matchEmail(ctx context.Context, event models.EmailInboundEvent) ([]candidate, error) {
	companyID, ok, err := m.tenant(ctx, models.ProviderEmail, event.Mailbox)
	if err != nil || !ok {
		return nil, err
	}

	workflows, err := m.activeWorkflows(ctx, companyID, models.TriggerTypeEmailInbound)
	if err != nil {
		return nil, err
	}

	base := map[string]any{
		"mailbox":   event.Mailbox,
		"from":      event.From,
		"to":        event.To,
		"subject":   event.Subject,
		"text":      event.Text,
		"messageId": event.MessageID,
	}
	text := strings.TrimSpace(event.Subject + "\n" + event.Text)

	return m.matchMessages(ctx, workflows, base, text, func(cfg MessageConfig) bool {
		return senderAllowed(cfg.FromAllowList, event.From)
	}), nil
}

func (m *Matcher) matchSlack(ctx context.Context, event models.SlackMessageEvent) ([]candidate, error) {
	companyID, ok, err := m.tenant(ctx, models.ProviderSlack, event.TeamID)
	if err != nil || !ok {
		return nil, err
	}

	workflows, err := m.activeWorkflows(ctx, companyID, models.TriggerTypeSlackMessage)
	if err != nil {
		return nil, err
	}

	base := map[string]any{
		"teamId":    event.TeamID,
		"channelId": event.ChannelID,
		"userId":    event.UserID,
		"text":      event.Text,
		"ts":        event.Timestamp,
	}

	return m.matchMessages(ctx, workflows, base, event.Text, func(cfg MessageConfig) bool {
		return allowed(cfg.Channels(), event.ChannelID) && allowed(cfg.UserIDs, event.UserID)
	}), nil
}

// matchMessages applies the chat/email filters and runs field extraction for every surviving workflow.
func (m *Matcher) matchMessages(
	ctx context.Context,
	workflows []*models.Workflow,
	base map[string]any,
	text string,
	accept func(MessageConfig) bool,
) []candidate {
	reserved := make([]string, 0, len(base))
	for key := range base {
		reserved = append(reserved, key)
	}

	matched := make([]candidate, 0)

	for _, workflow := range workflows {
		var cfg MessageConfig

		if err := decodeConfig(workflow.Definition.Trigger.Config, &cfg); err != nil {
			m.logger.WarnContext(ctx, "trigger config does not decode", "workflow_id", workflow.ID, "error", err)

			continue
		}

		if !accept(cfg) || !MatchKeywords(text, cfg.Keywords) {
			continue
		}

		payload := maps.Clone(base)
		fields := FieldSpecs(cfg, workflow.Definition, reserved)
		warnings := []string{}

		if len(fields) > 0 {
			extracted, err := m.extractor.Extract(ctx, text, fields)
			if err != nil {
				m.logger.WarnContext(ctx, "field extraction failed", "workflow_id", workflow.ID, "error", err)
				warnings = append(warnings, fmt.Sprintf("field extraction failed: %v", err))
				extracted = map[string]any{}
			}

			for _, field := range fields {
				if value, ok := extracted[field.Key]; ok {
					payload[field.Key] = value
				}
			}

			warnings = append(warnings, extraction.Warnings(fields, extracted)...)
		}

		payload[WarningsKey] = warnings

		matched = append(matched, candidate{workflow: workflow, payload: payload})
	}

	return matched
}

func (m *Matcher) matchFic(ctx context.Context, event models.FicEvent) ([]candidate, error) {
	companyID, ok, err := m.tenant(ctx, models.ProviderFic, event.AccountID)
	if err != nil || !ok {
		return nil, err
	}

	workflows, err := m.activeWorkflows(ctx, companyID, models.TriggerTypeFicEvent)
	if err != nil {
		return nil, err
	}

	matched := make([]candidate, 0)

	for _, workflow := range workflows {
		var cfg FicConfig

		if err := decodeConfig(workflow.Definition.Trigger.Config, &cfg); err != nil {
			m.logger.WarnContext(ctx, "trigger config does not decode", "workflow_id", workflow.ID, "error", err)

			continue
		}

		if cfg.EventType != "" && cfg.EventType != event.EventType {
			continue
		}

		payload := maps.Clone(event.Data)
		if payload == nil {
			payload = map[string]any{}
		}

		payload["eventType"] = event.EventType
		payload["accountId"] = event.AccountID

		matched = append(matched, candidate{workflow: workflow, payload: payload})
	}

	return matched, nil
}

func (m *Matcher) matchManual(ctx context.Context, event models.ManualEvent) ([]candidate, error) {
	workflow, err := m.workflows.GetByID(ctx, event.WorkflowID)
	if err != nil {
		return nil, err
	}

	if workflow.CompanyID != event.CompanyID {
		return nil, persistence.ErrWorkflowNotFound
	}

	if !workflow.Active {
		return nil, ErrWorkflowInactive
	}

	err = workflow.Definition.Validate()
	if err != nil {
		return nil, fmt.Errorf("workflow %s has an invalid definition: %w", workflow.ID, err)
	}

	payload := maps.Clone(event.Payload)
	if payload == nil {
		payload = map[string]any{}
	}

	return []candidate{{workflow: workflow, payload: payload}}, nil
}
