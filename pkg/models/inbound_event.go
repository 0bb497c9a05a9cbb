package models

// InboundEvent is a normalized event offered to the trigger matcher.
type InboundEvent interface {
	TriggerType() TriggerType
}

// DocumentCompletedEvent is emitted when a tenant's document request is fully signed or filled.
type DocumentCompletedEvent struct {
	CompanyID   string         `json:"company_id"   validate:"required"`
	TemplateID  string         `json:"template_id"  validate:"required"`
	RequestID   string         `json:"request_id"   validate:"required"`
	CompletedBy string         `json:"completed_by"`
	ResultURL   string         `json:"result_url"`
	Fields      map[string]any `json:"fields"`
}

func (DocumentCompletedEvent) TriggerType() TriggerType { return TriggerTypeDocumentCompleted }

// EmailInboundEvent is an email received on a connected mailbox.
type EmailInboundEvent struct {
	Mailbox   string `json:"mailbox"    validate:"required"`
	From      string `json:"from"       validate:"required"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Text      string `json:"text"`
	MessageID string `json:"message_id"`
}

func (EmailInboundEvent) TriggerType() TriggerType { return TriggerTypeEmailInbound }

// SlackMessageEvent is a chat message posted in a connected workspace.
type SlackMessageEvent struct {
	TeamID    string `json:"team_id"    validate:"required"`
	ChannelID string `json:"channel_id" validate:"required"`
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	Timestamp string `json:"ts"`
}

func (SlackMessageEvent) TriggerType() TriggerType { return TriggerTypeSlackMessage }

// FicEvent is a notification from the invoicing provider.
type FicEvent struct {
	AccountID string         `json:"account_id" validate:"required"`
	EventType string         `json:"event_type" validate:"required"`
	Data      map[string]any `json:"data"`
}

func (FicEvent) TriggerType() TriggerType { return TriggerTypeFicEvent }

// ManualEvent starts one specific workflow on demand.
type ManualEvent struct {
	CompanyID  string         `json:"company_id"  validate:"required"`
	WorkflowID string         `json:"workflow_id" validate:"required"`
	Payload    map[string]any `json:"payload"`
}

func (ManualEvent) TriggerType() TriggerType { return TriggerTypeManual }

// Integration providers used to resolve the owning tenant of an event.
const (
	ProviderEmail = "email"
	ProviderSlack = "slack"
	ProviderFic   = "fic"
)

// IntegrationConnection links a tenant to an external account.
type IntegrationConnection struct {
	CompanyID         string `json:"company_id"          validate:"required"`
	Provider          string `json:"provider"            validate:"required,oneof=email slack fic"`
	ExternalAccountID string `json:"external_account_id" validate:"required"`
}
