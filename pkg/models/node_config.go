package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// Built-in and integration node types.
const (
	NodeTypeLog              = "log"
	NodeTypeHTTPRequest      = "http_request"
	NodeTypeSlackMessage     = "slack_message"
	NodeTypeSendEmail        = "send_email"
	NodeTypeFicCreateInvoice = "fic_create_invoice"
)

// NodeConfig is the typed form of a node's resolved settings.
type NodeConfig interface {
	NodeType() string
}

type IfConfig struct {
	Left  any    `mapstructure:"left"`
	Op    string `mapstructure:"op"    validate:"required"`
	Right any    `mapstructure:"right"`
}

func (IfConfig) NodeType() string { return NodeTypeIf }

type LogConfig struct {
	Message string `mapstructure:"message" validate:"required"`
	Level   string `mapstructure:"level"   validate:"omitempty,oneof=debug info warn error"`
}

func (LogConfig) NodeType() string { return NodeTypeLog }

type HTTPRequestConfig struct {
	URL            string            `mapstructure:"url"             validate:"required"`
	Method         string            `mapstructure:"method"          validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	Headers        map[string]string `mapstructure:"headers"`
	Body           any               `mapstructure:"body"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds" validate:"gte=0,lte=300"`
}

func (HTTPRequestConfig) NodeType() string { return NodeTypeHTTPRequest }

type SlackMessageConfig struct {
	ChannelID string `mapstructure:"channelId" validate:"required"`
	Text      string `mapstructure:"text"      validate:"required"`
}

func (SlackMessageConfig) NodeType() string { return NodeTypeSlackMessage }

type EmailConfig struct {
	To      string `mapstructure:"to"      validate:"required"`
	Subject string `mapstructure:"subject"`
	Body    string `mapstructure:"body"`
}

func (EmailConfig) NodeType() string { return NodeTypeSendEmail }

type InvoiceConfig struct {
	ClientID    string  `mapstructure:"clientId"    validate:"required"`
	Amount      float64 `mapstructure:"amount"      validate:"gt=0"`
	Currency    string  `mapstructure:"currency"    validate:"omitempty,len=3"`
	Description string  `mapstructure:"description"`
}

func (InvoiceConfig) NodeType() string { return NodeTypeFicCreateInvoice }

// GenericConfig carries settings of node types without a typed form.
type GenericConfig struct {
	Type   string
	Fields map[string]any
}

func (c GenericConfig) NodeType() string { return c.Type }

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// DecodeNodeConfig turns resolved settings into the typed config for nodeType and validates required fields.
func DecodeNodeConfig(nodeType string, settings map[string]any) (NodeConfig, error) {
	var target NodeConfig

	switch nodeType {
	case NodeTypeIf:
		target = &IfConfig{}
	case NodeTypeLog:
		target = &LogConfig{}
	case NodeTypeHTTPRequest:
		target = &HTTPRequestConfig{}
	case NodeTypeSlackMessage:
		target = &SlackMessageConfig{}
	case NodeTypeSendEmail:
		target = &EmailConfig{}
	case NodeTypeFicCreateInvoice:
		target = &InvoiceConfig{}
	default:
		return GenericConfig{Type: nodeType, Fields: settings}, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create config decoder: %w", err)
	}

	err = decoder.Decode(settings)
	if err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", nodeType, err)
	}

	err = configValidator.Struct(target)
	if err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", nodeType, err)
	}

	return derefConfig(target), nil
}

func derefConfig(cfg NodeConfig) NodeConfig {
	switch c := cfg.(type) {
	case *IfConfig:
		return *c
	case *LogConfig:
		return *c
	case *HTTPRequestConfig:
		return *c
	case *SlackMessageConfig:
		return *c
	case *EmailConfig:
		return *c
	case *InvoiceConfig:
		return *c
	default:
		return cfg
	}
}
