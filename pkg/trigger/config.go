package trigger

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// DocumentConfig is the trigger config of document_completed workflows.
type DocumentConfig struct {
	TemplateID string `mapstructure:"templateId"`
}

// FieldMeta describes one extraction key declared on the trigger.
type FieldMeta struct {
	Description string `mapstructure:"description"`
	Required    *bool  `mapstructure:"required"`
}

// MessageConfig is the trigger config shared by email_inbound and slack_message workflows.
type MessageConfig struct {
	ChannelID      string               `mapstructure:"channelId"`
	ChannelIDs     []string             `mapstructure:"channelIds"`
	UserIDs        []string             `mapstructure:"userIds"`
	FromAllowList  []string             `mapstructure:"fromAllowList"`
	Keywords       []string             `mapstructure:"keywords"`
	SlackFields    []string             `mapstructure:"slackFields"`
	SlackFieldMeta map[string]FieldMeta `mapstructure:"slackFieldMeta"`
}

// Channels returns every allowed channel, empty meaning any.
func (c MessageConfig) Channels() []string {
	channels := append([]string{}, c.ChannelIDs...)
	if c.ChannelID != "" {
		channels = append(channels, c.ChannelID)
	}

	return channels
}

// FicConfig is the trigger config of fic_event workflows.
type FicConfig struct {
	EventType string `mapstructure:"eventType"`
}

// decodeConfig decodes a raw trigger config. Comma separated strings are accepted wherever a list is.
func decodeConfig(raw map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(splitListHook, trimListHook),
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return fmt.Errorf("failed to create trigger config decoder: %w", err)
	}

	err = decoder.Decode(raw)
	if err != nil {
		return fmt.Errorf("malformed trigger config: %w", err)
	}

	return nil
}

func splitListHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Slice {
		return data, nil
	}

	return SplitList(reflect.ValueOf(data).String()), nil
}

func trimListHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf([]string{}) {
		return data, nil
	}

	var items []string

	switch list := data.(type) {
	case []string:
		items = list
	case []any:
		for _, item := range list {
			text, ok := item.(string)
			if !ok {
				return data, nil
			}

			items = append(items, text)
		}
	default:
		return data, nil
	}

	trimmed := make([]string, 0, len(items))

	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			trimmed = append(trimmed, item)
		}
	}

	return trimmed, nil
}

// SplitList splits a comma separated list, trimming blanks.
func SplitList(raw string) []string {
	items := make([]string, 0)

	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}

	return items
}
