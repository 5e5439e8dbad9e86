package router

import (
	"fmt"
	"strings"

	"github.com/citygrid/sentinel/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// ChannelSchema declares the shape of raw events arriving on one channel and
// the defaults applied during normalization. Required fields are enforced
// with JSON Schema; the raw payload may override the declared category and
// priority.
type ChannelSchema struct {
	Channel         string               `json:"channel"          validate:"required"`
	EventType       string               `json:"event_type"       validate:"required"`
	Required        []string             `json:"required,omitempty"`
	Properties      map[string]*Property `json:"properties,omitempty"`
	DefaultCategory models.EventCategory `json:"default_category" validate:"required"`
	DefaultPriority int                  `json:"default_priority" validate:"required,min=1,max=5"`
}

// Property is a JSON Schema fragment for a single raw event field.
type Property struct {
	Type    string   `json:"type,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
	Minimum *float64 `json:"minimum,omitempty"`
	Maximum *float64 `json:"maximum,omitempty"`
	Enum    []any    `json:"enum,omitempty"`
}

// SchemaError describes a raw event that failed channel validation. Such
// events are dropped and logged, never forwarded.
type SchemaError struct {
	Channel    string
	Violations []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("event on channel %q failed schema validation: %s",
		e.Channel, strings.Join(e.Violations, "; "))
}

// document builds the gojsonschema input for this channel.
func (s *ChannelSchema) document() map[string]any {
	properties := make(map[string]any, len(s.Properties))

	for name, prop := range s.Properties {
		fragment := make(map[string]any)

		if prop.Type != "" {
			fragment["type"] = prop.Type
		}

		if prop.Pattern != "" {
			fragment["pattern"] = prop.Pattern
		}

		if prop.Minimum != nil {
			fragment["minimum"] = *prop.Minimum
		}

		if prop.Maximum != nil {
			fragment["maximum"] = *prop.Maximum
		}

		if len(prop.Enum) > 0 {
			fragment["enum"] = prop.Enum
		}

		properties[name] = fragment
	}

	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}

	if len(s.Required) > 0 {
		doc["required"] = s.Required
	}

	return doc
}

// validate checks a raw payload against the channel schema.
func (s *ChannelSchema) validate(raw map[string]any) error {
	schemaLoader := gojsonschema.NewGoLoader(s.document())
	dataLoader := gojsonschema.NewGoLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("schema validation for channel %s: %w", s.Channel, err)
	}

	if !result.Valid() {
		violations := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			violations = append(violations, desc.String())
		}

		return &SchemaError{Channel: s.Channel, Violations: violations}
	}

	return nil
}
