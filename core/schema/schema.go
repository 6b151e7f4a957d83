/*Package schema validates create and update payloads against a JSON
schema generated from the entity descriptor.

The generated schemas are strict: unknown properties are rejected, and
a create payload must carry every non-nullable field. The update schema
shares the property set but requires nothing, so a partial update may
touch any subset of fields.
*/
package schema

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"

	"github.com/succeedex/modelapi/core/descriptor"
)

// FieldError pins a validation failure to a payload field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validator holds the compiled create and update schemas for one
// entity. It is built at registration time and shared by all requests.
type Validator struct {
	create *gojsonschema.Schema
	update *gojsonschema.Schema
}

// NewValidator compiles the create and update schemas for the entity.
func NewValidator(d *descriptor.Descriptor) (*Validator, error) {
	create, err := compile(d, true)
	if err != nil {
		return nil, fmt.Errorf("entity '%s': create schema: %w", d.Name, err)
	}
	update, err := compile(d, false)
	if err != nil {
		return nil, fmt.Errorf("entity '%s': update schema: %w", d.Name, err)
	}
	return &Validator{create: create, update: update}, nil
}

func compile(d *descriptor.Descriptor, withRequired bool) (*gojsonschema.Schema, error) {
	properties := map[string]interface{}{}
	required := []string{}

	for _, field := range d.Creatable() {
		properties[field.Name] = property(field)
		if withRequired && !field.Nullable {
			required = append(required, field.Name)
		}
	}

	document := map[string]interface{}{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		document["required"] = required
	}

	raw, err := json.Marshal(document)
	if err != nil {
		return nil, err
	}
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
}

func property(field descriptor.Field) map[string]interface{} {
	p := map[string]interface{}{}
	var jsonType string
	switch field.Type {
	case descriptor.TypeString:
		jsonType = "string"
	case descriptor.TypeInteger:
		jsonType = "integer"
	case descriptor.TypeBoolean:
		jsonType = "boolean"
	case descriptor.TypeFloat:
		jsonType = "number"
	case descriptor.TypeDatetime:
		jsonType = "string"
		p["format"] = "date-time"
	}
	if field.Nullable {
		p["type"] = []string{jsonType, "null"}
	} else {
		p["type"] = jsonType
	}
	return p
}

// ValidateCreate checks a create payload. It returns nil when the
// payload is valid, otherwise one error per offending field.
func (v *Validator) ValidateCreate(document []byte) []FieldError {
	return validate(v.create, document)
}

// ValidateUpdate checks a partial update payload.
func (v *Validator) ValidateUpdate(document []byte) []FieldError {
	return validate(v.update, document)
}

func validate(s *gojsonschema.Schema, document []byte) []FieldError {
	result, err := s.Validate(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return []FieldError{{Field: "", Message: "invalid json payload"}}
	}
	if result.Valid() {
		return nil
	}
	errors := make([]FieldError, 0, len(result.Errors()))
	for _, resultError := range result.Errors() {
		field := resultError.Field()
		if field == "(root)" {
			// required and additionalProperties violations report on the
			// root object, the offending property sits in the details
			if property, ok := resultError.Details()["property"].(string); ok {
				field = property
			}
		}
		errors = append(errors, FieldError{
			Field:   field,
			Message: strings.TrimSpace(resultError.Description()),
		})
	}
	return errors
}
