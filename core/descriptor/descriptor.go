/*Package descriptor turns entity definitions into immutable field metadata.

A Descriptor is built once at startup through a registration call and is
shared read-only by all requests afterwards. It drives everything the
generic route generation does: which fields a create payload may carry,
which fields an update payload may touch, and which fields appear in
responses.
*/
package descriptor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/succeedex/modelapi/core"
)

// FieldType is the semantic type of an entity field.
type FieldType string

// all supported semantic field types
const (
	TypeString   FieldType = "string"
	TypeInteger  FieldType = "integer"
	TypeBoolean  FieldType = "boolean"
	TypeDatetime FieldType = "datetime"
	TypeFloat    FieldType = "float"
)

// the system fields every entity carries. They are excluded from the
// create and update field sets but included in the response shape.
const (
	SystemID        = "id"
	SystemCreatedAt = "createdAt"
	SystemUpdatedAt = "updatedAt"
	SystemCreatedBy = "createdBy"
	SystemUpdatedBy = "updatedBy"
)

// SystemFields lists the system fields in storage order.
var SystemFields = []string{SystemID, SystemCreatedAt, SystemUpdatedAt, SystemCreatedBy, SystemUpdatedBy}

// Field describes a single declared entity field.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Nullable bool      `json:"nullable"`
	// Unique adds a unique index on the field.
	Unique bool `json:"unique,omitempty"`
	// Hidden fields are written but never serialized into responses,
	// nor available for filtering, sorting or projection. Password
	// hashes are the typical case.
	Hidden bool `json:"hidden,omitempty"`
}

// Definition is the declaration of an entity as provided by the
// registering service.
type Definition struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Fields      []Field `json:"fields"`
}

// Descriptor is the immutable reflection of a Definition. It is built
// once per registered entity and shared by all requests; none of its
// methods mutate state.
type Descriptor struct {
	Name        string
	Resource    string // plural path segment, e.g. "colleges"
	Description string

	fields []Field
	byName map[string]Field
}

var nameExpression = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Describe reflects over an entity definition and produces its
// descriptor. The same definition always yields an identical
// descriptor.
func Describe(def Definition) (*Descriptor, error) {
	if !nameExpression.MatchString(def.Name) {
		return nil, fmt.Errorf("invalid entity name '%s'", def.Name)
	}
	if len(def.Fields) == 0 {
		return nil, fmt.Errorf("entity '%s' has no fields", def.Name)
	}

	d := &Descriptor{
		Name:        def.Name,
		Resource:    core.Plural(def.Name),
		Description: def.Description,
		fields:      make([]Field, 0, len(def.Fields)),
		byName:      make(map[string]Field, len(def.Fields)),
	}

	for _, field := range def.Fields {
		if !nameExpression.MatchString(field.Name) {
			return nil, fmt.Errorf("entity '%s': invalid field name '%s'", def.Name, field.Name)
		}
		for _, system := range SystemFields {
			if field.Name == system {
				return nil, fmt.Errorf("entity '%s': field '%s' collides with a system field", def.Name, field.Name)
			}
		}
		if _, ok := d.byName[field.Name]; ok {
			return nil, fmt.Errorf("entity '%s': duplicate field '%s'", def.Name, field.Name)
		}
		switch field.Type {
		case TypeString, TypeInteger, TypeBoolean, TypeDatetime, TypeFloat:
		default:
			return nil, fmt.Errorf("entity '%s': field '%s' has unknown type '%s'", def.Name, field.Name, field.Type)
		}
		d.fields = append(d.fields, field)
		d.byName[field.Name] = field
	}
	return d, nil
}

// MustDescribe is Describe for static startup registration; it panics
// on an invalid definition.
func MustDescribe(def Definition) *Descriptor {
	d, err := Describe(def)
	if err != nil {
		panic(err)
	}
	return d
}

// Fields returns the declared entity fields in declaration order,
// including hidden ones.
func (d *Descriptor) Fields() []Field {
	return d.fields
}

// Field returns the declared field with the given name.
func (d *Descriptor) Field(name string) (Field, bool) {
	field, ok := d.byName[name]
	return field, ok
}

// Creatable returns the fields a create payload may carry: all
// declared fields, system fields excluded.
func (d *Descriptor) Creatable() []Field {
	return d.fields
}

// Updatable returns the fields an update payload may touch. It is the
// creatable set; every field is optional on update.
func (d *Descriptor) Updatable() []Field {
	return d.fields
}

// Responsive returns the fields included in the response shape:
// the opaque identifier, the declared non-hidden fields, and the audit
// fields.
func (d *Descriptor) Responsive() []Field {
	result := make([]Field, 0, len(d.fields)+len(SystemFields))
	result = append(result, Field{Name: SystemID, Type: TypeString})
	for _, field := range d.fields {
		if field.Hidden {
			continue
		}
		result = append(result, field)
	}
	result = append(result,
		Field{Name: SystemCreatedAt, Type: TypeDatetime},
		Field{Name: SystemUpdatedAt, Type: TypeDatetime},
		Field{Name: SystemCreatedBy, Type: TypeString, Nullable: true},
		Field{Name: SystemUpdatedBy, Type: TypeString, Nullable: true},
	)
	return result
}

// Selectable reports whether name may be used in filter expressions,
// sort specifications and field projections. Hidden fields are not
// selectable; system fields are.
func (d *Descriptor) Selectable(name string) bool {
	if field, ok := d.byName[name]; ok {
		return !field.Hidden
	}
	for _, system := range SystemFields {
		if name == system {
			return true
		}
	}
	return false
}

// SelectableField resolves a selectable field by name, covering both
// declared and system fields.
func (d *Descriptor) SelectableField(name string) (Field, bool) {
	if !d.Selectable(name) {
		return Field{}, false
	}
	if field, ok := d.byName[name]; ok {
		return field, ok
	}
	for _, field := range d.Responsive() {
		if field.Name == name {
			return field, true
		}
	}
	return Field{}, false
}

// NewID mints a new opaque record identifier, a 24 character hex
// token derived from a random UUID.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
