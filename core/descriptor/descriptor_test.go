package descriptor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/succeedex/modelapi/core/descriptor"
)

func validDefinition() descriptor.Definition {
	return descriptor.Definition{
		Name: "college",
		Fields: []descriptor.Field{
			{Name: "name", Type: descriptor.TypeString, Unique: true},
			{Name: "established_year", Type: descriptor.TypeInteger},
			{Name: "secret", Type: descriptor.TypeString, Hidden: true},
		},
	}
}

func TestDescribe(t *testing.T) {
	d, err := descriptor.Describe(validDefinition())
	require.NoError(t, err)
	assert.Equal(t, "college", d.Name)
	assert.Equal(t, "colleges", d.Resource)

	field, ok := d.Field("name")
	require.True(t, ok)
	assert.True(t, field.Unique)

	_, ok = d.Field("id")
	assert.False(t, ok)
}

func TestDescribeRejectsBadDefinitions(t *testing.T) {
	cases := []struct {
		name string
		def  descriptor.Definition
	}{
		{"bad entity name", descriptor.Definition{
			Name:   "College",
			Fields: []descriptor.Field{{Name: "name", Type: descriptor.TypeString}},
		}},
		{"no fields", descriptor.Definition{Name: "college"}},
		{"bad field name", descriptor.Definition{
			Name:   "college",
			Fields: []descriptor.Field{{Name: "Name", Type: descriptor.TypeString}},
		}},
		{"system field collision", descriptor.Definition{
			Name:   "college",
			Fields: []descriptor.Field{{Name: "id", Type: descriptor.TypeString}},
		}},
		{"duplicate field", descriptor.Definition{
			Name: "college",
			Fields: []descriptor.Field{
				{Name: "name", Type: descriptor.TypeString},
				{Name: "name", Type: descriptor.TypeString},
			},
		}},
		{"unknown type", descriptor.Definition{
			Name:   "college",
			Fields: []descriptor.Field{{Name: "name", Type: "text"}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := descriptor.Describe(tc.def)
			assert.Error(t, err)
		})
	}
}

func TestResponsiveExcludesHiddenFields(t *testing.T) {
	d, err := descriptor.Describe(validDefinition())
	require.NoError(t, err)

	names := []string{}
	for _, field := range d.Responsive() {
		names = append(names, field.Name)
	}
	assert.Equal(t, []string{"id", "name", "established_year", "createdAt", "updatedAt", "createdBy", "updatedBy"}, names)
}

func TestSelectable(t *testing.T) {
	d := descriptor.MustDescribe(validDefinition())

	assert.True(t, d.Selectable("name"))
	assert.True(t, d.Selectable("createdAt"))
	assert.False(t, d.Selectable("secret"))
	assert.False(t, d.Selectable("bogus"))

	field, ok := d.SelectableField("updatedBy")
	require.True(t, ok)
	assert.Equal(t, descriptor.TypeString, field.Type)
	assert.True(t, field.Nullable)
}

func TestNewID(t *testing.T) {
	a := descriptor.NewID()
	b := descriptor.NewID()
	assert.Len(t, a, 24)
	assert.NotEqual(t, a, b)
	for _, r := range a {
		assert.Contains(t, "0123456789abcdef", string(r))
	}
}
