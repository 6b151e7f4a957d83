package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/succeedex/modelapi/core/descriptor"
	"github.com/succeedex/modelapi/core/schema"
)

func studentValidator(t *testing.T) *schema.Validator {
	t.Helper()
	d, err := descriptor.Describe(descriptor.Definition{
		Name: "student",
		Fields: []descriptor.Field{
			{Name: "first_name", Type: descriptor.TypeString},
			{Name: "age", Type: descriptor.TypeInteger},
			{Name: "graduated", Type: descriptor.TypeBoolean, Nullable: true},
			{Name: "enrolled_at", Type: descriptor.TypeDatetime, Nullable: true},
		},
	})
	require.NoError(t, err)
	v, err := schema.NewValidator(d)
	require.NoError(t, err)
	return v
}

func TestValidateCreate(t *testing.T) {
	v := studentValidator(t)

	errs := v.ValidateCreate([]byte(`{"first_name":"Ada","age":21}`))
	assert.Nil(t, errs)

	errs = v.ValidateCreate([]byte(`{"first_name":"Ada","age":21,"graduated":null}`))
	assert.Nil(t, errs)
}

func TestValidateCreateMissingRequired(t *testing.T) {
	v := studentValidator(t)

	errs := v.ValidateCreate([]byte(`{"first_name":"Ada"}`))
	require.Len(t, errs, 1)
	assert.Equal(t, "age", errs[0].Field)
}

func TestValidateCreateUnknownProperty(t *testing.T) {
	v := studentValidator(t)

	errs := v.ValidateCreate([]byte(`{"first_name":"Ada","age":21,"nickname":"ada"}`))
	require.Len(t, errs, 1)
	assert.Equal(t, "nickname", errs[0].Field)
}

func TestValidateCreateWrongType(t *testing.T) {
	v := studentValidator(t)

	errs := v.ValidateCreate([]byte(`{"first_name":"Ada","age":"twenty"}`))
	require.Len(t, errs, 1)
	assert.Equal(t, "age", errs[0].Field)
	assert.NotEmpty(t, errs[0].Message)
}

func TestValidateCreateDatetimeFormat(t *testing.T) {
	v := studentValidator(t)

	errs := v.ValidateCreate([]byte(`{"first_name":"Ada","age":21,"enrolled_at":"2023-09-01T08:00:00Z"}`))
	assert.Nil(t, errs)

	errs = v.ValidateCreate([]byte(`{"first_name":"Ada","age":21,"enrolled_at":"yesterday"}`))
	require.Len(t, errs, 1)
	assert.Equal(t, "enrolled_at", errs[0].Field)
}

func TestValidateUpdatePartial(t *testing.T) {
	v := studentValidator(t)

	// updates require nothing, any subset of fields is fine
	assert.Nil(t, v.ValidateUpdate([]byte(`{}`)))
	assert.Nil(t, v.ValidateUpdate([]byte(`{"age":22}`)))

	errs := v.ValidateUpdate([]byte(`{"age":"older"}`))
	require.Len(t, errs, 1)
	assert.Equal(t, "age", errs[0].Field)

	errs = v.ValidateUpdate([]byte(`{"id":"abc"}`))
	require.Len(t, errs, 1)
	assert.Equal(t, "id", errs[0].Field)
}

func TestValidateMalformedJSON(t *testing.T) {
	v := studentValidator(t)

	errs := v.ValidateCreate([]byte(`{not json`))
	require.Len(t, errs, 1)
}
