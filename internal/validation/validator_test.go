package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/picdexapp/picdex-server/internal/errors"
)

type createCategoryInput struct {
	Name        string `json:"name" validate:"required,max=50"`
	Description string `json:"description" validate:"max=300"`
}

func TestValidate_Passes(t *testing.T) {
	v := New()

	err := v.Validate(createCategoryInput{Name: "Landscapes", Description: "wide shots"})
	assert.NoError(t, err)
}

func TestValidate_RequiredField(t *testing.T) {
	v := New()

	err := v.Validate(createCategoryInput{Description: "no name"})
	require.Error(t, err)

	var domainErr *domainerrors.Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domainerrors.CodeValidation, domainErr.Code)

	// Details keyed by JSON field name.
	details, ok := domainErr.Details.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "is required", details["name"])
}

func TestValidate_MaxLength(t *testing.T) {
	v := New()

	long := make([]byte, 51)
	for i := range long {
		long[i] = 'x'
	}
	err := v.Validate(createCategoryInput{Name: string(long)})
	require.Error(t, err)

	var domainErr *domainerrors.Error
	require.ErrorAs(t, err, &domainErr)
	details, ok := domainErr.Details.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must not exceed 50 characters", details["name"])
}
