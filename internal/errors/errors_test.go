package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDefaultsComponentAndCategory(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("boom")).Build()

	assert.Equal(t, "boom", ee.Err.Error())
	// Frames inside this package are skipped, so the first caller found
	// is the testing package's runner.
	assert.Equal(t, "testing", ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
}

func TestBuildHonorsExplicitComponentCategoryKind(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("timeout")).
		Component("grader").
		Category(CategoryGrading).
		Kind(KindTransientExternal).
		Context("transaction_id", "abc").
		Build()

	assert.Equal(t, "grader", ee.GetComponent())
	assert.Equal(t, CategoryGrading, ee.Category)
	assert.True(t, ee.Retryable())
	assert.Equal(t, "abc", ee.GetContext()["transaction_id"])
}

func TestConstraintIsNeverRetryable(t *testing.T) {
	t.Parallel()

	ee := Constraint("offers exceed opportunities", CategoryGrading)
	assert.False(t, ee.Retryable())
	assert.True(t, IsKind(ee, KindConstraintViolation))
}

func TestIsCategoryAndIsNotFound(t *testing.T) {
	t.Parallel()

	ee := New(NewStd("missing run")).Category(CategoryNotFound).Build()
	require.True(t, IsCategory(ee, CategoryNotFound))
	assert.True(t, IsNotFound(ee))
	assert.False(t, IsNotFound(New(NewStd("x")).Category(CategoryGeneric).Build()))
}

func TestGetContextReturnsCopy(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("x")).Context("k", "v").Build()
	ctx := ee.GetContext()
	ctx["k"] = "mutated"

	assert.Equal(t, "v", ee.GetContext()["k"])
}
