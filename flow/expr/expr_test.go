package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEval_DottedReference(t *testing.T) {
	e := New(map[string]any{
		"stepA": map[string]any{"output": map[string]any{"score": 0.9}},
	})
	v, err := e.Eval("stepA.output.score >= 0.5")
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestEval_LogicalAndComparison(t *testing.T) {
	e := New(map[string]any{"input": map[string]any{"age": 21}})
	v, err := e.EvalBool(`input.age >= 18 && input.age < 65`)
	require.NoError(t, err)
	assert.True(t, v)
}

func TestEval_FunctionCall(t *testing.T) {
	e := New(nil)
	v, err := e.Eval(`fn:uppercase("hi")`)
	require.NoError(t, err)
	assert.Equal(t, "HI", v)
}

func TestInterpolate_SubstitutesReferences(t *testing.T) {
	e := New(map[string]any{"formData": map[string]any{"name": "John"}})
	out, err := e.Interpolate("Welcome ${formData.name}")
	require.NoError(t, err)
	assert.Equal(t, "Welcome John", out)
}

func TestEval_UnknownFunctionErrors(t *testing.T) {
	e := New(nil)
	_, err := e.Eval(`fn:doesNotExist()`)
	require.Error(t, err)
}

func TestEval_NilComparisons(t *testing.T) {
	e := New(map[string]any{})
	v, err := e.EvalBool("missing.path == null")
	require.NoError(t, err)
	assert.True(t, v)
}
