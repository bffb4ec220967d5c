package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(f float64) *float64 { return &f }

func TestValidate_AccumulatesAllErrors(t *testing.T) {
	s := &Schema{
		Name: "customer_order",
		Fields: []Field{
			{Name: "customer_id", Type: TypeString, Required: true},
			{Name: "total", Type: TypeNumber, Required: true, Min: ptr(0)},
			{Name: "status", Type: TypeString, Enum: []any{"open", "closed"}},
		},
		Strict: true,
	}

	errs := s.Validate(map[string]any{
		"total":      -5.0,
		"status":     "pending",
		"extraField": true,
	})

	require.Len(t, errs, 4)
	var paths []string
	for _, e := range errs {
		paths = append(paths, e.Path)
	}
	assert.Contains(t, paths, "customer_id")
	assert.Contains(t, paths, "total")
	assert.Contains(t, paths, "status")
	assert.Contains(t, paths, "extraField")
}

func TestValidate_Success(t *testing.T) {
	s := &Schema{Fields: []Field{
		{Name: "customer_id", Type: TypeString, Required: true},
		{Name: "total", Type: TypeNumber, Required: true},
	}}
	errs := s.Validate(map[string]any{"customer_id": "C1", "total": 42.0})
	assert.Empty(t, errs)
}

func TestValidate_RangeBoundaryInclusive(t *testing.T) {
	s := &Schema{Fields: []Field{{Name: "pct", Type: TypeNumber, Max: ptr(100)}}}
	assert.Empty(t, s.Validate(map[string]any{"pct": 100.0}))
	errs := s.Validate(map[string]any{"pct": 100.0001})
	assert.Len(t, errs, 1)
}

func TestValidate_NestedSchema(t *testing.T) {
	s := &Schema{Fields: []Field{
		{Name: "address", Type: TypeObject, Required: true, Nested: &Schema{
			Fields: []Field{{Name: "zip", Type: TypeString, Required: true}},
		}},
	}}
	errs := s.Validate(map[string]any{"address": map[string]any{}})
	require.Len(t, errs, 1)
	assert.Equal(t, "address.zip", errs[0].Path)
}

func TestValidate_PatternRequiresFullMatch(t *testing.T) {
	s := &Schema{Fields: []Field{{Name: "code", Type: TypeString, Pattern: `^[A-Z]{3}$`}}}
	assert.Empty(t, s.Validate(map[string]any{"code": "ABC"}))
	assert.NotEmpty(t, s.Validate(map[string]any{"code": "ABCD"}))
}

func TestValidate_NonStrictAllowsExtraFields(t *testing.T) {
	s := &Schema{Fields: []Field{{Name: "a", Type: TypeString}}}
	assert.Empty(t, s.Validate(map[string]any{"a": "x", "b": "y"}))
}
