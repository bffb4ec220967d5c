package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestProperty_ConformingValueValidatesClean checks one direction of the
// validator's central "iff" contract (spec §8: Validate(v) is empty iff v
// conforms to the schema): a value built to satisfy every field's type,
// required-ness, and range constraint must produce zero ValidationErrors,
// for arbitrarily generated field names and bounds.
func TestProperty_ConformingValueValidatesClean(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		fieldName := rapid.StringMatching(`[a-z][a-z0-9_]{2,9}`).Draw(rt, "fieldName")
		min := rapid.Float64Range(-1000, 0).Draw(rt, "min")
		max := rapid.Float64Range(1, 1000).Draw(rt, "max")
		value := rapid.Float64Range(min, max).Draw(rt, "value")

		s := &Schema{Fields: []Field{
			{Name: fieldName, Type: TypeNumber, Required: true, Min: &min, Max: &max},
		}}

		errs := s.Validate(map[string]any{fieldName: value})
		require.Empty(rt, errs, "value %v within [%v,%v] must validate clean", value, min, max)
	})
}

// TestProperty_MissingRequiredFieldAlwaysErrorsAtItsPath checks the other
// direction: omitting a required field must always produce a violation
// whose Path is exactly that field's name, regardless of the field's type
// or how many other (satisfied) fields surround it.
func TestProperty_MissingRequiredFieldAlwaysErrorsAtItsPath(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		fieldName := rapid.StringMatching(`[a-z][a-z0-9_]{2,9}`).Draw(rt, "fieldName")
		fieldType := rapid.SampledFrom([]Type{TypeString, TypeNumber, TypeBoolean, TypeAny}).Draw(rt, "fieldType")

		s := &Schema{Fields: []Field{
			{Name: fieldName, Type: fieldType, Required: true},
		}}

		errs := s.Validate(map[string]any{})
		require.Len(rt, errs, 1)
		require.Equal(rt, fieldName, errs[0].Path)
		require.Equal(rt, "required field is missing", errs[0].Message)
	})
}

// TestProperty_TypeMismatchAlwaysErrorsAtItsPath feeds a string into a
// TypeNumber field (a type pairing that never coincidentally validates,
// unlike e.g. bool/any) and checks the violation always lands on that
// field's own path, never swallowed or misattributed to a sibling.
func TestProperty_TypeMismatchAlwaysErrorsAtItsPath(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		fieldName := rapid.StringMatching(`[a-z][a-z0-9_]{2,9}`).Draw(rt, "fieldName")
		siblingName := fieldName + "_sibling"
		garbage := rapid.StringMatching(`[a-z]{1,12}`).Draw(rt, "garbage")

		s := &Schema{Fields: []Field{
			{Name: fieldName, Type: TypeNumber, Required: true},
			{Name: siblingName, Type: TypeString},
		}}

		errs := s.Validate(map[string]any{
			fieldName:   garbage, // a string is never a valid TypeNumber
			siblingName: "ok",
		})
		require.Len(rt, errs, 1)
		require.Equal(rt, fieldName, errs[0].Path)
	})
}

// TestProperty_OutOfRangeNumberAlwaysErrors checks that any value strictly
// outside [min, max] is rejected, and any value strictly inside is not —
// tying the Min/Max constraint to the same "iff" contract across a
// randomly generated bound pair.
func TestProperty_OutOfRangeNumberAlwaysErrors(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		min := rapid.Float64Range(-1000, 0).Draw(rt, "min")
		max := rapid.Float64Range(1, 1000).Draw(rt, "max")
		over := max + rapid.Float64Range(0.01, 100).Draw(rt, "over")

		s := &Schema{Fields: []Field{
			{Name: "amount", Type: TypeNumber, Min: &min, Max: &max},
		}}

		errs := s.Validate(map[string]any{"amount": over})
		require.Len(rt, errs, 1)
		require.Equal(rt, "amount", errs[0].Path)

		require.Empty(rt, s.Validate(map[string]any{"amount": (min + max) / 2}))
	})
}

// TestProperty_StrictModeRejectsExactlyUnknownFields verifies Strict mode's
// unknown-field detection tracks the declared field set precisely: a
// generated extra key always errors, and it never flags a declared field as
// unexpected.
func TestProperty_StrictModeRejectsExactlyUnknownFields(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		known := rapid.StringMatching(`[a-z][a-z0-9_]{2,9}`).Draw(rt, "known")
		unknown := known + "_extra"

		s := &Schema{
			Fields: []Field{{Name: known, Type: TypeAny}},
			Strict: true,
		}

		errs := s.Validate(map[string]any{known: "x", unknown: "y"})
		require.Len(rt, errs, 1)
		require.Equal(rt, unknown, errs[0].Path)
	})
}

// TestProperty_EnumRejectsValuesOutsideTheAllowedSet mirrors the teacher's
// enum-constraint property coverage: any generated value outside the
// declared enum must error at the field's path, and any value drawn from
// the enum must not.
func TestProperty_EnumRejectsValuesOutsideTheAllowedSet(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		fieldName := rapid.StringMatching(`[a-z][a-z0-9_]{2,9}`).Draw(rt, "fieldName")
		allowed := []any{"alpha", "beta", "gamma"}
		outside := rapid.StringMatching(`[a-z]{10,15}`).Draw(rt, "outside")

		s := &Schema{Fields: []Field{{Name: fieldName, Type: TypeString, Enum: allowed}}}

		require.Empty(rt, s.Validate(map[string]any{fieldName: "beta"}))

		errs := s.Validate(map[string]any{fieldName: outside})
		require.Len(rt, errs, 1)
		require.Equal(rt, fieldName, errs[0].Path)
	})
}
