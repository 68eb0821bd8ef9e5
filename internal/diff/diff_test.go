package diff

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculate_Object(t *testing.T) {
	a := map[string]any{"title": "Acme", "amount": 100, "stage": "lead", "owner": "u1"}
	b := map[string]any{"title": "Acme", "amount": 250, "stage": "lead", "currency": "EUR"}

	p, err := Calculate(a, b)
	require.NoError(t, err)

	assert.False(t, p.List)
	assert.Equal(t, map[string]any{"currency": "EUR"}, p.Added)
	assert.Equal(t, map[string]any{"amount": json.Number("250")}, p.Modified)
	assert.Equal(t, []string{"owner"}, p.Deleted)
	assert.Empty(t, p.Nested)
	assert.Empty(t, p.Replace)
}

func TestCalculate_Equal(t *testing.T) {
	tests := []struct {
		a    any
		b    any
		name string
	}{
		{name: "same object", a: map[string]any{"x": 1}, b: map[string]any{"x": 1.0}},
		{name: "same list", a: []any{map[string]any{"id": "d1"}}, b: []any{map[string]any{"id": "d1"}}},
		{name: "both nil", a: nil, b: nil},
		{name: "scalars", a: "s", b: "s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Calculate(tt.a, tt.b)
			require.NoError(t, err)
			assert.True(t, p.IsEmpty())
		})
	}
}

func TestCalculate_NestedFieldLevel(t *testing.T) {
	a := map[string]any{"deal": map[string]any{"title": "A", "amount": 1}}
	b := map[string]any{"deal": map[string]any{"title": "A", "amount": 2}}

	p, err := Calculate(a, b)
	require.NoError(t, err)
	require.Contains(t, p.Nested, "deal")
	assert.Equal(t, map[string]any{"amount": json.Number("2")}, p.Nested["deal"].Modified)
	assert.Empty(t, p.Modified)
}

func TestCalculate_ListIdentity(t *testing.T) {
	a := []any{
		map[string]any{"id": "d1", "stage": "lead"},
		map[string]any{"id": "d2", "stage": "won"},
		map[string]any{"id": "d3", "stage": "lost"},
	}
	b := []any{
		map[string]any{"id": "d1", "stage": "qualified"},
		map[string]any{"id": "d3", "stage": "lost"},
		map[string]any{"id": "d4", "stage": "lead"},
	}

	p, err := Calculate(a, b)
	require.NoError(t, err)

	assert.True(t, p.List)
	assert.Equal(t, []string{"d2"}, p.Deleted)
	assert.Contains(t, p.Added, "d4")
	require.Contains(t, p.Nested, "d1")
	assert.Equal(t, map[string]any{"stage": "qualified"}, p.Nested["d1"].Modified)
	// d1, d3 сохраняют порядок, d4 добавляется в конец - порядок передавать не нужно
	assert.Empty(t, p.Order)

	out, err := Apply(a, p)
	require.NoError(t, err)
	ok, err := Equal(out, b)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCalculate_ListReorder(t *testing.T) {
	a := []any{map[string]any{"id": "a"}, map[string]any{"id": "b"}}
	b := []any{map[string]any{"id": "b"}, map[string]any{"id": "a"}}

	p, err := Calculate(a, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, p.Order)

	out, err := Apply(a, p)
	require.NoError(t, err)
	ok, err := Equal(out, b)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCalculate_ShapeChangeReplaces(t *testing.T) {
	p, err := Calculate(map[string]any{"a": 1}, []any{1, 2})
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2]`, string(p.Replace))

	out, err := Apply(map[string]any{"a": 1}, p)
	require.NoError(t, err)
	assert.Equal(t, []any{json.Number("1"), json.Number("2")}, out)
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	a := map[string]any{"title": "old"}
	p, err := Calculate(a, map[string]any{"title": "new"})
	require.NoError(t, err)

	out, err := Apply(a, p)
	require.NoError(t, err)
	assert.Equal(t, "old", a["title"])
	assert.Equal(t, "new", out.(map[string]any)["title"])
}

func TestApply_ShapeMismatch(t *testing.T) {
	p := &Patch{List: true, Nested: map[string]*Patch{"d1": {Modified: map[string]any{"x": 1}}}}

	_, err := Apply([]any{map[string]any{"id": "d2"}}, p)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = Apply("scalar", &Patch{Added: map[string]any{"k": 1}})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestPatch_SurvivesJSON(t *testing.T) {
	a := map[string]any{"deals": []any{map[string]any{"id": "d1", "v": 1}}, "name": "pipe"}
	b := map[string]any{"deals": []any{map[string]any{"id": "d1", "v": 2}, map[string]any{"id": "d0", "v": 0}}, "name": nil}

	p, err := Calculate(a, b)
	require.NoError(t, err)

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	var decoded Patch
	require.NoError(t, json.Unmarshal(raw, &decoded))

	out, err := Apply(a, &decoded)
	require.NoError(t, err)
	ok, err := Equal(out, b)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCalculate_LargeIntegers(t *testing.T) {
	const big = "9007199254740993" // 2^53 + 1

	a := json.RawMessage(`{"x":1,"y":9007199254740992}`)
	b := json.RawMessage(`{"x":` + big + `,"y":9007199254740993}`)

	p, err := Calculate(a, b)
	require.NoError(t, err)
	require.False(t, p.IsEmpty(), "values differing past 2^53 are a change")
	assert.Equal(t, json.Number(big), p.Modified["x"])

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	var decoded Patch
	require.NoError(t, json.Unmarshal(raw, &decoded))

	out, err := Apply(a, &decoded)
	require.NoError(t, err)
	got, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, string(b), string(got))
	assert.Contains(t, string(got), big)
}

func TestRoundTrip_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("apply(a, calculate(a, b)) equals b for objects", prop.ForAll(
		func(a, b map[string]string) bool {
			return roundTrips(a, b)
		},
		gen.MapOf(gen.Identifier(), gen.AlphaString()),
		gen.MapOf(gen.Identifier(), gen.AlphaString()),
	))

	properties.Property("apply(a, calculate(a, b)) equals b for identified lists", prop.ForAll(
		func(aIDs, bIDs []int, salt int) bool {
			return roundTrips(identifiedList(aIDs, 0), identifiedList(bIDs, salt))
		},
		gen.SliceOf(gen.IntRange(1, 6)),
		gen.SliceOf(gen.IntRange(1, 6)),
		gen.IntRange(0, 2),
	))

	properties.Property("apply(a, calculate(a, b)) equals b for nested documents", prop.ForAll(
		func(title string, aIDs, bIDs []int, drop bool) bool {
			a := map[string]any{"title": "pipeline", "deals": identifiedList(aIDs, 0)}
			b := map[string]any{"title": title, "deals": identifiedList(bIDs, 1)}
			if drop {
				delete(b, "title")
			}
			return roundTrips(a, b)
		},
		gen.AlphaString(),
		gen.SliceOf(gen.IntRange(1, 4)),
		gen.SliceOf(gen.IntRange(1, 4)),
		gen.Bool(),
	))

	properties.Property("apply(a, calculate(a, b)) equals b for int64 values", prop.ForAll(
		func(a, b map[string]int64) bool {
			return roundTrips(a, b)
		},
		gen.MapOf(gen.Identifier(), gen.Int64()),
		gen.MapOf(gen.Identifier(), gen.Int64()),
	))

	properties.TestingRun(t)
}

func roundTrips(a, b any) bool {
	p, err := Calculate(a, b)
	if err != nil {
		return false
	}
	out, err := Apply(a, p)
	if err != nil {
		return false
	}
	ok, err := Equal(out, b)
	return err == nil && ok
}

// identifiedList строит список объектов с уникальными id; salt меняет значения полей
func identifiedList(nums []int, salt int) []any {
	seen := make(map[string]bool)
	out := make([]any, 0, len(nums))
	for i, n := range nums {
		id := fmt.Sprintf("d%d", n)
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, map[string]any{"id": id, "value": fmt.Sprintf("%s-%d", id, (i+salt)%3)})
	}
	return out
}
