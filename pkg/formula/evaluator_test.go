package formula

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapcalc/pkg/core"
	"github.com/leapstack-labs/leapcalc/pkg/numeric"
)

func d(s string) numeric.Decimal { return numeric.MustParse(s) }

func siblings() core.Collections {
	return core.Collections{
		"children": {
			{"total": core.Number(d("100")), "sumable": core.Bool(true)},
			{"total": core.Number(d("200")), "sumable": core.Bool(true)},
			{"total": core.Number(d("0")), "sumable": core.Bool(false)},
		},
	}
}

func TestEvaluator_Arithmetic(t *testing.T) {
	values := core.EntityValues{
		"real_quantity": d("10"),
		"waste_pct":     d("0.1"),
		"real_price":    d("100"),
		"fee_pct":       d("0.15"),
		"a":             d("1"),
		"b":             d("3"),
	}

	tests := []struct {
		formula string
		want    string
	}{
		{"real_quantity * (1 + waste_pct)", "11"},
		{"real_price * (1 + fee_pct)", "115"},
		{"real_price * real_quantity", "1000"},
		{"2 + 3 * 4", "14"},
		{"(2 + 3) * 4", "20"},
		{"-a + b", "2"},
		{"10 - 4 - 3", "3"},
		{"10 / 4", "2.5"},
		{"a / b", "0.3333333333333333"},
		{"0.1 + 0.2", "0.3"},
	}

	ev := NewEvaluator()
	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			got, err := ev.Evaluate(tt.formula, values, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestEvaluator_DivisionPrecision(t *testing.T) {
	ev := NewEvaluator(WithDivisionPrecision(2))
	assert.Equal(t, int32(2), ev.Precision())

	got, err := ev.Evaluate("1 / 3", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "0.33", got.String())
}

func TestEvaluator_Errors(t *testing.T) {
	values := core.EntityValues{"a": d("1"), "zero": d("0")}

	tests := []struct {
		name    string
		formula string
		want    error
	}{
		{"division by zero", "a / zero", ErrDivisionByZero},
		{"division by computed zero", "a / (a - 1)", ErrDivisionByZero},
		{"unresolved", "a + missing", ErrUnresolved},
		{"non-numeric literal", "true", ErrNotNumeric},
		{"string in arithmetic", "a + 'x'", ErrNotNumeric},
		{"missing collection", "SUM(siblings.total)", ErrMissingContext},
	}

	ev := NewEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Evaluate(tt.formula, values, siblings())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.True(t, got.IsZero())
		})
	}

	for _, text := range []string{"a +", "a\x00 / zero", "a\x00"} {
		got, err := ev.Evaluate(text, values, nil)
		var perr *ParseError
		assert.True(t, errors.As(err, &perr), "%q: got %v", text, err)
		assert.True(t, got.IsZero(), "%q", text)
	}
}

func TestEvaluator_Aggregates(t *testing.T) {
	tests := []struct {
		formula string
		want    string
	}{
		{"SUM(total WHERE sumable == true)", "300"},
		{"SUM(children.total WHERE sumable)", "300"},
		{"COUNT(children.total WHERE sumable == true)", "2"},
		{"COUNT(*)", "3"},
		{"COUNT(children)", "3"},
		{"COUNT(* WHERE sumable != true)", "1"},
		{"SUM(total)", "300"},
		{"AVG(total)", "100"},
		{"AVG(total WHERE sumable == true)", "150"},
		{"MIN(total)", "0"},
		{"MAX(total)", "200"},
		{"MIN(total WHERE sumable)", "100"},
		// Empty filtered sets
		{"AVG(total WHERE sumable == 'yes')", "0"},
		{"SUM(total WHERE missing_flag)", "0"},
		{"MIN(total WHERE missing_flag)", "0"},
		{"MAX(total WHERE missing_flag)", "0"},
		{"COUNT(* WHERE missing_flag)", "0"},
		// Missing flags compare equal to false
		{"COUNT(* WHERE missing_flag == false)", "3"},
		{"SUM(total) * 2 + COUNT(*)", "603"},
	}

	ev := NewEvaluator()
	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			got, err := ev.Evaluate(tt.formula, nil, siblings())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestEvaluator_AggregateMemberValues(t *testing.T) {
	coll := core.Collections{
		"children": {
			{"total": core.Number(d("5"))},
			{"total": core.Null()},
			{},
		},
		"labels": {
			{"total": core.String("n/a")},
		},
	}
	ev := NewEvaluator()

	got, err := ev.Evaluate("SUM(total)", nil, coll)
	require.NoError(t, err)
	assert.Equal(t, "5", got.String())

	got, err = ev.Evaluate("MIN(total)", nil, coll)
	require.NoError(t, err)
	assert.Equal(t, "0", got.String(), "null members count as zero")

	_, err = ev.Evaluate("SUM(labels.total)", nil, coll)
	assert.True(t, errors.Is(err, ErrNotNumeric))

	// COUNT ignores the member value
	got, err = ev.Evaluate("COUNT(labels.total)", nil, coll)
	require.NoError(t, err)
	assert.Equal(t, "1", got.String())

	// An empty but supplied scope is not missing context
	got, err = ev.Evaluate("SUM(total)", nil, core.Collections{"children": nil})
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestEvaluator_CompileCache(t *testing.T) {
	ev := NewEvaluator()

	p1, err := ev.Compile("a + b")
	require.NoError(t, err)
	p2, err := ev.Compile("a + b")
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	_, err1 := ev.Compile("a +")
	_, err2 := ev.Compile("a +")
	assert.Error(t, err1)
	assert.Equal(t, err1, err2)
}

func TestEvaluator_ConcurrentUse(t *testing.T) {
	ev := NewEvaluator()
	values := core.EntityValues{"a": d("2"), "b": d("3")}

	var wg sync.WaitGroup
	results := make([]string, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := ev.Evaluate("a * b + SUM(total)", values, siblings())
			if err == nil {
				results[i] = v.String()
			}
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "306", r)
	}
}
