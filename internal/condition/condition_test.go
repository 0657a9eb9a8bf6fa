package condition

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantOp    Operator
		wantValue float64
		wantErr   bool
	}{
		{name: "greater than", input: "> 80", wantOp: OpGT, wantValue: 80},
		{name: "greater or equal", input: ">= 80", wantOp: OpGE, wantValue: 80},
		{name: "greater or equal without space", input: ">=80", wantOp: OpGE, wantValue: 80},
		{name: "less or equal fraction", input: "<= 0.5", wantOp: OpLE, wantValue: 0.5},
		{name: "less than", input: "<1", wantOp: OpLT, wantValue: 1},
		{name: "double equals", input: "== 100", wantOp: OpEQ, wantValue: 100},
		{name: "single equals", input: "= 100", wantOp: OpEQ, wantValue: 100},
		{name: "not equal", input: "!= 100", wantOp: OpNE, wantValue: 100},
		{name: "negative threshold", input: "> -5", wantOp: OpGT, wantValue: -5},
		{name: "surrounding whitespace", input: "  <  3.25  ", wantOp: OpLT, wantValue: 3.25},
		{name: "exponent", input: "> 1e3", wantOp: OpGT, wantValue: 1000},
		{name: "empty", input: "", wantErr: true},
		{name: "missing operator", input: "80", wantErr: true},
		{name: "unknown operator", input: "=> 80", wantErr: true},
		{name: "non numeric threshold", input: "> high", wantErr: true},
		{name: "trailing garbage", input: "> 80 and", wantErr: true},
		{name: "operator only", input: ">=", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidCondition))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOp, got.Op)
			assert.InDelta(t, tt.wantValue, got.Threshold, 1e-12)
		})
	}
}

func TestParseTwoCharacterOperatorsFirst(t *testing.T) {
	c, err := Parse(">= 80")
	require.NoError(t, err)
	assert.Equal(t, OpGE, c.Op)
	assert.Equal(t, 80.0, c.Threshold)
	assert.True(t, c.Eval(80), "80 >= 80 must hold")
}

func TestEval(t *testing.T) {
	tests := []struct {
		cond  string
		value float64
		want  bool
	}{
		{"> 80", 85, true},
		{"> 80", 80, false},
		{">= 80", 80, true},
		{"< 10", 9.99, true},
		{"<= 10", 10.5, false},
		{"== 1", 1, true},
		{"= 1", 1.0000000001, false},
		{"== 0.0000000001", 0, false},
		{"!= 1", 1, false},
		{"!= 1", 2, true},
	}

	for _, tt := range tests {
		c, err := Parse(tt.cond)
		require.NoError(t, err, tt.cond)
		if got := c.Eval(tt.value); got != tt.want {
			t.Errorf("Parse(%q).Eval(%v) = %v, want %v", tt.cond, tt.value, got, tt.want)
		}
	}
}

func TestEvalNaN(t *testing.T) {
	nan := math.NaN()
	for cond, want := range map[string]bool{
		"!= 100": true,
		"== 100": false,
		"> 100":  false,
		"<= 100": false,
	} {
		c, err := Parse(cond)
		require.NoError(t, err, cond)
		assert.Equal(t, want, c.Eval(nan), cond)
	}
}

func TestInvalidConditionNeverTriggers(t *testing.T) {
	var c Condition
	assert.False(t, c.Eval(0))
	assert.False(t, c.Eval(1e9))
}

func TestCache(t *testing.T) {
	cache := NewCache()

	c1, err := cache.Get(1, "> 5")
	require.NoError(t, err)
	assert.Equal(t, OpGT, c1.Op)

	c2, err := cache.Get(1, "< 5")
	require.NoError(t, err)
	assert.Equal(t, OpLT, c2.Op, "changed text must be re-parsed")

	_, err = cache.Get(2, "bogus")
	require.ErrorIs(t, err, ErrInvalidCondition)

	cache.Retain(map[int64]struct{}{1: {}})
	assert.Len(t, cache.entries, 1)
}
