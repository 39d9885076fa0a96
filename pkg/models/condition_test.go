package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCondition(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected Condition
	}{
		{
			name:     "empty defaults to on_success",
			raw:      "",
			expected: Condition{Kind: ConditionOnSuccess},
		},
		{
			name:     "success function form",
			raw:      "success()",
			expected: Condition{Kind: ConditionOnSuccess},
		},
		{
			name:     "failure",
			raw:      "failure()",
			expected: Condition{Kind: ConditionOnFailure},
		},
		{
			name:     "always",
			raw:      "always()",
			expected: Condition{Kind: ConditionAlways},
		},
		{
			name:     "always bare word",
			raw:      "always",
			expected: Condition{Kind: ConditionAlways},
		},
		{
			name:     "anything else is an expression",
			raw:      `matrix.os == "linux"`,
			expected: Condition{Kind: ConditionExpression, Expression: `matrix.os == "linux"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseCondition(tt.raw))
		})
	}
}

func TestConditionShouldRun(t *testing.T) {
	tests := []struct {
		name     string
		cond     Condition
		ctx      ConditionContext
		expected bool
	}{
		{
			name:     "on_success with healthy job",
			cond:     Condition{Kind: ConditionOnSuccess},
			ctx:      ConditionContext{SuccessSoFar: true},
			expected: true,
		},
		{
			name:     "on_success after a failure",
			cond:     Condition{Kind: ConditionOnSuccess},
			ctx:      ConditionContext{SuccessSoFar: false},
			expected: false,
		},
		{
			name:     "on_failure after a failure",
			cond:     Condition{Kind: ConditionOnFailure},
			ctx:      ConditionContext{SuccessSoFar: false},
			expected: true,
		},
		{
			name:     "on_failure with healthy job",
			cond:     Condition{Kind: ConditionOnFailure},
			ctx:      ConditionContext{SuccessSoFar: true},
			expected: false,
		},
		{
			name:     "always after a failure",
			cond:     Condition{Kind: ConditionAlways},
			ctx:      ConditionContext{SuccessSoFar: false},
			expected: true,
		},
		{
			name:     "expression against matrix",
			cond:     Condition{Kind: ConditionExpression, Expression: `matrix.os == "linux"`},
			ctx:      ConditionContext{SuccessSoFar: true, Matrix: map[string]string{"os": "linux"}},
			expected: true,
		},
		{
			name:     "expression against event",
			cond:     Condition{Kind: ConditionExpression, Expression: `event == "push" and success`},
			ctx:      ConditionContext{SuccessSoFar: true, Event: EventPush},
			expected: true,
		},
		{
			name:     "expression referencing failure",
			cond:     Condition{Kind: ConditionExpression, Expression: "failure"},
			ctx:      ConditionContext{SuccessSoFar: true},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cond.ShouldRun(tt.ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestConditionShouldRunInvalidExpression(t *testing.T) {
	cond := Condition{Kind: ConditionExpression, Expression: "event =="}

	_, err := cond.ShouldRun(ConditionContext{SuccessSoFar: true})
	require.Error(t, err)
}
