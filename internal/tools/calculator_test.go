package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculator(t *testing.T) {
	tests := []struct {
		name    string
		in      CalculatorInput
		want    float64
		wantErr string
	}{
		{name: "add", in: CalculatorInput{Operand1: 2, Operand2: 3, Operator: "+"}, want: 5},
		{name: "subtract", in: CalculatorInput{Operand1: 2, Operand2: 3, Operator: "-"}, want: -1},
		{name: "multiply", in: CalculatorInput{Operand1: 2.5, Operand2: 4, Operator: "*"}, want: 10},
		{name: "divide", in: CalculatorInput{Operand1: 10, Operand2: 4, Operator: "/"}, want: 2.5},
		{name: "power", in: CalculatorInput{Operand1: 2, Operand2: 10, Operator: "^"}, want: 1024},
		{name: "divide by zero", in: CalculatorInput{Operand1: 1, Operand2: 0, Operator: "/"}, wantErr: "Division by zero is not allowed."},
		{name: "unknown operator", in: CalculatorInput{Operand1: 1, Operand2: 2, Operator: "%"}, wantErr: "Unsupported operator '%'. Use one of + - * / ^."},
		{name: "not finite", in: CalculatorInput{Operand1: -8, Operand2: 0.5, Operator: "^"}, wantErr: "is not a finite number"},
	}

	calc := NewCalculator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := calc.Run(context.Background(), tt.in)
			require.NoError(t, err)

			if tt.wantErr != "" {
				assert.False(t, out.Success)
				assert.Contains(t, out.ErrorMessage, tt.wantErr)
				assert.Nil(t, out.Result)
				return
			}
			assert.True(t, out.Success)
			require.NotNil(t, out.Result)
			assert.InDelta(t, tt.want, *out.Result, 1e-9)
		})
	}
}

func TestCalculator_ExecuteJSON(t *testing.T) {
	raw, err := NewCalculator().Execute(context.Background(), []byte(`{"operand1":9,"operand2":3,"operator":"/"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"result":3}`, string(raw))
}
