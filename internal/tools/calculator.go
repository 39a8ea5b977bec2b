package tools

import (
	"context"
	"math"

	"github.com/MimeLyc/agentkit/internal/schema"
)

const CalculatorName = "calculator"

// CalculatorInput is one binary arithmetic operation.
type CalculatorInput struct {
	Operand1 float64 `json:"operand1" jsonschema:"description=The first number."`
	Operand2 float64 `json:"operand2" jsonschema:"description=The second number."`
	Operator string  `json:"operator" jsonschema:"description=One of + - * / ^"`
}

type CalculatorOutput struct {
	schema.ToolResult
	Result *float64 `json:"result,omitempty" jsonschema:"description=The numeric result."`
}

// NewCalculator returns the calculator tool. Division by zero and unknown
// operators are reported as failed results rather than errors.
func NewCalculator() *TypedTool[CalculatorInput, CalculatorOutput] {
	return MustNew(CalculatorName,
		"Performs basic arithmetic operations (+, -, *, /, ^) on two numbers.",
		calculate)
}

func calculate(_ context.Context, in CalculatorInput) (CalculatorOutput, error) {
	var result float64
	switch in.Operator {
	case "+":
		result = in.Operand1 + in.Operand2
	case "-":
		result = in.Operand1 - in.Operand2
	case "*":
		result = in.Operand1 * in.Operand2
	case "/":
		if in.Operand2 == 0 {
			return CalculatorOutput{ToolResult: schema.Failed("Division by zero is not allowed.")}, nil
		}
		result = in.Operand1 / in.Operand2
	case "^":
		result = math.Pow(in.Operand1, in.Operand2)
	default:
		return CalculatorOutput{ToolResult: schema.Failed("Unsupported operator '%s'. Use one of + - * / ^.", in.Operator)}, nil
	}

	if math.IsNaN(result) || math.IsInf(result, 0) {
		return CalculatorOutput{ToolResult: schema.Failed("Result of %v %s %v is not a finite number.", in.Operand1, in.Operator, in.Operand2)}, nil
	}
	return CalculatorOutput{ToolResult: schema.Succeeded(), Result: &result}, nil
}
