package tools

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/zanbei/agentx/errors"
)

type calculatorArgs struct {
	Expression string `json:"expression" jsonschema:"required" jsonschema_description:"Arithmetic expression such as (2+3)*4 or max(1, 2)"`
}

// CalculatorTool evaluates arithmetic expressions.
type CalculatorTool struct {
	name string
}

func (t *CalculatorTool) Name() string {
	if t.name == "" {
		return "calculator"
	}
	return t.name
}

func (t *CalculatorTool) Description() string {
	return "Perform calculations and mathematical operations. Args: expression (string)."
}

func (t *CalculatorTool) InputSchema() map[string]any { return SchemaFor[calculatorArgs]() }

func (t *CalculatorTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	a, err := decodeArgs[calculatorArgs](args)
	if err != nil {
		return "", err
	}
	if a.Expression == "" {
		return "", errors.New("missing or invalid 'expression' argument")
	}
	out, err := expr.Eval(a.Expression, nil)
	if err != nil {
		return "", errors.Wrapf(err, "failed to evaluate %q", a.Expression)
	}
	return fmt.Sprint(out), nil
}
