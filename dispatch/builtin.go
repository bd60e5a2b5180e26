package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RegisterBuiltins installs the small set of host-local tools that need no
// external server. They keep the loop usable when no MCP servers are
// configured and give tests a realistic catalog.
func RegisterBuiltins(r *Registry) {
	r.Register(RegisteredTool{
		Definition: Definition{
			Name:        "current_time",
			Description: "Return the current UTC date and time in RFC 3339 format",
		},
		Call: func(ctx context.Context, args map[string]any) (any, error) {
			return time.Now().UTC().Format(time.RFC3339), nil
		},
	})

	r.Register(RegisteredTool{
		Definition: Definition{
			Name:        "calculate",
			Description: "Evaluate a basic arithmetic expression of the form 'a op b' where op is +, -, *, or /",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"expression": map[string]any{"type": "string"},
				},
				"required": []string{"expression"},
			},
		},
		Call: calculate,
	})

	r.Register(RegisteredTool{
		Definition: Definition{
			Name:        "word_count",
			Description: "Count the words in the given text",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{"type": "string"},
				},
				"required": []string{"text"},
			},
		},
		Call: func(ctx context.Context, args map[string]any) (any, error) {
			text, _ := args["text"].(string)
			return len(strings.Fields(text)), nil
		},
	})
}

func calculate(ctx context.Context, args map[string]any) (any, error) {
	expr, _ := args["expression"].(string)
	fields := strings.Fields(expr)
	if len(fields) != 3 {
		return nil, fmt.Errorf("expression must have the form 'a op b', got %q", expr)
	}
	a, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid operand %q", fields[0])
	}
	b, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid operand %q", fields[2])
	}
	switch fields[1] {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return a / b, nil
	default:
		return nil, fmt.Errorf("unsupported operator %q", fields[1])
	}
}
