// Package planner produces generated plans for the agent loop.
//
// A plan request carries the effective input, the offered tool catalog, and
// optional priming examples from the historical index. The planner assembles
// a prompt, calls the configured LLM through gollm, and returns the cleaned
// program text. It makes no judgement about plan validity; that belongs to
// the sandbox's structural checks.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/teilomillet/gollm"

	"github.com/martinemde/stepline/history"
)

// ToolSummary describes one catalog entry for prompt assembly.
type ToolSummary struct {
	Name        string
	Description string
}

// Request carries everything a single plan generation needs.
type Request struct {
	// Input is the effective input for this step: the original query or
	// the latest forwarding text.
	Input string
	// Tools is the offered catalog; the plan may only reference these.
	Tools []ToolSummary
	// Examples are priming examples ordered by descending similarity.
	Examples []history.Match
	// Step and MaxSteps position the attempt within the run budget.
	Step     int
	MaxSteps int
}

// Config configures a Planner.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	MaxTokens   int
	Temperature float64
	Retry       RetryPolicy
	Logger      *slog.Logger
}

// Planner generates plans through a gollm-backed LLM.
type Planner struct {
	llm    gollm.LLM
	retry  RetryPolicy
	logger *slog.Logger
}

// New creates a Planner. If APIKey is empty, gollm reads it from the
// provider's environment variable.
func New(cfg Config) (*Planner, error) {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	opts := []gollm.ConfigOption{
		gollm.SetProvider(cfg.Provider),
		gollm.SetModel(cfg.Model),
		gollm.SetMaxTokens(cfg.MaxTokens),
		gollm.SetTemperature(cfg.Temperature),
		gollm.SetMaxRetries(0), // retry is handled here
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.APIKey != "" {
		opts = append(opts, gollm.SetAPIKey(cfg.APIKey))
	}
	llm, err := gollm.NewLLM(opts...)
	if err != nil {
		return nil, fmt.Errorf("create LLM for provider %s: %w", cfg.Provider, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.BaseDelay == 0 {
		retry = DefaultRetryPolicy()
	}
	return &Planner{llm: llm, retry: retry, logger: logger}, nil
}

// GeneratePlan produces the plan text for one attempt. A failure is reported
// as an error; the caller treats it like an invalid plan.
func (p *Planner) GeneratePlan(ctx context.Context, req Request) (string, error) {
	prompt := BuildPrompt(req)
	p.logger.Debug("planner: requesting plan",
		"step", req.Step, "tools", len(req.Tools), "examples", len(req.Examples))

	raw, err := Retry(ctx, p.retry, func(ctx context.Context) (string, error) {
		return p.llm.Generate(ctx, gollm.NewPrompt(prompt))
	})
	if err != nil {
		return "", fmt.Errorf("plan generation failed: %w", err)
	}
	return CleanPlan(raw), nil
}

// BuildPrompt renders the plan-generation prompt for a request.
func BuildPrompt(req Request) string {
	var sb strings.Builder

	sb.WriteString("You write short Starlark programs that solve a task by calling tools.\n")
	sb.WriteString("Define exactly one function, solve(), that returns a string.\n")
	sb.WriteString("The only available builtin is tool(name, **args); the name must be a string literal\n")
	sb.WriteString("naming one of the tools listed below. Call at most a handful of tools.\n")
	sb.WriteString("The returned string must begin with FINAL_ANSWER: when the task is complete,\n")
	sb.WriteString("or FURTHER_PROCESSING_REQUIRED: followed by the intermediate content when another pass is needed.\n\n")

	sb.WriteString("Available tools:\n")
	sb.WriteString(SummarizeTools(req.Tools))
	sb.WriteString("\n")

	if len(req.Examples) > 0 {
		sb.WriteString("Past solved queries for reference:\n")
		sb.WriteString(FormatExamples(req.Examples))
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "This is step %d of at most %d.\n\n", req.Step+1, req.MaxSteps)
	sb.WriteString("Task:\n")
	sb.WriteString(req.Input)
	sb.WriteString("\n\nRespond with only the solve() program, no commentary.\n")
	return sb.String()
}

// SummarizeTools renders the catalog as one line per tool.
func SummarizeTools(tools []ToolSummary) string {
	if len(tools) == 0 {
		return "- (none)\n"
	}
	var sb strings.Builder
	for _, t := range tools {
		desc := strings.TrimSpace(t.Description)
		if desc == "" {
			desc = "no description"
		}
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name, desc)
	}
	return sb.String()
}

const exampleAnswerLimit = 500

// FormatExamples renders priming examples, truncating long answers.
func FormatExamples(examples []history.Match) string {
	var sb strings.Builder
	for _, ex := range examples {
		answer := ex.Answer
		if len(answer) > exampleAnswerLimit {
			answer = answer[:exampleAnswerLimit] + "... [truncated]"
		}
		fmt.Fprintf(&sb, "- Past query: %s\n  Tools: %s\n  Outcome: %s\n",
			ex.Query, strings.Join(ex.ToolsUsed, ", "), answer)
	}
	return sb.String()
}

// CleanPlan strips surrounding code fences and a leading language tag from
// raw LLM output.
func CleanPlan(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.Trim(text, "`")
	text = strings.TrimSpace(text)
	for _, tag := range []string{"starlark", "python"} {
		if strings.HasPrefix(strings.ToLower(text), tag) {
			text = strings.TrimSpace(text[len(tag):])
			break
		}
	}
	return text
}
