// Package steploop runs queries through a bounded plan-execute-forward loop.
//
// A run is a sequence of steps. Each step asks the planner for a Starlark
// plan, executes it in the sandbox, and classifies the result: a final answer
// ends the run, an intermediate result is forwarded as the next step's input,
// and a fault consumes a lifeline and retries within the same step. The total
// number of planner calls is bounded by steps times lifelines, so every run
// terminates with an answer, even if the finalizer has to force one.
package steploop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/martinemde/stepline/dispatch"
	"github.com/martinemde/stepline/eventlog"
	"github.com/martinemde/stepline/guardrail"
	"github.com/martinemde/stepline/history"
	"github.com/martinemde/stepline/planner"
	"github.com/martinemde/stepline/sandbox"
)

// PlanSource produces plan text for a step. *planner.Planner implements it.
type PlanSource interface {
	GeneratePlan(ctx context.Context, req planner.Request) (string, error)
}

// PlanRunner executes plan text under restriction. *sandbox.Executor
// implements it.
type PlanRunner interface {
	Execute(ctx context.Context, plan string, inv sandbox.Invoker) sandbox.Result
}

// Dispatcher is the tool capability offered to plans. Both *dispatch.Registry
// and *dispatch.MCPDispatcher implement it.
type Dispatcher interface {
	Invoke(ctx context.Context, name string, args map[string]any) (any, error)
	Catalog() []dispatch.Definition
}

// Config bounds a run.
type Config struct {
	MaxSteps            int
	MaxLifelinesPerStep int
	PrimingExamples     int
	MaxToolOutputChars  int
	CacheDisabled       bool
}

// DefaultConfig returns the default run bounds.
func DefaultConfig() Config {
	return Config{
		MaxSteps:            3,
		MaxLifelinesPerStep: 3,
		PrimingExamples:     3,
		MaxToolOutputChars:  DefaultMaxToolOutputChars,
	}
}

// Loop is the run orchestrator. It is safe for concurrent runs; per-run state
// lives on the stack of Run.
type Loop struct {
	plans   PlanSource
	runner  PlanRunner
	tools   Dispatcher
	guards  *guardrail.Engine
	index   *history.Index
	log     eventlog.Log
	emitter *EventEmitter
	logger  *slog.Logger
	config  Config
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithConfig overrides the default run bounds.
func WithConfig(cfg Config) LoopOption {
	return func(l *Loop) { l.config = cfg }
}

// WithEventLog attaches an audit log. Without one, nothing is persisted.
func WithEventLog(log eventlog.Log) LoopOption {
	return func(l *Loop) { l.log = log }
}

// WithEmitter attaches an event emitter for host applications.
func WithEmitter(e *EventEmitter) LoopOption {
	return func(l *Loop) { l.emitter = e }
}

// WithLogger sets the loop logger.
func WithLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) { l.logger = logger }
}

// New creates a Loop. The planner, runner, tool dispatcher, guardrail engine,
// and historical index are required collaborators.
func New(plans PlanSource, runner PlanRunner, tools Dispatcher, guards *guardrail.Engine, index *history.Index, opts ...LoopOption) *Loop {
	l := &Loop{
		plans:  plans,
		runner: runner,
		tools:  tools,
		guards: guards,
		index:  index,
		config: DefaultConfig(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Run processes one query to completion and always returns an answer. The
// error return covers only context cancellation and infrastructure failures
// such as a broken audit log, never a bad query or a failed plan.
func (l *Loop) Run(ctx context.Context, query string) (RunResult, error) {
	sessionID := uuid.New().String()
	l.emit(sessionID, EventRunStart, map[string]any{"query": query})

	// Input guardrails run before anything is spent on the query.
	verdict := l.guards.CheckQuery(query)
	switch verdict.Kind {
	case guardrail.Reject:
		l.emit(sessionID, EventGuardrailReject, map[string]any{"rule": verdict.Rule})
		return RunResult{
			SessionID: sessionID,
			Answer:    verdict.Text,
			Outcome:   OutcomeRejected,
		}, nil
	case guardrail.Defer:
		l.emit(sessionID, EventGuardrailDefer, map[string]any{"rule": verdict.Rule})
	}

	// A hard cache hit replays the stored answer without planning.
	if !l.config.CacheDisabled {
		if match, ok := l.index.Lookup(query); ok {
			l.emit(sessionID, EventCacheHit, map[string]any{
				"matched":    match.Query,
				"similarity": match.Similarity,
			})
			if err := l.audit(ctx, eventlog.NewRunStart(sessionID, query)); err != nil {
				return RunResult{}, err
			}
			if err := l.audit(ctx, eventlog.NewFinalAnswer(sessionID, match.Answer, true)); err != nil {
				return RunResult{}, err
			}
			return RunResult{
				SessionID:  sessionID,
				Answer:     match.Answer,
				Outcome:    OutcomeAnswered,
				CacheHit:   true,
				Similarity: match.Similarity,
			}, nil
		}
	}

	if err := l.audit(ctx, eventlog.NewRunStart(sessionID, query)); err != nil {
		return RunResult{}, err
	}

	effective := query
	if verdict.Kind == guardrail.Defer {
		effective = verdict.Text
	}

	maxOutput := l.config.MaxToolOutputChars
	if maxOutput == 0 {
		maxOutput = DefaultMaxToolOutputChars
	}
	inv := &runInvoker{tools: l.tools, log: l.log, sessionID: sessionID, maxOutput: maxOutput}
	catalog := l.tools.Catalog()
	summaries := make([]planner.ToolSummary, len(catalog))
	allowed := make([]string, len(catalog))
	for i, def := range catalog {
		summaries[i] = planner.ToolSummary{Name: def.Name, Description: def.Description}
		allowed[i] = def.Name
	}

	forwarded := 0
	lastContent := ""
	steps := 0
	var forwardSigs []string

	for step := 0; step < l.config.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return RunResult{}, err
		}
		steps = step + 1
		l.emit(sessionID, EventStepStart, map[string]any{"step": step})

		res, ok := l.runStep(ctx, sessionID, planner.Request{
			Input:    effective,
			Tools:    summaries,
			Examples: l.primingExamples(query),
			Step:     step,
			MaxSteps: l.config.MaxSteps,
		}, allowed, inv)
		if !ok {
			// Every lifeline in this step failed. The next step retries
			// with the same effective input.
			l.emit(sessionID, EventLifelinesExhausted, map[string]any{"step": step})
			continue
		}

		switch res.Kind {
		case sandbox.KindFinal:
			res = l.screenFinal(sessionID, query, res)
			if res.Kind == sandbox.KindFinal {
				return l.finish(ctx, sessionID, query, RunResult{
					SessionID: sessionID,
					Answer:    res.Text,
					Outcome:   OutcomeAnswered,
					Steps:     steps,
				}, inv)
			}
			fallthrough

		case sandbox.KindFurther:
			forwarded++
			forwardSigs = append(forwardSigs, forwardSignature(res.Text))
			if detectForwardLoop(forwardSigs) {
				// The run keeps producing the same intermediate result and
				// will never converge on its own.
				l.emit(sessionID, EventForcedFinalize, map[string]any{
					"step": step, "reason": "forwarding_loop",
				})
				return l.finish(ctx, sessionID, query, RunResult{
					SessionID: sessionID,
					Answer:    Finalize(query, res.Text),
					Outcome:   OutcomeExhausted,
					Steps:     steps,
					Forced:    true,
				}, inv)
			}
			if forwarded > l.config.MaxSteps-1 {
				// Forwarding cap reached; finalize inline instead of letting
				// the content bounce forever.
				l.emit(sessionID, EventForcedFinalize, map[string]any{"step": step})
				return l.finish(ctx, sessionID, query, RunResult{
					SessionID: sessionID,
					Answer:    Finalize(query, res.Text),
					Outcome:   OutcomeExhausted,
					Steps:     steps,
					Forced:    true,
				}, inv)
			}
			lastContent = res.Text
			effective = ForwardingInput(query, res.Text)
			l.emit(sessionID, EventForwarded, map[string]any{
				"step":  step,
				"chars": len(res.Text),
			})
		}
	}

	// Step budget exhausted. Force an answer from whatever accumulated.
	answer := Finalize(query, lastContent)
	outcome := OutcomeExhausted
	if lastContent == "" {
		outcome = OutcomeFailed
	}
	l.emit(sessionID, EventForcedFinalize, map[string]any{"steps": steps})
	return l.finish(ctx, sessionID, query, RunResult{
		SessionID: sessionID,
		Answer:    answer,
		Outcome:   outcome,
		Steps:     steps,
		Forced:    true,
	}, inv)
}

// runStep spends up to the lifeline budget producing one classified result.
// It reports false when every lifeline was consumed without a usable result.
func (l *Loop) runStep(ctx context.Context, sessionID string, req planner.Request, allowed []string, inv sandbox.Invoker) (sandbox.Result, bool) {
	for lifeline := 0; lifeline < l.config.MaxLifelinesPerStep; lifeline++ {
		if ctx.Err() != nil {
			return sandbox.Result{}, false
		}

		plan, err := l.plans.GeneratePlan(ctx, req)
		if err != nil {
			l.logger.Warn("plan generation failed",
				"session", sessionID, "step", req.Step, "lifeline", lifeline, "err", err)
			l.emit(sessionID, EventError, map[string]any{"error": err.Error()})
			continue
		}
		l.emit(sessionID, EventPlanGenerated, map[string]any{
			"step": req.Step, "lifeline": lifeline, "chars": len(plan),
		})

		// Planners sometimes answer directly instead of writing a program.
		if !sandbox.HasEntryPoint(plan) {
			if direct, ok := sandbox.DirectResult(plan); ok {
				return direct, true
			}
		}

		if err := sandbox.CheckPlan(plan, allowed); err != nil {
			l.logger.Debug("plan rejected",
				"session", sessionID, "step", req.Step, "lifeline", lifeline, "err", err)
			l.emit(sessionID, EventPlanRejected, map[string]any{"error": err.Error()})
			continue
		}

		res := l.runner.Execute(ctx, plan, inv)
		if res.Kind == sandbox.KindError {
			l.logger.Debug("plan execution failed",
				"session", sessionID, "step", req.Step, "lifeline", lifeline, "err", res.Text)
			l.emit(sessionID, EventError, map[string]any{"error": res.Text})
			continue
		}
		return res, true
	}
	return sandbox.Result{}, false
}

// screenFinal runs output guardrails over a final answer. A transformed
// verdict is reclassified: masking keeps the answer final, demotion turns it
// back into forwarding content.
func (l *Loop) screenFinal(sessionID, query string, res sandbox.Result) sandbox.Result {
	verdict := l.guards.CheckResult(query, res.Wire())
	if verdict.Kind != guardrail.Transform {
		return res
	}
	l.emit(sessionID, EventResultDemoted, map[string]any{"rule": verdict.Rule})
	return sandbox.Classify(verdict.Text)
}

// finish records the final answer in the audit log and, for clean answers,
// the historical index.
func (l *Loop) finish(ctx context.Context, sessionID, query string, result RunResult, inv *runInvoker) (RunResult, error) {
	success := result.Outcome == OutcomeAnswered
	if err := l.audit(ctx, eventlog.NewFinalAnswer(sessionID, result.Answer, success)); err != nil {
		return RunResult{}, err
	}

	if success && !l.config.CacheDisabled {
		added, err := l.index.Record(ctx, history.Example{
			SessionID: sessionID,
			TurnIndex: 0,
			Query:     query,
			Answer:    result.Answer,
			ToolsUsed: inv.toolsUsed(),
			Success:   true,
		})
		if err != nil {
			l.logger.Warn("failed to record example", "session", sessionID, "err", err)
		} else if added {
			l.logger.Debug("recorded example", "session", sessionID)
		}
	}

	l.emit(sessionID, EventRunEnd, map[string]any{
		"outcome": string(result.Outcome),
		"steps":   result.Steps,
	})
	return result, nil
}

func (l *Loop) primingExamples(query string) []history.Match {
	if l.config.CacheDisabled || l.config.PrimingExamples <= 0 {
		return nil
	}
	return l.index.PrimingExamples(query, l.config.PrimingExamples)
}

func (l *Loop) emit(sessionID string, kind EventKind, data map[string]any) {
	if l.emitter != nil {
		l.emitter.Emit(sessionID, kind, data)
	}
}

func (l *Loop) audit(ctx context.Context, e eventlog.Entry) error {
	if l.log == nil {
		return nil
	}
	if err := l.log.Append(ctx, e); err != nil {
		return fmt.Errorf("audit log: %w", err)
	}
	return nil
}

// ForwardingInput builds the next step's effective input from the original
// task and forwarded content.
func ForwardingInput(original, content string) string {
	return fmt.Sprintf(
		"Original task: %s\n\nIntermediate result from the previous step:\n\n%s\n\nContinue from here and finish the task.",
		original, content)
}

// runInvoker wraps the dispatcher for one run: every call is audited and the
// names of successful tools are collected for the historical record.
type runInvoker struct {
	tools     Dispatcher
	log       eventlog.Log
	sessionID string
	maxOutput int

	mu   sync.Mutex
	used []string
}

// Invoke implements sandbox.Invoker.
func (r *runInvoker) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	if r.log != nil {
		if err := r.log.Append(ctx, eventlog.NewToolCall(r.sessionID, name, args)); err != nil {
			return nil, fmt.Errorf("audit log: %w", err)
		}
	}

	out, err := r.tools.Invoke(ctx, name, args)

	output := ""
	if err != nil {
		output = err.Error()
	} else {
		output = fmt.Sprint(out)
	}
	if r.log != nil {
		if logErr := r.log.Append(ctx, eventlog.NewToolOutput(r.sessionID, name, output, err == nil)); logErr != nil {
			return nil, fmt.Errorf("audit log: %w", logErr)
		}
	}
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.used = append(r.used, name)
	r.mu.Unlock()

	// The plan sees a bounded view; the audit log above kept the full output.
	if s, ok := out.(string); ok {
		return TruncateOutput(s, r.maxOutput), nil
	}
	return out, nil
}

// toolsUsed returns the distinct tools that succeeded, in first-use order.
func (r *runInvoker) toolsUsed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, name := range r.used {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}
