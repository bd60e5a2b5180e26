// Package sandbox executes generated plans under restriction.
//
// A plan is a short Starlark program that must define a solve() entry point.
// The execution environment predeclares exactly one symbol, tool(name,
// **args), bound to a call-quota proxy over the host's tool capability.
// Nothing else is reachable: no file system, no network, no process control,
// no module loading. The isolation guarantee is capability surface and call
// volume, not memory or CPU isolation; runaway programs are bounded by a
// wall-clock limit and an interpreter step limit.
//
// Execute never lets a fault escape: every exception, quota violation, or
// malformed return value becomes a Result with KindError.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// ErrQuotaExceeded is returned to the plan when it attempts a tool call
// beyond the configured maximum.
var ErrQuotaExceeded = errors.New("tool call quota exceeded")

const ctxLocalKey = "sandbox.ctx"

// Invoker is the single capability exposed inside the sandbox.
type Invoker interface {
	Invoke(ctx context.Context, tool string, args map[string]any) (any, error)
}

// Options bound a single plan execution.
type Options struct {
	// MaxToolCalls is the tool-call quota per plan. The (n+1)-th call fails.
	MaxToolCalls int
	// Timeout is the wall-clock bound on one execution.
	Timeout time.Duration
	// MaxExecutionSteps bounds interpreter work, catching loops that never
	// touch a tool. Zero disables the bound.
	MaxExecutionSteps uint64
	// Logger receives plan print() output and execution diagnostics.
	Logger *slog.Logger
}

// DefaultOptions returns the default execution bounds.
func DefaultOptions() Options {
	return Options{
		MaxToolCalls:      5,
		Timeout:           30 * time.Second,
		MaxExecutionSteps: 1_000_000,
	}
}

// Executor runs plans. It is stateless between executions and safe for
// concurrent use.
type Executor struct {
	opts   Options
	logger *slog.Logger
}

// NewExecutor creates an Executor with the given bounds.
func NewExecutor(opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{opts: opts, logger: logger}
}

// fileOptions returns the accepted Starlark dialect. Recursion stays
// disabled so plans cannot sidestep the step bound with deep call chains.
func fileOptions() *syntax.FileOptions {
	return &syntax.FileOptions{
		Set:             true,
		While:           true,
		TopLevelControl: true,
		GlobalReassign:  true,
	}
}

// Execute runs a plan against the capability and classifies its return
// value. All failure modes produce a KindError result; Execute never panics
// and never returns an error.
func (e *Executor) Execute(ctx context.Context, plan string, inv Invoker) Result {
	proxy := &quotaInvoker{inv: inv, max: e.opts.MaxToolCalls}

	thread := &starlark.Thread{
		Name: "plan",
		Print: func(_ *starlark.Thread, msg string) {
			e.logger.Debug("sandbox: print", "msg", msg)
		},
	}
	thread.SetLocal(ctxLocalKey, ctx)
	if e.opts.MaxExecutionSteps > 0 {
		thread.SetMaxExecutionSteps(e.opts.MaxExecutionSteps)
	}

	done := make(chan struct{})
	defer close(done)
	if e.opts.Timeout > 0 {
		timer := time.AfterFunc(e.opts.Timeout, func() {
			thread.Cancel("time limit exceeded")
		})
		defer timer.Stop()
	}
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel("context cancelled")
		case <-done:
		}
	}()

	predeclared := starlark.StringDict{
		"tool": starlark.NewBuiltin("tool", proxy.callTool),
	}

	globals, err := starlark.ExecFileOptions(fileOptions(), thread, "plan.star", plan, predeclared)
	if err != nil {
		return e.faultResult(err)
	}

	entry, ok := globals["solve"]
	if !ok {
		return errorResult("plan does not define solve()")
	}
	fn, ok := entry.(starlark.Callable)
	if !ok {
		return errorResult("solve is not callable")
	}

	value, err := starlark.Call(thread, fn, nil, nil)
	if err != nil {
		return e.faultResult(err)
	}
	return Classify(normalizeValue(value))
}

// faultResult converts an execution fault into a Result, logging the
// backtrace when one exists.
func (e *Executor) faultResult(err error) Result {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		e.logger.Debug("sandbox: execution fault", "backtrace", evalErr.Backtrace())
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return errorResult(err.Error())
	}
	return errorResult("execution fault: " + err.Error())
}

// quotaInvoker counts tool invocations for one plan execution. Plans run on
// a single Starlark thread, so no locking is needed.
type quotaInvoker struct {
	inv  Invoker
	max  int
	used int
}

// callTool implements the predeclared tool(name, **args) builtin.
func (q *quotaInvoker) callTool(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("tool: missing tool name")
	}
	name, ok := starlark.AsString(args[0])
	if !ok {
		return nil, fmt.Errorf("tool: name must be a string, got %s", args[0].Type())
	}

	toolArgs := make(map[string]any)
	if len(args) > 1 {
		dict, ok := args[1].(*starlark.Dict)
		if !ok {
			return nil, fmt.Errorf("tool: second positional argument must be a dict, got %s", args[1].Type())
		}
		for k, v := range fromStarlark(dict).(map[string]any) {
			toolArgs[k] = v
		}
	}
	for _, kv := range kwargs {
		key, _ := starlark.AsString(kv[0])
		toolArgs[key] = fromStarlark(kv[1])
	}

	if q.used >= q.max {
		return nil, fmt.Errorf("%w: limit is %d calls per plan", ErrQuotaExceeded, q.max)
	}
	q.used++

	ctx, _ := thread.Local(ctxLocalKey).(context.Context)
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := q.inv.Invoke(ctx, name, toolArgs)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", name, err)
	}
	return toStarlark(result)
}
