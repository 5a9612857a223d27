package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/fokalhq/fokal/internal/policy"
)

// maxStackFrames caps the diagnostic stack retained on a handler panic.
const maxStackFrames = 8

// Executor is the single choke point through which every tool call passes.
//
// Its load-bearing guarantee: Execute never panics and never returns an
// error. Every outcome, including malformed arguments, unknown tools, empty
// handler data, handler errors, and handler panics, is normalized into one
// structured Result. Planners and gateways downstream assume this shape.
type Executor struct {
	registry *Registry
	logger   *slog.Logger
	observer ExecutionObserver
}

// ExecutionObserver receives a callback per execution for metrics.
// Implementations must be safe for concurrent use.
type ExecutionObserver interface {
	ToolExecuted(tool, outcome string)
}

// NewExecutor creates a tool executor over the given registry.
func NewExecutor(registry *Registry, logger *slog.Logger) *Executor {
	return &Executor{registry: registry, logger: logger}
}

// WithObserver attaches an execution observer (nil = disabled).
func (e *Executor) WithObserver(obs ExecutionObserver) *Executor {
	e.observer = obs
	return e
}

// Execute parses raw arguments, looks up the tool, and invokes its handler,
// normalizing every outcome into a Result.
func (e *Executor) Execute(ctx context.Context, ectx *policy.ExecutionContext, name string, rawArgs json.RawMessage) Result {
	args, ok := parseArgs(rawArgs)
	if !ok {
		e.logger.WarnContext(ctx, "tool arguments unparsable",
			slog.String("tool", name),
			slog.String("tenant_id", ectx.TenantID),
		)
		return e.observed(name, Failure(name, ErrCodeBadJSONArgs,
			fmt.Sprintf("arguments for tool %s were not valid JSON", name)))
	}
	return e.observed(name, e.ExecuteParsed(ctx, ectx, name, args))
}

// ExecuteParsed is Execute for callers that already hold decoded arguments.
func (e *Executor) ExecuteParsed(ctx context.Context, ectx *policy.ExecutionContext, name string, args map[string]any) Result {
	tool := e.registry.Get(name)
	if tool == nil {
		e.logger.WarnContext(ctx, "unknown tool requested",
			slog.String("tool", name),
			slog.String("tenant_id", ectx.TenantID),
		)
		return Failure(name, ErrCodeUnknownTool,
			fmt.Sprintf("no tool named %s is registered", name))
	}

	if err := tool.Validate(args); err != nil {
		return Failure(name, err.Error(),
			fmt.Sprintf("invalid arguments for tool %s", name))
	}

	data, err := e.invoke(ctx, ectx, tool, args)
	if err != nil {
		return e.failureFromError(ctx, name, err)
	}

	if isEmpty(data) {
		return Failure(name, ErrCodeEmptyResult,
			fmt.Sprintf("tool %s returned no data; check the filters and try again", name))
	}

	return Result{OK: true, Data: data, Name: name}
}

// invoke calls the handler, converting a panic into an error carrying the
// first few stack frames.
func (e *Executor) invoke(ctx context.Context, ectx *policy.ExecutionContext, tool Tool, args map[string]any) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			frames := stackFrames(maxStackFrames)
			e.logger.ErrorContext(ctx, "tool handler panicked",
				slog.String("tool", tool.Name()),
				slog.Any("panic", r),
			)
			err = &panicError{value: r, frames: frames}
		}
	}()
	return tool.Execute(ctx, ectx, args)
}

// failureFromError rewrites known causes to stable codes and passes the rest
// through with the original message.
func (e *Executor) failureFromError(ctx context.Context, name string, err error) Result {
	raw := err.Error()

	res := Result{OK: false, Name: name}
	if code, message, ok := Classify(raw); ok {
		res.Error = code
		res.Detail = message
	} else {
		res.Error = raw
	}
	var pe *panicError
	if errors.As(err, &pe) {
		res.Frames = pe.frames
	}

	e.logger.WarnContext(ctx, "tool execution failed",
		slog.String("tool", name),
		slog.String("error", res.Error),
	)
	return res
}

func (e *Executor) observed(name string, r Result) Result {
	if e.observer != nil {
		outcome := "success"
		if !r.OK {
			outcome = "failure"
		}
		e.observer.ToolExecuted(name, outcome)
	}
	return r
}

// parseArgs decodes raw JSON arguments. Missing or empty payloads decode to
// an empty argument map; anything non-empty must be a JSON object.
func parseArgs(raw json.RawMessage) (map[string]any, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return map[string]any{}, true
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, false
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, true
}

type panicError struct {
	value  any
	frames []string
}

func (p *panicError) Error() string {
	return fmt.Sprintf("handler panic: %v", p.value)
}

func stackFrames(max int) []string {
	lines := strings.Split(string(debug.Stack()), "\n")
	if len(lines) > max {
		lines = lines[:max]
	}
	return lines
}
