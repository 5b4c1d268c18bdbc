package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/joeycumines/behavioral/internal/behavior"
	"github.com/joeycumines/behavioral/internal/blackboard"
	"github.com/joeycumines/behavioral/internal/inference"
	"github.com/joeycumines/behavioral/internal/tools"
)

const (
	DefaultInvokeKey     = "invoke"
	DefaultToolOutputKey = "tool_results"
	DefaultMaxToolRuns   = 10
	DefaultMaxToolCalls  = 10
)

// ToolExecution records one tool call and its output (or error text).
type ToolExecution struct {
	Call   inference.ToolCall `json:"call"`
	Output string             `json:"output"`
}

// ToolExecutions accumulates the tool calls made by a [RunTools] leaf,
// keyed by call ID.
type ToolExecutions struct {
	NumRuns    int                      `json:"num_runs"`
	Executions map[string]ToolExecution `json:"executions"`
}

// String lists the executions in call ID order, one per line, in the form
// "name(arguments) -> output".
func (e ToolExecutions) String() string {
	var sb strings.Builder
	for _, id := range slices.Sorted(maps.Keys(e.Executions)) {
		x := e.Executions[id]
		fmt.Fprintf(&sb, "%s(%s) -> %s\n", x.Call.Name, x.Call.Arguments, x.Output)
	}
	return sb.String()
}

// RunTools runs the tool calls of the [inference.Reply] stored under
// InvokeKey, concurrently, recording them under OutputKey. It fails once
// MaxRuns batches or MaxCalls calls have been run, so that a model looping
// on tool calls is cut off.
type RunTools struct {
	behavior.Async

	InvokeKey   string
	OutputKey   string
	MaxRuns     int
	MaxCalls    int
	RetryErrors int
}

// NewRunTools returns a leaf running r.
func NewRunTools(name string, r *RunTools) *behavior.Leaf {
	r.Async = behavior.Async{Start: r.start, RetryBudget: retryBudget(r.RetryErrors)}
	if r.InvokeKey == "" {
		r.InvokeKey = DefaultInvokeKey
	}
	if r.OutputKey == "" {
		r.OutputKey = DefaultToolOutputKey
	}
	if r.MaxRuns <= 0 {
		r.MaxRuns = DefaultMaxToolRuns
	}
	if r.MaxCalls <= 0 {
		r.MaxCalls = DefaultMaxToolCalls
	}
	return behavior.NewLeaf(name, r)
}

func (r *RunTools) Update(l *behavior.Leaf) behavior.Status {
	if r.InFlight() {
		return r.Poll(l)
	}
	execs := r.executions(l)
	if execs.NumRuns >= r.MaxRuns {
		l.SetFeedback("max tool runs reached")
		return behavior.Failure
	}
	if len(execs.Executions) >= r.MaxCalls {
		l.SetFeedback("max tool calls reached")
		return behavior.Failure
	}
	return r.Poll(l)
}

// executions returns a copy of the recorded executions.
func (r *RunTools) executions(l *behavior.Leaf) ToolExecutions {
	var execs ToolExecutions
	switch v, _ := l.Get(r.OutputKey); v := v.(type) {
	case ToolExecutions:
		execs = v
	case *ToolExecutions:
		if v != nil {
			execs = *v
		}
	}
	execs.Executions = maps.Clone(execs.Executions)
	if execs.Executions == nil {
		execs.Executions = make(map[string]ToolExecution)
	}
	return execs
}

func toolCalls(v any) ([]inference.ToolCall, error) {
	switch v := v.(type) {
	case inference.Reply:
		return v.ToolCalls, nil
	case *inference.Reply:
		if v != nil {
			return v.ToolCalls, nil
		}
	}
	return nil, fmt.Errorf("%T holds no tool calls", v)
}

func (r *RunTools) start(l *behavior.Leaf) (behavior.Operation, error) {
	a, ok := agentOf(l)
	if !ok {
		return nil, ErrNoAgent
	}
	if a.tools == nil {
		return nil, ErrNoTools
	}
	v, ok := l.Get(r.InvokeKey)
	if !ok {
		return nil, fmt.Errorf("no tool calls under %q", r.InvokeKey)
	}
	calls, err := toolCalls(v)
	if err != nil {
		return nil, fmt.Errorf("read tool calls under %q: %w", r.InvokeKey, err)
	}

	execs := r.executions(l)
	execs.NumRuns++
	calls = calls[:min(len(calls), max(r.MaxCalls-len(execs.Executions), 0))]
	exec, observer := a.tools, a.toolObserver
	key, maxCalls := r.OutputKey, r.MaxCalls
	return func(ctx context.Context) (behavior.Status, error) {
		l.Logger().Debug("calling tools", slog.Int("calls", len(calls)))
		for _, res := range tools.RunBatch(ctx, exec, calls, 0) {
			id := res.Call.ID
			if id == "" {
				id = fmt.Sprintf("call-%d", len(execs.Executions))
			}
			execs.Executions[id] = ToolExecution{Call: res.Call, Output: res.Text()}
			if observer != nil {
				observer.ToolCalled(res.Call.Name, res.Err)
			}
		}
		if err := postSet(l, key, execs); err != nil {
			return behavior.Invalid, err
		}
		if len(execs.Executions) >= maxCalls {
			_ = l.Post(func(*blackboard.Blackboard) { l.SetFeedback("max tool calls reached") })
			return behavior.Failure, nil
		}
		return behavior.Success, nil
	}, nil
}
