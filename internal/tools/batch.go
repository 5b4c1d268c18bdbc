package tools

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joeycumines/behavioral/internal/inference"
)

// DefaultBatchConcurrency bounds the calls [RunBatch] runs at once.
const DefaultBatchConcurrency = 8

// Result is the outcome of one tool call.
type Result struct {
	Call    inference.ToolCall
	Output  string
	Err     error
	Elapsed time.Duration
}

// Text is the output reported back to the model: the tool's output, or a
// description of its error.
func (r Result) Text() string {
	if r.Err != nil {
		return "error: " + r.Err.Error()
	}
	return r.Output
}

// RunBatch runs calls concurrently, at most limit at a time (limit <= 0
// uses [DefaultBatchConcurrency]). Calls are isolated from each other: an
// error or panic in one call is recorded in its result and does not affect
// the others. Results are in the order of calls.
func RunBatch(ctx context.Context, exec Executor, calls []inference.ToolCall, limit int) []Result {
	if limit <= 0 {
		limit = DefaultBatchConcurrency
	}
	results := make([]Result, len(calls))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, call := range calls {
		g.Go(func() error {
			began := time.Now()
			out, err := execute(ctx, exec, call)
			results[i] = Result{Call: call, Output: out, Err: err, Elapsed: time.Since(began)}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func execute(ctx context.Context, exec Executor, call inference.ToolCall) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = "", fmt.Errorf("tool %q panicked: %v", call.Name, r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return exec.Execute(ctx, call.Name, call.Arguments)
}
