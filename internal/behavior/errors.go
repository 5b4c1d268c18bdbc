package behavior

import (
	"errors"
	"fmt"
)

var (
	// ErrTickInProgress is returned by [Tree.Tick] if another tick is
	// already executing, including re-entrant calls from within a tick.
	ErrTickInProgress = errors.New("behavior: tick already in progress")

	// ErrNoConstructor is reported by [Expand] when an item has no matching
	// constructor.
	ErrNoConstructor = errors.New("behavior: no constructor for item")

	// ErrExecutorSaturated is returned by [Executor.Submit] when every slot
	// is in use. Async leaves treat it as a transient start failure.
	ErrExecutorSaturated = errors.New("behavior: executor saturated")

	// ErrExecutorClosed is returned by [Executor.Submit] after
	// [Executor.Close].
	ErrExecutorClosed = errors.New("behavior: executor closed")

	// ErrNoStarter is reported by an [Async] without a [Starter].
	ErrNoStarter = errors.New("behavior: async leaf has no starter")

	// ErrNotAttached is returned by operations that require a node to belong
	// to a tree.
	ErrNotAttached = errors.New("behavior: node is not attached to a tree")
)

// GuardEvaluationError reports a predicate that failed or panicked. The guard
// it belongs to yields no verdict.
type GuardEvaluationError struct {
	Node      string
	Predicate string
	Err       error
}

func (e *GuardEvaluationError) Error() string {
	return fmt.Sprintf("guard predicate %q on node %q: %v", e.Predicate, e.Node, e.Err)
}

func (e *GuardEvaluationError) Unwrap() error { return e.Err }

// AsyncOperationError reports a failed background operation.
type AsyncOperationError struct {
	Node    string
	Attempt int
	Err     error
}

func (e *AsyncOperationError) Error() string {
	return fmt.Sprintf("async operation on node %q failed (attempt %d): %v", e.Node, e.Attempt, e.Err)
}

func (e *AsyncOperationError) Unwrap() error { return e.Err }

// InvalidStatusError reports a behavior that returned a status outside the
// defined set. This is a programming error in the behavior.
type InvalidStatusError struct {
	Node   string
	Status Status
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("node %q returned invalid status %s", e.Node, e.Status)
}

// ExpansionError reports a failed dynamic expansion.
type ExpansionError struct {
	Node string
	Item any
	Err  error
}

func (e *ExpansionError) Error() string {
	return fmt.Sprintf("expand %q item %v: %v", e.Node, e.Item, e.Err)
}

func (e *ExpansionError) Unwrap() error { return e.Err }

// PanicError wraps a value recovered from a panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
