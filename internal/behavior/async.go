package behavior

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	// DefaultRetryBudget is the number of failed operations an [Async]
	// tolerates before failing.
	DefaultRetryBudget = 3

	// Unlimited disables the retry budget.
	Unlimited = -1

	// DefaultMaxConcurrency bounds the operations an [Executor] runs at
	// once.
	DefaultMaxConcurrency = 64
)

// Operation is background work started by an [Async] leaf. It runs off the
// tick goroutine and must not touch the tree or its blackboard, other than
// through [Leaf.Post]. The context is cancelled when the leaf is
// interrupted.
type Operation func(ctx context.Context) (Status, error)

// Starter runs on the tick goroutine when an [Async] leaf needs a new
// operation. It should snapshot whatever inputs the operation needs.
type Starter func(l *Leaf) (Operation, error)

// Executor runs operations on a bounded set of goroutines.
type Executor struct {
	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	wg     sync.WaitGroup

	// mu orders wg.Add in Submit before the wg.Wait in Close.
	mu     sync.Mutex
	closed bool
}

// NewExecutor returns an executor running at most maxConcurrency operations
// at once. Operations inherit ctx.
func NewExecutor(ctx context.Context, maxConcurrency int64) *Executor {
	if ctx == nil {
		ctx = context.Background()
	}
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Executor{
		ctx:    ctx,
		cancel: cancel,
		sem:    semaphore.NewWeighted(maxConcurrency),
	}
}

// Submit starts fn in a new goroutine without blocking. It fails with
// [ErrExecutorSaturated] if no slot is free.
func (e *Executor) Submit(fn func(ctx context.Context)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrExecutorClosed
	}
	if !e.sem.TryAcquire(1) {
		return ErrExecutorSaturated
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.sem.Release(1)
		fn(e.ctx)
	}()
	return nil
}

// Wait blocks until every submitted operation has returned.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Close cancels every running operation, rejects further submissions, and
// waits for running operations to return.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()
	e.wg.Wait()
}

type task struct {
	cancel context.CancelFunc
	done   atomic.Bool
	status Status
	err    error
}

// Async adapts a background [Operation] to the synchronous poll interface of
// a leaf. It implements [Behavior], and can be embedded by behaviors that
// gate polling on their own conditions, calling [Async.Poll] from Update.
//
// At most one operation is in flight per leaf. A failed operation is retried
// on the same poll while fewer than RetryBudget operations have failed since
// the leaf became active, after which the leaf fails. A RetryBudget below
// zero retries forever.
type Async struct {
	Start       Starter
	RetryBudget int

	task   *task
	errors int
}

// NewAsync returns an Async with the default retry budget.
func NewAsync(start Starter) Async {
	return Async{Start: start, RetryBudget: DefaultRetryBudget}
}

// AsyncLeaf returns a leaf running start's operations with the given retry
// budget.
func AsyncLeaf(name string, retryBudget int, start Starter) *Leaf {
	return NewLeaf(name, &Async{Start: start, RetryBudget: retryBudget})
}

// InFlight reports whether an operation has been started and has not been
// cleared.
func (a *Async) InFlight() bool { return a.task != nil }

// Done reports whether the current operation has returned. Behaviors
// embedding Async use it after [Async.Poll] to tell a completed operation
// from one still in flight.
func (a *Async) Done() bool { return a.task != nil && a.task.done.Load() }

// Errors returns the number of failed operations since the leaf became
// active.
func (a *Async) Errors() int { return a.errors }

// Reset forgets the current operation (without cancelling it) and the error
// count, so the next poll starts a fresh operation.
func (a *Async) Reset() {
	a.task = nil
	a.errors = 0
}

func (a *Async) Initialise(l *Leaf) {
	l.feedback = ""
	a.Reset()
}

func (a *Async) Update(l *Leaf) Status {
	return a.Poll(l)
}

// Terminate cancels an in-flight operation.
func (a *Async) Terminate(l *Leaf, _ Status) {
	if a.task != nil && !a.task.done.Load() {
		l.Logger().Debug("cancelling async operation")
		a.task.cancel()
		a.task = nil
	}
}

// Poll starts an operation if none is in flight, and otherwise reports the
// outcome of the current one.
func (a *Async) Poll(l *Leaf) Status {
	if a.task == nil {
		t, err := a.start(l)
		if err != nil {
			l.Logger().Error("error creating async task", slog.Any("error", err))
			l.SetFeedback("error creating async task: %v", err)
			return Running
		}
		a.task = t
		return Running
	}
	if !a.task.done.Load() {
		return Running
	}
	if l.tree != nil {
		// mutations posted by the operation become visible before its result
		l.tree.drain()
	}
	if err := a.task.err; err != nil {
		a.errors++
		aerr := &AsyncOperationError{Node: l.name, Attempt: a.errors, Err: err}
		l.Logger().Error("async task failed", slog.Any("error", aerr))
		l.SetFeedback("async task failed: %v", err)
		if a.RetryBudget < 0 || a.errors < a.RetryBudget {
			a.task = nil
			return a.Poll(l)
		}
		return Failure
	}
	return a.task.status
}

func (a *Async) start(l *Leaf) (*task, error) {
	if a.Start == nil {
		return nil, ErrNoStarter
	}
	op, err := a.Start(l)
	if err != nil {
		return nil, err
	}
	tree := l.tree
	if tree == nil {
		return nil, ErrNotAttached
	}
	t := new(task)
	ctx, cancel := context.WithCancel(tree.executor.ctx)
	t.cancel = cancel
	name := l.name
	err = tree.executor.Submit(func(context.Context) {
		defer cancel()
		began := time.Now()
		status, err := runOperation(ctx, op)
		t.status, t.err = status, err
		t.done.Store(true)
		tree.observer.AsyncCompleted(tree.name, name, time.Since(began), err)
		tree.RequestWake()
	})
	if err != nil {
		cancel()
		return nil, err
	}
	return t, nil
}

func runOperation(ctx context.Context, op Operation) (status Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			status, err = Invalid, &PanicError{Value: r}
		}
	}()
	return op(ctx)
}
