package behavior

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/behavioral/internal/blackboard"
)

// DefaultMaxReentry bounds how many times a node may re-tick itself within
// one external tick, via a running exit guard or a [Retry].
const DefaultMaxReentry = 64

// Tree owns a root node and the scheduler state used to tick it. Each tree
// is independent; several trees may run concurrently.
type Tree struct {
	name       string
	root       Node
	bb         *blackboard.Blackboard
	logger     *slog.Logger
	observer   Observer
	executor   *Executor
	ownsExec   bool
	maxReentry int
	namespace  string
	preTick    []func(*Tree)
	postTick   []func(*Tree)
	values     map[any]any

	tickMu    sync.Mutex
	tickIndex uint64
	ticks     atomic.Uint64
	visited   []Node

	postMu sync.Mutex
	posted []func(*blackboard.Blackboard)

	wakeMu sync.Mutex
	wakeCh chan struct{}
	woken  bool

	interrupted atomic.Bool
}

// Option configures a [Tree].
type Option func(*Tree)

// WithName names the tree in logs and metrics.
func WithName(name string) Option {
	return func(t *Tree) { t.name = name }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Tree) { t.logger = l }
}

// WithBlackboard sets the blackboard. The default is an empty blackboard.
func WithBlackboard(bb *blackboard.Blackboard) Option {
	return func(t *Tree) { t.bb = bb }
}

// WithObserver sets the observer notified of engine events.
func WithObserver(o Observer) Option {
	return func(t *Tree) { t.observer = o }
}

// WithExecutor sets the executor running async operations. The tree does
// not close an executor it was given.
func WithExecutor(e *Executor) Option {
	return func(t *Tree) { t.executor = e }
}

// WithMaxReentry bounds self re-ticks per node per tick.
func WithMaxReentry(n int) Option {
	return func(t *Tree) { t.maxReentry = n }
}

// WithNamespace sets the blackboard namespace of the tree's nodes.
func WithNamespace(ns string) Option {
	return func(t *Tree) { t.namespace = ns }
}

// WithPreTickHandler adds a handler run at the start of every tick, after
// queued mutations are applied.
func WithPreTickHandler(fn func(*Tree)) Option {
	return func(t *Tree) { t.preTick = append(t.preTick, fn) }
}

// WithPostTickHandler adds a handler run at the end of every tick.
func WithPostTickHandler(fn func(*Tree)) Option {
	return func(t *Tree) { t.postTick = append(t.postTick, fn) }
}

// WithValue associates value with key, for behaviors that need
// collaborators scoped to their tree. See [Tree.Value].
func WithValue(key, value any) Option {
	return func(t *Tree) {
		if t.values == nil {
			t.values = make(map[any]any)
		}
		t.values[key] = value
	}
}

// New returns a tree rooted at root, attaching every node of root to it.
func New(root Node, opts ...Option) *Tree {
	t := &Tree{
		name:       "tree",
		root:       root,
		maxReentry: DefaultMaxReentry,
		wakeCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	t.logger = t.logger.With(slog.String("tree", t.name))
	if t.bb == nil {
		t.bb = blackboard.New(blackboard.WithLogger(t.logger))
	}
	if t.observer == nil {
		t.observer = NopObserver{}
	}
	if t.executor == nil {
		t.executor = NewExecutor(context.Background(), DefaultMaxConcurrency)
		t.ownsExec = true
	}
	if t.maxReentry < 0 {
		t.maxReentry = 0
	}
	t.attach(root, t.namespace)
	return t
}

func (t *Tree) attach(n Node, namespace string) {
	b := n.base()
	b.tree = t
	b.namespace = namespace
	for _, c := range b.children {
		t.attach(c, namespace)
	}
}

// Name returns the tree's name.
func (t *Tree) Name() string { return t.name }

// Root returns the root node.
func (t *Tree) Root() Node { return t.root }

// Blackboard returns the tree's blackboard.
func (t *Tree) Blackboard() *blackboard.Blackboard { return t.bb }

// Logger returns the tree's logger.
func (t *Tree) Logger() *slog.Logger { return t.logger }

// Value returns the value associated with key by [WithValue], or nil.
func (t *Tree) Value(key any) any { return t.values[key] }

// Executor returns the executor running async operations.
func (t *Tree) Executor() *Executor { return t.executor }

// Ticks returns the number of completed ticks.
func (t *Tree) Ticks() uint64 { return t.ticks.Load() }

// LastVisited returns the nodes visited by the most recent tick, in the
// order their ticks completed. It must not be called concurrently with
// [Tree.Tick].
func (t *Tree) LastVisited() []Node {
	return append([]Node(nil), t.visited...)
}

// Tick ticks the tree once. It returns [ErrTickInProgress], without ticking,
// if a tick is already executing.
func (t *Tree) Tick() error {
	if !t.tickMu.TryLock() {
		return ErrTickInProgress
	}
	defer t.tickMu.Unlock()

	began := time.Now()
	t.tickIndex = t.ticks.Load()
	t.drain()
	for _, fn := range t.preTick {
		fn(t)
	}
	visited := t.visited[:0]
	tick(t.root, func(n Node) { visited = append(visited, n) })
	t.visited = visited
	n := t.ticks.Add(1)
	for _, fn := range t.postTick {
		fn(t)
	}
	status := t.root.Status()
	elapsed := time.Since(began)
	t.observer.TickCompleted(t.name, n, status, elapsed)
	t.logger.Debug("tick",
		slog.Uint64("tick", n),
		slog.String("status", status.String()),
		slog.Duration("elapsed", elapsed))
	return nil
}

// TickContinuously ticks the tree until ctx is done, [Tree.Interrupt] is
// called, or maxIterations ticks have run (maxIterations <= 0 ticks
// forever). Between ticks it waits for period, or until a wake is requested,
// whichever comes first. It returns nil when interrupted or when the
// iterations are exhausted.
func (t *Tree) TickContinuously(ctx context.Context, period time.Duration, maxIterations int) error {
	defer t.interrupted.Store(false)
	timer := time.NewTimer(period)
	defer timer.Stop()
	for i := 0; maxIterations <= 0 || i < maxIterations; i++ {
		if t.interrupted.Load() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.Tick(); err != nil {
			return err
		}
		if maxIterations > 0 && i == maxIterations-1 {
			break
		}
		wake := t.resetWake()
		if t.interrupted.Load() {
			return nil
		}
		timer.Reset(period)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		case <-timer.C:
		}
	}
	return nil
}

// RequestWake cuts short the current wait of [Tree.TickContinuously]. Wakes
// coalesce: any number of requests before the next wait begins wake it once.
// Requests made while a tick is executing are cleared when it completes,
// so they are delayed by at most one period.
func (t *Tree) RequestWake() {
	t.wakeMu.Lock()
	if !t.woken {
		t.woken = true
		close(t.wakeCh)
	}
	t.wakeMu.Unlock()
	t.observer.WakeRequested(t.name)
}

// resetWake clears the wake signal and returns the channel the next wake
// will close.
func (t *Tree) resetWake() <-chan struct{} {
	t.wakeMu.Lock()
	defer t.wakeMu.Unlock()
	if t.woken {
		t.wakeCh = make(chan struct{})
		t.woken = false
	}
	return t.wakeCh
}

// Interrupt halts [Tree.TickContinuously] after the current tick.
func (t *Tree) Interrupt() {
	t.interrupted.Store(true)
	t.RequestWake()
}

// Post queues fn to run against the blackboard on the tick goroutine, at the
// start of the next tick (or earlier, when an async leaf observes the
// completion of the operation that posted it). It is safe to call from any
// goroutine.
func (t *Tree) Post(fn func(*blackboard.Blackboard)) {
	t.postMu.Lock()
	t.posted = append(t.posted, fn)
	t.postMu.Unlock()
}

func (t *Tree) drain() {
	t.postMu.Lock()
	posted := t.posted
	t.posted = nil
	t.postMu.Unlock()
	for _, fn := range posted {
		t.apply(fn)
	}
}

func (t *Tree) apply(fn func(*blackboard.Blackboard)) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("posted mutation panicked", slog.Any("error", &PanicError{Value: r}))
		}
	}()
	fn(t.bb)
}

// Close cancels in-flight async operations and waits for them, if the tree
// created its own executor.
func (t *Tree) Close() {
	if t.ownsExec {
		t.executor.Close()
	}
}
