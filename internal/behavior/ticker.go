package behavior

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	bt "github.com/joeycumines/go-behaviortree"
)

// Ticker runs [Tree.TickContinuously] in its own goroutine. It implements
// bt.Ticker, so trees can be supervised alongside other tickers by a
// bt.Manager.
type Ticker struct {
	tree   *Tree
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	err    error
}

var _ bt.Ticker = (*Ticker)(nil)

// NewTicker starts ticking tree every period (or on wake) until ctx is
// done, Stop is called, or maxIterations ticks have run.
func NewTicker(ctx context.Context, tree *Tree, period time.Duration, maxIterations int) *Ticker {
	if ctx == nil {
		panic("behavior: nil context")
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &Ticker{
		tree:   tree,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go t.run(ctx, period, maxIterations)
	return t
}

func (t *Ticker) run(ctx context.Context, period time.Duration, maxIterations int) {
	defer close(t.done)
	defer t.cancel()
	err := t.tree.TickContinuously(ctx, period, maxIterations)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		t.tree.logger.Error("ticker stopped", slog.Any("error", err))
	}
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

// Done is closed once the ticker has stopped.
func (t *Ticker) Done() <-chan struct{} { return t.done }

// Err returns the error that stopped the ticker, if any. Cancellation is not
// an error.
func (t *Ticker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Stop halts the ticker and waits for the current tick to finish.
func (t *Ticker) Stop() {
	t.once.Do(func() {
		t.cancel()
		t.tree.RequestWake()
	})
	<-t.done
}

// BTNode exposes the tree as a go-behaviortree node. Ticking the node ticks
// the tree once and reports the root's status. A tick that is already in
// progress is reported as running.
func (t *Tree) BTNode() bt.Node {
	return bt.New(func([]bt.Node) (bt.Status, error) {
		if err := t.Tick(); err != nil {
			if errors.Is(err, ErrTickInProgress) {
				return bt.Running, nil
			}
			return bt.Failure, err
		}
		return t.root.Status().BT(), nil
	})
}

// FromBT wraps a go-behaviortree node as a leaf. Errors returned by the node
// are logged, and fail the leaf.
func FromBT(name string, node bt.Node) *Leaf {
	return NewLeaf(name, UpdateFunc(func(l *Leaf) Status {
		status, err := node.Tick()
		if err != nil {
			l.Logger().Error("go-behaviortree node failed", slog.Any("error", err))
			l.SetFeedback("Error: %v", err)
			return Failure
		}
		return FromBTStatus(status)
	}))
}
