package behavior

import (
	"context"
	"errors"
	"testing"
	"time"

	bt "github.com/joeycumines/go-behaviortree"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/behavioral/internal/blackboard"
)

func TestTree_ReentrantTickIsRejected(t *testing.T) {
	t.Parallel()

	var inner error
	a := NewLeaf("A", UpdateFunc(func(l *Leaf) Status {
		inner = l.Tree().Tick()
		return Success
	}))
	tree := newTestTree(t, a)

	require.NoError(t, tree.Tick())
	require.ErrorIs(t, inner, ErrTickInProgress)
	require.Equal(t, uint64(1), tree.Ticks())
}

func TestTree_PostedMutationsApplyAtTickStart(t *testing.T) {
	t.Parallel()

	var order []string
	var seen any
	a := NewLeaf("A", UpdateFunc(func(l *Leaf) Status {
		order = append(order, "update")
		seen, _ = l.Get("k")
		return Success
	}))
	tree := newTestTree(t, a, WithPreTickHandler(func(*Tree) {
		order = append(order, "pre")
	}), WithPostTickHandler(func(*Tree) {
		order = append(order, "post")
	}))

	tree.Post(func(bb *blackboard.Blackboard) {
		order = append(order, "posted")
		_ = bb.Set("k", "v", "")
	})
	tree.Post(func(*blackboard.Blackboard) { panic("ignored") })
	tickN(t, tree, 1)

	require.Equal(t, []string{"posted", "pre", "update", "post"}, order)
	require.Equal(t, "v", seen)
}

func TestTree_NamespaceAndVisited(t *testing.T) {
	t.Parallel()

	a := NewLeaf("A", UpdateFunc(func(l *Leaf) Status {
		_ = l.Set("k", 1)
		return Success
	}))
	seq := NewSequence("seq", a)
	tree := newTestTree(t, seq, WithNamespace("/agent"), WithName("agent"))
	tickN(t, tree, 1)

	require.Equal(t, "agent", tree.Name())
	require.Equal(t, "/agent", a.Namespace())
	require.True(t, tree.Blackboard().Has("/agent/k", ""))
	require.Equal(t, []Node{a, seq}, tree.LastVisited())
}

func TestTree_TickContinuously(t *testing.T) {
	t.Parallel()

	t.Run("iterations", func(t *testing.T) {
		t.Parallel()
		a, sa := leaf("A", Running)
		tree := newTestTree(t, a)
		require.NoError(t, tree.TickContinuously(context.Background(), time.Millisecond, 5))
		require.Equal(t, 5, sa.updates)
		require.Equal(t, uint64(5), tree.Ticks())
	})

	t.Run("interrupt", func(t *testing.T) {
		t.Parallel()
		a, _ := leaf("A", Running)
		tree := newTestTree(t, a, WithPostTickHandler(func(tree *Tree) {
			if tree.Ticks() == 3 {
				tree.Interrupt()
			}
		}))
		require.NoError(t, tree.TickContinuously(context.Background(), time.Hour, 0))
		require.Equal(t, uint64(3), tree.Ticks())

		// the interrupt is cleared on return
		require.NoError(t, tree.TickContinuously(context.Background(), time.Millisecond, 2))
		require.Equal(t, uint64(5), tree.Ticks())
	})

	t.Run("cancel", func(t *testing.T) {
		t.Parallel()
		a, _ := leaf("A", Running)
		tree := newTestTree(t, a)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.ErrorIs(t, tree.TickContinuously(ctx, time.Hour, 0), context.Canceled)
		require.Zero(t, tree.Ticks())
	})

	t.Run("wake", func(t *testing.T) {
		t.Parallel()
		obs := new(recordingObserver)
		a, _ := leaf("A", Running)
		tree := newTestTree(t, a, WithObserver(obs))
		done := make(chan error, 1)
		go func() { done <- tree.TickContinuously(context.Background(), time.Hour, 2) }()

		var err error
		require.Eventually(t, func() bool {
			if tree.Ticks() == 0 {
				return false
			}
			tree.RequestWake()
			select {
			case err = <-done:
				return true
			default:
				return false
			}
		}, 10*time.Second, 5*time.Millisecond)
		require.NoError(t, err)
		require.Equal(t, uint64(2), tree.Ticks())
		obs.mu.Lock()
		defer obs.mu.Unlock()
		require.Positive(t, obs.wakes)
	})
}

func TestTicker_ManagedByGoBehaviortree(t *testing.T) {
	t.Parallel()

	a, _ := leaf("A", Running)
	tree := newTestTree(t, a)
	manager := bt.NewManager()
	ticker := NewTicker(context.Background(), tree, time.Millisecond, 0)
	require.NoError(t, manager.Add(ticker))

	require.Eventually(t, func() bool { return tree.Ticks() >= 3 }, 10*time.Second, time.Millisecond)
	manager.Stop()
	<-manager.Done()
	<-ticker.Done()
	require.NoError(t, ticker.Err())
	require.NoError(t, manager.Err())
}

func TestTicker_StopsAfterIterations(t *testing.T) {
	t.Parallel()

	a, _ := leaf("A", Success)
	tree := newTestTree(t, a)
	ticker := NewTicker(context.Background(), tree, time.Millisecond, 4)
	<-ticker.Done()
	require.NoError(t, ticker.Err())
	require.Equal(t, uint64(4), tree.Ticks())
	ticker.Stop()
}

func TestTree_BTNode(t *testing.T) {
	t.Parallel()

	a, _ := leaf("A", Running, Success)
	tree := newTestTree(t, a)
	node := tree.BTNode()

	status, err := node.Tick()
	require.NoError(t, err)
	require.Equal(t, bt.Running, status)

	status, err = bt.Sequence([]bt.Node{node})
	require.NoError(t, err)
	require.Equal(t, bt.Success, status)
}

func TestFromBT(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	ok := FromBT("ok", bt.New(func([]bt.Node) (bt.Status, error) { return bt.Success, nil }))
	bad := FromBT("bad", bt.New(func([]bt.Node) (bt.Status, error) { return bt.Failure, boom }))
	sel := NewSelector("sel", bad, ok)
	tickN(t, newTestTree(t, sel), 1)

	require.Equal(t, Success, sel.Status())
	require.Equal(t, Failure, bad.Status())
	require.Equal(t, "Error: boom", bad.Feedback())
}

func TestTree_Value(t *testing.T) {
	t.Parallel()

	type key struct{}
	var seen any
	l := NewLeaf("a", UpdateFunc(func(l *Leaf) Status {
		seen = l.Tree().Value(key{})
		return Success
	}))
	tree := newTestTree(t, l, WithValue(key{}, "collaborator"))
	tickN(t, tree, 1)
	require.Equal(t, "collaborator", seen)
	require.Nil(t, tree.Value("missing"))
}
