// Package behavior implements a tick engine for behavior trees that drive
// long-running conversational agents.
//
// A [Tree] owns a root [Node], a [blackboard.Blackboard], and the scheduler
// state needed to tick it: a tick counter, a coalesced wake signal, and a
// queue of deferred blackboard mutations. Nodes are one of a closed set of
// variants: [Leaf], [Sequence], [Selector], [Parallel], [Retry] and
// [FailureIsRunning]. Any node may carry a [BehaviorGuard], whose entry guard
// can short-circuit the node before its children are ticked, and whose exit
// guard can override the node's result or request a re-tick.
//
// Ticks are single threaded. Leaves that need to wait on slow work (model
// inference, tool calls, timers) use [Async], which runs an [Operation] on the
// tree's [Executor] and reports [Running] until the operation completes, at
// which point the tree is woken so the next tick happens promptly.
//
// Operations never touch the blackboard directly. They call [Leaf.Post], and
// the mutation is applied on the tick goroutine, either at the start of the
// next tick or when the owning leaf observes the operation's completion,
// whichever comes first.
//
// The package interoperates with github.com/joeycumines/go-behaviortree:
// [Status] converts to and from bt.Status, [Tree.BTNode] exposes a tree as a
// bt.Node, [FromBT] wraps a bt.Node as a leaf, and [Ticker] satisfies
// bt.Ticker so trees can be supervised by a bt.Manager.
package behavior
