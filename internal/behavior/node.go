package behavior

import (
	"fmt"
	"log/slog"

	"github.com/joeycumines/behavioral/internal/blackboard"
)

// Node is a behavior tree node. The set of implementations is closed:
// [*Leaf], [*Sequence], [*Selector], [*Parallel], [*Retry] and
// [*FailureIsRunning].
type Node interface {
	// Name identifies the node in logs and diagnostics. Names need not be
	// unique.
	Name() string
	// Status is the result of the node's most recent tick.
	Status() Status
	// Feedback is a human-readable diagnostic about the most recent tick.
	Feedback() string
	Parent() Node
	// Children returns a copy of the node's children.
	Children() []Node
	// CurrentChild is the child the node last delegated to, if any.
	CurrentChild() Node
	// Namespace is the blackboard namespace the node resolves keys against.
	Namespace() string
	Guard() *BehaviorGuard
	// Tree is the tree the node is attached to, or nil.
	Tree() *Tree
	// Stop interrupts the node, terminating it (and any running
	// descendants) and setting its status.
	Stop(status Status)

	base() *nodeBase
	tickSelf(visit Visitor)
	stop(status Status)
}

// Visitor observes every node visited during a tick, for diagnostics.
type Visitor func(Node)

type nodeBase struct {
	self      Node
	name      string
	status    Status
	feedback  string
	parent    Node
	children  []Node
	current   Node
	guard     *BehaviorGuard
	namespace string
	tree      *Tree

	reentryTick uint64
	reentries   int
}

func (b *nodeBase) base() *nodeBase { return b }
func (b *nodeBase) Name() string { return b.name }
func (b *nodeBase) Status() Status { return b.status }
func (b *nodeBase) Feedback() string { return b.feedback }
func (b *nodeBase) Parent() Node { return b.parent }
func (b *nodeBase) CurrentChild() Node { return b.current }
func (b *nodeBase) Namespace() string { return b.namespace }
func (b *nodeBase) Guard() *BehaviorGuard { return b.guard }
func (b *nodeBase) Tree() *Tree { return b.tree }

func (b *nodeBase) Children() []Node {
	if len(b.children) == 0 {
		return nil
	}
	return append([]Node(nil), b.children...)
}

func (b *nodeBase) Stop(status Status) { b.self.stop(status) }

// SetFeedback sets the node's diagnostic message.
func (b *nodeBase) SetFeedback(format string, args ...any) {
	if len(args) == 0 {
		b.feedback = format
		return
	}
	b.feedback = fmt.Sprintf(format, args...)
}

// Blackboard returns the blackboard of the node's tree, or nil.
func (b *nodeBase) Blackboard() *blackboard.Blackboard {
	if b.tree == nil {
		return nil
	}
	return b.tree.bb
}

// Logger returns a logger annotated with the node's name.
func (b *nodeBase) Logger() *slog.Logger {
	l := slog.Default()
	if b.tree != nil {
		l = b.tree.logger
	}
	return l.With(slog.String("node", b.name))
}

func (b *nodeBase) firstChild() Node {
	if len(b.children) == 0 {
		return nil
	}
	return b.children[0]
}

func (b *nodeBase) indexOf(n Node) int {
	for i, c := range b.children {
		if c == n {
			return i
		}
	}
	return -1
}

// reenter reports whether the node may tick itself again within the current
// external tick.
func (b *nodeBase) reenter() bool {
	limit := DefaultMaxReentry
	var tick uint64
	if b.tree != nil {
		limit = b.tree.maxReentry
		tick = b.tree.tickIndex
	}
	if b.reentryTick != tick {
		b.reentryTick = tick
		b.reentries = 0
	}
	if b.reentries >= limit {
		return false
	}
	b.reentries++
	return true
}

// Guarded attaches g to n, returning n.
func Guarded[N Node](n N, g *BehaviorGuard) N {
	n.base().guard = g
	return n
}

func adopt(parent Node, children []Node) []Node {
	p := parent.base()
	for _, c := range children {
		cb := c.base()
		if cb.parent != nil && cb.parent != parent {
			panic(fmt.Sprintf("behavior: node %q already has parent %q", cb.name, cb.parent.Name()))
		}
		cb.parent = parent
		if p.tree != nil && cb.tree == nil {
			p.tree.attach(c, p.namespace)
		}
	}
	return children
}

// tick runs one tick of n, applying its guard.
func tick(n Node, visit Visitor) {
	b := n.base()
	if g := b.guard; g != nil && g.Enter != nil {
		if verdict, ok := b.tree.evaluate(n, g.Enter, "enter"); ok {
			b.feedback = "guard enter status: " + verdict.String()
			if b.status == Running && verdict != Running {
				n.stop(verdict)
			}
			b.status = verdict
			b.current = b.firstChild()
			visit(n)
			return
		}
	}

	n.tickSelf(visit)

	g := b.guard
	if g == nil || g.Exit == nil {
		visit(n)
		return
	}
	verdict, ok := b.tree.evaluate(n, g.Exit, "exit")
	if !ok {
		visit(n)
		return
	}
	b.feedback = "guard exit status: " + verdict.String()
	if verdict == Running {
		if b.reenter() {
			tick(n, visit)
			return
		}
		b.status = Running
		b.feedback = "guard exit status: RUNNING (re-entry limit reached, deferred to next tick)"
		b.Logger().Warn("exit guard re-entry limit reached", slog.Int("limit", b.reentries))
		visit(n)
		return
	}
	if b.status == Running {
		n.stop(verdict)
	}
	b.status = verdict
	visit(n)
}

// Behavior is the user logic of a [Leaf].
//
// Initialise is called when the leaf is ticked while not [Running]. Update
// computes the leaf's status. Terminate is called whenever the leaf leaves
// the Running state, either because Update returned a non-running status or
// because the leaf was interrupted.
type Behavior interface {
	Initialise(l *Leaf)
	Update(l *Leaf) Status
	Terminate(l *Leaf, status Status)
}

// UpdateFunc adapts a function to a [Behavior] with no setup or teardown.
type UpdateFunc func(l *Leaf) Status

func (f UpdateFunc) Initialise(*Leaf) {}
func (f UpdateFunc) Update(l *Leaf) Status { return f(l) }
func (f UpdateFunc) Terminate(*Leaf, Status) {}

// Condition adapts a predicate to a [Behavior] that succeeds when it holds
// and fails otherwise.
type Condition func(l *Leaf) bool

func (f Condition) Initialise(*Leaf) {}
func (f Condition) Update(l *Leaf) Status {
	if f(l) {
		return Success
	}
	return Failure
}
func (f Condition) Terminate(*Leaf, Status) {}

// Leaf is a node without children, whose status is computed by a [Behavior].
type Leaf struct {
	nodeBase
	behavior Behavior
}

// NewLeaf returns a leaf running b.
func NewLeaf(name string, b Behavior) *Leaf {
	l := &Leaf{behavior: b}
	l.self = l
	l.name = name
	return l
}

// Behavior returns the leaf's behavior.
func (l *Leaf) Behavior() Behavior { return l.behavior }

// Get reads key from the blackboard, relative to the leaf's namespace.
func (l *Leaf) Get(key string) (any, bool) {
	bb := l.Blackboard()
	if bb == nil {
		return nil, false
	}
	return bb.Get(key, l.namespace)
}

// Set writes key to the blackboard, relative to the leaf's namespace. It must
// only be called from the tick goroutine; background work uses [Leaf.Post].
func (l *Leaf) Set(key string, value any) error {
	bb := l.Blackboard()
	if bb == nil {
		return ErrNotAttached
	}
	return bb.Set(key, value, l.namespace)
}

// Remove deletes key from the blackboard, relative to the leaf's namespace.
func (l *Leaf) Remove(key string) bool {
	bb := l.Blackboard()
	if bb == nil {
		return false
	}
	return bb.Remove(key, l.namespace)
}

// Post queues fn to run on the tick goroutine. It is safe to call from any
// goroutine.
func (l *Leaf) Post(fn func(bb *blackboard.Blackboard)) error {
	if l.tree == nil {
		return ErrNotAttached
	}
	l.tree.Post(fn)
	return nil
}

func (l *Leaf) tickSelf(Visitor) {
	if l.status != Running {
		l.behavior.Initialise(l)
	}
	status := l.behavior.Update(l)
	if !status.Valid() {
		err := &InvalidStatusError{Node: l.name, Status: status}
		l.Logger().Error("behavior returned an invalid status, setting to INVALID", slog.Any("error", err))
		status = Invalid
	}
	if status != Running {
		l.behavior.Terminate(l, status)
	}
	l.status = status
}

func (l *Leaf) stop(status Status) {
	if l.status == Running {
		l.behavior.Terminate(l, status)
	}
	l.status = status
}
