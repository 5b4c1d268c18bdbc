package behavior

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// Composite is a node whose children can be changed after construction.
// Dynamic expansion targets composites.
type Composite interface {
	Node
	AddChild(child Node)
	AddChildren(children ...Node)
	RemoveChild(child Node) bool
	RemoveAllChildren()
}

type composite struct {
	nodeBase
}

// AddChild appends child. If the composite is attached to a tree, child is
// attached in the composite's namespace (unless it is already attached).
func (c *composite) AddChild(child Node) {
	c.children = append(c.children, adopt(c.self, []Node{child})...)
}

// AddChildren appends children in order.
func (c *composite) AddChildren(children ...Node) {
	c.children = append(c.children, adopt(c.self, children)...)
}

// RemoveChild removes child, interrupting it if it is running.
func (c *composite) RemoveChild(child Node) bool {
	i := c.indexOf(child)
	if i < 0 {
		return false
	}
	if child.Status() == Running {
		child.stop(Invalid)
	}
	child.base().parent = nil
	c.children = slices.Delete(c.children, i, i+1)
	if c.current == child {
		c.current = nil
	}
	return true
}

// RemoveAllChildren removes every child, interrupting any that are running.
func (c *composite) RemoveAllChildren() {
	for _, child := range c.children {
		if child.Status() == Running {
			child.stop(Invalid)
		}
		child.base().parent = nil
	}
	c.children = nil
	c.current = nil
}

// stop interrupts running children. Stopping with Invalid resets every
// child.
func (c *composite) stop(status Status) {
	for _, child := range c.children {
		if status == Invalid {
			if child.Status() != Invalid {
				child.stop(Invalid)
			}
		} else if child.Status() == Running {
			child.stop(Invalid)
		}
	}
	if status == Invalid {
		c.current = nil
	}
	c.status = status
}

// invalidate stops every child from index from onward that is not already
// Invalid.
func (c *composite) invalidate(from int) {
	for _, child := range c.children[from:] {
		if child.Status() != Invalid {
			child.stop(Invalid)
		}
	}
}

// Sequence ticks its children in order, failing at the first child that
// fails and suspending at the first child that is running. It succeeds when
// every child succeeds, including when it has no children.
//
// With memory (the default) a running sequence resumes from the running
// child. Without memory it restarts from the first child on every tick.
type Sequence struct {
	composite
	memory bool
}

// NewSequence returns a sequence with memory.
func NewSequence(name string, children ...Node) *Sequence {
	s := &Sequence{memory: true}
	s.self = s
	s.name = name
	s.AddChildren(children...)
	return s
}

// WithMemory sets whether the sequence resumes from its running child.
func (s *Sequence) WithMemory(memory bool) *Sequence {
	s.memory = memory
	return s
}

// Memory reports whether the sequence resumes from its running child.
func (s *Sequence) Memory() bool { return s.memory }

func (s *Sequence) tickSelf(visit Visitor) {
	if s.status != Running {
		s.current = s.firstChild()
		s.invalidate(0)
	} else if !s.memory {
		s.current = s.firstChild()
	}
	if len(s.children) == 0 {
		s.current = nil
		s.status = Success
		return
	}
	index := max(s.indexOf(s.current), 0)
	for i := index; i < len(s.children); i++ {
		child := s.children[i]
		s.current = child
		tick(child, visit)
		if status := child.Status(); status != Success {
			if !s.memory {
				s.invalidate(i + 1)
			}
			s.status = status
			return
		}
	}
	s.status = Success
}

// Selector ticks its children in order until one succeeds or is running,
// adopting that child's status. It fails when every child fails, including
// when it has no children. The names of the children that failed are
// recorded in the selector's feedback.
//
// With memory (the default) a running selector resumes from the running
// child; without memory, higher priority children are re-evaluated every
// tick, and a lower priority child that was running is interrupted when a
// higher priority child succeeds or starts running.
type Selector struct {
	composite
	memory bool
}

// NewSelector returns a selector with memory.
func NewSelector(name string, children ...Node) *Selector {
	s := &Selector{memory: true}
	s.self = s
	s.name = name
	s.AddChildren(children...)
	return s
}

// WithMemory sets whether the selector resumes from its running child.
func (s *Selector) WithMemory(memory bool) *Selector {
	s.memory = memory
	return s
}

// Memory reports whether the selector resumes from its running child.
func (s *Selector) Memory() bool { return s.memory }

func (s *Selector) tickSelf(visit Visitor) {
	s.feedback = ""
	if len(s.children) == 0 {
		s.current = nil
		s.status = Failure
		return
	}
	previous := s.current
	index := 0
	if s.memory && s.status == Running {
		index = max(s.indexOf(s.current), 0)
	}
	var failed []string
	for i := index; i < len(s.children); i++ {
		child := s.children[i]
		tick(child, visit)
		status := child.Status()
		if status == Running || status == Success {
			s.current = child
			s.status = status
			if previous != child {
				s.invalidate(i + 1)
			}
			if len(failed) > 0 {
				s.feedback = "failed: " + strings.Join(failed, ", ")
			}
			return
		}
		failed = append(failed, child.Name())
	}
	s.current = s.children[len(s.children)-1]
	s.feedback = "all children failed: " + strings.Join(failed, ", ")
	s.stop(Failure)
}

// Policy decides when a [Parallel] succeeds.
type Policy struct {
	kind     policyKind
	selected []string
}

type policyKind int

const (
	policyAll policyKind = iota
	policyOne
	policySelected
)

// SuccessOnAll succeeds when every child succeeds.
func SuccessOnAll() Policy { return Policy{kind: policyAll} }

// SuccessOnOne succeeds when at least one child succeeds.
func SuccessOnOne() Policy { return Policy{kind: policyOne} }

// SuccessOnSelected succeeds when every child with one of the given names
// succeeds.
func SuccessOnSelected(names ...string) Policy {
	return Policy{kind: policySelected, selected: names}
}

// String describes the policy.
func (p Policy) String() string {
	switch p.kind {
	case policyOne:
		return "SuccessOnOne"
	case policySelected:
		return "SuccessOnSelected(" + strings.Join(p.selected, ", ") + ")"
	default:
		return "SuccessOnAll"
	}
}

// Parallel ticks every child on every tick. It fails as soon as any child
// fails (including a child left Invalid by a bad update, or a child named
// by the policy that does not exist), succeeds when its [Policy] is
// satisfied, and is running otherwise.
// When it settles, children that are still running are interrupted.
type Parallel struct {
	composite
	policy Policy
}

// NewParallel returns a parallel with the given policy.
func NewParallel(name string, policy Policy, children ...Node) *Parallel {
	p := &Parallel{policy: policy}
	p.self = p
	p.name = name
	p.AddChildren(children...)
	return p
}

// Policy returns the success policy.
func (p *Parallel) Policy() Policy { return p.policy }

func (p *Parallel) tickSelf(visit Visitor) {
	p.feedback = ""
	for _, child := range p.children {
		p.current = child
		tick(child, visit)
	}
	status := p.decide()
	if status != Running {
		p.stop(status)
		return
	}
	p.status = status
}

func (p *Parallel) child(name string) Node {
	for _, c := range p.children {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

func (p *Parallel) decide() Status {
	if len(p.children) == 0 {
		return Success
	}
	succeeded := 0
	for _, child := range p.children {
		switch child.Status() {
		case Failure, Invalid:
			// Invalid here means the child's update was coerced
			return Failure
		case Success:
			succeeded++
		}
	}
	switch p.policy.kind {
	case policyOne:
		if succeeded > 0 {
			return Success
		}
	case policySelected:
		for _, name := range p.policy.selected {
			child := p.child(name)
			if child == nil {
				p.feedback = fmt.Sprintf("selected child %q not found", name)
				p.Logger().Warn("parallel policy selects a missing child", slog.String("child", name))
				return Failure
			}
			if child.Status() != Success {
				return Running
			}
		}
		return Success
	default:
		if succeeded == len(p.children) {
			return Success
		}
	}
	return Running
}
