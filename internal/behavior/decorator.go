package behavior

import (
	"fmt"
)

type decorator struct {
	nodeBase
}

// Child returns the decorated node.
func (d *decorator) Child() Node { return d.children[0] }

func (d *decorator) stop(status Status) {
	child := d.children[0]
	if child.Status() == Running || (status == Invalid && child.Status() != Invalid) {
		child.stop(Invalid)
	}
	d.status = status
}

func newDecorator(d *decorator, self Node, name string, child Node) {
	if child == nil {
		panic("behavior: decorator " + name + " requires a child")
	}
	d.self = self
	d.name = name
	d.children = adopt(self, []Node{child})
	d.current = child
}

// Retry turns the failures of its child into [Running], re-ticking the child
// within the same tick, until the child has failed the given number of times.
// The failure count resets whenever the decorator is ticked while not
// running.
type Retry struct {
	decorator
	limit          int
	failures       int
	failedThisTick bool
}

// NewRetry returns a retry decorator permitting limit failures.
func NewRetry(name string, child Node, limit int) *Retry {
	r := &Retry{limit: limit}
	newDecorator(&r.decorator, r, name, child)
	return r
}

// Failures returns the number of failures since the decorator became active.
func (r *Retry) Failures() int { return r.failures }

func (r *Retry) tickSelf(visit Visitor) {
	if r.status != Running {
		r.failures = 0
	}
	tick(r.Child(), visit)
	status := r.update()
	if status != Running {
		r.stop(status)
	}
	r.status = status
	if status == Running && r.failedThisTick {
		if r.reenter() {
			r.tickSelf(visit)
			return
		}
		r.feedback += " (re-entry limit reached, deferred to next tick)"
	}
}

func (r *Retry) update() Status {
	r.failedThisTick = false
	switch r.Child().Status() {
	case Failure:
		r.failedThisTick = true
		r.failures++
		if r.failures < r.limit {
			r.feedback = fmt.Sprintf("attempt failed [status: %d failure from %d]", r.failures, r.limit)
			return Running
		}
		r.feedback = fmt.Sprintf("final failure [status: %d failure from %d]", r.failures, r.limit)
		return Failure
	case Running:
		r.feedback = fmt.Sprintf("running [status: %d failure from %d]", r.failures, r.limit)
		return Running
	case Success:
		r.feedback = fmt.Sprintf("succeeded [status: %d failure from %d]", r.failures, r.limit)
		return Success
	default:
		r.feedback = "child returned " + r.Child().Status().String()
		return Invalid
	}
}

// FailureIsRunning reports [Running] while its child fails, passing other
// statuses through.
type FailureIsRunning struct {
	decorator
}

// NewFailureIsRunning returns a decorator that converts failure to running.
func NewFailureIsRunning(name string, child Node) *FailureIsRunning {
	f := new(FailureIsRunning)
	newDecorator(&f.decorator, f, name, child)
	return f
}

func (f *FailureIsRunning) tickSelf(visit Visitor) {
	tick(f.Child(), visit)
	status := f.Child().Status()
	f.feedback = ""
	if status == Failure {
		f.feedback = "failure is running"
		status = Running
	}
	if status != Running {
		f.stop(status)
	}
	f.status = status
}
