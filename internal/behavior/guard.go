package behavior

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// Args are the keyword arguments bound to a predicate when a guard is built.
type Args map[string]any

// GetString returns the argument named key, or "" if it is absent or not a
// string.
func (a Args) GetString(key string) string {
	s, _ := a[key].(string)
	return s
}

// GetFloat returns the numeric argument named key as a float64.
func (a Args) GetFloat(key string) (float64, bool) {
	switch v := a[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

// Predicate evaluates a condition against the guarded node.
type Predicate func(n Node, args Args) (bool, error)

// Check is a named predicate with its bound arguments.
type Check struct {
	Name      string
	Predicate Predicate
	Args      Args
}

// Guard yields a verdict from up to three checks, evaluated in the order
// success, failure, running. The first check that holds decides the verdict.
type Guard struct {
	Success *Check
	Failure *Check
	Running *Check
}

// BehaviorGuard pairs the guard evaluated before a node is ticked with the
// guard evaluated after.
type BehaviorGuard struct {
	Enter *Guard
	Exit  *Guard
}

// evaluate runs g against n. A failing predicate counts as not holding.
func (t *Tree) evaluate(n Node, g *Guard, phase string) (Status, bool) {
	for _, c := range []struct {
		check  *Check
		status Status
	}{
		{g.Success, Success},
		{g.Failure, Failure},
		{g.Running, Running},
	} {
		if c.check == nil || c.check.Predicate == nil {
			continue
		}
		ok, err := callPredicate(n, c.check)
		if err != nil {
			gerr := &GuardEvaluationError{Node: n.Name(), Predicate: c.check.Name, Err: err}
			n.base().Logger().Warn("guard predicate failed, treating as no verdict",
				slog.String("phase", phase),
				slog.String("verdict", c.status.String()),
				slog.Any("error", gerr))
			if t != nil {
				t.observer.GuardError(t.name, n.Name(), gerr)
			}
			continue
		}
		n.base().Logger().Debug("guard check",
			slog.String("phase", phase),
			slog.String("predicate", c.check.Name),
			slog.String("verdict", c.status.String()),
			slog.Bool("holds", ok))
		if ok {
			return c.status, true
		}
	}
	return Invalid, false
}

func callPredicate(n Node, c *Check) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, &PanicError{Value: r}
		}
	}()
	return c.Predicate(n, c.Args)
}

// Predicates is a registry of named predicates. Guards built from
// declarative definitions refer to predicates by name, never by code.
//
// The zero value is ready to use.
type Predicates struct {
	mu sync.RWMutex
	m  map[string]Predicate
}

// NewPredicates returns an empty registry.
func NewPredicates() *Predicates {
	return new(Predicates)
}

// Register binds name to p, replacing any previous binding.
func (r *Predicates) Register(name string, p Predicate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.m == nil {
		r.m = make(map[string]Predicate)
	}
	r.m[name] = p
}

// Lookup returns the predicate bound to name.
func (r *Predicates) Lookup(name string) (Predicate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.m[name]
	return p, ok
}

// Names returns the registered names, sorted.
func (r *Predicates) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.m))
}

// Check builds a [Check] for the predicate bound to name.
func (r *Predicates) Check(name string, args Args) (*Check, error) {
	p, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown predicate %q", name)
	}
	return &Check{Name: name, Predicate: p, Args: args}, nil
}

// Not returns a predicate holding when p does not. Errors pass through.
func Not(p Predicate) Predicate {
	return func(n Node, args Args) (bool, error) {
		ok, err := p(n, args)
		return !ok, err
	}
}
