package conversation

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/joeycumines/behavioral/internal/behavior"
	"github.com/joeycumines/behavioral/internal/blackboard"
)

// StatePredicate evaluates a captured conversation state. It must be pure:
// it may run off the tick goroutine.
type StatePredicate func(state any) (bool, error)

// StatePredicates is a registry of named [StatePredicate]s, which goal
// behaviors refer to by name.
//
// The zero value is ready to use.
type StatePredicates struct {
	mu sync.RWMutex
	m  map[string]StatePredicate
}

// NewStatePredicates returns an empty registry.
func NewStatePredicates() *StatePredicates {
	return new(StatePredicates)
}

// DefaultStatePredicates returns a registry binding "goal_achieved" and
// "goal_failed" to the fields of [GoalState].
func DefaultStatePredicates() *StatePredicates {
	r := NewStatePredicates()
	r.Register(DefaultGoalAchieved, Field("goal_achieved"))
	r.Register(DefaultGoalFailed, Field("goal_failed"))
	return r
}

// Register binds name to p, replacing any previous binding.
func (r *StatePredicates) Register(name string, p StatePredicate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.m == nil {
		r.m = make(map[string]StatePredicate)
	}
	r.m[name] = p
}

// Lookup returns the predicate bound to name.
func (r *StatePredicates) Lookup(name string) (StatePredicate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.m[name]
	return p, ok
}

// Names returns the registered names, sorted.
func (r *StatePredicates) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.m))
}

// Eval evaluates the predicate bound to name. A nil state never satisfies
// a predicate.
func (r *StatePredicates) Eval(name string, state any) (ok bool, err error) {
	p, found := r.Lookup(name)
	if !found {
		return false, fmt.Errorf("unknown state predicate %q", name)
	}
	if state == nil {
		return false, nil
	}
	defer func() {
		if v := recover(); v != nil {
			ok, err = false, &behavior.PanicError{Value: v}
		}
	}()
	return p(state)
}

// Field returns a predicate holding when the attribute at path is truthy.
// States without the attribute do not satisfy it.
func Field(path string) StatePredicate {
	return func(state any) (bool, error) {
		v, err := blackboard.Lookup(state, path)
		if errors.Is(err, blackboard.ErrNoAttribute) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return truthy(v), nil
	}
}

// Compare returns a predicate comparing the attribute at path against
// value.
func Compare(path string, op Operator, value any) StatePredicate {
	return func(state any) (bool, error) {
		v, err := blackboard.Lookup(state, path)
		if errors.Is(err, blackboard.ErrNoAttribute) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return compare(op, v, value)
	}
}

// Guard predicate names registered by [RegisterPredicates].
const (
	PredicateBlackboardValue = "blackboard_value"
	PredicateUserActive      = "user_active"
	PredicateHasPendingInput = "has_pending_input"
	PredicateNoPendingInput  = "no_pending_input"
	PredicateHasToolCalls    = "has_tool_calls"
)

// RegisterPredicates registers the conversation guard predicates:
//
//   - blackboard_value(variable, operator, value): compares a blackboard
//     variable, see [Expression]. The operator defaults to truthy.
//   - user_active(seconds): the user sent a message within seconds, or has
//     not sent one yet.
//   - has_pending_input, no_pending_input: whether the last message is from
//     the user.
//   - has_tool_calls(variable): the reply under variable (default "invoke")
//     asks for tool calls.
func RegisterPredicates(r *behavior.Predicates) {
	r.Register(PredicateBlackboardValue, func(n behavior.Node, args behavior.Args) (bool, error) {
		op, err := ParseOperator(args.GetString("operator"))
		if err != nil {
			return false, err
		}
		value, err := lookupVariable(n, args.GetString("variable"))
		if errors.Is(err, errMissingKey) || errors.Is(err, blackboard.ErrNoAttribute) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return compare(op, value, args["value"])
	})
	r.Register(PredicateUserActive, func(n behavior.Node, args behavior.Args) (bool, error) {
		a, ok := agentOf(n)
		if !ok {
			return false, ErrNoAgent
		}
		seconds, ok := args.GetFloat("seconds")
		if !ok {
			return false, errors.New("user_active: seconds argument required")
		}
		active, _ := a.userActive(time.Duration(seconds * float64(time.Second)))
		return active, nil
	})
	r.Register(PredicateHasPendingInput, func(n behavior.Node, _ behavior.Args) (bool, error) {
		a, ok := agentOf(n)
		if !ok {
			return false, ErrNoAgent
		}
		return a.conv.HasPendingInput(), nil
	})
	r.Register(PredicateNoPendingInput, noPendingInput)
	r.Register(PredicateHasToolCalls, hasToolCalls)
}

func noPendingInput(n behavior.Node, _ behavior.Args) (bool, error) {
	a, ok := agentOf(n)
	if !ok {
		return false, ErrNoAgent
	}
	return !a.conv.HasPendingInput(), nil
}

func hasToolCalls(n behavior.Node, args behavior.Args) (bool, error) {
	variable := args.GetString("variable")
	if variable == "" {
		variable = DefaultInvokeKey
	}
	value, err := lookupVariable(n, variable)
	if errors.Is(err, errMissingKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	calls, err := toolCalls(value)
	if err != nil {
		return false, nil
	}
	return len(calls) > 0, nil
}

// userActive reports whether a message was exchanged within window, and the
// time since the last one. A conversation without messages is active.
func (a *Agent) userActive(window time.Duration) (bool, time.Duration) {
	if a.conv.Len() == 0 {
		return true, 0
	}
	elapsed := a.now().Sub(a.conv.LastMessageTime())
	return elapsed <= window, elapsed
}
