package treespec

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/joeycumines/behavioral/internal/behavior"
	"github.com/joeycumines/behavioral/internal/conversation"
)

// BuildFunc builds a node of one kind. Builders of composites and
// decorators build their children through c.
type BuildFunc func(c *Context, n *Node) (behavior.Node, error)

// Kinds is a registry of node kinds.
//
// The zero value is ready to use.
type Kinds struct {
	mu sync.RWMutex
	m  map[string]BuildFunc
}

// NewKinds returns an empty registry.
func NewKinds() *Kinds {
	return new(Kinds)
}

// Register binds kind to fn, replacing any previous binding.
func (k *Kinds) Register(kind string, fn BuildFunc) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.m == nil {
		k.m = make(map[string]BuildFunc)
	}
	k.m[kind] = fn
}

// Lookup returns the builder bound to kind.
func (k *Kinds) Lookup(kind string) (BuildFunc, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	fn, ok := k.m[kind]
	return fn, ok
}

// Names returns the registered kinds, sorted.
func (k *Kinds) Names() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return slices.Sorted(maps.Keys(k.m))
}

// States is a registry of the state types nodes capture into, by name.
//
// The zero value is ready to use.
type States struct {
	mu sync.RWMutex
	m  map[string]func() any
}

// NewStates returns a registry of the conversation package's state types:
// "goal" ([conversation.GoalState]) and "conversation"
// ([conversation.ConversationState]).
func NewStates() *States {
	s := new(States)
	s.Register("goal", func() any { return new(conversation.GoalState) })
	s.Register("conversation", func() any { return new(conversation.ConversationState) })
	return s
}

// Register binds name to fn, which must return a pointer to a struct.
func (s *States) Register(name string, fn func() any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[string]func() any)
	}
	s.m[name] = fn
}

// Lookup returns the state constructor bound to name.
func (s *States) Lookup(name string) (func() any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.m[name]
	return fn, ok
}

// ErrUnknownKind is returned for nodes of an unregistered kind.
var ErrUnknownKind = errors.New("unknown node kind")

// NodeError locates an error in a definition.
type NodeError struct {
	Kind string
	Name string
	Line int
	Err  error
}

func (e *NodeError) Error() string {
	if e.Name != "" && e.Name != e.Kind {
		return fmt.Sprintf("line %d: %s %q: %v", e.Line, e.Kind, e.Name, e.Err)
	}
	return fmt.Sprintf("line %d: %s: %v", e.Line, e.Kind, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// Builder builds definitions.
type Builder struct {
	Kinds *Kinds
	// Predicates resolves guard checks.
	Predicates *behavior.Predicates
	// StatePredicates resolves the goal predicates of conversation_goal
	// nodes. It becomes the agent's registry.
	StatePredicates *conversation.StatePredicates
	States          *States
	// RetryErrors is the retry budget of async nodes that set none. Zero
	// uses the conversation default.
	RetryErrors int
	// Inactivity is the threshold of check_user_active nodes that set no
	// seconds.
	Inactivity time.Duration
}

// NewBuilder returns a builder with every built-in kind, the conversation
// guard predicates, the default state predicates and state types.
func NewBuilder() *Builder {
	preds := behavior.NewPredicates()
	conversation.RegisterPredicates(preds)
	return &Builder{
		Kinds:           DefaultKinds(),
		Predicates:      preds,
		StatePredicates: conversation.DefaultStatePredicates(),
		States:          NewStates(),
	}
}

// Tree is a built definition, ready to run as an agent once a model is
// set on Config.
type Tree struct {
	Name      string
	Namespace string
	Root      behavior.Node
	Config    conversation.Config
}

// Options returns the tree options the definition sets.
func (t *Tree) Options() []behavior.Option {
	var opts []behavior.Option
	if t.Name != "" {
		opts = append(opts, behavior.WithName(t.Name))
	}
	if t.Namespace != "" {
		opts = append(opts, behavior.WithNamespace(t.Namespace))
	}
	return opts
}

// Build builds def.
func (b *Builder) Build(def *Definition) (*Tree, error) {
	if def == nil || def.Root == nil {
		return nil, errors.New("treespec: definition has no root")
	}
	cfg := conversation.Config{
		GoalPrompt:                def.Agent.Goal,
		HistoryWindow:             def.Agent.History,
		StateKey:                  def.Agent.StateKey,
		CaptureOnAssistantMessage: def.Agent.CaptureOnAssistantMessage,
		Predicates:                b.StatePredicates,
	}
	if def.Agent.State != "" {
		fn, ok := b.States.Lookup(def.Agent.State)
		if !ok {
			return nil, fmt.Errorf("treespec: agent: unknown state type %q", def.Agent.State)
		}
		cfg.NewState = fn
	}

	c := &Context{builder: b, composites: make(map[string]behavior.Composite)}
	root, err := c.Build(def.Root)
	if err != nil {
		return nil, fmt.Errorf("treespec: %w", err)
	}
	if err := c.resolve(); err != nil {
		return nil, fmt.Errorf("treespec: %w", err)
	}
	return &Tree{Name: def.Name, Namespace: def.Namespace, Root: root, Config: cfg}, nil
}

// Context is the state of one build. Subtrees built by expansion get a
// context of their own.
type Context struct {
	builder    *Builder
	parent     *Context
	params     map[string]any
	composites map[string]behavior.Composite
	pending    []func() error
}

// Build builds n and its descendants.
func (c *Context) Build(n *Node) (behavior.Node, error) {
	if n == nil {
		return nil, errors.New("missing node")
	}
	fail := func(err error) error {
		var ne *NodeError
		if errors.As(err, &ne) {
			return err
		}
		return &NodeError{Kind: n.Kind, Name: n.Name, Line: n.Line(), Err: err}
	}
	fn, ok := c.builder.Kinds.Lookup(n.Kind)
	if !ok {
		return nil, fail(fmt.Errorf("%w %q", ErrUnknownKind, n.Kind))
	}
	node, err := fn(c, n)
	if err != nil {
		return nil, fail(err)
	}
	if n.Guard != nil {
		g, err := c.guard(n.Guard)
		if err != nil {
			return nil, fail(err)
		}
		node = behavior.Guarded(node, g)
	}
	if comp, ok := node.(behavior.Composite); ok && n.Name != "" {
		c.composites[n.Name] = comp
	}
	return node, nil
}

// BuildChildren builds the children of n.
func (c *Context) BuildChildren(n *Node) ([]behavior.Node, error) {
	children := make([]behavior.Node, 0, len(n.Children))
	for _, spec := range n.Children {
		child, err := c.Build(spec)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

// BuildChild builds the single child of a decorator, given as child, or
// as the only element of children.
func (c *Context) BuildChild(n *Node) (behavior.Node, error) {
	switch {
	case n.Child != nil && len(n.Children) == 0:
		return c.Build(n.Child)
	case n.Child == nil && len(n.Children) == 1:
		return c.Build(n.Children[0])
	}
	return nil, errors.New("exactly one child required")
}

// State returns the state type registered as name.
func (c *Context) State(name string) (func() any, error) {
	if name == "" {
		return nil, nil
	}
	fn, ok := c.builder.States.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown state type %q", name)
	}
	return fn, nil
}

// StatePredicate checks that name is a registered state predicate.
func (c *Context) StatePredicate(name string) error {
	if name == "" {
		return nil
	}
	if _, ok := c.builder.StatePredicates.Lookup(name); !ok {
		return fmt.Errorf("unknown state predicate %q", name)
	}
	return nil
}

// Params returns own, overlaid on the parameters inherited by the context
// (e.g. the item of an expansion).
func (c *Context) Params(own map[string]any) map[string]any {
	if len(c.params) == 0 {
		return own
	}
	out := maps.Clone(c.params)
	maps.Copy(out, own)
	return out
}

// Target calls set with the composite named name, once the whole tree is
// built. Composites of enclosing contexts are visible.
func (c *Context) Target(name string, set func(behavior.Composite)) {
	c.pending = append(c.pending, func() error {
		for ctx := c; ctx != nil; ctx = ctx.parent {
			if comp, ok := ctx.composites[name]; ok {
				set(comp)
				return nil
			}
		}
		return fmt.Errorf("no composite named %q", name)
	})
}

// RetryErrors returns n, or the builder's default retry budget if n is
// zero.
func (c *Context) RetryErrors(n int) int {
	if n == 0 {
		return c.builder.RetryErrors
	}
	return n
}

// sub returns a context for a subtree built later, inheriting params.
func (c *Context) sub(params map[string]any) *Context {
	return &Context{
		builder:    c.builder,
		parent:     c,
		params:     c.Params(params),
		composites: make(map[string]behavior.Composite),
	}
}

func (c *Context) resolve() error {
	var errs []error
	for _, fn := range c.pending {
		errs = append(errs, fn())
	}
	c.pending = nil
	return errors.Join(errs...)
}

func (c *Context) guard(g *Guard) (*behavior.BehaviorGuard, error) {
	enter, err := c.verdicts(g.Enter)
	if err != nil {
		return nil, fmt.Errorf("enter guard: %w", err)
	}
	exit, err := c.verdicts(g.Exit)
	if err != nil {
		return nil, fmt.Errorf("exit guard: %w", err)
	}
	return &behavior.BehaviorGuard{Enter: enter, Exit: exit}, nil
}

func (c *Context) verdicts(v *Verdicts) (*behavior.Guard, error) {
	if v == nil {
		return nil, nil
	}
	var g behavior.Guard
	var err error
	if g.Success, err = c.check(v.Success); err != nil {
		return nil, err
	}
	if g.Failure, err = c.check(v.Failure); err != nil {
		return nil, err
	}
	if g.Running, err = c.check(v.Running); err != nil {
		return nil, err
	}
	return &g, nil
}

func (c *Context) check(spec *Check) (*behavior.Check, error) {
	if spec == nil {
		return nil, nil
	}
	check, err := c.builder.Predicates.Check(spec.Predicate, spec.Args)
	if err != nil {
		return nil, err
	}
	if spec.Not {
		check.Name = "not " + check.Name
		check.Predicate = behavior.Not(check.Predicate)
	}
	return check, nil
}
