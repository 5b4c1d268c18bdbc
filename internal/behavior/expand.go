package behavior

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/joeycumines/behavioral/internal/blackboard"
)

// Constructor builds the subtree for one expanded item. The namespace is
// unique to the item, and every node of the returned subtree is attached to
// it.
type Constructor func(item any, namespace string) (Node, error)

// Expand is a leaf behavior that grows Target with one subtree per item read
// from the blackboard. Expansion happens only while Target has no children,
// so re-ticking an expanded tree is a no-op that succeeds.
//
// The items are the value under Key (relative to the leaf's namespace),
// optionally drilled into by the dotted Attribute path. A slice or array
// expands to its elements, and any other value (including a string) to a
// single item. Each item is built by Constructors[item] if Constructors is
// set, or by Constructor otherwise.
//
// A failing constructor fails the leaf. Subtrees built for earlier items are
// kept.
type Expand struct {
	Key          string
	Attribute    string
	Target       Composite
	Constructor  Constructor
	Constructors map[string]Constructor
}

// NewExpand returns an expansion leaf.
func NewExpand(name string, e *Expand) *Leaf {
	return NewLeaf(name, e)
}

// Expanded reports whether the target has children.
func (e *Expand) Expanded() bool {
	return len(e.Target.Children()) > 0
}

func (e *Expand) Initialise(*Leaf) {}

func (e *Expand) Terminate(*Leaf, Status) {}

func (e *Expand) Update(l *Leaf) Status {
	l.feedback = ""
	if e.Expanded() {
		return Success
	}
	if err := e.expand(l); err != nil {
		l.Logger().Error("expansion failed", slog.Any("error", err))
		l.SetFeedback("Error: %v", err)
		return Failure
	}
	return Success
}

func (e *Expand) expand(l *Leaf) error {
	if l.tree == nil {
		return ErrNotAttached
	}
	value, ok := l.Get(e.Key)
	if !ok {
		return fmt.Errorf("key %q not found in namespace %q", e.Key, l.namespace)
	}
	value, err := blackboard.Lookup(value, e.Attribute)
	if err != nil {
		return err
	}
	for i, item := range expansionItems(value) {
		ctor := e.Constructor
		if e.Constructors != nil {
			ctor = e.Constructors[fmt.Sprint(item)]
		}
		if ctor == nil {
			return &ExpansionError{Node: l.name, Item: item, Err: ErrNoConstructor}
		}
		ns := blackboard.Join(l.namespace, fmt.Sprintf("%s(%s)[%s]", l.name, itemLabel(i, item), uuid.NewString()))
		node, err := ctor(item, ns)
		if err != nil {
			return &ExpansionError{Node: l.name, Item: item, Err: err}
		}
		if node == nil {
			return &ExpansionError{Node: l.name, Item: item, Err: fmt.Errorf("constructor returned no node")}
		}
		l.tree.attach(node, ns)
		e.Target.AddChild(node)
		l.Logger().Debug("expanded item", slog.Any("item", item), slog.String("namespace", ns))
	}
	return nil
}

func expansionItems(value any) []any {
	if value == nil {
		return nil
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]any, v.Len())
		for i := range items {
			items[i] = v.Index(i).Interface()
		}
		return items
	}
	return []any{value}
}

const maxItemLabel = 32

// itemLabel names an item inside a namespace segment, as valid UTF-8 so
// that keys under the namespace survive JSON export.
func itemLabel(index int, item any) string {
	switch item.(type) {
	case string, bool, int, int64, float64:
		s := strings.ToValidUTF8(fmt.Sprint(item), "_")
		if utf8.RuneCountInString(s) > maxItemLabel {
			s = string([]rune(s)[:maxItemLabel])
		}
		return strings.ReplaceAll(s, blackboard.Separator, "_")
	}
	return fmt.Sprint(index)
}

// RemoveChildren is a leaf behavior that clears Target, interrupting any
// running children, and optionally removes ResetKey from the blackboard so
// that an [Expand] over the same target runs again.
type RemoveChildren struct {
	Target   Composite
	ResetKey string
}

// NewRemoveChildren returns a leaf clearing target.
func NewRemoveChildren(name string, target Composite, resetKey string) *Leaf {
	return NewLeaf(name, &RemoveChildren{Target: target, ResetKey: resetKey})
}

func (r *RemoveChildren) Initialise(*Leaf) {}

func (r *RemoveChildren) Terminate(*Leaf, Status) {}

func (r *RemoveChildren) Update(l *Leaf) Status {
	l.feedback = ""
	if r.Target == nil {
		l.SetFeedback("no remove target")
		return Failure
	}
	r.Target.RemoveAllChildren()
	if r.ResetKey != "" {
		l.Remove(r.ResetKey)
	}
	return Success
}
