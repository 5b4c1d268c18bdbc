package blackboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
)

var (
	// ErrUnsupportedValue is returned by [Blackboard.Set] for values that are
	// neither primitives, nil, nor structured records.
	ErrUnsupportedValue = errors.New("blackboard: unsupported value type")

	// ErrSerialization wraps problems encountered while importing state.
	// These are logged rather than returned, see [Blackboard.Import].
	ErrSerialization = errors.New("blackboard: serialization")
)

// Blackboard is a thread-safe, namespaced key-value store.
//
// Usage: Create with [New], or new(Blackboard) for a blackboard without a
// type registry. The internal maps are lazily initialized on first write.
type Blackboard struct {
	mu       sync.RWMutex
	data     map[string]any
	types    map[string]string
	registry *TypeRegistry
	logger   *slog.Logger
}

// Option configures a Blackboard.
type Option func(*Blackboard)

// WithTypes sets the registry used to record and resolve structured record
// identities.
func WithTypes(r *TypeRegistry) Option {
	return func(b *Blackboard) { b.registry = r }
}

// WithLogger sets the logger used to report import problems.
func WithLogger(l *slog.Logger) Option {
	return func(b *Blackboard) { b.logger = l }
}

// New returns an empty blackboard.
func New(opts ...Option) *Blackboard {
	b := new(Blackboard)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Blackboard) init() {
	if b.data == nil {
		b.data = make(map[string]any)
		b.types = make(map[string]string)
	}
}

func (b *Blackboard) log() *slog.Logger {
	if b.logger != nil {
		return b.logger
	}
	return slog.Default()
}

// Set stores value under key, resolved against namespace. The value becomes
// visible to subsequent reads immediately.
func (b *Blackboard) Set(key string, value any, namespace string) error {
	identity, err := b.registry.identityOf(value)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	abs := Resolve(namespace, key)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.init()
	b.data[abs] = value
	b.types[abs] = identity
	return nil
}

// Get returns the value stored under key, resolved against namespace.
func (b *Blackboard) Get(key, namespace string) (any, bool) {
	abs := Resolve(namespace, key)
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[abs]
	return v, ok
}

// Has reports whether key exists.
func (b *Blackboard) Has(key, namespace string) bool {
	_, ok := b.Get(key, namespace)
	return ok
}

// Remove deletes key, reporting whether it existed.
func (b *Blackboard) Remove(key, namespace string) bool {
	abs := Resolve(namespace, key)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.data[abs]; !ok {
		return false
	}
	delete(b.data, abs)
	delete(b.types, abs)
	return true
}

// Update atomically replaces the value under key with the result of fn.
// If fn returns an error, the blackboard is left unchanged.
func (b *Blackboard) Update(key, namespace string, fn func(current any, ok bool) (any, error)) error {
	abs := Resolve(namespace, key)
	b.mu.Lock()
	defer b.mu.Unlock()
	current, ok := b.data[abs]
	next, err := fn(current, ok)
	if err != nil {
		return err
	}
	identity, err := b.registry.identityOf(next)
	if err != nil {
		return fmt.Errorf("update %q: %w", key, err)
	}
	b.init()
	b.data[abs] = next
	b.types[abs] = identity
	return nil
}

// Keys returns the keys within namespace, relative to it, in sorted order.
func (b *Blackboard) Keys(namespace string) []string {
	namespace = EnsureNamespace(namespace)
	b.mu.RLock()
	defer b.mu.RUnlock()
	var keys []string
	for k := range b.data {
		if rel, ok := relative(namespace, k); ok {
			keys = append(keys, rel)
		}
	}
	slices.Sort(keys)
	return keys
}

// ToMap returns a shallow copy of the entries within namespace, keyed
// relative to it.
func (b *Blackboard) ToMap(namespace string) map[string]any {
	namespace = EnsureNamespace(namespace)
	b.mu.RLock()
	defer b.mu.RUnlock()
	result := make(map[string]any)
	for k, v := range b.data {
		if rel, ok := relative(namespace, k); ok {
			result[rel] = v
		}
	}
	return result
}

// Len returns the number of entries.
func (b *Blackboard) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Clear removes all entries.
func (b *Blackboard) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
	b.types = nil
}

// Nested returns a hierarchical view of the entries within namespace, split
// on the separator. Structured records are converted to their JSON object
// form. A key that is both a value and a prefix of other keys keeps the
// deeper entries.
func (b *Blackboard) Nested(namespace string) (map[string]any, error) {
	entries := b.ToMap(namespace)
	root := make(map[string]any)
	for _, k := range slices.Sorted(maps.Keys(entries)) {
		plain, err := toPlain(entries[k])
		if err != nil {
			return nil, fmt.Errorf("nested %q: %w", k, err)
		}
		parts := strings.Split(k, Separator)
		node := root
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[part] = child
			}
			node = child
		}
		leaf := parts[len(parts)-1]
		if _, isDir := node[leaf].(map[string]any); isDir {
			continue
		}
		node[leaf] = plain
	}
	return root, nil
}

// DebugJSON renders [Blackboard.Nested] as indented JSON.
func (b *Blackboard) DebugJSON(namespace string) (string, error) {
	nested, err := b.Nested(namespace)
	if err != nil {
		return "", err
	}
	out, err := json.MarshalIndent(nested, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func toPlain(v any) (any, error) {
	identity, err := (*TypeRegistry)(nil).identityOf(v)
	if err != nil {
		return nil, err
	}
	if _, ok := primitiveTypes[identity]; ok || identity == identityNil {
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var plain any
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, err
	}
	return plain, nil
}

// State is the serialized form of a blackboard.
type State struct {
	// Types maps absolute keys to the identity of their value.
	Types map[string]string `json:"types"`
	// Values maps absolute keys to their JSON encoded value.
	Values map[string]json.RawMessage `json:"values"`
}

// Export serializes every entry. In-flight work is never part of the state.
func (b *Blackboard) Export() (State, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	state := State{
		Types:  make(map[string]string, len(b.data)),
		Values: make(map[string]json.RawMessage, len(b.data)),
	}
	for k, v := range b.data {
		raw, err := json.Marshal(v)
		if err != nil {
			return State{}, fmt.Errorf("export %q: %w", k, err)
		}
		state.Types[k] = b.types[k]
		state.Values[k] = raw
	}
	return state, nil
}

// Import merges state into the blackboard, overwriting existing keys.
//
// Values whose identity is missing or cannot be resolved by the type
// registry are imported as their raw decoded JSON form (maps, slices and
// float64 numbers), and the problem is logged as a warning. Import only
// fails if a value is not valid JSON.
func (b *Blackboard) Import(state State) error {
	decoded := make(map[string]any, len(state.Values))
	identities := make(map[string]string, len(state.Values))
	for k, raw := range state.Values {
		identity, ok := state.Types[k]
		var (
			value    any
			resolved bool
			err      error
		)
		if ok {
			value, resolved, err = b.registry.decode(identity, raw)
			if err != nil {
				return fmt.Errorf("%w: import %q as %s: %v", ErrSerialization, k, identity, err)
			}
		}
		if !resolved {
			b.log().Warn("blackboard import: unresolved type identity, storing raw value",
				slog.String("key", k),
				slog.String("identity", identity),
				slog.Any("error", ErrSerialization))
			if err := json.Unmarshal(raw, &value); err != nil {
				return fmt.Errorf("%w: import %q: %v", ErrSerialization, k, err)
			}
			identity = rawIdentity(value)
		}
		decoded[k] = value
		identities[k] = identity
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.init()
	for k, v := range decoded {
		b.data[k] = v
		b.types[k] = identities[k]
	}
	return nil
}

// rawIdentity returns the identity of a value produced by json.Unmarshal
// into any.
func rawIdentity(v any) string {
	switch v.(type) {
	case nil:
		return identityNil
	case bool:
		return "bool"
	case float64:
		return "float64"
	case string:
		return "string"
	default:
		return "raw"
	}
}
