package blackboard

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// identityNil is the identity recorded for nil values.
const identityNil = "nil"

// pointerPrefix marks identities of pointer-to-struct values.
const pointerPrefix = "*"

// primitiveTypes maps the identities of primitive values to their Go types.
var primitiveTypes = map[string]reflect.Type{
	"bool":    reflect.TypeFor[bool](),
	"int":     reflect.TypeFor[int](),
	"int8":    reflect.TypeFor[int8](),
	"int16":   reflect.TypeFor[int16](),
	"int32":   reflect.TypeFor[int32](),
	"int64":   reflect.TypeFor[int64](),
	"uint":    reflect.TypeFor[uint](),
	"uint8":   reflect.TypeFor[uint8](),
	"uint16":  reflect.TypeFor[uint16](),
	"uint32":  reflect.TypeFor[uint32](),
	"uint64":  reflect.TypeFor[uint64](),
	"float32": reflect.TypeFor[float32](),
	"float64": reflect.TypeFor[float64](),
	"string":  reflect.TypeFor[string](),
}

// TypeRegistry maps identities to structured record types, so that exported
// state can be decoded back into the original Go types.
//
// The zero value is ready to use.
type TypeRegistry struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

// NewTypeRegistry returns an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return new(TypeRegistry)
}

// Register associates name with the struct type T. Values of type T and *T
// are recorded under name (with a "*" prefix for pointers).
func Register[T any](r *TypeRegistry, name string) error {
	t := reflect.TypeFor[T]()
	if t.Kind() != reflect.Struct {
		return fmt.Errorf("blackboard: register %q: %s is not a struct type", name, t)
	}
	if name == "" || name == identityNil || primitiveTypes[name] != nil {
		return fmt.Errorf("blackboard: register %q: reserved or empty name", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byName == nil {
		r.byName = make(map[string]reflect.Type)
		r.byType = make(map[reflect.Type]string)
	}
	if existing, ok := r.byName[name]; ok && existing != t {
		return fmt.Errorf("blackboard: register %q: already bound to %s", name, existing)
	}
	r.byName[name] = t
	r.byType[t] = name
	return nil
}

// MustRegister is like [Register] but panics on error.
func MustRegister[T any](r *TypeRegistry, name string) {
	if err := Register[T](r, name); err != nil {
		panic(err)
	}
}

func (r *TypeRegistry) lookupName(name string) (reflect.Type, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

func (r *TypeRegistry) lookupType(t reflect.Type) (string, bool) {
	if r == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byType[t]
	return name, ok
}

// identityOf validates value and returns its identity.
func (r *TypeRegistry) identityOf(value any) (string, error) {
	if value == nil {
		return identityNil, nil
	}
	t := reflect.TypeOf(value)
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		// named primitives are stored under their underlying kind
		return t.Kind().String(), nil
	case reflect.Struct:
		return r.structIdentity(t), nil
	case reflect.Pointer:
		if t.Elem().Kind() == reflect.Struct {
			return pointerPrefix + r.structIdentity(t.Elem()), nil
		}
	}
	return "", fmt.Errorf("%w: %T", ErrUnsupportedValue, value)
}

func (r *TypeRegistry) structIdentity(t reflect.Type) string {
	if name, ok := r.lookupType(t); ok {
		return name
	}
	return t.PkgPath() + "." + t.Name()
}

// decode converts raw into a value of the type named by identity. The bool
// result is false when the identity could not be resolved.
func (r *TypeRegistry) decode(identity string, raw json.RawMessage) (any, bool, error) {
	if identity == identityNil {
		return nil, true, nil
	}
	if t, ok := primitiveTypes[identity]; ok {
		v := reflect.New(t)
		if err := json.Unmarshal(raw, v.Interface()); err != nil {
			return nil, true, err
		}
		return v.Elem().Interface(), true, nil
	}
	pointer := false
	if len(identity) > len(pointerPrefix) && identity[:len(pointerPrefix)] == pointerPrefix {
		pointer = true
		identity = identity[len(pointerPrefix):]
	}
	t, ok := r.lookupName(identity)
	if !ok {
		return nil, false, nil
	}
	v := reflect.New(t)
	if err := json.Unmarshal(raw, v.Interface()); err != nil {
		return nil, true, err
	}
	if pointer {
		return v.Interface(), true, nil
	}
	return v.Elem().Interface(), true, nil
}
