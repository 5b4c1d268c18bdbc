package blackboard

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// ErrNoAttribute is returned when an attribute path cannot be followed.
var ErrNoAttribute = errors.New("blackboard: no such attribute")

// SplitVariable splits "key.attr.path" into its key and attribute path.
func SplitVariable(variable string) (key, path string) {
	key, path, _ = strings.Cut(variable, ".")
	return key, path
}

// Lookup follows a dotted attribute path into value. Struct fields match by
// name or by json tag, maps match by string key, and slices by index. An
// empty path returns value unchanged.
func Lookup(value any, path string) (any, error) {
	if path == "" {
		return value, nil
	}
	v := reflect.ValueOf(value)
	for _, part := range strings.Split(path, ".") {
		var err error
		v, err = step(v, part)
		if err != nil {
			return nil, fmt.Errorf("%w: %q in %q", err, part, path)
		}
	}
	if !v.IsValid() {
		return nil, nil
	}
	return v.Interface(), nil
}

func step(v reflect.Value, part string) (reflect.Value, error) {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}, ErrNoAttribute
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return reflect.Value{}, ErrNoAttribute
	}
	switch v.Kind() {
	case reflect.Struct:
		if f, ok := fieldByName(v, part); ok {
			return f, nil
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String {
			e := v.MapIndex(reflect.ValueOf(part).Convert(v.Type().Key()))
			if e.IsValid() {
				return e, nil
			}
		}
	case reflect.Slice, reflect.Array:
		if i, err := strconv.Atoi(part); err == nil && i >= 0 && i < v.Len() {
			return v.Index(i), nil
		}
	}
	return reflect.Value{}, ErrNoAttribute
}

func fieldByName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := range t.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if sf.Name == name || tag == name || strings.EqualFold(sf.Name, name) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// Increment returns a copy of value with the numeric attribute at path
// increased by one. The original value is not modified, including when it is
// a pointer to a struct.
func Increment(value any, path string) (any, error) {
	if path == "" {
		return addOne(reflect.ValueOf(value))
	}
	if value == nil {
		return nil, ErrNoAttribute
	}
	orig := reflect.ValueOf(value)
	isPtr := orig.Kind() == reflect.Pointer
	src := orig
	if isPtr {
		if orig.IsNil() {
			return nil, ErrNoAttribute
		}
		src = orig.Elem()
	}
	cp := reflect.New(src.Type())
	cp.Elem().Set(src)
	target := cp.Elem()
	for _, part := range strings.Split(path, ".") {
		if target.Kind() != reflect.Struct {
			return nil, fmt.Errorf("%w: %q in %q", ErrNoAttribute, part, path)
		}
		f, ok := fieldByName(target, part)
		if !ok {
			return nil, fmt.Errorf("%w: %q in %q", ErrNoAttribute, part, path)
		}
		target = f
	}
	next, err := addOne(target)
	if err != nil {
		return nil, err
	}
	target.Set(reflect.ValueOf(next).Convert(target.Type()))
	if isPtr {
		return cp.Interface(), nil
	}
	return cp.Elem().Interface(), nil
}

func addOne(v reflect.Value) (any, error) {
	if !v.IsValid() {
		return 1, nil
	}
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := reflect.New(v.Type()).Elem()
		n.SetInt(v.Int() + 1)
		return n.Interface(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := reflect.New(v.Type()).Elem()
		n.SetUint(v.Uint() + 1)
		return n.Interface(), nil
	case reflect.Float32, reflect.Float64:
		n := reflect.New(v.Type()).Elem()
		n.SetFloat(v.Float() + 1)
		return n.Interface(), nil
	}
	return nil, fmt.Errorf("blackboard: cannot increment %s", v.Type())
}
