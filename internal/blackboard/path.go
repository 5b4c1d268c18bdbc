package blackboard

import (
	"strings"
)

// Separator delimits namespace segments in keys.
const Separator = "/"

// EnsureNamespace coerces namespace so that it starts and ends with the
// separator. The empty namespace is the root namespace.
func EnsureNamespace(namespace string) string {
	if !strings.HasPrefix(namespace, Separator) {
		namespace = Separator + namespace
	}
	if !strings.HasSuffix(namespace, Separator) {
		namespace += Separator
	}
	return namespace
}

// Resolve returns the absolute key for key within namespace. Keys that are
// already absolute (start with the separator) bypass the namespace.
func Resolve(namespace, key string) string {
	namespace = EnsureNamespace(namespace)
	if strings.HasPrefix(key, Separator) {
		return key
	}
	return namespace + strings.Trim(key, Separator)
}

// Join appends segment to namespace, returning a namespace without the
// trailing separator, e.g. Join("/a", "b") = "/a/b".
func Join(namespace, segment string) string {
	return strings.TrimSuffix(EnsureNamespace(namespace), Separator) + Separator + strings.Trim(segment, Separator)
}

// relative strips namespace from an absolute key, reporting whether the key
// was inside it.
func relative(namespace, key string) (string, bool) {
	if !strings.HasPrefix(key, namespace) {
		return "", false
	}
	return strings.TrimPrefix(key, namespace), true
}
