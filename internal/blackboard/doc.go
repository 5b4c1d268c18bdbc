// Package blackboard implements the shared, namespaced key-value store that
// behaviors use to exchange state.
//
// Keys are paths. A namespace is a path that starts and ends with [Separator],
// and a key is resolved against it with [Resolve]:
//
//	"/"    + "foo"      = "/foo"
//	"/foo" + "bar"      = "/foo/bar"
//	"/foo" + "/bar"     = "/bar"
//	"/foo" + "foo/bar"  = "/foo/foo/bar"
//
// Values are restricted to primitives (bool, integers, floats, string), nil,
// and structured records (structs, or pointers to structs). Every stored value
// carries a type identity, which is what lets [Blackboard.Export] and
// [Blackboard.Import] round-trip structured records through JSON, provided
// the record types are registered with a [TypeRegistry].
//
// A Blackboard is safe for concurrent use, although within a behavior tree all
// writes happen on the tick goroutine.
package blackboard
