// Package treespec loads declarative YAML behavior tree definitions and
// builds them against registries of node kinds, guard predicates and state
// types.
//
// A definition looks like:
//
//	name: receptionist
//	agent:
//	  goal: You are the receptionist of a small hotel.
//	  state: conversation
//	root:
//	  kind: selector
//	  children:
//	    - kind: respond
//	      name: farewell
//	      message: Goodbye!
//	      guard:
//	        enter:
//	          failure:
//	            predicate: blackboard_value
//	            not: true
//	            args: {variable: conversation_state.user_wants_to_end_conversation}
//	    - kind: conversation_message
//	      name: chat
//	      prompt: Help the user with their booking.
//
// Every node has a kind, an optional name, an optional guard and, for
// composites and decorators, children or a child. The remaining keys are
// options of the kind.
package treespec

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Definition is a parsed tree definition.
type Definition struct {
	Name      string `yaml:"name"`
	Namespace string `yaml:"namespace"`
	Agent     Agent  `yaml:"agent"`
	Root      *Node  `yaml:"root"`
}

// Agent configures the conversation the tree drives.
type Agent struct {
	Goal    string `yaml:"goal"`
	History int    `yaml:"history"`
	// State names a registered state type. When set, the conversation state
	// is captured into StateKey alongside the tree.
	State                     string `yaml:"state"`
	StateKey                  string `yaml:"state_key"`
	CaptureOnAssistantMessage bool   `yaml:"capture_on_assistant_message"`
}

// Node is one node of a definition.
type Node struct {
	Kind     string  `yaml:"kind"`
	Name     string  `yaml:"name"`
	Guard    *Guard  `yaml:"guard"`
	Children []*Node `yaml:"children"`
	Child    *Node   `yaml:"child"`

	raw *yaml.Node
}

// Guard holds the checks evaluated before (Enter) and after (Exit) a node
// is ticked.
type Guard struct {
	Enter *Verdicts `yaml:"enter"`
	Exit  *Verdicts `yaml:"exit"`
}

// Verdicts maps guard verdicts to the checks yielding them.
type Verdicts struct {
	Success *Check `yaml:"success"`
	Failure *Check `yaml:"failure"`
	Running *Check `yaml:"running"`
}

// Check names a registered predicate and its arguments. Not negates it.
type Check struct {
	Predicate string         `yaml:"predicate"`
	Not       bool           `yaml:"not"`
	Args      map[string]any `yaml:"args"`
}

func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	type plain Node
	if err := value.Decode((*plain)(n)); err != nil {
		return err
	}
	n.raw = value
	return nil
}

// Decode decodes the kind-specific options of n into v.
func (n *Node) Decode(v any) error {
	if n.raw == nil {
		return nil
	}
	return n.raw.Decode(v)
}

// Line returns the line n was defined at, or zero.
func (n *Node) Line() int {
	if n.raw == nil {
		return 0
	}
	return n.raw.Line
}

// Parse decodes a definition.
func Parse(data []byte) (*Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("treespec: definition is empty")
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("treespec: decode definition: %w", err)
	}
	if def.Root == nil {
		return nil, fmt.Errorf("treespec: definition has no root")
	}
	return &def, nil
}

// Read decodes a definition from r.
func Read(r io.Reader) (*Definition, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("treespec: read definition: %w", err)
	}
	return Parse(data)
}

// Load decodes the definition stored at path.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("treespec: read %s: %w", path, err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}
