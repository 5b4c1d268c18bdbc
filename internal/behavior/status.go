package behavior

import (
	"fmt"

	bt "github.com/joeycumines/go-behaviortree"
)

// Status is the result of ticking a node.
type Status int

const (
	// Invalid is the status of a node that has not been ticked, or that was
	// interrupted.
	Invalid Status = iota
	Success
	Failure
	Running
)

// String returns the status name, e.g. "SUCCESS".
func (s Status) String() string {
	switch s {
	case Invalid:
		return "INVALID"
	case Success:
		return "SUCCESS"
	case Failure:
		return "FAILURE"
	case Running:
		return "RUNNING"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	return s >= Invalid && s <= Running
}

// Terminal reports whether s is Success or Failure.
func (s Status) Terminal() bool {
	return s == Success || s == Failure
}

// ParseStatus parses the (case sensitive, upper or lower case) name of a
// status.
func ParseStatus(name string) (Status, error) {
	switch name {
	case "INVALID", "invalid":
		return Invalid, nil
	case "SUCCESS", "success":
		return Success, nil
	case "FAILURE", "failure":
		return Failure, nil
	case "RUNNING", "running":
		return Running, nil
	}
	return Invalid, fmt.Errorf("unknown status %q", name)
}

// BT converts s to a go-behaviortree status. Invalid has no equivalent and
// maps to bt.Failure.
func (s Status) BT() bt.Status {
	switch s {
	case Success:
		return bt.Success
	case Running:
		return bt.Running
	default:
		return bt.Failure
	}
}

// FromBTStatus converts a go-behaviortree status.
func FromBTStatus(s bt.Status) Status {
	switch s {
	case bt.Success:
		return Success
	case bt.Running:
		return Running
	case bt.Failure:
		return Failure
	default:
		return Invalid
	}
}
