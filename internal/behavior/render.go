package behavior

import (
	"fmt"
	"strings"
)

// Render returns an indented text rendering of the subtree at n, with each
// node's status and feedback.
func Render(n Node) string {
	var sb strings.Builder
	render(&sb, n, 0)
	return sb.String()
}

func render(sb *strings.Builder, n Node, depth int) {
	sb.WriteString(strings.Repeat("    ", depth))
	fmt.Fprintf(sb, "%s %s [%s]", marker(n), n.Name(), n.Status())
	if f := n.Feedback(); f != "" {
		fmt.Fprintf(sb, " -- %s", f)
	}
	sb.WriteByte('\n')
	for _, c := range n.Children() {
		render(sb, c, depth+1)
	}
}

func marker(n Node) string {
	switch v := n.(type) {
	case *Sequence:
		return "[-]"
	case *Selector:
		return "[o]"
	case *Parallel:
		return "/_/ " + v.policy.String()
	case *Retry, *FailureIsRunning:
		return "-^-"
	default:
		return "-->"
	}
}
