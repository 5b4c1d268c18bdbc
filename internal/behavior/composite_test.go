package behavior

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestStatus_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "SUCCESS", Success.String())
	require.Equal(t, "INVALID", Invalid.String())
	require.Equal(t, "Status(9)", Status(9).String())
	require.False(t, Status(9).Valid())
	require.True(t, Running.Valid())

	for _, s := range []Status{Success, Failure, Running} {
		require.Equal(t, s, FromBTStatus(s.BT()))
		parsed, err := ParseStatus(s.String())
		require.NoError(t, err)
		require.Equal(t, s, parsed)
	}
	_, err := ParseStatus("nope")
	require.Error(t, err)
}

func TestSequence_HaltsAtRunningChild(t *testing.T) {
	t.Parallel()

	a, sa := leaf("A", Success)
	b, sb := leaf("B", Running, Success)
	seq := NewSequence("seq", a, b)
	tree := newTestTree(t, seq)

	tickN(t, tree, 1)
	require.Equal(t, Running, seq.Status())
	require.Equal(t, Node(b), seq.CurrentChild())

	tickN(t, tree, 1)
	require.Equal(t, Success, seq.Status())
	require.Equal(t, 1, sa.updates, "memory resumes from the running child")
	require.Equal(t, 2, sb.updates)
	require.Equal(t, 1, sb.inits)
}

func TestSequence_WithoutMemoryRestarts(t *testing.T) {
	t.Parallel()

	a, sa := leaf("A", Success)
	b, _ := leaf("B", Running, Success)
	seq := NewSequence("seq", a, b).WithMemory(false)
	tree := newTestTree(t, seq)

	tickN(t, tree, 2)
	require.Equal(t, Success, seq.Status())
	require.Equal(t, 2, sa.updates)
}

func TestSequence_FailureAndEmpty(t *testing.T) {
	t.Parallel()

	a, _ := leaf("A", Failure)
	b, sb := leaf("B", Success)
	seq := NewSequence("seq", a, b)
	tree := newTestTree(t, seq)
	tickN(t, tree, 1)
	require.Equal(t, Failure, seq.Status())
	require.Zero(t, sb.updates)

	empty := NewSequence("empty")
	tickN(t, newTestTree(t, empty), 1)
	require.Equal(t, Success, empty.Status())
}

func TestSequence_WithoutMemoryInterruptsLaterRunningChild(t *testing.T) {
	t.Parallel()

	a, _ := leaf("A", Success, Failure)
	b, sb := leaf("B", Running)
	seq := NewSequence("seq", a, b).WithMemory(false)
	tree := newTestTree(t, seq)

	tickN(t, tree, 1)
	require.Equal(t, Running, b.Status())

	tickN(t, tree, 1)
	require.Equal(t, Failure, seq.Status())
	require.Equal(t, Invalid, b.Status())
	require.Equal(t, 1, sb.terms)
	require.Equal(t, Invalid, sb.lastTerm)
}

func TestSelector_FailureThenSuccess(t *testing.T) {
	t.Parallel()

	a, sa := leaf("A", Failure)
	b, sb := leaf("B", Success)
	sel := NewSelector("sel", a, b)
	tree := newTestTree(t, sel)

	tickN(t, tree, 1)
	require.Equal(t, Success, sel.Status())
	require.Equal(t, 1, sa.updates)
	require.Equal(t, 1, sb.updates)
	require.Contains(t, sel.Feedback(), "A")
	require.Equal(t, Node(b), sel.CurrentChild())
}

func TestSelector_AllFailAndEmpty(t *testing.T) {
	t.Parallel()

	a, _ := leaf("A", Failure)
	b, _ := leaf("B", Failure)
	sel := NewSelector("sel", a, b)
	tickN(t, newTestTree(t, sel), 1)
	require.Equal(t, Failure, sel.Status())
	require.Equal(t, "all children failed: A, B", sel.Feedback())

	empty := NewSelector("empty")
	tickN(t, newTestTree(t, empty), 1)
	require.Equal(t, Failure, empty.Status())
}

func TestSelector_HigherPriorityPreempts(t *testing.T) {
	t.Parallel()

	a, _ := leaf("A", Failure, Success)
	b, sb := leaf("B", Running)
	sel := NewSelector("sel", a, b).WithMemory(false)
	tree := newTestTree(t, sel)

	tickN(t, tree, 1)
	require.Equal(t, Running, sel.Status())
	require.Equal(t, Running, b.Status())

	tickN(t, tree, 1)
	require.Equal(t, Success, sel.Status())
	require.Equal(t, Invalid, b.Status())
	require.Equal(t, Invalid, sb.lastTerm)
}

func TestSelector_MemoryResumes(t *testing.T) {
	t.Parallel()

	a, sa := leaf("A", Failure, Success)
	b, _ := leaf("B", Running, Success)
	sel := NewSelector("sel", a, b)
	tree := newTestTree(t, sel)

	tickN(t, tree, 2)
	require.Equal(t, Success, sel.Status())
	require.Equal(t, 1, sa.updates, "running child resumed without re-evaluating A")
}

func TestParallel_Policies(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name     string
		policy   Policy
		statuses [][]Status
		want     Status
	}{
		{"all success", SuccessOnAll(), [][]Status{{Success}, {Success}}, Success},
		{"all waits", SuccessOnAll(), [][]Status{{Success}, {Running}}, Running},
		{"one", SuccessOnOne(), [][]Status{{Success}, {Running}}, Success},
		{"one waits", SuccessOnOne(), [][]Status{{Running}, {Running}}, Running},
		{"selected", SuccessOnSelected("c0"), [][]Status{{Success}, {Running}}, Success},
		{"selected waits", SuccessOnSelected("c1"), [][]Status{{Success}, {Running}}, Running},
		{"selected missing", SuccessOnSelected("zzz"), [][]Status{{Success}}, Failure},
		{"failure wins", SuccessOnOne(), [][]Status{{Success}, {Failure}}, Failure},
		{"invalid status fails all", SuccessOnAll(), [][]Status{{Status(42)}, {Success}}, Failure},
		{"invalid status fails selected", SuccessOnSelected("c1"), [][]Status{{Status(42)}, {Running}}, Failure},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var children []Node
			for i, st := range tc.statuses {
				l, _ := leaf("c"+string(rune('0'+i)), st...)
				children = append(children, l)
			}
			p := NewParallel("par", tc.policy, children...)
			tickN(t, newTestTree(t, p), 1)
			require.Equal(t, tc.want, p.Status())
		})
	}
}

func TestParallel_InvalidChildFails(t *testing.T) {
	t.Parallel()

	bad, _ := leaf("bad", Status(42))
	good, sg := leaf("good", Running)
	p := NewParallel("par", SuccessOnAll(), bad, good)
	tree := newTestTree(t, p)
	for range 5 {
		tickN(t, tree, 1)
		require.Equal(t, Failure, p.Status())
		require.Equal(t, Invalid, bad.Status())
		require.Equal(t, Invalid, good.Status())
	}
	require.Equal(t, 5, sg.terms)

	a, _ := leaf("a", Success)
	missing := NewParallel("missing", SuccessOnSelected("nope"), a)
	tickN(t, newTestTree(t, missing), 1)
	require.Equal(t, Failure, missing.Status())
	require.Equal(t, `selected child "nope" not found`, missing.Feedback())
}

func TestParallel_SettlingInterruptsRunningChildren(t *testing.T) {
	t.Parallel()

	a, _ := leaf("A", Success)
	b, sb := leaf("B", Running)
	p := NewParallel("par", SuccessOnOne(), a, b)
	tickN(t, newTestTree(t, p), 1)

	require.Equal(t, Success, p.Status())
	require.Equal(t, Invalid, b.Status())
	require.Equal(t, 1, sb.terms)

	empty := NewParallel("empty", SuccessOnAll())
	tickN(t, newTestTree(t, empty), 1)
	require.Equal(t, Success, empty.Status())
}

func TestComposite_RemoveChildInterrupts(t *testing.T) {
	t.Parallel()

	a, sa := leaf("A", Running)
	seq := NewSequence("seq", a)
	tree := newTestTree(t, seq)
	tickN(t, tree, 1)

	require.True(t, seq.RemoveChild(a))
	require.False(t, seq.RemoveChild(a))
	require.Equal(t, Invalid, a.Status())
	require.Equal(t, 1, sa.terms)
	require.Nil(t, a.Parent())
	require.Nil(t, seq.CurrentChild())

	b, _ := leaf("B", Success)
	seq.AddChild(b)
	require.Equal(t, tree, b.Tree(), "children added later are attached")
	tickN(t, tree, 1)
	require.Equal(t, Success, seq.Status())
}

func TestAdopt_PanicsOnSecondParent(t *testing.T) {
	t.Parallel()

	a, _ := leaf("A", Success)
	NewSequence("one", a)
	require.Panics(t, func() { NewSequence("two", a) })
}

type statusTree struct {
	Name     string
	Status   Status
	Children []statusTree
}

func snapshot(n Node) statusTree {
	st := statusTree{Name: n.Name(), Status: n.Status()}
	for _, c := range n.Children() {
		st.Children = append(st.Children, snapshot(c))
	}
	return st
}

func TestStatusDeterminism(t *testing.T) {
	t.Parallel()

	build := func() Node {
		a, _ := leaf("A", Success)
		b, _ := leaf("B", Failure)
		c, _ := leaf("C", Running)
		d, _ := leaf("D", Success)
		return NewSequence("root",
			a,
			NewSelector("sel", b, c),
			NewParallel("par", SuccessOnAll(), d),
		)
	}
	root := build()
	tree := newTestTree(t, root)

	tickN(t, tree, 1)
	first := snapshot(root)
	tickN(t, tree, 1)
	second := snapshot(root)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("status tree changed between ticks (-first +second):\n%s", diff)
	}

	// and an identical, independent tree agrees
	other := build()
	tickN(t, newTestTree(t, other), 1)
	if diff := cmp.Diff(first, snapshot(other)); diff != "" {
		t.Fatalf("independent trees disagree (-want +got):\n%s", diff)
	}
	require.Equal(t, Running, root.Status())
}

func TestRender(t *testing.T) {
	t.Parallel()

	a, _ := leaf("A", Failure)
	b, _ := leaf("B", Success)
	sel := NewSelector("sel", a, b)
	tickN(t, newTestTree(t, sel), 1)

	out := Render(sel)
	require.Contains(t, out, "[o] sel [SUCCESS] -- failed: A")
	require.Contains(t, out, "    --> B [SUCCESS]")
}
