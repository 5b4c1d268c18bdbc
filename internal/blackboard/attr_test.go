package blackboard

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type toolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type reply struct {
	Text      string
	ToolCalls []toolCall `json:"tool_calls"`
	Counter   struct {
		Value int
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()

	r := reply{
		Text:      "hi",
		ToolCalls: []toolCall{{ID: "1", Name: "add", Args: map[string]any{"a": 1.0}}},
	}

	v, err := Lookup(r, "")
	require.NoError(t, err)
	require.Equal(t, r, v)

	v, err = Lookup(r, "Text")
	require.NoError(t, err)
	require.Equal(t, "hi", v)

	v, err = Lookup(&r, "text")
	require.NoError(t, err)
	require.Equal(t, "hi", v)

	v, err = Lookup(r, "tool_calls.0.name")
	require.NoError(t, err)
	require.Equal(t, "add", v)

	v, err = Lookup(r, "tool_calls.0.args.a")
	require.NoError(t, err)
	require.Equal(t, 1.0, v)

	_, err = Lookup(r, "tool_calls.5")
	require.ErrorIs(t, err, ErrNoAttribute)

	_, err = Lookup(r, "missing")
	require.ErrorIs(t, err, ErrNoAttribute)

	_, err = Lookup((*reply)(nil), "Text")
	require.ErrorIs(t, err, ErrNoAttribute)
}

func TestSplitVariable(t *testing.T) {
	t.Parallel()

	k, p := SplitVariable("state.goal.progress")
	require.Equal(t, "state", k)
	require.Equal(t, "goal.progress", p)

	k, p = SplitVariable("count")
	require.Equal(t, "count", k)
	require.Empty(t, p)
}

func TestIncrement(t *testing.T) {
	t.Parallel()

	v, err := Increment(nil, "")
	require.NoError(t, err)
	require.Equal(t, 1, v)

	v, err = Increment(int64(4), "")
	require.NoError(t, err)
	require.Equal(t, int64(5), v)

	v, err = Increment(1.5, "")
	require.NoError(t, err)
	require.Equal(t, 2.5, v)

	_, err = Increment("x", "")
	require.Error(t, err)

	var r reply
	v, err = Increment(r, "Counter.Value")
	require.NoError(t, err)
	require.Equal(t, 1, v.(reply).Counter.Value)
	require.Zero(t, r.Counter.Value)

	p := &reply{}
	v, err = Increment(p, "Counter.Value")
	require.NoError(t, err)
	require.Equal(t, 1, v.(*reply).Counter.Value)
	require.Zero(t, p.Counter.Value, "original pointer untouched")

	_, err = Increment(r, "Counter.Missing")
	require.ErrorIs(t, err, ErrNoAttribute)

	_, err = Increment(nil, "Counter")
	require.ErrorIs(t, err, ErrNoAttribute)
}
