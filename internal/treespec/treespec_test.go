package treespec

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/joeycumines/behavioral/internal/behavior"
	"github.com/joeycumines/behavioral/internal/conversation"
	"github.com/joeycumines/behavioral/internal/inference"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func build(t *testing.T, doc string) *Tree {
	t.Helper()
	def, err := Parse([]byte(doc))
	require.NoError(t, err)
	tree, err := NewBuilder().Build(def)
	require.NoError(t, err)
	return tree
}

func newAgent(t *testing.T, tree *Tree, model inference.Model) *conversation.Agent {
	t.Helper()
	cfg := tree.Config
	cfg.Model = model
	opts := append(tree.Options(), behavior.WithLogger(slog.New(slog.DiscardHandler)))
	a, err := conversation.NewAgent(tree.Root, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestParse(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte("  \n"))
	require.ErrorContains(t, err, "empty")
	_, err = Parse([]byte("name: x\n"))
	require.ErrorContains(t, err, "no root")
	_, err = Parse([]byte("root: [\n"))
	require.ErrorContains(t, err, "decode definition")

	def, err := Read(strings.NewReader("name: x\nroot:\n  kind: sequence\n"))
	require.NoError(t, err)
	require.Equal(t, "x", def.Name)
	require.Equal(t, "sequence", def.Root.Kind)
	require.Equal(t, 3, def.Root.Line())
}

func TestLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tree.yaml")
	require.NoError(t, os.WriteFile(path, []byte("root:\n  kind: status\n  status: success\n"), 0o600))
	def, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "status", def.Root.Kind)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestBuild_Tree(t *testing.T) {
	t.Parallel()
	tree := build(t, `
name: receptionist
namespace: desk
agent:
  goal: You are a receptionist.
  history: 4
  state: conversation
root:
  kind: selector
  name: main
  children:
    - kind: message_until_condition
      check: {variable: greeted}
      child:
        kind: respond
        name: greet
        message: Hello!
    - kind: parallel
      name: work
      policy: one
      children:
        - kind: retry
          limit: 2
          child:
            kind: conversation_goal
            name: booking
            prompt: Book a room.
            max_messages: 5
        - kind: failure_is_running
          children:
            - kind: check_user_active
              seconds: 30
        - kind: wait
          seconds: 0.5
    - kind: sequence
      name: tools
      memory: false
      children:
        - kind: ai_to_blackboard
          name: invoke
          prompt: Pick a tool.
        - kind: run_tools
        - kind: increment_blackboard_variable
          variable: rounds
        - kind: check_blackboard_value
          name: enough
          variable: rounds
          operator: ">="
          value: 3
        - kind: remove_blackboard_variable
          key: rounds
        - kind: respond_from_blackboard
          variable: tool_results.num_runs
`)
	require.Equal(t, "receptionist", tree.Name)
	require.Equal(t, "desk", tree.Namespace)
	require.Len(t, tree.Options(), 2)
	require.Equal(t, "You are a receptionist.", tree.Config.GoalPrompt)
	require.Equal(t, 4, tree.Config.HistoryWindow)
	require.IsType(t, new(conversation.ConversationState), tree.Config.NewState())

	require.Equal(t, `[o] main [INVALID]
    -^- greet_run_until_condition [INVALID]
        [o] greet_selector [INVALID]
            --> greet_check_before [INVALID]
            [-] greet_sequence [INVALID]
                --> greet [INVALID]
                --> greet_check_after [INVALID]
    /_/ SuccessOnOne work [INVALID]
        -^- retry [INVALID]
            --> booking [INVALID]
        -^- failure_is_running [INVALID]
            --> IsUserActive [INVALID]
        --> wait(0.5s) [INVALID]
    [-] tools [INVALID]
        --> invoke [INVALID]
        --> run_tools [INVALID]
        --> increment_blackboard_variable [INVALID]
        --> enough [INVALID]
        --> remove_blackboard_variable [INVALID]
        --> respond_from_blackboard [INVALID]
`, behavior.Render(tree.Root))

	seq, ok := tree.Root.Children()[2].(*behavior.Sequence)
	require.True(t, ok)
	require.False(t, seq.Memory())
}

func TestBuild_Errors(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name string
		doc  string
		err  string
	}{
		{
			name: "unknown kind",
			doc:  "root:\n  kind: sequence\n  children:\n    - kind: nope\n",
			err:  `line 4: nope: unknown node kind "nope"`,
		},
		{
			name: "unknown predicate",
			doc:  "root:\n  kind: wait\n  guard:\n    enter:\n      success: {predicate: nope}\n",
			err:  `unknown predicate "nope"`,
		},
		{
			name: "unknown agent state",
			doc:  "agent: {state: nope}\nroot: {kind: wait}\n",
			err:  `unknown state type "nope"`,
		},
		{
			name: "unknown goal predicate",
			doc:  "root: {kind: conversation_goal, name: g, prompt: x, achieved: nope}\n",
			err:  `conversation_goal "g": unknown state predicate "nope"`,
		},
		{
			name: "missing target",
			doc:  "root: {kind: remove_children, target: nope}\n",
			err:  `no composite named "nope"`,
		},
		{
			name: "retry without limit",
			doc:  "root: {kind: retry, child: {kind: wait}}\n",
			err:  "limit must be positive",
		},
		{
			name: "decorator with two children",
			doc:  "root: {kind: failure_is_running, children: [{kind: wait}, {kind: wait}]}\n",
			err:  "exactly one child required",
		},
		{
			name: "bad operator",
			doc:  "root: {kind: check_blackboard_value, variable: x, operator: '~'}\n",
			err:  `unknown operator "~"`,
		},
		{
			name: "bad status",
			doc:  "root: {kind: status, status: done}\n",
			err:  `unknown status "done"`,
		},
		{
			name: "expand without template",
			doc:  "root: {kind: expand, key: k, target: t}\n",
			err:  "exactly one of each and by_item is required",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			def, err := Parse([]byte(tc.doc))
			require.NoError(t, err)
			_, err = NewBuilder().Build(def)
			require.ErrorContains(t, err, tc.err)
		})
	}

	def, err := Parse([]byte("root:\n  kind: sequence\n  children:\n    - kind: nope\n"))
	require.NoError(t, err)
	_, err = NewBuilder().Build(def)
	var ne *NodeError
	require.ErrorAs(t, err, &ne)
	require.Equal(t, 4, ne.Line)
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestBuild_Guard(t *testing.T) {
	t.Parallel()
	tree := build(t, `
root:
  kind: selector
  memory: false
  children:
    - kind: respond
      name: farewell
      message: Goodbye!
      guard:
        enter:
          failure:
            predicate: blackboard_value
            not: true
            args: {variable: done}
    - kind: status
      status: running
`)
	a := newAgent(t, tree, inference.NewScripted())

	require.NoError(t, a.Tick())
	require.Equal(t, behavior.Running, a.Tree().Root().Status())
	require.Zero(t, a.Conversation().Len())

	require.NoError(t, a.Blackboard().Set("done", true, ""))
	require.NoError(t, a.Tick())
	require.Equal(t, behavior.Success, a.Tree().Root().Status())
	require.Equal(t, "Goodbye!", a.Conversation().Messages()[0].Content)
}

type plan struct {
	Topics []string `json:"topics"`
}

func TestBuild_Expand(t *testing.T) {
	t.Parallel()
	tree := build(t, `
root:
  kind: sequence
  children:
    - kind: expand
      key: plan
      attribute: topics
      target: topics
      each:
        kind: respond
        name: topic
        message: "Let's talk about {{.item}}."
    - kind: sequence
      name: topics
    - kind: remove_children
      target: topics
`)
	a := newAgent(t, tree, inference.NewScripted())
	require.NoError(t, a.Blackboard().Set("plan", plan{Topics: []string{"cats", "dogs"}}, ""))

	require.NoError(t, a.Tick())
	require.Equal(t, behavior.Success, a.Tree().Root().Status())
	msgs := a.Conversation().Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "Let's talk about cats.", msgs[0].Content)
	require.Equal(t, "Let's talk about dogs.", msgs[1].Content)
	require.Empty(t, a.Tree().Root().Children()[1].Children(), "removed after running")
}

func TestBuild_ExpandByItem(t *testing.T) {
	t.Parallel()
	tree := build(t, `
root:
  kind: sequence
  children:
    - kind: expand
      key: step
      target: steps
      by_item:
        greet: {kind: respond, message: "Hi!"}
        leave: {kind: respond, message: "Bye!"}
    - kind: selector
      name: steps
`)
	a := newAgent(t, tree, inference.NewScripted())
	require.NoError(t, a.Blackboard().Set("step", "leave", ""))
	require.NoError(t, a.Tick())
	require.Equal(t, "Bye!", a.Conversation().Messages()[0].Content)
}

func TestBuild_ConversationMessage(t *testing.T) {
	t.Parallel()
	tree := build(t, `
agent:
  goal: Be brief.
root:
  kind: conversation_message
  name: reply
  prompt: "Answer {{.who}}."
  params: {who: the guest}
  max_messages: 1
`)
	model := inference.NewScripted().Reply("Sure.")
	a := newAgent(t, tree, model)
	a.AddUserMessage("hello")

	for range 1000 {
		require.NoError(t, a.Tick())
		if a.Tree().Root().Status() == behavior.Success {
			break
		}
		a.Tree().Executor().Wait()
	}
	require.Equal(t, behavior.Success, a.Tree().Root().Status())
	require.Equal(t, "External system instruction: Answer the guest.", model.Prompts()[0].Instruction)
	require.True(t, strings.HasPrefix(model.Prompts()[0].System, "Be brief.\n\n"))
}

func TestDefaultKinds(t *testing.T) {
	t.Parallel()
	require.Equal(t, []string{
		"ai_to_blackboard",
		"capture_conversation_state",
		"check_blackboard_value",
		"check_user_active",
		"conversation_goal",
		"conversation_message",
		"expand",
		"failure_is_running",
		"has_pending_user_message",
		"increment_blackboard_variable",
		"message_on_condition",
		"message_until_condition",
		"no_pending_user_message",
		"parallel",
		"react",
		"remove_blackboard_variable",
		"remove_children",
		"respond",
		"respond_from_blackboard",
		"retry",
		"run_tools",
		"selector",
		"sequence",
		"status",
		"wait",
	}, DefaultKinds().Names())
}

func TestBuilder_Defaults(t *testing.T) {
	t.Parallel()
	def, err := Parse([]byte(`
root:
  kind: sequence
  children:
    - kind: check_user_active
    - kind: conversation_message
      name: reply
      prompt: Reply.
    - kind: conversation_message
      name: stubborn
      prompt: Reply.
      retry_errors: -1
`))
	require.NoError(t, err)

	b := NewBuilder()
	_, err = b.Build(def)
	require.ErrorContains(t, err, "seconds must be positive")

	b.Inactivity = time.Minute
	b.RetryErrors = 7
	tree, err := b.Build(def)
	require.NoError(t, err)
	children := tree.Root.Children()
	require.Equal(t, 7, children[1].(*behavior.Leaf).Behavior().(*conversation.ConversationMessage).RetryBudget)
	require.Equal(t, -1, children[2].(*behavior.Leaf).Behavior().(*conversation.ConversationMessage).RetryBudget)
}

func TestBuild_ReAct(t *testing.T) {
	t.Parallel()
	def, err := Parse([]byte("root: {kind: react, name: assistant, max_calls: 3, retry_errors: 2}\n"))
	require.NoError(t, err)
	tree, err := NewBuilder().Build(def)
	require.NoError(t, err)

	root, ok := tree.Root.(*behavior.Selector)
	require.True(t, ok)
	require.Equal(t, "assistant", root.Name())
	require.NotNil(t, root.Guard())
	var names []string
	for _, c := range root.Children() {
		names = append(names, c.Name())
	}
	require.Equal(t, []string{"assistant_and_respond", "assistant_respond_on_failure"}, names)

	loop := root.Children()[0].Children()[1]
	run := loop.Children()[1].(*behavior.Leaf).Behavior().(*conversation.RunTools)
	require.Equal(t, 3, run.MaxCalls)
	require.Equal(t, 2, run.RetryBudget)
}
