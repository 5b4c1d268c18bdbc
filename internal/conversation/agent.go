package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joeycumines/behavioral/internal/behavior"
	"github.com/joeycumines/behavioral/internal/blackboard"
	"github.com/joeycumines/behavioral/internal/inference"
	"github.com/joeycumines/behavioral/internal/tools"
)

const (
	// DefaultHistoryWindow is the number of recent messages sent to the
	// model.
	DefaultHistoryWindow = 10

	// DefaultStateKey is the blackboard key the conversation state is
	// captured into.
	DefaultStateKey = "conversation_state"

	captureLeafName = "capture_conversation_state"
)

var (
	// ErrNoModel is returned by [NewAgent] without a model.
	ErrNoModel = errors.New("conversation: no model configured")

	// ErrNoAgent is reported by behaviors ticked outside an [Agent]'s tree.
	ErrNoAgent = errors.New("conversation: behavior is not part of an agent's tree")

	// ErrNoTools is reported by behaviors needing tools when the agent has
	// none.
	ErrNoTools = errors.New("conversation: no tool executor configured")
)

const responseGuidance = `An external system guides your conversation with the user.
For your response, you must strictly follow the instructions of the external system reported as system messages.
The instructions can be achieved in multiple conversation steps. You don't have to achieve all goals of the instructions in one message.
Continue the conversation with the user naturally but don't let them drift the conversation from the system instructions.
Respond only with the content of your message. You are talking to the user directly. Do not repeat your previous messages.`

// ToolObserver is notified of every tool call run by [RunTools].
type ToolObserver interface {
	ToolCalled(tool string, err error)
}

// Config configures an [Agent].
type Config struct {
	// Model generates replies and captures state. Required.
	Model inference.Model
	// Tools is used by behaviors with tools enabled, and by [RunTools].
	Tools tools.Executor
	// GoalPrompt frames every reply.
	GoalPrompt string
	// HistoryWindow bounds the messages sent to the model. Zero uses
	// [DefaultHistoryWindow].
	HistoryWindow int
	// NewState, if set, enables state capture: it returns a pointer to the
	// struct the conversation state is captured into, stored under
	// StateKey.
	NewState                  func() any
	StateKey                  string
	CaptureOnAssistantMessage bool
	// Conversation is the chat history. A new one is created if nil.
	Conversation *Conversation
	// Predicates resolves the predicate names used by [ConversationGoal].
	// Nil uses [DefaultStatePredicates].
	Predicates   *StatePredicates
	ToolObserver ToolObserver
}

// Agent drives a behavior tree holding a conversation with a user. It owns
// the tree; behaviors reach the agent through the tree they are attached
// to.
type Agent struct {
	tree         *behavior.Tree
	conv         *Conversation
	model        inference.Model
	tools        tools.Executor
	goalPrompt   string
	history      int
	predicates   *StatePredicates
	toolObserver ToolObserver

	captureRunning atomic.Bool
	stopWatch      func()
}

type agentKey struct{}

// NewAgent returns an agent ticking root. When cfg.NewState is set, root is
// run in parallel with a [CaptureConversationState] leaf, and the agent
// succeeds when both do.
func NewAgent(root behavior.Node, cfg Config, opts ...behavior.Option) (*Agent, error) {
	if root == nil {
		return nil, errors.New("conversation: nil root")
	}
	if cfg.Model == nil {
		return nil, ErrNoModel
	}
	a := &Agent{
		conv:         cfg.Conversation,
		model:        cfg.Model,
		tools:        cfg.Tools,
		goalPrompt:   cfg.GoalPrompt,
		history:      cfg.HistoryWindow,
		predicates:   cfg.Predicates,
		toolObserver: cfg.ToolObserver,
	}
	if a.conv == nil {
		a.conv = New()
	}
	if a.history <= 0 {
		a.history = DefaultHistoryWindow
	}
	if a.predicates == nil {
		a.predicates = DefaultStatePredicates()
	}

	node := root
	if cfg.NewState != nil {
		stateKey := cfg.StateKey
		if stateKey == "" {
			stateKey = DefaultStateKey
		}
		capture := NewCaptureConversationState(captureLeafName, &CaptureConversationState{
			NewState:                cfg.NewState,
			StateKey:                stateKey,
			CaptureAssistantMessage: cfg.CaptureOnAssistantMessage,
		})
		node = behavior.NewParallel("conversation_with_state", behavior.SuccessOnAll(), capture, root)
	}

	opts = append(opts,
		behavior.WithValue(agentKey{}, a),
		behavior.WithPreTickHandler(func(*behavior.Tree) { a.captureRunning.Store(false) }),
	)
	a.tree = behavior.New(node, opts...)
	a.stopWatch = a.conv.Watch(func(e Event) {
		if e.Kind == UserMessage {
			a.tree.RequestWake()
		}
	})
	return a, nil
}

func agentOf(n behavior.Node) (*Agent, bool) {
	t := n.Tree()
	if t == nil {
		return nil, false
	}
	a, ok := t.Value(agentKey{}).(*Agent)
	return a, ok
}

// Tree returns the underlying tree.
func (a *Agent) Tree() *behavior.Tree { return a.tree }

// Conversation returns the chat history.
func (a *Agent) Conversation() *Conversation { return a.conv }

// Blackboard returns the tree's blackboard.
func (a *Agent) Blackboard() *blackboard.Blackboard { return a.tree.Blackboard() }

// AddUserMessage appends a user message and wakes the tree.
func (a *Agent) AddUserMessage(text string) {
	a.conv.AddUserMessage(text)
}

// CaptureRunning reports whether a state capture was in flight during the
// current (or last) tick.
func (a *Agent) CaptureRunning() bool { return a.captureRunning.Load() }

// Tick ticks the tree once.
func (a *Agent) Tick() error { return a.tree.Tick() }

// Run ticks the tree every period, or sooner when a user message arrives,
// until ctx is done or the tree is interrupted.
func (a *Agent) Run(ctx context.Context, period time.Duration) error {
	return a.tree.TickContinuously(ctx, period, 0)
}

// Close stops watching the conversation and releases the tree.
func (a *Agent) Close() {
	a.stopWatch()
	a.tree.Close()
}

// RenderTree renders the tree with the status and feedback of every node.
func (a *Agent) RenderTree() string { return behavior.Render(a.tree.Root()) }

// DebugBlackboard renders the blackboard as markdown, one section per key.
func (a *Agent) DebugBlackboard() (string, error) {
	bb := a.tree.Blackboard()
	var sb strings.Builder
	sb.WriteString("## BlackBoard\n")
	for _, key := range bb.Keys("") {
		v, _ := bb.Get(key, "")
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", fmt.Errorf("debug blackboard %q: %w", key, err)
		}
		fmt.Fprintf(&sb, "### %s\n```\n%s\n```\n", key, b)
	}
	return sb.String(), nil
}

func (a *Agent) now() time.Time { return a.conv.Now() }

func (a *Agent) systemPrompt() string {
	if a.goalPrompt == "" {
		return responseGuidance
	}
	return a.goalPrompt + "\n\n" + responseGuidance
}

func (a *Agent) toolSpecs(ctx context.Context, enabled bool) ([]inference.ToolSpec, error) {
	if !enabled || a.tools == nil {
		return nil, nil
	}
	specs, err := a.tools.Tools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	return specs, nil
}

// respond streams a reply following instruction into a new assistant
// message. The message is discarded if the model fails.
func (a *Agent) respond(ctx context.Context, instruction string, useTools bool) error {
	specs, err := a.toolSpecs(ctx, useTools)
	if err != nil {
		return err
	}
	p := inference.Prompt{
		System:      a.systemPrompt(),
		History:     a.conv.ActiveHistory(a.history),
		Instruction: "External system instruction: " + instruction,
		Tools:       specs,
	}
	msg := a.conv.AddAssistantMessage()
	reply, err := a.model.Complete(ctx, p, msg.Write)
	if err != nil {
		msg.Discard()
		return err
	}
	msg.Complete(reply.Text)
	return nil
}
