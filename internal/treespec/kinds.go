package treespec

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeycumines/behavioral/internal/behavior"
	"github.com/joeycumines/behavioral/internal/conversation"
)

// DefaultKinds returns a registry of the engine's composites, decorators
// and dynamic nodes, and the conversational behaviors.
func DefaultKinds() *Kinds {
	k := NewKinds()
	k.Register("sequence", buildSequence)
	k.Register("selector", buildSelector)
	k.Register("parallel", buildParallel)
	k.Register("retry", buildRetry)
	k.Register("failure_is_running", buildFailureIsRunning)
	k.Register("expand", buildExpand)
	k.Register("remove_children", buildRemoveChildren)
	k.Register("status", buildStatus)

	k.Register("wait", buildWait)
	k.Register("check_user_active", buildCheckUserActive)
	k.Register("has_pending_user_message", func(*Context, *Node) (behavior.Node, error) {
		return conversation.NewCheckHasPendingUserMessage(), nil
	})
	k.Register("no_pending_user_message", func(*Context, *Node) (behavior.Node, error) {
		return conversation.NewCheckNoPendingUserMessage(), nil
	})
	k.Register("check_blackboard_value", buildCheckBlackboardValue)
	k.Register("remove_blackboard_variable", buildRemoveBlackboardVariable)
	k.Register("increment_blackboard_variable", buildIncrementBlackboardVariable)
	k.Register("respond", buildRespond)
	k.Register("respond_from_blackboard", buildRespondFromBlackboard)
	k.Register("conversation_message", buildConversationMessage)
	k.Register("conversation_goal", buildConversationGoal)
	k.Register("capture_conversation_state", buildCaptureConversationState)
	k.Register("ai_to_blackboard", buildAIToBlackboard)
	k.Register("run_tools", buildRunTools)
	k.Register("react", buildReAct)
	k.Register("message_until_condition", buildMessageIdiom(conversation.MessageUntilCondition))
	k.Register("message_on_condition", buildMessageIdiom(conversation.MessageOnCondition))
	return k
}

func name(n *Node) string {
	if n.Name != "" {
		return n.Name
	}
	return n.Kind
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

type compositeOptions struct {
	Memory *bool `yaml:"memory"`
}

func (o compositeOptions) memory() bool {
	return o.Memory == nil || *o.Memory
}

func buildSequence(c *Context, n *Node) (behavior.Node, error) {
	var opts compositeOptions
	if err := n.Decode(&opts); err != nil {
		return nil, err
	}
	children, err := c.BuildChildren(n)
	if err != nil {
		return nil, err
	}
	return behavior.NewSequence(name(n), children...).WithMemory(opts.memory()), nil
}

func buildSelector(c *Context, n *Node) (behavior.Node, error) {
	var opts compositeOptions
	if err := n.Decode(&opts); err != nil {
		return nil, err
	}
	children, err := c.BuildChildren(n)
	if err != nil {
		return nil, err
	}
	return behavior.NewSelector(name(n), children...).WithMemory(opts.memory()), nil
}

func buildParallel(c *Context, n *Node) (behavior.Node, error) {
	var opts struct {
		Policy   string   `yaml:"policy"`
		Selected []string `yaml:"selected"`
	}
	if err := n.Decode(&opts); err != nil {
		return nil, err
	}
	var policy behavior.Policy
	switch opts.Policy {
	case "", "all":
		policy = behavior.SuccessOnAll()
	case "one":
		policy = behavior.SuccessOnOne()
	case "selected":
		if len(opts.Selected) == 0 {
			return nil, errors.New("selected policy requires selected children")
		}
		policy = behavior.SuccessOnSelected(opts.Selected...)
	default:
		return nil, fmt.Errorf("unknown policy %q", opts.Policy)
	}
	children, err := c.BuildChildren(n)
	if err != nil {
		return nil, err
	}
	return behavior.NewParallel(name(n), policy, children...), nil
}

func buildRetry(c *Context, n *Node) (behavior.Node, error) {
	var opts struct {
		Limit int `yaml:"limit"`
	}
	if err := n.Decode(&opts); err != nil {
		return nil, err
	}
	if opts.Limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	child, err := c.BuildChild(n)
	if err != nil {
		return nil, err
	}
	return behavior.NewRetry(name(n), child, opts.Limit), nil
}

func buildFailureIsRunning(c *Context, n *Node) (behavior.Node, error) {
	child, err := c.BuildChild(n)
	if err != nil {
		return nil, err
	}
	return behavior.NewFailureIsRunning(name(n), child), nil
}

// buildExpand builds an expansion of the composite named target. Each item
// is built from the each template, or from the by_item template matching
// the item, with the item available to prompts as {{.item}}.
func buildExpand(c *Context, n *Node) (behavior.Node, error) {
	var opts struct {
		Key       string           `yaml:"key"`
		Attribute string           `yaml:"attribute"`
		Target    string           `yaml:"target"`
		Each      *Node            `yaml:"each"`
		ByItem    map[string]*Node `yaml:"by_item"`
	}
	if err := n.Decode(&opts); err != nil {
		return nil, err
	}
	if opts.Key == "" || opts.Target == "" {
		return nil, errors.New("key and target are required")
	}
	if (opts.Each == nil) == (len(opts.ByItem) == 0) {
		return nil, errors.New("exactly one of each and by_item is required")
	}
	constructor := func(spec *Node) behavior.Constructor {
		return func(item any, _ string) (behavior.Node, error) {
			sub := c.sub(map[string]any{"item": item})
			node, err := sub.Build(spec)
			if err != nil {
				return nil, err
			}
			if err := sub.resolve(); err != nil {
				return nil, err
			}
			return node, nil
		}
	}
	e := &behavior.Expand{Key: opts.Key, Attribute: opts.Attribute}
	if opts.Each != nil {
		e.Constructor = constructor(opts.Each)
	} else {
		e.Constructors = make(map[string]behavior.Constructor, len(opts.ByItem))
		for item, spec := range opts.ByItem {
			e.Constructors[item] = constructor(spec)
		}
	}
	c.Target(opts.Target, func(t behavior.Composite) { e.Target = t })
	return behavior.NewExpand(name(n), e), nil
}

func buildRemoveChildren(c *Context, n *Node) (behavior.Node, error) {
	var opts struct {
		Target   string `yaml:"target"`
		ResetKey string `yaml:"reset_key"`
	}
	if err := n.Decode(&opts); err != nil {
		return nil, err
	}
	if opts.Target == "" {
		return nil, errors.New("target is required")
	}
	r := &behavior.RemoveChildren{ResetKey: opts.ResetKey}
	c.Target(opts.Target, func(t behavior.Composite) { r.Target = t })
	return behavior.NewLeaf(name(n), r), nil
}

func buildStatus(_ *Context, n *Node) (behavior.Node, error) {
	var opts struct {
		Status string `yaml:"status"`
	}
	if err := n.Decode(&opts); err != nil {
		return nil, err
	}
	status, err := behavior.ParseStatus(opts.Status)
	if err != nil {
		return nil, err
	}
	return behavior.NewLeaf(name(n), behavior.UpdateFunc(func(*behavior.Leaf) behavior.Status { return status })), nil
}

func buildWait(_ *Context, n *Node) (behavior.Node, error) {
	var opts struct {
		Seconds float64 `yaml:"seconds"`
	}
	if err := n.Decode(&opts); err != nil {
		return nil, err
	}
	if opts.Seconds < 0 {
		return nil, errors.New("seconds must not be negative")
	}
	return conversation.NewWait(seconds(opts.Seconds)), nil
}

func buildCheckUserActive(c *Context, n *Node) (behavior.Node, error) {
	var opts struct {
		Seconds float64 `yaml:"seconds"`
	}
	if err := n.Decode(&opts); err != nil {
		return nil, err
	}
	if opts.Seconds < 0 {
		return nil, errors.New("seconds must not be negative")
	}
	d := seconds(opts.Seconds)
	if d == 0 {
		d = c.builder.Inactivity
	}
	if d <= 0 {
		return nil, errors.New("seconds must be positive")
	}
	return conversation.NewCheckUserIsActive(d), nil
}

type expressionOptions struct {
	Variable string `yaml:"variable"`
	Operator string `yaml:"operator"`
	Value    any    `yaml:"value"`
}

func (o expressionOptions) expression() (conversation.Expression, error) {
	if o.Variable == "" {
		return conversation.Expression{}, errors.New("variable is required")
	}
	op, err := conversation.ParseOperator(o.Operator)
	if err != nil {
		return conversation.Expression{}, err
	}
	return conversation.Expression{Variable: o.Variable, Operator: op, Value: o.Value}, nil
}

func buildCheckBlackboardValue(_ *Context, n *Node) (behavior.Node, error) {
	var opts expressionOptions
	if err := n.Decode(&opts); err != nil {
		return nil, err
	}
	e, err := opts.expression()
	if err != nil {
		return nil, err
	}
	return conversation.NewCheckBlackboardValue(name(n), e), nil
}

func buildRemoveBlackboardVariable(_ *Context, n *Node) (behavior.Node, error) {
	var opts struct {
		Key string `yaml:"key"`
	}
	if err := n.Decode(&opts); err != nil {
		return nil, err
	}
	if opts.Key == "" {
		return nil, errors.New("key is required")
	}
	return conversation.NewRemoveBlackboardVariable(name(n), opts.Key), nil
}

func buildIncrementBlackboardVariable(_ *Context, n *Node) (behavior.Node, error) {
	var opts struct {
		Variable string `yaml:"variable"`
	}
	if err := n.Decode(&opts); err != nil {
		return nil, err
	}
	if opts.Variable == "" {
		return nil, errors.New("variable is required")
	}
	return conversation.NewIncrementBlackboardVariable(name(n), opts.Variable), nil
}

func buildRespond(c *Context, n *Node) (behavior.Node, error) {
	var opts struct {
		Message string         `yaml:"message"`
		Params  map[string]any `yaml:"params"`
	}
	if err := n.Decode(&opts); err != nil {
		return nil, err
	}
	if opts.Message == "" {
		return nil, errors.New("message is required")
	}
	return conversation.NewRespondToUser(name(n), opts.Message, c.Params(opts.Params)), nil
}

func buildRespondFromBlackboard(_ *Context, n *Node) (behavior.Node, error) {
	var opts struct {
		Variable string `yaml:"variable"`
	}
	if err := n.Decode(&opts); err != nil {
		return nil, err
	}
	if opts.Variable == "" {
		return nil, errors.New("variable is required")
	}
	return conversation.NewRespondFromBlackboard(name(n), opts.Variable), nil
}

// messageOptions are shared by the nodes sending model-generated messages.
type messageOptions struct {
	Prompt                    string         `yaml:"prompt"`
	Params                    map[string]any `yaml:"params"`
	UseTools                  bool           `yaml:"use_tools"`
	RespondWithoutUserMessage bool           `yaml:"respond_without_user_message"`
	MaxMessages               int            `yaml:"max_messages"`
	MinIntervalSeconds        float64        `yaml:"min_interval_seconds"`
	RetryErrors               int            `yaml:"retry_errors"`
}

func buildConversationMessage(c *Context, n *Node) (behavior.Node, error) {
	var opts messageOptions
	if err := n.Decode(&opts); err != nil {
		return nil, err
	}
	if opts.Prompt == "" {
		return nil, errors.New("prompt is required")
	}
	return conversation.NewConversationMessage(name(n), &conversation.ConversationMessage{
		Prompt:                    opts.Prompt,
		Params:                    c.Params(opts.Params),
		UseTools:                  opts.UseTools,
		RespondWithoutUserMessage: opts.RespondWithoutUserMessage,
		MaxMessages:               opts.MaxMessages,
		MinInterval:               seconds(opts.MinIntervalSeconds),
		RetryErrors:               c.RetryErrors(opts.RetryErrors),
	}), nil
}

func buildConversationGoal(c *Context, n *Node) (behavior.Node, error) {
	var opts struct {
		messageOptions         `yaml:",inline"`
		State                  string `yaml:"state"`
		StateKey               string `yaml:"state_key"`
		Achieved               string `yaml:"achieved"`
		Failed                 string `yaml:"failed"`
		NoMemory               bool   `yaml:"no_memory"`
		ResetAfterUserMessages int    `yaml:"reset_after_user_messages"`
	}
	if err := n.Decode(&opts); err != nil {
		return nil, err
	}
	if opts.Prompt == "" {
		return nil, errors.New("prompt is required")
	}
	newState, err := c.State(opts.State)
	if err != nil {
		return nil, err
	}
	if err := errors.Join(c.StatePredicate(opts.Achieved), c.StatePredicate(opts.Failed)); err != nil {
		return nil, err
	}
	return conversation.NewConversationGoal(name(n), &conversation.ConversationGoal{
		Prompt:                    opts.Prompt,
		Params:                    c.Params(opts.Params),
		UseTools:                  opts.UseTools,
		RespondWithoutUserMessage: opts.RespondWithoutUserMessage,
		MaxMessages:               opts.MaxMessages,
		MinInterval:               seconds(opts.MinIntervalSeconds),
		RetryErrors:               c.RetryErrors(opts.RetryErrors),
		NewState:                  newState,
		StateKey:                  opts.StateKey,
		Achieved:                  opts.Achieved,
		Failed:                    opts.Failed,
		NoMemory:                  opts.NoMemory,
		ResetAfterUserMessages:    opts.ResetAfterUserMessages,
	}), nil
}

func buildCaptureConversationState(c *Context, n *Node) (behavior.Node, error) {
	var opts struct {
		State                   string `yaml:"state"`
		StateKey                string `yaml:"state_key"`
		CaptureAssistantMessage bool   `yaml:"capture_assistant_message"`
		RetryErrors             int    `yaml:"retry_errors"`
	}
	if err := n.Decode(&opts); err != nil {
		return nil, err
	}
	newState, err := c.State(opts.State)
	if err != nil {
		return nil, err
	}
	return conversation.NewCaptureConversationState(name(n), &conversation.CaptureConversationState{
		NewState:                newState,
		StateKey:                opts.StateKey,
		CaptureAssistantMessage: opts.CaptureAssistantMessage,
		RetryErrors:             c.RetryErrors(opts.RetryErrors),
	}), nil
}

func buildAIToBlackboard(c *Context, n *Node) (behavior.Node, error) {
	var opts struct {
		Prompt      string         `yaml:"prompt"`
		Params      map[string]any `yaml:"params"`
		State       string         `yaml:"state"`
		StateKey    string         `yaml:"state_key"`
		Memory      bool           `yaml:"memory"`
		UseTools    bool           `yaml:"use_tools"`
		RetryErrors int            `yaml:"retry_errors"`
	}
	if err := n.Decode(&opts); err != nil {
		return nil, err
	}
	if opts.Prompt == "" {
		return nil, errors.New("prompt is required")
	}
	newState, err := c.State(opts.State)
	if err != nil {
		return nil, err
	}
	return conversation.NewAIToBlackboard(name(n), &conversation.AIToBlackboard{
		Prompt:      opts.Prompt,
		Params:      c.Params(opts.Params),
		StateKey:    opts.StateKey,
		NewState:    newState,
		Memory:      opts.Memory,
		UseTools:    opts.UseTools,
		RetryErrors: c.RetryErrors(opts.RetryErrors),
	}), nil
}

func buildRunTools(c *Context, n *Node) (behavior.Node, error) {
	var opts struct {
		InvokeKey   string `yaml:"invoke_key"`
		OutputKey   string `yaml:"output_key"`
		MaxRuns     int    `yaml:"max_runs"`
		MaxCalls    int    `yaml:"max_calls"`
		RetryErrors int    `yaml:"retry_errors"`
	}
	if err := n.Decode(&opts); err != nil {
		return nil, err
	}
	return conversation.NewRunTools(name(n), &conversation.RunTools{
		InvokeKey:   opts.InvokeKey,
		OutputKey:   opts.OutputKey,
		MaxRuns:     opts.MaxRuns,
		MaxCalls:    opts.MaxCalls,
		RetryErrors: c.RetryErrors(opts.RetryErrors),
	}), nil
}

func buildReAct(c *Context, n *Node) (behavior.Node, error) {
	var opts struct {
		Prompt         string         `yaml:"prompt"`
		FallbackPrompt string         `yaml:"fallback_prompt"`
		Params         map[string]any `yaml:"params"`
		InvokeKey      string         `yaml:"invoke_key"`
		OutputKey      string         `yaml:"output_key"`
		MaxRuns        int            `yaml:"max_runs"`
		MaxCalls       int            `yaml:"max_calls"`
		RetryErrors    int            `yaml:"retry_errors"`
	}
	if err := n.Decode(&opts); err != nil {
		return nil, err
	}
	return conversation.NewReAct(name(n), conversation.ReAct{
		Prompt:         opts.Prompt,
		FallbackPrompt: opts.FallbackPrompt,
		Params:         c.Params(opts.Params),
		InvokeKey:      opts.InvokeKey,
		OutputKey:      opts.OutputKey,
		MaxRuns:        opts.MaxRuns,
		MaxCalls:       opts.MaxCalls,
		RetryErrors:    c.RetryErrors(opts.RetryErrors),
	}), nil
}

func buildMessageIdiom(idiom func(conversation.Expression, behavior.Node) behavior.Node) BuildFunc {
	return func(c *Context, n *Node) (behavior.Node, error) {
		var opts struct {
			Check expressionOptions `yaml:"check"`
		}
		if err := n.Decode(&opts); err != nil {
			return nil, err
		}
		e, err := opts.Check.expression()
		if err != nil {
			return nil, fmt.Errorf("check: %w", err)
		}
		child, err := c.BuildChild(n)
		if err != nil {
			return nil, err
		}
		return idiom(e, child), nil
	}
}
