package conversation

import (
	"github.com/joeycumines/behavioral/internal/behavior"
)

// MessageUntilCondition keeps running task until check holds. The check is
// made before and after every run of task, and failures of either keep the
// subtree running.
func MessageUntilCondition(check Expression, task behavior.Node) behavior.Node {
	name := task.Name()
	seq := behavior.NewSequence(name+"_sequence",
		task,
		NewCheckBlackboardValue(name+"_check_after", check),
	).WithMemory(false)
	sel := behavior.NewSelector(name+"_selector",
		NewCheckBlackboardValue(name+"_check_before", check),
		seq,
	).WithMemory(false)
	return behavior.NewFailureIsRunning(name+"_run_until_condition", sel)
}

// MessageOnCondition runs task unless check holds, succeeding once it
// does.
func MessageOnCondition(check Expression, task behavior.Node) behavior.Node {
	name := task.Name()
	sel := behavior.NewSelector(name+"_selector",
		NewCheckBlackboardValue(name+"_check", check),
		task,
	).WithMemory(false)
	return behavior.NewFailureIsRunning(name+"_run_until_condition", sel)
}

const (
	defaultReActPrompt = `You are solving the user question by a sequence of tool executions.

Previously executed tools with results:
{{with index . "tool_results"}}{{.}}{{else}}None{{end}}

Only add the tools that are needed for this stage of computation.
Do not proactively execute tools that depend on other tool results that you haven't yet executed.
Respond if ready to answer the question, otherwise execute some tools.`

	defaultReActFallbackPrompt = `Previously executed tools with results:
{{with index . "tool_results"}}{{.}}{{else}}None{{end}}

Respond to the user question based on the tool results.`
)

// ReAct configures [NewReAct]. The zero value uses the default prompts and
// tool limits.
type ReAct struct {
	// Prompt asks the model for its next tool calls, or its answer. The
	// results so far are available to it as {{.tool_results}}.
	Prompt string
	// FallbackPrompt asks for an answer once the tool limits are reached.
	FallbackPrompt string
	Params         map[string]any
	InvokeKey      string
	// OutputKey holds the tool results. The default prompts read them from
	// tool_results, so a different key needs its own prompts.
	OutputKey string
	MaxRuns        int
	MaxCalls       int
	RetryErrors    int
}

// NewReAct returns a subtree answering each user message by alternating
// model calls and tool runs until the model answers without calling tools.
// The answer is sent as is. If the tool limits are reached first, a final
// message is generated from the tool results instead. The subtree stays
// running while there is no user message to answer.
func NewReAct(name string, r ReAct) behavior.Node {
	if r.Prompt == "" {
		r.Prompt = defaultReActPrompt
	}
	if r.FallbackPrompt == "" {
		r.FallbackPrompt = defaultReActFallbackPrompt
	}
	if r.InvokeKey == "" {
		r.InvokeKey = DefaultInvokeKey
	}
	if r.OutputKey == "" {
		r.OutputKey = DefaultToolOutputKey
	}
	calls := behavior.Args{"variable": r.InvokeKey}

	invoke := NewAIToBlackboard(name+"_invoke", &AIToBlackboard{
		Prompt:      r.Prompt,
		Params:      r.Params,
		StateKey:    r.InvokeKey,
		UseTools:    true,
		RetryErrors: r.RetryErrors,
	})
	run := behavior.Guarded(NewRunTools(name+"_run_tools", &RunTools{
		InvokeKey:   r.InvokeKey,
		OutputKey:   r.OutputKey,
		MaxRuns:     r.MaxRuns,
		MaxCalls:    r.MaxCalls,
		RetryErrors: r.RetryErrors,
	}), &behavior.BehaviorGuard{
		Enter: &behavior.Guard{
			Success: &behavior.Check{Name: "no_tool_calls", Predicate: behavior.Not(hasToolCalls), Args: calls},
		},
	})
	// ran tools, so the model has more to say
	loop := behavior.Guarded(behavior.NewSequence(name+"_loop", invoke, run), &behavior.BehaviorGuard{
		Exit: &behavior.Guard{
			Running: &behavior.Check{Name: "ran_tools", Predicate: ranTools, Args: calls},
		},
	})
	answer := behavior.NewSequence(name+"_and_respond",
		NewRemoveBlackboardVariable(name+"_reset_tool_results", r.OutputKey),
		loop,
		NewRespondFromBlackboard(name+"_respond", r.InvokeKey+".text"),
	)
	fallback := NewConversationMessage(name+"_respond_on_failure", &ConversationMessage{
		Prompt:      r.FallbackPrompt,
		Params:      r.Params,
		RetryErrors: r.RetryErrors,
	})
	return behavior.Guarded(behavior.NewSelector(name, answer, fallback), &behavior.BehaviorGuard{
		Enter: &behavior.Guard{
			Running: &behavior.Check{Name: PredicateNoPendingInput, Predicate: noPendingInput},
		},
	})
}

func ranTools(n behavior.Node, args behavior.Args) (bool, error) {
	if n.Status() != behavior.Success {
		return false, nil
	}
	return hasToolCalls(n, args)
}
