package conversation

import (
	"context"

	"github.com/joeycumines/behavioral/internal/behavior"
	"github.com/joeycumines/behavioral/internal/inference"
)

// AIToBlackboard asks the model to follow Prompt, given the conversation,
// and stores the result under StateKey (the leaf name by default): the
// structured record returned by NewState, or an [inference.Reply] when
// NewState is nil.
//
// Without Memory, the result is discarded whenever the leaf becomes
// active, so the model is asked again. With Memory, the leaf succeeds
// straight away once it has a result.
type AIToBlackboard struct {
	behavior.Async

	Prompt      string
	Params      map[string]any
	StateKey    string
	NewState    func() any
	Memory      bool
	UseTools    bool
	RetryErrors int

	captured bool
}

// NewAIToBlackboard returns a leaf running b.
func NewAIToBlackboard(name string, b *AIToBlackboard) *behavior.Leaf {
	b.Async = behavior.Async{Start: b.start, RetryBudget: retryBudget(b.RetryErrors)}
	if b.StateKey == "" {
		b.StateKey = name
	}
	return behavior.NewLeaf(name, b)
}

func (b *AIToBlackboard) Initialise(l *behavior.Leaf) {
	b.Async.Initialise(l)
	if !b.Memory {
		b.captured = false
		l.Remove(b.StateKey)
	}
}

func (b *AIToBlackboard) Update(l *behavior.Leaf) behavior.Status {
	if b.InFlight() {
		status := b.Poll(l)
		if status == behavior.Success {
			b.captured = true
		}
		return status
	}
	if b.captured {
		return behavior.Success
	}
	return b.Poll(l)
}

func (b *AIToBlackboard) start(l *behavior.Leaf) (behavior.Operation, error) {
	a, ok := agentOf(l)
	if !ok {
		return nil, ErrNoAgent
	}
	instruction := FormatPrompt(l, b.Prompt, b.Params)
	history := a.conv.ActiveHistory(a.history)
	newState, key, useTools := b.NewState, b.StateKey, b.UseTools
	return func(ctx context.Context) (behavior.Status, error) {
		specs, err := a.toolSpecs(ctx, useTools)
		if err != nil {
			return behavior.Invalid, err
		}
		p := inference.Prompt{
			System:      a.goalPrompt,
			History:     history,
			Instruction: instruction,
			Tools:       specs,
		}
		var result any
		if newState != nil {
			target := newState()
			if err := a.model.Structured(ctx, p, target); err != nil {
				return behavior.Invalid, err
			}
			result = target
		} else {
			reply, err := a.model.Complete(ctx, p, nil)
			if err != nil {
				return behavior.Invalid, err
			}
			result = reply
		}
		if err := postSet(l, key, result); err != nil {
			return behavior.Invalid, err
		}
		return behavior.Success, nil
	}, nil
}
