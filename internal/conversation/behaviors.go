package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/joeycumines/behavioral/internal/behavior"
	"github.com/joeycumines/behavioral/internal/blackboard"
	"github.com/joeycumines/behavioral/internal/inference"
)

// GoalState is the default state captured by [ConversationGoal].
type GoalState struct {
	GoalAchieved bool    `json:"goal_achieved" description:"True, if the goal has been achieved in the conversation."`
	GoalProgress float64 `json:"goal_progress" description:"Progress of the goal in the conversation. 0.0 is not started, 1.0 is completed."`
	GoalFailed   bool    `json:"goal_failed" description:"True, if the goal has failed or is not possible to achieve in the conversation."`
}

// ConversationState is a general purpose conversation state, for
// [Config.NewState].
type ConversationState struct {
	UserWantsToEndConversation bool    `json:"user_wants_to_end_conversation" description:"True, if the user wants to end the conversation."`
	UserIsObjectingAssistant   bool    `json:"user_is_objecting_assistant" description:"True, if the user is objecting the current goal of the assistant."`
	UserEngagement             float64 `json:"user_engagement" description:"How engaged is the user? 0.0 is not engaged, 1.0 is fully engaged. Values below 0.4 mean that the assistant should try to re-engage the user."`
}

// RegisterTypes registers the records stored by conversational behaviors,
// so that blackboard snapshots restore them.
func RegisterTypes(r *blackboard.TypeRegistry) error {
	return errors.Join(
		blackboard.Register[GoalState](r, "conversation.GoalState"),
		blackboard.Register[ConversationState](r, "conversation.ConversationState"),
		blackboard.Register[ToolExecutions](r, "conversation.ToolExecutions"),
		blackboard.Register[inference.Reply](r, "inference.Reply"),
	)
}

// retryBudget maps a behavior's RetryErrors option to an [behavior.Async]
// retry budget: zero is the default, and negative is unlimited.
func retryBudget(n int) int {
	if n == 0 {
		return behavior.DefaultRetryBudget
	}
	return n
}

// postSet stores value under key, relative to the namespace of l, on the
// tick goroutine.
func postSet(l *behavior.Leaf, key string, value any) error {
	return l.Post(func(bb *blackboard.Blackboard) {
		if err := bb.Set(key, value, l.Namespace()); err != nil {
			l.Logger().Error("cannot store result", slog.String("key", key), slog.Any("error", err))
		}
	})
}

// agentLeaf adapts fn, which needs the agent of the leaf's tree, to a
// [behavior.UpdateFunc].
func agentLeaf(name string, fn func(l *behavior.Leaf, a *Agent) behavior.Status) *behavior.Leaf {
	return behavior.NewLeaf(name, behavior.UpdateFunc(func(l *behavior.Leaf) behavior.Status {
		a, ok := agentOf(l)
		if !ok {
			l.SetFeedback(ErrNoAgent.Error())
			return behavior.Failure
		}
		return fn(l, a)
	}))
}

// NewWait returns a leaf succeeding after delay, without blocking the tick.
func NewWait(delay time.Duration) *behavior.Leaf {
	name := "wait(" + strconv.FormatFloat(delay.Seconds(), 'g', -1, 64) + "s)"
	return behavior.AsyncLeaf(name, behavior.DefaultRetryBudget, func(*behavior.Leaf) (behavior.Operation, error) {
		return func(ctx context.Context) (behavior.Status, error) {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return behavior.Invalid, ctx.Err()
			case <-t.C:
				return behavior.Success, nil
			}
		}, nil
	})
}

// NewCheckUserIsActive returns a leaf succeeding while a message was
// exchanged within window, or none has been yet.
func NewCheckUserIsActive(window time.Duration) *behavior.Leaf {
	return agentLeaf("IsUserActive", func(l *behavior.Leaf, a *Agent) behavior.Status {
		active, elapsed := a.userActive(window)
		l.SetFeedback("time since last message: %s", elapsed.Round(time.Millisecond))
		if !active {
			l.Logger().Debug("user is inactive", slog.Duration("elapsed", elapsed))
			return behavior.Failure
		}
		return behavior.Success
	})
}

// NewCheckHasPendingUserMessage returns a leaf succeeding when the last
// message is from the user.
func NewCheckHasPendingUserMessage() *behavior.Leaf {
	return agentLeaf("HasPendingUserMessage", func(_ *behavior.Leaf, a *Agent) behavior.Status {
		if a.conv.HasPendingInput() {
			return behavior.Success
		}
		return behavior.Failure
	})
}

// NewCheckNoPendingUserMessage returns a leaf succeeding when the last
// message is not from the user.
func NewCheckNoPendingUserMessage() *behavior.Leaf {
	return agentLeaf("NoPendingUserMessage", func(_ *behavior.Leaf, a *Agent) behavior.Status {
		if a.conv.HasPendingInput() {
			return behavior.Failure
		}
		return behavior.Success
	})
}

// NewCheckBlackboardValue returns a leaf succeeding when e holds. A missing
// variable fails the check.
func NewCheckBlackboardValue(name string, e Expression) *behavior.Leaf {
	return behavior.NewLeaf(name, behavior.UpdateFunc(func(l *behavior.Leaf) behavior.Status {
		value, err := lookupVariable(l, e.Variable)
		if err != nil {
			l.SetFeedback("%q: %v", e.Variable, err)
			return behavior.Failure
		}
		ok, err := e.Evaluate(value)
		if err != nil {
			l.SetFeedback("%q comparison error: %v", e.Variable, err)
			return behavior.Failure
		}
		if ok {
			l.SetFeedback("%q comparison succeeded [v: %v][e: %v]", e.Variable, value, e.Value)
			return behavior.Success
		}
		l.SetFeedback("%q comparison failed [v: %v][e: %v]", e.Variable, value, e.Value)
		return behavior.Failure
	}))
}

// NewRemoveBlackboardVariable returns a leaf removing key. It always
// succeeds.
func NewRemoveBlackboardVariable(name, key string) *behavior.Leaf {
	return behavior.NewLeaf(name, behavior.UpdateFunc(func(l *behavior.Leaf) behavior.Status {
		if l.Remove(key) {
			l.SetFeedback("%q found and removed", key)
		} else {
			l.SetFeedback("%q not found, nothing to remove", key)
		}
		return behavior.Success
	}))
}

// NewIncrementBlackboardVariable returns a leaf adding one to variable
// ("key" or "key.attribute.path"). A missing key counts from zero; a
// missing record, or attribute, fails.
func NewIncrementBlackboardVariable(name, variable string) *behavior.Leaf {
	key, path := blackboard.SplitVariable(variable)
	return behavior.NewLeaf(name, behavior.UpdateFunc(func(l *behavior.Leaf) behavior.Status {
		v, ok := l.Get(key)
		if !ok && path != "" {
			l.SetFeedback("key %q does not yet exist on the blackboard", key)
			return behavior.Failure
		}
		next, err := blackboard.Increment(v, path)
		if err != nil {
			l.SetFeedback("cannot increment %q: %v", variable, err)
			return behavior.Failure
		}
		if err := l.Set(key, next); err != nil {
			l.SetFeedback("cannot store %q: %v", key, err)
			return behavior.Failure
		}
		l.SetFeedback("[%v]", next)
		return behavior.Success
	}))
}

// NewRespondToUser returns a leaf sending message, formatted with
// [FormatPrompt], as an assistant message.
func NewRespondToUser(name, message string, params map[string]any) *behavior.Leaf {
	return agentLeaf(name, func(l *behavior.Leaf, a *Agent) behavior.Status {
		a.conv.AddAssistantMessage().Complete(FormatPrompt(l, message, params))
		return behavior.Success
	})
}

// NewRespondFromBlackboard returns a leaf sending the value of variable as
// an assistant message. It holds while a state capture is running.
func NewRespondFromBlackboard(name, variable string) *behavior.Leaf {
	return agentLeaf(name, func(l *behavior.Leaf, a *Agent) behavior.Status {
		if a.CaptureRunning() {
			l.SetFeedback("no message during state capture")
			return behavior.Running
		}
		value, err := lookupVariable(l, variable)
		if err != nil {
			l.SetFeedback("%q: %v", variable, err)
			return behavior.Failure
		}
		l.SetFeedback("")
		text, ok := value.(string)
		if !ok {
			text = fmt.Sprint(value)
		}
		a.conv.AddAssistantMessage().Complete(text)
		return behavior.Success
	})
}
