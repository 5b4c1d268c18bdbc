package conversation

import (
	"context"

	"github.com/joeycumines/behavioral/internal/behavior"
)

// CaptureConversationState captures the state of the conversation into the
// blackboard, whenever there are user messages (or, with
// CaptureAssistantMessage, completed assistant messages) it has not
// captured. It never holds up its parent: it succeeds while the capture
// runs in the background, flagging it on the agent so that message
// behaviors wait for it. Failed captures are logged, and reported as
// success.
type CaptureConversationState struct {
	behavior.Async

	// NewState returns a pointer to the struct the state is captured
	// into. The default is [ConversationState].
	NewState                func() any
	StateKey                string
	CaptureAssistantMessage bool
	RetryErrors             int

	lastCaptured  int
	from          int
	capturedEmpty bool
}

// NewCaptureConversationState returns a leaf running c.
func NewCaptureConversationState(name string, c *CaptureConversationState) *behavior.Leaf {
	c.Async = behavior.Async{Start: c.start, RetryBudget: retryBudget(c.RetryErrors)}
	if c.NewState == nil {
		c.NewState = func() any { return new(ConversationState) }
	}
	if c.StateKey == "" {
		c.StateKey = DefaultStateKey
	}
	return behavior.NewLeaf(name, c)
}

// Initialise keeps a capture in flight across activations.
func (c *CaptureConversationState) Initialise(*behavior.Leaf) {}

// Terminate cancels the capture only when the leaf is interrupted.
func (c *CaptureConversationState) Terminate(l *behavior.Leaf, status behavior.Status) {
	if status == behavior.Invalid {
		c.Async.Terminate(l, status)
	}
}

func (c *CaptureConversationState) Update(l *behavior.Leaf) behavior.Status {
	a, ok := agentOf(l)
	if !ok {
		l.SetFeedback(ErrNoAgent.Error())
		return behavior.Failure
	}
	if c.InFlight() {
		c.Poll(l)
		if !c.Done() {
			l.Logger().Debug("state capture not finished yet")
			a.captureRunning.Store(true)
			return behavior.Success
		}
		c.Reset()
		return behavior.Success
	}
	l.SetFeedback("")

	n := a.conv.Len()
	switch {
	case n == 0:
		if c.capturedEmpty {
			return behavior.Success
		}
		c.capturedEmpty = true
	case n <= c.lastCaptured:
		return behavior.Success
	case !a.conv.pendingSince(c.lastCaptured, c.CaptureAssistantMessage):
		return behavior.Success
	}
	l.Logger().Debug("capturing state")
	c.from, c.lastCaptured = c.lastCaptured, n
	a.captureRunning.Store(true)
	return c.Poll(l)
}

func (c *CaptureConversationState) start(l *behavior.Leaf) (behavior.Operation, error) {
	a, ok := agentOf(l)
	if !ok {
		return nil, ErrNoAgent
	}
	previous, _ := l.Get(c.StateKey)
	fresh := a.conv.Len() - c.from
	history := a.conv.ActiveHistory(a.history)
	newState, key := c.NewState, c.StateKey
	return func(ctx context.Context) (behavior.Status, error) {
		target := seedState(newState, previous)
		if err := a.model.Structured(ctx, capturePrompt("", history, fresh, previous), target); err != nil {
			return behavior.Invalid, err
		}
		if err := postSet(l, key, target); err != nil {
			return behavior.Invalid, err
		}
		return behavior.Success, nil
	}, nil
}
