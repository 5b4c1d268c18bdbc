package conversation

import (
	"context"
	"time"

	"github.com/joeycumines/behavioral/internal/behavior"
)

// ConversationMessage sends one model-generated message following Prompt,
// streamed into the conversation. It fails when there is nothing to reply
// to, unless RespondWithoutUserMessage is set, and when MinInterval has not
// elapsed since its last message. It succeeds without sending once
// MaxMessages have been sent.
type ConversationMessage struct {
	behavior.Async

	Prompt                    string
	Params                    map[string]any
	UseTools                  bool
	RespondWithoutUserMessage bool
	// MaxMessages limits the messages sent over the leaf's lifetime. Zero
	// is unlimited.
	MaxMessages int
	MinInterval time.Duration
	// RetryErrors is the retry budget. Zero uses the default, and a
	// negative value retries forever.
	RetryErrors int

	sent int
	next time.Time
}

// NewConversationMessage returns a leaf running m.
func NewConversationMessage(name string, m *ConversationMessage) *behavior.Leaf {
	m.Async = behavior.Async{Start: m.start, RetryBudget: retryBudget(m.RetryErrors)}
	return behavior.NewLeaf(name, m)
}

// Sent returns the number of messages sent.
func (m *ConversationMessage) Sent() int { return m.sent }

func (m *ConversationMessage) Update(l *behavior.Leaf) behavior.Status {
	a, ok := agentOf(l)
	if !ok {
		l.SetFeedback(ErrNoAgent.Error())
		return behavior.Failure
	}
	if m.InFlight() {
		status := m.Poll(l)
		if status == behavior.Success {
			m.sent++
			m.next = a.now().Add(m.MinInterval)
		}
		return status
	}
	l.SetFeedback("")
	if a.CaptureRunning() {
		l.Logger().Debug("no message during capture")
		return behavior.Running
	}
	if m.MaxMessages > 0 && m.sent >= m.MaxMessages {
		l.SetFeedback("max messages sent reached")
		return behavior.Success
	}
	if !m.RespondWithoutUserMessage && !a.conv.HasPendingInput() {
		l.SetFeedback("no pending user message")
		return behavior.Failure
	}
	if !m.next.IsZero() && a.now().Before(m.next) {
		l.SetFeedback("next message time not reached")
		return behavior.Failure
	}
	l.Logger().Debug("sending message")
	return m.Poll(l)
}

func (m *ConversationMessage) start(l *behavior.Leaf) (behavior.Operation, error) {
	a, ok := agentOf(l)
	if !ok {
		return nil, ErrNoAgent
	}
	instruction := FormatPrompt(l, m.Prompt, m.Params)
	useTools := m.UseTools
	return func(ctx context.Context) (behavior.Status, error) {
		if err := a.respond(ctx, instruction, useTools); err != nil {
			return behavior.Invalid, err
		}
		return behavior.Success, nil
	}, nil
}
