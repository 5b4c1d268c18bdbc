package conversation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/joeycumines/behavioral/internal/behavior"
)

// Default predicate names of [ConversationGoal].
const (
	DefaultGoalAchieved = "goal_achieved"
	DefaultGoalFailed   = "goal_failed"
)

// DefaultResetAfterUserMessages is the number of user messages, since the
// last capture, after which a goal without memory starts over.
const DefaultResetAfterUserMessages = 2

// ConversationGoal converses with the user until a goal is achieved or
// failed. Each time it has something to reply to, it captures the goal
// state (once it has sent a message), checks the Achieved and Failed
// predicates against it, and otherwise sends another message. It fails once
// MaxMessages have been sent without achieving the goal.
//
// The captured state is stored on the blackboard under StateKey (the leaf
// name by default), and reloaded whenever the leaf becomes active.
type ConversationGoal struct {
	behavior.Async

	Prompt                    string
	Params                    map[string]any
	UseTools                  bool
	RespondWithoutUserMessage bool
	MaxMessages               int
	// MinInterval spaces unsolicited messages. It does not delay replies
	// to the user.
	MinInterval time.Duration
	RetryErrors int

	// NewState returns a pointer to the struct the goal state is captured
	// into. The default is [GoalState].
	NewState func() any
	StateKey string
	// Achieved and Failed name predicates in the agent's
	// [StatePredicates]. They default to DefaultGoalAchieved and
	// DefaultGoalFailed.
	Achieved string
	Failed   string
	// NoMemory restarts the goal when the leaf becomes active after
	// ResetAfterUserMessages user messages were not captured.
	NoMemory               bool
	ResetAfterUserMessages int

	sent         int
	next         time.Time
	lastCaptured int
	result       *goalResult
}

type goalResult struct {
	captured     bool
	lastCaptured int
	responded    bool
	reason       string
}

// NewConversationGoal returns a leaf running g.
func NewConversationGoal(name string, g *ConversationGoal) *behavior.Leaf {
	g.Async = behavior.Async{Start: g.start, RetryBudget: retryBudget(g.RetryErrors)}
	if g.NewState == nil {
		g.NewState = func() any { return new(GoalState) }
	}
	if g.Achieved == "" {
		g.Achieved = DefaultGoalAchieved
	}
	if g.Failed == "" {
		g.Failed = DefaultGoalFailed
	}
	if g.ResetAfterUserMessages <= 0 {
		g.ResetAfterUserMessages = DefaultResetAfterUserMessages
	}
	l := behavior.NewLeaf(name, g)
	if g.StateKey == "" {
		g.StateKey = name
	}
	return l
}

// Sent returns the number of messages sent.
func (g *ConversationGoal) Sent() int { return g.sent }

func (g *ConversationGoal) Initialise(l *behavior.Leaf) {
	g.Async.Initialise(l)
	a, ok := agentOf(l)
	if !ok {
		return
	}
	if g.NoMemory && a.conv.userMessagesSince(g.lastCaptured) >= g.ResetAfterUserMessages {
		l.Logger().Debug("restarting goal")
		g.sent = 0
		g.next = time.Time{}
		l.Remove(g.StateKey)
	}
}

func (g *ConversationGoal) Update(l *behavior.Leaf) behavior.Status {
	a, ok := agentOf(l)
	if !ok {
		l.SetFeedback(ErrNoAgent.Error())
		return behavior.Failure
	}
	if g.InFlight() {
		status := g.Poll(l)
		if !g.Done() {
			return status
		}
		g.apply(l, a)
		if status == behavior.Running {
			// replied, wait for the next user message
			g.Reset()
		}
		return status
	}
	l.SetFeedback("")
	if a.CaptureRunning() {
		return behavior.Running
	}
	state, _ := l.Get(g.StateKey)
	verdict, reason, err := g.verdict(a.predicates, state, g.sent)
	if err != nil {
		l.Logger().Warn("cannot evaluate goal", slog.Any("error", err))
	}
	if verdict != behavior.Running {
		l.SetFeedback(reason)
		return verdict
	}
	pending := a.conv.HasPendingInput()
	if !pending && !g.RespondWithoutUserMessage {
		return behavior.Running
	}
	if !pending && !g.next.IsZero() && a.now().Before(g.next) {
		return behavior.Running
	}
	return g.Poll(l)
}

func (g *ConversationGoal) apply(l *behavior.Leaf, a *Agent) {
	r := g.result
	g.result = nil
	if r == nil {
		return
	}
	if r.reason != "" {
		l.SetFeedback(r.reason)
	}
	if r.captured {
		g.lastCaptured = r.lastCaptured
	}
	if r.responded {
		g.sent++
		g.next = a.now().Add(g.MinInterval)
	}
}

// verdict evaluates the goal against state, given the messages sent. It
// only reads g's configuration, so operations may call it.
func (g *ConversationGoal) verdict(preds *StatePredicates, state any, sent int) (behavior.Status, string, error) {
	achieved, aerr := preds.Eval(g.Achieved, state)
	if achieved {
		return behavior.Success, "goal achieved", nil
	}
	if g.MaxMessages > 0 && sent >= g.MaxMessages {
		return behavior.Failure, "max messages sent", aerr
	}
	failed, ferr := preds.Eval(g.Failed, state)
	if failed {
		return behavior.Failure, "goal failed", aerr
	}
	return behavior.Running, "", errors.Join(aerr, ferr)
}

// start snapshots the inputs of one round: capture (after the first
// message), check, and reply.
func (g *ConversationGoal) start(l *behavior.Leaf) (behavior.Operation, error) {
	a, ok := agentOf(l)
	if !ok {
		return nil, ErrNoAgent
	}
	instruction := FormatPrompt(l, g.Prompt, g.Params)
	previous, _ := l.Get(g.StateKey)
	sent := g.sent
	fresh := a.conv.Len() - g.lastCaptured
	history := a.conv.ActiveHistory(a.history)
	useTools := g.UseTools
	newState := g.NewState
	key := g.StateKey
	logger := l.Logger()

	r := new(goalResult)
	g.result = r
	return func(ctx context.Context) (behavior.Status, error) {
		state := previous
		if sent > 0 {
			captureAt := a.conv.Len()
			target := seedState(newState, previous)
			if err := a.model.Structured(ctx, capturePrompt(instruction, history, fresh, previous), target); err != nil {
				// a failed capture falls back to the previous state
				logger.Error("error capturing goal state", slog.Any("error", err))
			} else {
				state = target
				r.captured, r.lastCaptured = true, captureAt
				if err := postSet(l, key, target); err != nil {
					return behavior.Invalid, err
				}
			}
		}
		verdict, reason, err := g.verdict(a.predicates, state, sent)
		if err != nil {
			logger.Warn("cannot evaluate goal", slog.Any("error", err))
		}
		if verdict != behavior.Running {
			r.reason = reason
			return verdict, nil
		}
		if err := a.respond(ctx, instruction, useTools); err != nil {
			return behavior.Invalid, err
		}
		r.responded = true
		return behavior.Running, nil
	}, nil
}
