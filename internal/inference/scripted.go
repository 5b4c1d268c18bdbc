package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrScriptExhausted is returned by a [Scripted] model with nothing left to
// say.
var ErrScriptExhausted = errors.New("inference: script exhausted")

type step struct {
	reply Reply
	state string
	err   error
}

// Scripted is a deterministic [Model] replaying queued replies and
// structured states, in order. It records every prompt it receives.
//
// If a gate is set, every call blocks until the gate yields a value (or is
// closed), or the context is done.
type Scripted struct {
	mu      sync.Mutex
	replies []step
	states  []step
	prompts []Prompt
	gate    <-chan struct{}
}

// NewScripted returns an empty script.
func NewScripted() *Scripted {
	return new(Scripted)
}

// Reply queues a reply.
func (s *Scripted) Reply(text string, calls ...ToolCall) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, step{reply: Reply{Text: text, ToolCalls: calls}})
	return s
}

// FailReply queues a failing [Model.Complete] call.
func (s *Scripted) FailReply(err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, step{err: err})
	return s
}

// State queues a JSON document for [Model.Structured].
func (s *Scripted) State(doc string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, step{state: doc})
	return s
}

// FailState queues a failing [Model.Structured] call.
func (s *Scripted) FailState(err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, step{err: err})
	return s
}

// Gate makes calls wait for gate.
func (s *Scripted) Gate(gate <-chan struct{}) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = gate
	return s
}

// Prompts returns the prompts received so far.
func (s *Scripted) Prompts() []Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Prompt(nil), s.prompts...)
}

// Pending returns the number of queued replies and states.
func (s *Scripted) Pending() (replies, states int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replies), len(s.states)
}

func (s *Scripted) next(ctx context.Context, p Prompt, queue *[]step) (step, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, p)
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-ctx.Done():
			return step{}, ctx.Err()
		case <-gate:
		}
	}
	if err := ctx.Err(); err != nil {
		return step{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(*queue) == 0 {
		return step{}, ErrScriptExhausted
	}
	st := (*queue)[0]
	*queue = (*queue)[1:]
	return st, st.err
}

func (s *Scripted) Complete(ctx context.Context, p Prompt, stream StreamFunc) (Reply, error) {
	st, err := s.next(ctx, p, &s.replies)
	if err != nil {
		return Reply{}, err
	}
	if stream != nil {
		for _, chunk := range strings.SplitAfter(st.reply.Text, " ") {
			if chunk != "" {
				stream(chunk)
			}
		}
	}
	return st.reply, nil
}

func (s *Scripted) Structured(ctx context.Context, p Prompt, target any) error {
	st, err := s.next(ctx, p, &s.states)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(st.state), target); err != nil {
		return fmt.Errorf("inference: decode structured reply: %w", err)
	}
	return nil
}
