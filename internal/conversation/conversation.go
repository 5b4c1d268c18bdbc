// Package conversation drives chat conversations with behavior trees: the
// chat history collaborator, the [Agent] wrapping a tree, and the leaf
// behaviors that talk to the user through a language model.
package conversation

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/joeycumines/behavioral/internal/inference"
)

// Message is an entry of the chat history.
type Message struct {
	ID      int            `json:"id"`
	Role    inference.Role `json:"role"`
	Content string         `json:"content"`
	Time    time.Time      `json:"time"`
	// Completed is false while an assistant message is being streamed.
	Completed bool `json:"completed"`
}

// EventKind identifies a change to a [Conversation].
type EventKind int

const (
	UserMessage EventKind = iota
	AssistantStarted
	AssistantDelta
	AssistantCompleted
	AssistantDiscarded
)

// Event describes a change to a [Conversation]. Delta is set for
// AssistantDelta events.
type Event struct {
	Kind    EventKind
	Message Message
	Delta   string
}

// Conversation is the chat history shared by the user and the behaviors of
// a tree. It is safe for concurrent use: user input typically arrives on
// another goroutine, and replies are streamed in by async operations.
type Conversation struct {
	mu       sync.Mutex
	messages []Message
	nextID   int
	lastTime time.Time
	clock    func() time.Time
	watchers map[int]func(Event)
	watchID  int
}

// Option configures a [Conversation].
type Option func(*Conversation)

// WithClock sets the time source. The default is time.Now.
func WithClock(clock func() time.Time) Option {
	return func(c *Conversation) { c.clock = clock }
}

// New returns an empty conversation.
func New(opts ...Option) *Conversation {
	c := &Conversation{clock: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	c.lastTime = c.clock()
	return c
}

// Now returns the current time according to the conversation's clock.
func (c *Conversation) Now() time.Time { return c.clock() }

// Watch registers fn to receive every event, returning a function that
// unregisters it. fn is called synchronously, without locks held, on the
// goroutine making the change.
func (c *Conversation) Watch(fn func(Event)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchers == nil {
		c.watchers = make(map[int]func(Event))
	}
	id := c.watchID
	c.watchID++
	c.watchers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.watchers, id)
	}
}

func (c *Conversation) notify(e Event) {
	c.mu.Lock()
	watchers := make([]func(Event), 0, len(c.watchers))
	for _, fn := range c.watchers {
		watchers = append(watchers, fn)
	}
	c.mu.Unlock()
	for _, fn := range watchers {
		fn(e)
	}
}

// appendLocked adds a message, returning a copy of it.
func (c *Conversation) appendLocked(role inference.Role, content string, completed bool) Message {
	now := c.clock()
	c.lastTime = now
	m := Message{ID: c.nextID, Role: role, Content: content, Time: now, Completed: completed}
	c.nextID++
	c.messages = append(c.messages, m)
	return m
}

// AddUserMessage appends a message from the user.
func (c *Conversation) AddUserMessage(text string) {
	c.mu.Lock()
	m := c.appendLocked(inference.RoleUser, text, true)
	c.mu.Unlock()
	c.notify(Event{Kind: UserMessage, Message: m})
}

// AddAssistantMessage appends an empty, incomplete assistant message, and
// returns a handle used to fill it in.
func (c *Conversation) AddAssistantMessage() *AssistantMessage {
	c.mu.Lock()
	m := c.appendLocked(inference.RoleAssistant, "", false)
	c.mu.Unlock()
	c.notify(Event{Kind: AssistantStarted, Message: m})
	return &AssistantMessage{c: c, id: m.ID}
}

// HasPendingInput reports whether the last message is from the user.
func (c *Conversation) HasPendingInput() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages) > 0 && c.messages[len(c.messages)-1].Role == inference.RoleUser
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

// ActiveHistory returns the last n messages in the form sent to a model,
// skipping assistant messages that have no content yet.
func (c *Conversation) ActiveHistory(n int) []inference.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return toInference(c.messages, n)
}

func toInference(messages []Message, n int) []inference.Message {
	var out []inference.Message
	for _, m := range messages {
		if m.Role == inference.RoleAssistant && !m.Completed && m.Content == "" {
			continue
		}
		out = append(out, inference.Message{Role: m.Role, Content: m.Content})
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// pendingSince reports whether messages[from:] holds a user message, or a
// completed assistant message when assistant is set.
func (c *Conversation) pendingSince(from int, assistant bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.messages[min(max(from, 0), len(c.messages)):] {
		switch {
		case m.Role == inference.RoleUser:
			return true
		case assistant && m.Role == inference.RoleAssistant && m.Completed:
			return true
		}
	}
	return false
}

// userMessagesSince counts the user messages in messages[from:].
func (c *Conversation) userMessagesSince(from int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.messages[min(max(from, 0), len(c.messages)):] {
		if m.Role == inference.RoleUser {
			n++
		}
	}
	return n
}

// LastMessageTime returns the time of the most recent message, or the time
// the conversation was created.
func (c *Conversation) LastMessageTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTime
}

func (c *Conversation) update(id int, fn func(m *Message)) (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID == id {
			fn(&c.messages[i])
			return c.messages[i], true
		}
	}
	return Message{}, false
}

type state struct {
	Messages        []Message `json:"messages"`
	LastMessageTime time.Time `json:"last_message_time"`
}

// MarshalJSON encodes the history.
func (c *Conversation) MarshalJSON() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return json.Marshal(state{Messages: c.messages, LastMessageTime: c.lastTime})
}

// UnmarshalJSON replaces the history. Incomplete assistant messages are
// dropped, since nothing will complete them.
func (c *Conversation) UnmarshalJSON(data []byte) error {
	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clock == nil {
		c.clock = time.Now
	}
	c.messages = c.messages[:0]
	c.nextID = 0
	for _, m := range s.Messages {
		if m.Role == inference.RoleAssistant && !m.Completed {
			continue
		}
		c.messages = append(c.messages, m)
		c.nextID = max(c.nextID, m.ID+1)
	}
	if !s.LastMessageTime.IsZero() {
		c.lastTime = s.LastMessageTime
	}
	return nil
}

// AssistantMessage fills in a message added by
// [Conversation.AddAssistantMessage].
type AssistantMessage struct {
	c  *Conversation
	id int
}

// ID identifies the message within the conversation.
func (a *AssistantMessage) ID() int { return a.id }

// Write appends delta to the message. It has the signature of an
// [inference.StreamFunc].
func (a *AssistantMessage) Write(delta string) {
	if delta == "" {
		return
	}
	m, ok := a.c.update(a.id, func(m *Message) { m.Content += delta })
	if ok {
		a.c.notify(Event{Kind: AssistantDelta, Message: m, Delta: delta})
	}
}

// Complete marks the message complete, replacing its content with text if
// text is non-empty.
func (a *AssistantMessage) Complete(text string) {
	m, ok := a.c.update(a.id, func(m *Message) {
		if text != "" {
			m.Content = text
		}
		m.Completed = true
	})
	if ok {
		a.c.notify(Event{Kind: AssistantCompleted, Message: m})
	}
}

// Discard removes the message, e.g. after the model failed to produce it.
func (a *AssistantMessage) Discard() {
	c := a.c
	c.mu.Lock()
	var removed Message
	found := false
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID == a.id {
			removed = c.messages[i]
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			found = true
			break
		}
	}
	c.mu.Unlock()
	if found {
		c.notify(Event{Kind: AssistantDiscarded, Message: removed})
	}
}
