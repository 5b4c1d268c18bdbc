package inference

import (
	"context"
	"encoding/json"
)

// Echo is a [Model] that repeats the last user message. It needs no network
// access, which makes it useful for trying out tree definitions.
type Echo struct {
	// Prefix is prepended to every reply.
	Prefix string
}

func (e Echo) Complete(ctx context.Context, p Prompt, stream StreamFunc) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	text := e.Prefix
	for i := len(p.History) - 1; i >= 0; i-- {
		if p.History[i].Role == RoleUser {
			text += p.History[i].Content
			break
		}
	}
	if text == "" {
		text = p.Instruction
	}
	if stream != nil {
		stream(text)
	}
	return Reply{Text: text}, nil
}

// Structured leaves target at its zero value.
func (e Echo) Structured(ctx context.Context, _ Prompt, target any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return json.Unmarshal([]byte("{}"), target)
}
