package conversation

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"text/template"

	"github.com/joeycumines/behavioral/internal/behavior"
	"github.com/joeycumines/behavioral/internal/inference"
)

var promptFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
}

// FormatPrompt expands text as a text/template. The data is the root
// namespace of the leaf's blackboard, overlaid by the leaf's namespace,
// overlaid by params. Output that is itself a template (e.g. a blackboard
// value holding "{{.name}}") is expanded once more.
//
// Templates referring to missing values are left unexpanded, and a warning
// is logged.
func FormatPrompt(l *behavior.Leaf, text string, params map[string]any) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	data := make(map[string]any)
	if bb := l.Blackboard(); bb != nil {
		maps.Copy(data, bb.ToMap(""))
		maps.Copy(data, bb.ToMap(l.Namespace()))
	}
	maps.Copy(data, params)

	out := text
	for range 2 {
		if !strings.Contains(out, "{{") {
			break
		}
		next, err := execute(out, data)
		if err != nil {
			l.Logger().Warn("cannot format prompt", slog.Any("error", err))
			return out
		}
		out = next
	}
	return out
}

func execute(text string, data map[string]any) (string, error) {
	tmpl, err := template.New("prompt").Funcs(promptFuncs).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse prompt: %w", err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("execute prompt: %w", err)
	}
	return sb.String(), nil
}

const captureInstructions = `You are an expert at capturing/updating the structured state of conversations between users and assistants.

You are distinguished for your attention to detail and for only including structured details that are actually present in the conversation with the user.
Leave structure fields empty or maintain their previous conversation state value if there is no relative information in the conversation history.
Do not come up with new data that are not in the conversation or the previous conversation state.`

// capturePrompt asks for the state of a conversation, given the previous
// state and the last fresh messages of history, which have not been
// captured yet. goal, if set, is the goal the state tracks.
func capturePrompt(goal string, history []inference.Message, fresh int, previous any) inference.Prompt {
	fresh = min(max(fresh, 0), len(history))
	split := len(history) - fresh

	var sb strings.Builder
	sb.WriteString(captureInstructions)
	if goal != "" {
		sb.WriteString("\nMake sure to **always** check if the current assistant's goal is achieved or failed.\n\n")
		sb.WriteString("Current assistant conversation goal:\n")
		sb.WriteString(goal)
	}
	sb.WriteString("\n\nConversation history:\n")
	sb.WriteString(inference.Transcript(history[:split]))
	sb.WriteString("\nPrevious conversation state:\n")
	if previous == nil {
		sb.WriteString("None")
	} else if b, err := json.MarshalIndent(previous, "", "  "); err == nil {
		sb.Write(b)
	} else {
		sb.WriteString("None")
	}
	sb.WriteString("\n\nNew assistant/user messages:\n")
	sb.WriteString(inference.Transcript(history[split:]))

	return inference.Prompt{
		History: []inference.Message{{Role: inference.RoleUser, Content: sb.String()}},
	}
}

// seedState returns a fresh state from newState, populated with previous
// so that fields the model leaves out keep their values.
func seedState(newState func() any, previous any) any {
	target := newState()
	if previous == nil {
		return target
	}
	if b, err := json.Marshal(previous); err == nil {
		_ = json.Unmarshal(b, target)
	}
	return target
}
