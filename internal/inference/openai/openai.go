// Package openai implements [inference.Model] over the OpenAI chat
// completions API, or any server compatible with it.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/joeycumines/behavioral/internal/inference"
)

// DefaultModel is used when [Config.Model] is empty.
const DefaultModel = "gpt-4o-mini"

// ErrNoChoices is returned when the API responds without any choices.
var ErrNoChoices = errors.New("OpenAI returned no choices")

// Config configures a [Client].
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Logger  *slog.Logger
	// HTTPClient overrides the HTTP client, e.g. in tests.
	HTTPClient openai.HTTPDoer
}

// Client is an [inference.Model] backed by the chat completions API.
type Client struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

var _ inference.Model = (*Client)(nil)

// New returns a client for cfg.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("model", model))
	logger.Debug("Initializing OpenAI client", slog.String("base_url", oc.BaseURL))
	return &Client{
		client: openai.NewClientWithConfig(oc),
		model:  model,
		logger: logger,
	}, nil
}

// Model returns the model name sent with every request.
func (c *Client) Model() string { return c.model }

// Complete generates a reply. With a non-nil stream the reply is streamed,
// and tool calls are assembled from their deltas.
func (c *Client) Complete(ctx context.Context, p inference.Prompt, stream inference.StreamFunc) (inference.Reply, error) {
	req := c.request(p)
	if stream == nil {
		return c.complete(ctx, req)
	}
	req.Stream = true
	s, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		c.logger.Error("OpenAI API call failed", slog.Any("error", err))
		return inference.Reply{}, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	defer s.Close()

	var (
		text  strings.Builder
		calls = make(map[int]*inference.ToolCall)
		seen  bool
	)
	for {
		resp, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			c.logger.Error("OpenAI stream failed", slog.Any("error", err))
			return inference.Reply{}, fmt.Errorf("OpenAI stream failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		seen = true
		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			text.WriteString(delta.Content)
			stream(delta.Content)
		}
		for i, tc := range delta.ToolCalls {
			index := i
			if tc.Index != nil {
				index = *tc.Index
			}
			call := calls[index]
			if call == nil {
				call = new(inference.ToolCall)
				calls[index] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			call.Arguments += tc.Function.Arguments
		}
	}
	if !seen {
		return inference.Reply{}, ErrNoChoices
	}

	reply := inference.Reply{Text: text.String()}
	indexes := make([]int, 0, len(calls))
	for i := range calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		reply.ToolCalls = append(reply.ToolCalls, *calls[i])
	}
	return reply, nil
}

func (c *Client) complete(ctx context.Context, req openai.ChatCompletionRequest) (inference.Reply, error) {
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.Error("OpenAI API call failed", slog.Any("error", err))
		return inference.Reply{}, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		c.logger.Warn("OpenAI returned no choices")
		return inference.Reply{}, ErrNoChoices
	}
	c.logger.Debug("Received response from OpenAI", slog.String("finish_reason", string(resp.Choices[0].FinishReason)))
	msg := resp.Choices[0].Message
	reply := inference.Reply{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		reply.ToolCalls = append(reply.ToolCalls, inference.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return reply, nil
}

// Structured asks for a JSON document matching the schema of target's type,
// falling back to plain JSON mode if no schema can be derived.
func (c *Client) Structured(ctx context.Context, p inference.Prompt, target any) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return fmt.Errorf("structured output target must be a non-nil pointer, got %T", target)
	}
	req := c.request(p)
	req.Tools = nil
	req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	if schema, err := jsonschema.GenerateSchemaForType(v.Elem().Interface()); err == nil {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   schemaName(v.Elem().Type()),
				Schema: schema,
			},
		}
	} else {
		c.logger.Debug("no JSON schema for structured output", slog.String("type", v.Elem().Type().String()), slog.Any("error", err))
	}

	reply, err := c.complete(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(stripFence(reply.Text)), target); err != nil {
		return fmt.Errorf("decode structured output: %w", err)
	}
	return nil
}

func (c *Client) request(p inference.Prompt) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{Model: c.model}
	for _, m := range p.Messages() {
		msg := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		req.Messages = append(req.Messages, msg)
	}
	for _, t := range p.Tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return req
}

func schemaName(t reflect.Type) string {
	name := t.Name()
	if name == "" {
		return "state"
	}
	return name
}

// stripFence removes a markdown code fence some models wrap JSON in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
