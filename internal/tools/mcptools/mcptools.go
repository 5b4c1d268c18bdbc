// Package mcptools exposes the tools of a Model Context Protocol server as a
// [tools.Executor].
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/joeycumines/behavioral/internal/inference"
	"github.com/joeycumines/behavioral/internal/tools"
)

// Implementation identifies this client to MCP servers.
var Implementation = &mcp.Implementation{Name: "behavioral", Version: "v1"}

// Executor runs tools over an MCP client session.
type Executor struct {
	session *mcp.ClientSession
	logger  *slog.Logger

	mu    sync.Mutex
	known map[string]bool
}

var _ tools.Executor = (*Executor)(nil)

// Connect opens a session over transport.
func Connect(ctx context.Context, transport mcp.Transport, logger *slog.Logger) (*Executor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := mcp.NewClient(Implementation, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp connect: %w", err)
	}
	return &Executor{session: session, logger: logger}, nil
}

// ConnectCommand starts command (split on whitespace) and talks to it over
// its stdin and stdout.
func ConnectCommand(ctx context.Context, command string, logger *slog.Logger) (*Executor, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("mcp: empty server command")
	}
	return Connect(ctx, &mcp.CommandTransport{Command: exec.Command(fields[0], fields[1:]...)}, logger)
}

// Close ends the session.
func (e *Executor) Close() error {
	return e.session.Close()
}

// Tools lists the server's tools.
func (e *Executor) Tools(ctx context.Context) ([]inference.ToolSpec, error) {
	res, err := e.session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, fmt.Errorf("mcp list tools: %w", err)
	}
	known := make(map[string]bool, len(res.Tools))
	out := make([]inference.ToolSpec, 0, len(res.Tools))
	for _, t := range res.Tools {
		known[t.Name] = true
		out = append(out, inference.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}
	e.mu.Lock()
	e.known = known
	e.mu.Unlock()
	return out, nil
}

// Execute calls the named tool. A tool reporting an error yields an error
// carrying its text. Tools not returned by the last call to
// [Executor.Tools] are reported as [tools.ErrUnknownTool], once tools have
// been listed.
func (e *Executor) Execute(ctx context.Context, name, args string) (string, error) {
	e.mu.Lock()
	known := e.known
	e.mu.Unlock()
	if known != nil && !known[name] {
		return "", fmt.Errorf("%w: %q", tools.ErrUnknownTool, name)
	}

	var arguments any
	if strings.TrimSpace(args) != "" {
		arguments = json.RawMessage(args)
	}
	e.logger.Debug("calling MCP tool", slog.String("tool", name))
	res, err := e.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return "", fmt.Errorf("mcp call %q: %w", name, err)
	}
	text := flattenContent(res.Content)
	if res.IsError {
		if text == "" {
			text = "unknown error"
		}
		return "", fmt.Errorf("tool %q failed: %s", name, text)
	}
	return text, nil
}

func flattenContent(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		switch v := c.(type) {
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if b, err := json.Marshal(v); err == nil {
				parts = append(parts, string(b))
			}
		}
	}
	return strings.Join(parts, "\n")
}
