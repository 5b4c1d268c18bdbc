package mcptools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/behavioral/internal/inference"
	"github.com/joeycumines/behavioral/internal/tools"
)

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

func connect(t *testing.T) *Executor {
	t.Helper()
	ctx := context.Background()

	server := mcp.NewServer(&mcp.Implementation{Name: "test", Version: "v0"}, nil)
	mcp.AddTool(server, &mcp.Tool{Name: "add", Description: "adds two numbers"},
		func(_ context.Context, _ *mcp.CallToolRequest, in addArgs) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprint(in.A + in.B)}},
			}, nil, nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "refuse"},
		func(context.Context, *mcp.CallToolRequest, struct{}) (*mcp.CallToolResult, any, error) {
			return nil, nil, errors.New("not today")
		})

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	e, err := Connect(ctx, clientTransport, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestExecutor_Tools(t *testing.T) {
	t.Parallel()
	e := connect(t)

	specs, err := e.Tools(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	require.ElementsMatch(t, []string{"add", "refuse"}, names)
	for _, s := range specs {
		if s.Name == "add" {
			require.Equal(t, "adds two numbers", s.Description)
			require.NotNil(t, s.Parameters)
		}
	}
}

func TestExecutor_Execute(t *testing.T) {
	t.Parallel()
	e := connect(t)
	ctx := context.Background()

	out, err := e.Execute(ctx, "add", `{"a":2,"b":40}`)
	require.NoError(t, err)
	require.Equal(t, "42", out)

	_, err = e.Execute(ctx, "refuse", `{}`)
	require.ErrorContains(t, err, "not today")

	_, err = e.Tools(ctx)
	require.NoError(t, err)
	_, err = e.Execute(ctx, "missing", `{}`)
	require.ErrorIs(t, err, tools.ErrUnknownTool)
}

func TestExecutor_RunBatch(t *testing.T) {
	t.Parallel()
	e := connect(t)

	results := tools.RunBatch(context.Background(), tools.Combined{e}, []inference.ToolCall{
		{ID: "1", Name: "add", Arguments: `{"a":1,"b":2}`},
		{ID: "2", Name: "refuse", Arguments: `{}`},
		{ID: "3", Name: "add", Arguments: `{"a":3,"b":4}`},
	}, 0)
	require.Equal(t, "3", results[0].Output)
	require.Error(t, results[1].Err)
	require.Equal(t, "7", results[2].Output)
}

func TestConnectCommand_Empty(t *testing.T) {
	t.Parallel()
	_, err := ConnectCommand(context.Background(), "  ", nil)
	require.Error(t, err)
}
