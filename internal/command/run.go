package command

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/joeycumines/behavioral/internal/behavior"
	"github.com/joeycumines/behavioral/internal/blackboard"
	"github.com/joeycumines/behavioral/internal/config"
	"github.com/joeycumines/behavioral/internal/conversation"
	"github.com/joeycumines/behavioral/internal/inference"
	"github.com/joeycumines/behavioral/internal/inference/openai"
	"github.com/joeycumines/behavioral/internal/logging"
	"github.com/joeycumines/behavioral/internal/metrics"
	"github.com/joeycumines/behavioral/internal/session"
	"github.com/joeycumines/behavioral/internal/storage"
	"github.com/joeycumines/behavioral/internal/tools/mcptools"
)

// RunCommand runs a tree definition as a conversational agent, reading user
// messages from stdin, one per line, and printing the assistant's messages.
// The conversation is restored from, and saved to, the thread's snapshot.
type RunCommand struct {
	*BaseCommand
	config *config.Config
	stdin  io.Reader

	threadID    string
	period      time.Duration
	provider    string
	model       string
	metricsAddr string
	mcpCommand  string
	logFile     string
	logLevel    string
	fresh       bool
	debug       bool
}

// NewRunCommand creates a new run command reading user input from stdin.
func NewRunCommand(cfg *config.Config, stdin io.Reader) *RunCommand {
	return &RunCommand{
		BaseCommand: NewBaseCommand(
			"run",
			"Run a tree definition as a conversational agent",
			"run [options] <tree.yaml>",
		),
		config: cfg,
		stdin:  stdin,
	}
}

// SetupFlags configures the flags for the run command.
func (c *RunCommand) SetupFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.threadID, "thread", "", "Conversation thread ID (derived from the terminal session if empty)")
	fs.DurationVar(&c.period, "period", 0, "Tick period (overrides tick.period-ms)")
	fs.StringVar(&c.provider, "provider", "", "Inference provider: openai, echo (overrides inference.provider)")
	fs.StringVar(&c.model, "model", "", "Model name (overrides openai.model)")
	fs.StringVar(&c.metricsAddr, "metrics", "", "Serve Prometheus metrics on this address (overrides metrics.addr)")
	fs.StringVar(&c.mcpCommand, "mcp", "", "Command starting an MCP server whose tools the agent may call")
	fs.StringVar(&c.logFile, "log-file", "", "Log file path (overrides log.file)")
	fs.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides log.level)")
	fs.BoolVar(&c.fresh, "fresh", false, "Ignore the thread's saved snapshot")
	fs.BoolVar(&c.debug, "debug", false, "Print the tree and blackboard on exit")
}

// Execute runs the tree until it completes, the input asks to quit, or the
// process is signalled.
func (c *RunCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) != 1 {
		_, _ = fmt.Fprintf(stderr, "Usage: behavioral %s\n", c.Usage())
		return errors.New("exactly one tree definition required")
	}

	s, err := settings(c.config, c.Name())
	if err != nil {
		return err
	}
	c.override(&s)

	logger, logCloser, err := logging.Setup(stderr, c.logFile, c.logLevel, s)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	tree, err := buildTree(args[0], s)
	if err != nil {
		return err
	}

	threadID, source := c.threadID, "flag"
	if threadID == "" {
		threadID, source = config.DefaultSchema().Resolve(c.config, c.Name(), "thread"), "config"
	}
	if threadID == "" {
		threadID, source = session.ThreadID()
	}
	backend, err := openBackend(s, threadID)
	if err != nil {
		return err
	}
	defer backend.Close()
	logger = logger.With(slog.String("thread", threadID))
	logger.Debug("resolved thread", slog.String("source", source))

	types := blackboard.NewTypeRegistry()
	if err := conversation.RegisterTypes(types); err != nil {
		return err
	}
	bb := blackboard.New(blackboard.WithTypes(types), blackboard.WithLogger(logger))
	conv := conversation.New()
	var snap *storage.Snapshot
	if !c.fresh {
		if snap, err = backend.Load(); err != nil {
			return err
		}
	}
	if snap != nil {
		if err := snap.Restore(bb); err != nil {
			return err
		}
		if len(snap.Conversation) > 0 {
			if err := json.Unmarshal(snap.Conversation, conv); err != nil {
				return fmt.Errorf("failed to restore conversation: %w", err)
			}
		}
		logger.Info("restored thread", slog.Int("messages", conv.Len()))
	}

	model, err := newModel(s, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	observer := metrics.New(reg)

	cfg := tree.Config
	cfg.Model = model
	cfg.Conversation = conv
	cfg.ToolObserver = observer
	if c.mcpCommand != "" {
		executor, err := mcptools.ConnectCommand(ctx, c.mcpCommand, logger)
		if err != nil {
			return err
		}
		defer executor.Close()
		cfg.Tools = executor
	}

	exec := behavior.NewExecutor(ctx, int64(s.MaxConcurrency))
	defer exec.Close()
	opts := append(tree.Options(),
		behavior.WithLogger(logger),
		behavior.WithBlackboard(bb),
		behavior.WithObserver(observer),
		behavior.WithExecutor(exec),
		behavior.WithMaxReentry(s.MaxReentry),
		behavior.WithPostTickHandler(func(t *behavior.Tree) {
			if t.Root().Status() != behavior.Running {
				t.Interrupt()
			}
		}),
	)
	agent, err := conversation.NewAgent(tree.Root, cfg, opts...)
	if err != nil {
		return err
	}

	out := &lockedWriter{w: stdout}
	stopWatch := conv.Watch(func(e conversation.Event) {
		if e.Kind == conversation.AssistantCompleted {
			_, _ = fmt.Fprintf(out, "assistant: %s\n", e.Message.Content)
		}
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go readInput(c.stdin, agent, cancel)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		return agent.Run(gctx, s.TickPeriod)
	})
	if s.MetricsAddr != "" {
		g.Go(func() error { return metrics.Serve(gctx, s.MetricsAddr, reg, logger) })
	}
	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	agent.Close()
	exec.Close()
	stopWatch()

	logger.Info("conversation ended",
		slog.String("status", agent.Tree().Root().Status().String()),
		slog.Uint64("ticks", agent.Tree().Ticks()))
	if c.debug {
		_, _ = fmt.Fprintln(out, agent.RenderTree())
		if dump, err := agent.DebugBlackboard(); err == nil {
			_, _ = fmt.Fprint(out, dump)
		}
	}

	return errors.Join(runErr, save(backend, bb, conv, snap))
}

func (c *RunCommand) override(s *config.Settings) {
	if c.period > 0 {
		s.TickPeriod = c.period
	}
	if c.provider != "" {
		s.InferenceProvider = c.provider
	}
	if c.model != "" {
		s.OpenAIModel = c.model
	}
	if c.metricsAddr != "" {
		s.MetricsAddr = c.metricsAddr
	}
}

func newModel(s config.Settings, logger *slog.Logger) (inference.Model, error) {
	switch s.InferenceProvider {
	case "openai":
		client, err := openai.New(openai.Config{
			APIKey:  os.Getenv(s.OpenAIAPIKeyEnv),
			BaseURL: s.OpenAIBaseURL,
			Model:   s.OpenAIModel,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case "echo":
		return inference.Echo{}, nil
	}
	return nil, fmt.Errorf("unknown inference provider %q", s.InferenceProvider)
}

// readInput adds each non-empty line of r as a user message until "/quit",
// which ends the conversation, or the end of input, which does not.
func readInput(r io.Reader, agent *conversation.Agent, quit func()) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit":
			quit()
			return
		}
		agent.AddUserMessage(line)
	}
}

// save stores the blackboard and conversation as the thread's snapshot,
// keeping the creation time of the previous one.
func save(backend storage.Backend, bb *blackboard.Blackboard, conv *conversation.Conversation, previous *storage.Snapshot) error {
	snap, err := storage.Capture(bb)
	if err != nil {
		return err
	}
	if snap.Conversation, err = json.Marshal(conv); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	if previous != nil {
		snap.CreatedAt = previous.CreatedAt
	}
	return backend.Save(snap)
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
