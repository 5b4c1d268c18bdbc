package command

import (
	"bytes"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joeycumines/behavioral/internal/config"
)

// execute parses args as the CLI does, then runs cmd.
func execute(t *testing.T, cmd Command, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cmd.SetupFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("failed to parse flags %v: %v", args, err)
	}
	var out, errOut bytes.Buffer
	err = cmd.Execute(fs.Args(), &out, &errOut)
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

type testCommand struct {
	*BaseCommand
	flagValue string
}

func (c *testCommand) SetupFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.flagValue, "value", "", "A test value")
}

func (c *testCommand) Execute([]string, io.Writer, io.Writer) error { return nil }

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register(&testCommand{BaseCommand: NewBaseCommand("b", "B", "b")})
	r.Register(&testCommand{BaseCommand: NewBaseCommand("a", "A", "a")})

	cmd, err := r.Get("a")
	if err != nil {
		t.Fatalf("Failed to get registered command: %v", err)
	}
	if cmd.Description() != "A" {
		t.Errorf("Expected description 'A', got %q", cmd.Description())
	}
	if _, err := r.Get("missing"); err == nil || err.Error() != "command not found: missing" {
		t.Errorf("Expected command not found error, got %v", err)
	}
	if got := strings.Join(r.List(), ","); got != "a,b" {
		t.Errorf("Expected sorted names, got %s", got)
	}
}

func TestHelpCommand(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register(NewVersionCommand("1.0.0"))
	r.Register(&testCommand{BaseCommand: NewBaseCommand("test", "Test command", "test [options]")})
	help := NewHelpCommand(r)
	r.Register(help)

	t.Run("general help", func(t *testing.T) {
		stdout, _, err := execute(t, help)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		for _, part := range []string{
			"Usage: behavioral <command>",
			"Available commands:",
			"  test     Test command",
			"  version  Display version information",
		} {
			if !strings.Contains(stdout, part) {
				t.Errorf("Expected output to contain %q, got:\n%s", part, stdout)
			}
		}
	})

	t.Run("command help", func(t *testing.T) {
		stdout, _, err := execute(t, help, "test")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		for _, part := range []string{"Command: test", "Usage: behavioral test [options]", "Flags:", "-value"} {
			if !strings.Contains(stdout, part) {
				t.Errorf("Expected output to contain %q, got:\n%s", part, stdout)
			}
		}
	})

	t.Run("unknown command", func(t *testing.T) {
		_, stderr, err := execute(t, help, "nope")
		if err == nil {
			t.Fatal("Expected an error for an unknown command")
		}
		if !strings.Contains(stderr, "Unknown command: nope") {
			t.Errorf("Unexpected stderr: %s", stderr)
		}
	})
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()
	stdout, _, err := execute(t, NewVersionCommand("1.2.3"))
	if err != nil {
		t.Fatal(err)
	}
	if stdout != "behavioral version 1.2.3\n" {
		t.Errorf("Unexpected output: %q", stdout)
	}
	if _, _, err := execute(t, NewVersionCommand("1.2.3"), "extra"); err == nil {
		t.Error("Expected an error for unexpected arguments")
	}
}

func TestConfigCommand(t *testing.T) {
	t.Parallel()
	cfg := config.NewConfig()
	cfg.SetGlobalOption("log.format", "json")
	cfg.SetCommandOption("run", "tick.period-ms", "250")

	stdout, _, err := execute(t, NewConfigCommand(cfg), "log.format")
	if err != nil || stdout != "log.format: json\n" {
		t.Errorf("Unexpected result %q, %v", stdout, err)
	}

	stdout, _, err = execute(t, NewConfigCommand(cfg), "-command", "run", "tick.period-ms")
	if err != nil || stdout != "tick.period-ms: 250\n" {
		t.Errorf("Unexpected result %q, %v", stdout, err)
	}

	stdout, _, err = execute(t, NewConfigCommand(cfg), "tick.max-reentry")
	if err != nil || stdout != "tick.max-reentry: 64\n" {
		t.Errorf("Expected the default, got %q, %v", stdout, err)
	}

	if _, _, err := execute(t, NewConfigCommand(cfg), "no.such.option"); err == nil {
		t.Error("Expected an error for an unknown option")
	}

	stdout, _, err = execute(t, NewConfigCommand(cfg), "-all")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, "  log.format: json\n") || !strings.Contains(stdout, "[run]\n  tick.period-ms: 250\n") {
		t.Errorf("Unexpected output:\n%s", stdout)
	}

	stdout, _, err = execute(t, NewConfigCommand(cfg), "validate")
	if err != nil || stdout != "Configuration is valid.\n" {
		t.Errorf("Unexpected result %q, %v", stdout, err)
	}

	cfg.SetGlobalOption("tick.period-ms", "soon")
	stdout, _, err = execute(t, NewConfigCommand(cfg), "validate")
	if err == nil || !strings.Contains(stdout, "expected int") {
		t.Errorf("Expected a validation issue, got %q, %v", stdout, err)
	}

	stdout, _, err = execute(t, NewConfigCommand(cfg), "schema")
	if err != nil || !strings.Contains(stdout, "storage.backend") {
		t.Errorf("Unexpected schema output %q, %v", stdout, err)
	}
}

func TestValidateCommand(t *testing.T) {
	t.Parallel()
	good := writeFile(t, "good.yaml", `
name: greeter
root:
  kind: sequence
  children:
    - kind: respond
      message: Hello!
`)
	bad := writeFile(t, "bad.yaml", "root: {kind: nope}\n")

	stdout, stderr, err := execute(t, NewValidateCommand(nil), good)
	if err != nil {
		t.Fatalf("Expected no error, got %v (%s)", err, stderr)
	}
	want := good + ": greeter\n[-] sequence [INVALID]\n    --> respond [INVALID]\n"
	if stdout != want {
		t.Errorf("Expected:\n%s\ngot:\n%s", want, stdout)
	}

	stdout, stderr, err = execute(t, NewValidateCommand(nil), "-q", good, bad)
	if err == nil || err.Error() != "1 of 2 definitions invalid" {
		t.Errorf("Unexpected error: %v", err)
	}
	if stdout != "" {
		t.Errorf("Expected no output in quiet mode, got %q", stdout)
	}
	if !strings.Contains(stderr, bad+": treespec: line 1: nope: unknown node kind") {
		t.Errorf("Unexpected stderr: %s", stderr)
	}
}

func TestRunCommand(t *testing.T) {
	t.Parallel()
	cfg := config.NewConfig()
	cfg.SetGlobalOption("storage.dir", t.TempDir())
	cfg.SetGlobalOption("inference.provider", "echo")
	tree := writeFile(t, "tree.yaml", `
root:
  kind: selector
  memory: false
  children:
    - kind: conversation_message
      name: reply
      prompt: Answer the user.
      max_messages: 1
    - kind: status
      status: running
`)

	cmd := NewRunCommand(cfg, strings.NewReader("hello\n"))
	stdout, stderr, err := execute(t, cmd, "-thread", "t1", "-period", "5ms", tree)
	if err != nil {
		t.Fatalf("Run failed: %v\n%s", err, stderr)
	}
	if stdout != "assistant: hello\n" {
		t.Errorf("Unexpected output %q", stdout)
	}

	stdout, _, err = execute(t, NewSnapshotCommand(cfg), "-thread", "t1", "show")
	if err != nil {
		t.Fatal(err)
	}
	for _, part := range []string{`"thread_id": "t1"`, `"content": "hello"`, `"role": "assistant"`} {
		if !strings.Contains(stdout, part) {
			t.Errorf("Expected snapshot to contain %q, got:\n%s", part, stdout)
		}
	}

	// The restored conversation ends with the reply, so nothing is pending.
	idle := writeFile(t, "idle.yaml", "root: {kind: no_pending_user_message}\n")
	cmd = NewRunCommand(cfg, strings.NewReader(""))
	stdout, stderr, err = execute(t, cmd, "-thread", "t1", "-period", "5ms", "-debug", idle)
	if err != nil {
		t.Fatalf("Run failed: %v\n%s", err, stderr)
	}
	if !strings.Contains(stderr, "restored thread") || !strings.Contains(stderr, "messages=2") {
		t.Errorf("Expected the thread to be restored, got:\n%s", stderr)
	}
	if !strings.HasPrefix(stdout, "--> NoPendingUserMessage [SUCCESS]\n") {
		t.Errorf("Expected the tree in the debug output, got:\n%s", stdout)
	}
}

func TestRunCommand_Errors(t *testing.T) {
	t.Parallel()
	cfg := config.NewConfig()
	cfg.SetGlobalOption("storage.backend", "memory")
	tree := writeFile(t, "tree.yaml", "root: {kind: status, status: success}\n")

	if _, _, err := execute(t, NewRunCommand(cfg, strings.NewReader(""))); err == nil {
		t.Error("Expected an error without a tree definition")
	}
	if _, _, err := execute(t, NewRunCommand(cfg, strings.NewReader("")), "-thread", "../x", tree); err == nil {
		t.Error("Expected an error for an unsafe thread ID")
	}
	_, _, err := execute(t, NewRunCommand(cfg, strings.NewReader("")), "-provider", "nope", tree)
	if err == nil || err.Error() != `unknown inference provider "nope"` {
		t.Errorf("Unexpected error: %v", err)
	}
	_, _, err = execute(t, NewRunCommand(cfg, strings.NewReader("")), "-provider", "echo", tree)
	if err != nil {
		t.Errorf("Expected a tree that succeeds at once to end the run, got %v", err)
	}
}

func TestSnapshotCommand(t *testing.T) {
	t.Parallel()
	cfg := config.NewConfig()
	cfg.SetGlobalOption("storage.dir", t.TempDir())

	stdout, _, err := execute(t, NewSnapshotCommand(cfg), "-thread", "t2", "show")
	if err != nil || stdout != "No snapshot for thread t2\n" {
		t.Errorf("Unexpected result %q, %v", stdout, err)
	}
	stdout, _, err = execute(t, NewSnapshotCommand(cfg), "-thread", "t2", "delete")
	if err != nil || stdout != "Deleted snapshot for thread t2\n" {
		t.Errorf("Unexpected result %q, %v", stdout, err)
	}
	if _, _, err := execute(t, NewSnapshotCommand(cfg), "show"); err == nil {
		t.Error("Expected an error without a thread")
	}
	if _, _, err := execute(t, NewSnapshotCommand(cfg), "-thread", "t2", "list"); err == nil {
		t.Error("Expected an error for an unknown action")
	}
}
