// Package session derives conversation thread IDs from the terminal session
// the CLI runs in, so that runs in the same terminal resume the same thread.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxIDLength bounds derived IDs, leaving room for file extensions.
	MaxIDLength = 80

	// Delimiter separates the namespace of an ID from its payload.
	Delimiter = "--"

	hashLength = 16
)

// Namespaces of the sources an ID may be derived from.
const (
	NamespaceExplicit = "ex"
	NamespaceTmux     = "tmux"
	NamespaceScreen   = "screen"
	NamespaceSSH      = "ssh"
	NamespaceTerminal = "terminal"
	NamespaceUUID     = "uuid"
)

// EnvThreadID overrides the derived ID.
const EnvThreadID = "BEHAVIORAL_THREAD"

// Sources of [ThreadID], in priority order.
const (
	SourceEnv      = "env"
	SourceTmux     = "tmux"
	SourceScreen   = "screen"
	SourceSSH      = "ssh"
	SourceTerminal = "macos-terminal"
	SourceUUID     = "uuid"
)

// ThreadID returns an ID for the current terminal session and the source it
// was derived from. Without any recognisable session it returns a random,
// uuid-namespaced ID.
func ThreadID() (id, source string) {
	return threadID(os.Getenv, tmuxPane)
}

func threadID(getenv func(string) string, tmux func() (string, error)) (string, string) {
	if v := getenv(EnvThreadID); v != "" {
		return Format(NamespaceExplicit, v), SourceEnv
	}
	if getenv("TMUX_PANE") != "" {
		if raw, err := tmux(); err == nil && raw != "" {
			return formatTmux(raw), SourceTmux
		}
	}
	if sty := getenv("STY"); sty != "" {
		return NamespaceScreen + Delimiter + hash(sty), SourceScreen
	}
	if conn := getenv("SSH_CONNECTION"); conn != "" {
		return NamespaceSSH + Delimiter + hash(strings.Join(strings.Fields(conn), " ")), SourceSSH
	}
	if runtime.GOOS == "darwin" {
		if term := getenv("TERM_SESSION_ID"); term != "" {
			return NamespaceTerminal + Delimiter + hash(term), SourceTerminal
		}
	}
	return Format(NamespaceUUID, uuid.NewString()), SourceUUID
}

// tmuxPane returns the session:window:pane tuple of the current tmux pane.
func tmuxPane() (string, error) {
	path, err := exec.LookPath("tmux")
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "display-message", "-p", "#{session_id}:#{window_id}:#{pane_id}").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

var tmuxTuple = regexp.MustCompile(`^\$(\w+):@(\w+):%(\w+)$`)

// formatTmux turns "$0:@1:%2" into "tmux--s0.w1.p2".
func formatTmux(raw string) string {
	if m := tmuxTuple.FindStringSubmatch(raw); m != nil {
		return Format(NamespaceTmux, "s"+m[1]+".w"+m[2]+".p"+m[3])
	}
	return Format(NamespaceTmux, strings.NewReplacer("$", "s", "@", "w", "%", "p", ":", ".").Replace(raw))
}

// Format joins namespace and payload into a file name safe ID. Unsafe
// characters of payload are replaced with underscores, and long payloads
// are truncated with a hash of the original as suffix.
func Format(namespace, payload string) string {
	sum := hash(payload)
	safe := []rune(payload)
	for i, r := range safe {
		if !isSafe(r) {
			safe[i] = '_'
		}
	}
	payload = string(safe)
	if limit := MaxIDLength - len(namespace) - len(Delimiter); len(payload) > limit {
		payload = payload[:limit-9] + "_" + sum[:8]
	}
	return namespace + Delimiter + payload
}

func isSafe(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r == '.' || r == '-' || r == '_'
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:hashLength]
}
