package session

import (
	"errors"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/behavioral/internal/storage"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func noTmux() (string, error) { return "", errors.New("no tmux") }

func TestThreadID(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name   string
		env    map[string]string
		tmux   func() (string, error)
		id     string
		source string
	}{
		{
			name:   "explicit",
			env:    map[string]string{EnvThreadID: "my thread", "STY": "1.pts-0.host"},
			id:     "ex--my_thread",
			source: SourceEnv,
		},
		{
			name:   "tmux",
			env:    map[string]string{"TMUX_PANE": "%3"},
			tmux:   func() (string, error) { return "$0:@1:%3", nil },
			id:     "tmux--s0.w1.p3",
			source: SourceTmux,
		},
		{
			name:   "named tmux session",
			env:    map[string]string{"TMUX_PANE": "%3"},
			tmux:   func() (string, error) { return "$work/x:@1:%3", nil },
			id:     "tmux--swork_x.w1.p3",
			source: SourceTmux,
		},
		{
			name:   "tmux unavailable falls through",
			env:    map[string]string{"TMUX_PANE": "%3", "STY": "1.pts-0.host"},
			id:     "screen--" + hash("1.pts-0.host"),
			source: SourceScreen,
		},
		{
			name:   "ssh",
			env:    map[string]string{"SSH_CONNECTION": "10.0.0.1 5000  10.0.0.2 22"},
			id:     "ssh--" + hash("10.0.0.1 5000 10.0.0.2 22"),
			source: SourceSSH,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tmux := tc.tmux
			if tmux == nil {
				tmux = noTmux
			}
			id, source := threadID(env(tc.env), tmux)
			require.Equal(t, tc.id, id)
			require.Equal(t, tc.source, source)
			require.NoError(t, storage.ValidateThreadID(id))
		})
	}
}

func TestThreadID_Fallback(t *testing.T) {
	t.Parallel()
	vars := map[string]string{"TERM_SESSION_ID": "w0t0p0:ABC"}
	id, source := threadID(env(vars), noTmux)
	if runtime.GOOS == "darwin" {
		require.Equal(t, SourceTerminal, source)
		return
	}
	require.Equal(t, SourceUUID, source)
	require.True(t, strings.HasPrefix(id, "uuid--"), id)
	require.NoError(t, storage.ValidateThreadID(id))

	other, _ := threadID(env(nil), noTmux)
	require.NotEqual(t, id, other)
}

func TestFormat(t *testing.T) {
	t.Parallel()
	require.Equal(t, "ex--a_b_c.d-e", Format(NamespaceExplicit, "a/b\\c.d-e"))
	require.Equal(t, "ex--__", Format(NamespaceExplicit, "é€"))

	long := strings.Repeat("x", 200)
	id := Format(NamespaceExplicit, long)
	require.Len(t, id, MaxIDLength)
	require.True(t, strings.HasSuffix(id, "_"+hash(long)[:8]), id)
	require.NotEqual(t, id, Format(NamespaceExplicit, long+"y"))
}
