package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/behavioral/internal/config"
)

func TestRotatingFileWriter_BasicWrite(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "logs", "test.log")

	w, err := NewRotatingFileWriter(path, 1, 3)
	require.NoError(t, err)
	defer w.Close()

	n, err := w.Write([]byte("hello world\n"))
	require.NoError(t, err)
	require.Equal(t, 12, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello world\n", string(data))
}

func TestRotatingFileWriter_Rotates(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "test.log")

	w, err := newRotatingFileWriter(path, 50, 2)
	require.NoError(t, err)
	defer w.Close()

	for _, c := range []string{"A", "B", "C", "D"} {
		_, err := w.Write([]byte(strings.Repeat(c, 39) + "\n"))
		require.NoError(t, err)
	}

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, byte('D'), current[0])
	one, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	require.Equal(t, byte('C'), one[0])
	two, err := os.ReadFile(path + ".2")
	require.NoError(t, err)
	require.Equal(t, byte('B'), two[0])
	_, err = os.Stat(path + ".3")
	require.True(t, os.IsNotExist(err), "backups beyond the limit are removed")
}

func TestRotatingFileWriter_NoBackups(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "test.log")

	w, err := newRotatingFileWriter(path, 10, 0)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("0123456789"))
	require.NoError(t, err)
	_, err = w.Write([]byte("abc"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "abc", string(data))
	_, err = os.Stat(path + ".1")
	require.True(t, os.IsNotExist(err))
}

func TestRotatingFileWriter_Concurrent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "test.log")

	w, err := newRotatingFileWriter(path, 1024, 3)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 50 {
				_, _ = w.Write([]byte("line of log output\n"))
			}
		})
	}
	wg.Wait()
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestSetup(t *testing.T) {
	t.Parallel()

	t.Run("stderr json", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		logger, closer, err := Setup(&buf, "", "", config.Settings{LogLevel: "warn", LogFormat: "json"})
		require.NoError(t, err)
		defer closer.Close()

		logger.Info("dropped")
		logger.Warn("kept", slog.String("k", "v"))
		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		require.Equal(t, "kept", record["msg"])
		require.Equal(t, "v", record["k"])
	})

	t.Run("flag overrides", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "run.log")
		logger, closer, err := Setup(nil, path, "debug", config.Settings{LogLevel: "error", LogFormat: "text"})
		require.NoError(t, err)
		logger.Debug("hello")
		require.NoError(t, closer.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Contains(t, string(data), "msg=hello")
	})

	t.Run("bad level", func(t *testing.T) {
		t.Parallel()
		_, _, err := Setup(nil, "", "shout", config.Settings{})
		require.Error(t, err)
	})
}
