package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Settings are the typed engine options resolved from a [Config], the
// environment and schema defaults.
type Settings struct {
	TickPeriod     time.Duration
	MaxReentry     int
	RetryBudget    int
	MaxConcurrency int

	HistoryWindow int
	Inactivity    time.Duration

	LogLevel     string
	LogFile      string
	LogFormat    string
	LogMaxSizeMB int
	LogMaxFiles  int

	InferenceProvider string
	OpenAIModel       string
	OpenAIBaseURL     string
	OpenAIAPIKeyEnv   string

	StorageBackend string
	StorageDir     string
	MetricsAddr    string
}

// Resolve builds the settings for command (or the global settings, if
// command is ""). Options set in the command's section override global ones.
func Resolve(c *Config, command string) (Settings, error) {
	s := DefaultSchema()
	r := resolver{schema: s, config: c, section: command}
	out := Settings{
		TickPeriod:        time.Duration(r.int("tick.period-ms")) * time.Millisecond,
		MaxReentry:        r.int("tick.max-reentry"),
		RetryBudget:       r.int("async.retry-budget"),
		MaxConcurrency:    r.int("async.max-concurrency"),
		HistoryWindow:     r.int("conversation.history"),
		Inactivity:        time.Duration(r.int("conversation.inactivity-seconds")) * time.Second,
		LogLevel:          strings.ToLower(r.string("log.level")),
		LogFile:           r.string("log.file"),
		LogFormat:         strings.ToLower(r.string("log.format")),
		LogMaxSizeMB:      r.int("log.max-size-mb"),
		LogMaxFiles:       r.int("log.max-files"),
		InferenceProvider: r.string("inference.provider"),
		OpenAIModel:       r.string("openai.model"),
		OpenAIBaseURL:     r.string("openai.base-url"),
		OpenAIAPIKeyEnv:   r.string("openai.api-key-env"),
		StorageBackend:    r.string("storage.backend"),
		StorageDir:        r.string("storage.dir"),
		MetricsAddr:       r.string("metrics.addr"),
	}
	if r.err != nil {
		return Settings{}, r.err
	}
	if out.TickPeriod <= 0 {
		return Settings{}, fmt.Errorf("tick.period-ms must be positive: %s", out.TickPeriod)
	}
	if out.HistoryWindow < 1 {
		return Settings{}, fmt.Errorf("conversation.history must be at least 1: %d", out.HistoryWindow)
	}
	switch out.LogFormat {
	case "text", "json":
	default:
		return Settings{}, fmt.Errorf("log.format must be text or json: %q", out.LogFormat)
	}
	return out, nil
}

type resolver struct {
	schema  *ConfigSchema
	config  *Config
	section string
	err     error
}

func (r *resolver) string(key string) string {
	return strings.TrimSpace(r.schema.Resolve(r.config, r.section, key))
}

func (r *resolver) int(key string) int {
	v := r.string(key)
	if v == "" {
		return 0
	}
	i, err := strconv.Atoi(v)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("option %q: invalid integer value %q: %w", key, v, err)
	}
	return i
}
