package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// OptionType is the type an option value must parse as.
type OptionType string

const (
	TypeString   OptionType = "string"
	TypeBool     OptionType = "bool"
	TypeInt      OptionType = "int"
	TypeDuration OptionType = "duration"
)

// ConfigOption declares an option. Section is "" for global options, else
// the command the option belongs to. EnvVar, if set, overrides any value
// from the file, and Default applies when neither is set.
type ConfigOption struct {
	Key         string
	Type        OptionType
	Default     string
	Description string
	Section     string
	EnvVar      string
}

// ConfigSchema declares the expected configuration options.
type ConfigSchema struct {
	options   []*ConfigOption
	byKey     map[string]*ConfigOption
	bySection map[string]map[string]*ConfigOption
}

// NewSchema creates a new empty ConfigSchema.
func NewSchema() *ConfigSchema {
	return &ConfigSchema{
		byKey:     make(map[string]*ConfigOption),
		bySection: make(map[string]map[string]*ConfigOption),
	}
}

// Register adds a ConfigOption to the schema. Duplicate keys within the same
// section are overwritten (last registration wins).
func (s *ConfigSchema) Register(opt ConfigOption) {
	ref := new(ConfigOption)
	*ref = opt
	s.options = append(s.options, ref)
	if opt.Section == "" {
		s.byKey[opt.Key] = ref
		return
	}
	if s.bySection[opt.Section] == nil {
		s.bySection[opt.Section] = make(map[string]*ConfigOption)
	}
	s.bySection[opt.Section][opt.Key] = ref
}

// RegisterAll adds multiple ConfigOptions to the schema.
func (s *ConfigSchema) RegisterAll(opts []ConfigOption) {
	for _, opt := range opts {
		s.Register(opt)
	}
}

// Lookup returns the ConfigOption for a key in a given section ("" for global).
// Returns nil if the key is not registered.
func (s *ConfigSchema) Lookup(section, key string) *ConfigOption {
	if section == "" {
		return s.byKey[key]
	}
	return s.bySection[section][key]
}

// IsKnown returns true if the key is registered in the given section.
// Global keys are known in every section, since command sections fall back
// to the global value.
func (s *ConfigSchema) IsKnown(section, key string) bool {
	if s.Lookup(section, key) != nil {
		return true
	}
	return s.byKey[key] != nil
}

// Options returns every registered option, global options first.
func (s *ConfigSchema) Options() []ConfigOption {
	out := make([]ConfigOption, 0, len(s.options))
	for _, o := range s.options {
		out = append(out, *o)
	}
	slices.SortStableFunc(out, func(a, b ConfigOption) int {
		return strings.Compare(a.Section, b.Section)
	})
	return out
}

// Resolve returns the effective value for key in section (falling back to
// the global key) by checking, in order: (1) the environment variable
// declared in the schema, (2) the config value, (3) the schema default.
func (s *ConfigSchema) Resolve(c *Config, section, key string) string {
	opt := s.Lookup(section, key)
	if opt == nil {
		opt = s.Lookup("", key)
	}
	if opt != nil && opt.EnvVar != "" {
		if v, ok := os.LookupEnv(opt.EnvVar); ok {
			return v
		}
	}
	if c != nil {
		if v, ok := c.GetCommandOption(section, key); ok {
			return v
		}
	}
	if opt != nil {
		return opt.Default
	}
	return ""
}

// ValidateConfig checks a loaded Config against the schema and returns a list
// of human-readable issues (empty if the config is valid): unknown options,
// and values that do not parse as the declared type.
func ValidateConfig(c *Config, s *ConfigSchema) []string {
	var issues []string

	for key, value := range c.Global {
		opt := s.Lookup("", key)
		if opt == nil {
			issues = append(issues, fmt.Sprintf("unknown global option: %q (value: %q)", key, value))
			continue
		}
		if err := validateType(opt.Type, value); err != nil {
			issues = append(issues, fmt.Sprintf("global option %q: %v", key, err))
		}
	}

	for section, opts := range c.Commands {
		for key, value := range opts {
			if !s.IsKnown(section, key) {
				issues = append(issues, fmt.Sprintf("unknown option for command %q: %q (value: %q)", section, key, value))
				continue
			}
			opt := s.Lookup(section, key)
			if opt == nil {
				opt = s.Lookup("", key)
			}
			if err := validateType(opt.Type, value); err != nil {
				issues = append(issues, fmt.Sprintf("option %q in [%s]: %v", key, section, err))
			}
		}
	}

	slices.Sort(issues)
	return issues
}

func validateType(t OptionType, value string) error {
	switch t {
	case TypeString, "":
		return nil
	case TypeBool:
		if _, err := parseBool(value); err != nil {
			return fmt.Errorf("expected bool, got %q", value)
		}
	case TypeInt:
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("expected int, got %q", value)
		}
	case TypeDuration:
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("expected duration, got %q", value)
		}
	default:
		return fmt.Errorf("unknown option type %q", t)
	}
	return nil
}

// FormatHelp returns a human-readable reference of all registered options,
// grouped by section.
func (s *ConfigSchema) FormatHelp() string {
	var b strings.Builder
	section := "\x00"
	for _, o := range s.Options() {
		if o.Section != section {
			section = o.Section
			if section == "" {
				b.WriteString("Global Options:\n")
			} else {
				fmt.Fprintf(&b, "\n[%s] Options:\n", section)
			}
		}
		fmt.Fprintf(&b, "  %-35s %s", o.Key, o.Description)
		var parts []string
		if o.Type != "" && o.Type != TypeString {
			parts = append(parts, "type: "+string(o.Type))
		}
		if o.Default != "" {
			parts = append(parts, "default: "+o.Default)
		}
		if o.EnvVar != "" {
			parts = append(parts, "env: "+o.EnvVar)
		}
		if len(parts) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// DefaultSchema returns the schema declaring every known option. It is the
// single source of truth for option names, types, defaults and environment
// overrides.
func DefaultSchema() *ConfigSchema {
	s := NewSchema()
	s.RegisterAll([]ConfigOption{
		// Engine
		{Key: "tick.period-ms", Type: TypeInt, Default: "1000", Description: "Milliseconds between ticks when no wake is requested"},
		{Key: "tick.max-reentry", Type: TypeInt, Default: "64", Description: "Max self re-ticks per node per tick"},
		{Key: "async.retry-budget", Type: TypeInt, Default: "3", Description: "Failed async operations tolerated per leaf (-1 for unlimited)"},
		{Key: "async.max-concurrency", Type: TypeInt, Default: "64", Description: "Max concurrent async operations per tree"},

		// Conversation
		{Key: "conversation.history", Type: TypeInt, Default: "10", Description: "Messages of history sent to the model"},
		{Key: "conversation.inactivity-seconds", Type: TypeInt, Default: "60", Description: "Seconds after which the user is considered inactive"},

		// Logging
		{Key: "log.level", Type: TypeString, Default: "info", Description: "Log level: debug, info, warn, error", EnvVar: "BEHAVIORAL_LOG_LEVEL"},
		{Key: "log.file", Type: TypeString, Default: "", Description: "Log file path (stderr when empty)", EnvVar: "BEHAVIORAL_LOG_FILE"},
		{Key: "log.format", Type: TypeString, Default: "text", Description: "Log format: text, json"},
		{Key: "log.max-size-mb", Type: TypeInt, Default: "10", Description: "Max log file size in MB before rotation"},
		{Key: "log.max-files", Type: TypeInt, Default: "5", Description: "Max number of rotated log backup files"},

		// Inference
		{Key: "inference.provider", Type: TypeString, Default: "openai", Description: "Inference provider: openai, echo"},
		{Key: "openai.model", Type: TypeString, Default: "gpt-4o-mini", Description: "Chat model name", EnvVar: "BEHAVIORAL_MODEL"},
		{Key: "openai.base-url", Type: TypeString, Default: "", Description: "Override the API base URL", EnvVar: "OPENAI_BASE_URL"},
		{Key: "openai.api-key-env", Type: TypeString, Default: "OPENAI_API_KEY", Description: "Environment variable holding the API key"},

		// Persistence and metrics
		{Key: "storage.backend", Type: TypeString, Default: "fs", Description: "Snapshot backend: fs, memory"},
		{Key: "storage.dir", Type: TypeString, Default: "", Description: "Snapshot directory (defaults under the config dir)"},
		{Key: "metrics.addr", Type: TypeString, Default: "", Description: "Serve Prometheus metrics on this address"},

		// [run]
		{Key: "thread", Section: "run", Type: TypeString, Default: "", Description: "Default conversation thread ID"},
		{Key: "tick.period-ms", Section: "run", Type: TypeInt, Default: "1000", Description: "Tick period for the run command"},
	})
	return s
}
