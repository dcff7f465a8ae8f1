// Package config loads moodle-mcp settings.
//
// Sources, lowest to highest precedence: built-in defaults, the optional
// YAML config file, a .env file in the working directory, the process
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ironsheep/moodle-forum-mcp/internal/moodle"
	"github.com/ironsheep/moodle-forum-mcp/internal/paths"
	"github.com/ironsheep/moodle-forum-mcp/internal/summarize"
)

// Budget units for the summarization digest.
const (
	UnitChars  = "chars"
	UnitTokens = "tokens"
)

// Config is the process-wide configuration. It is read-only once loaded.
type Config struct {
	Moodle  MoodleConfig  `yaml:"moodle"`
	OpenAI  OpenAIConfig  `yaml:"openai"`
	Summary SummaryConfig `yaml:"summary"`
	Log     LogConfig     `yaml:"log"`

	// Source is the YAML file that was loaded, if any.
	Source string `yaml:"-"`
}

// MoodleConfig holds the Moodle endpoint and resolver settings.
type MoodleConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Token         string        `yaml:"token"`
	Timeout       time.Duration `yaml:"timeout"`
	SmartIDGuard  bool          `yaml:"smart_id_guard"`
	SearchPerPage int           `yaml:"search_perpage"`
}

// OpenAIConfig enables summarization when APIKey is set.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// SummaryConfig bounds the digest handed to the model. A zero Budget
// means the default for Unit.
type SummaryConfig struct {
	Budget int    `yaml:"budget"`
	Unit   string `yaml:"unit"`
}

// LogConfig controls the stderr logger.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Moodle: MoodleConfig{
			Timeout:       moodle.DefaultTimeout,
			SmartIDGuard:  true,
			SearchPerPage: moodle.DefaultPerPage,
		},
		OpenAI: OpenAIConfig{
			Model: summarize.DefaultModel,
		},
		Summary: SummaryConfig{
			Unit: UnitChars,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. configPath overrides config file
// discovery; a missing discovered file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		found, err := paths.FindConfigFile()
		if err != nil {
			return nil, err
		}
		configPath = found
	}
	if configPath != "" {
		if err := cfg.loadFile(configPath); err != nil {
			return nil, err
		}
	}

	dotenv, err := godotenv.Read(".env")
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	lookup := func(key string) (string, bool) {
		if v := os.Getenv(key); v != "" {
			return v, true
		}
		v := dotenv[key]
		return v, v != ""
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.Source = path
	return nil
}

// applyEnv overlays environment values onto c.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := parseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("MOODLE_BASE_URL", &c.Moodle.BaseURL)
	str("MOODLE_TOKEN", &c.Moodle.Token)
	if v, ok := lookup("MOODLE_TIMEOUT"); ok {
		d, err := parseSeconds(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid MOODLE_TIMEOUT: %w", err))
		} else {
			c.Moodle.Timeout = d
		}
	}
	boolean("SMART_ID_GUARD", &c.Moodle.SmartIDGuard)
	boolean("MOODLE_SMART_ID_GUARD", &c.Moodle.SmartIDGuard)
	integer("MOODLE_SEARCH_PERPAGE", &c.Moodle.SearchPerPage)

	str("OPENAI_API_KEY", &c.OpenAI.APIKey)
	str("OPENAI_MODEL", &c.OpenAI.Model)
	str("OPENAI_BASE_URL", &c.OpenAI.BaseURL)

	integer("SUMMARY_BUDGET", &c.Summary.Budget)
	str("SUMMARY_BUDGET_UNIT", &c.Summary.Unit)

	str("LOG_LEVEL", &c.Log.Level)
	boolean("LOG_JSON", &c.Log.JSON)

	return errors.Join(errs...)
}

func (c *Config) normalize() {
	c.Moodle.BaseURL = strings.TrimRight(c.Moodle.BaseURL, "/")
	if c.Moodle.Timeout <= 0 {
		c.Moodle.Timeout = moodle.DefaultTimeout
	}
	c.Moodle.SearchPerPage = moodle.ClampPerPage(c.Moodle.SearchPerPage)
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = summarize.DefaultModel
	}
	c.Summary.Unit = strings.ToLower(c.Summary.Unit)
	if c.Summary.Unit == "" {
		c.Summary.Unit = UnitChars
	}
}

// Validate reports settings the Moodle tools cannot work without. The
// server still starts when this fails; every Moodle call then reports the
// missing setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Moodle.BaseURL == "" {
		errs = append(errs, errors.New("MOODLE_BASE_URL is not set"))
	}
	if c.Moodle.Token == "" {
		errs = append(errs, errors.New("MOODLE_TOKEN is not set"))
	}
	if c.Summary.Unit != UnitChars && c.Summary.Unit != UnitTokens {
		errs = append(errs, fmt.Errorf("SUMMARY_BUDGET_UNIT must be %q or %q, got %q", UnitChars, UnitTokens, c.Summary.Unit))
	}
	return errors.Join(errs...)
}

// SummarizationEnabled reports whether an OpenAI key is configured.
func (c *Config) SummarizationEnabled() bool {
	return c.OpenAI.APIKey != ""
}

// SummaryBudget returns the digest budget for the configured unit.
func (c *Config) SummaryBudget() int {
	if c.Summary.Budget > 0 {
		return c.Summary.Budget
	}
	if c.Summary.Unit == UnitTokens {
		return summarize.DefaultTokenBudget
	}
	return summarize.DefaultCharBudget
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", v)
}

// parseSeconds accepts plain seconds ("60", "2.5") or a Go duration ("90s").
func parseSeconds(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}
