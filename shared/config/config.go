// Package config loads the run configuration of the scheduler CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"github.com/furisto/cadence/shared"
	"github.com/furisto/cadence/shared/keyring"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const (
	FileName = "config.yaml"

	LogFormatCSV    = "csv"
	LogFormatSQLite = "sqlite"
)

type Config struct {
	Mode          string       `yaml:"mode"`
	Game          string       `yaml:"game"`
	CognitiveLoad string       `yaml:"cognitive_load"`
	Budget        BudgetConfig `yaml:"budget"`
	Reactive      ModelConfig  `yaml:"reactive"`
	Planning      ModelConfig  `yaml:"planning"`
	Log           LogConfig    `yaml:"log"`
	Seeds         int          `yaml:"seeds"`
	Repeats       int          `yaml:"repeats"`
	Workers       int          `yaml:"workers"`
	Checkpoint    string       `yaml:"checkpoint,omitempty"`
	// SkipAction drops plan actions that went stale while the planner was
	// thinking. Defaults to true for the planning mode.
	SkipAction *bool `yaml:"skip_action,omitempty"`
	// Decoder names a tiktoken encoding that makes slow output addressable
	// per token. Empty selects all-or-nothing exposure.
	Decoder string `yaml:"decoder,omitempty"`
}

type BudgetConfig struct {
	Unit     string  `yaml:"unit"`
	PerTick  float64 `yaml:"per_tick"`
	Internal float64 `yaml:"internal"`
}

type ModelConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	APIKeyEnv   string  `yaml:"api_key_env,omitempty"`
	APIKey      string  `yaml:"api_key,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	// ThinkingBudget enables extended thinking on providers that need it
	// switched on explicitly.
	ThinkingBudget int `yaml:"thinking_budget,omitempty"`
	// OutputPrice is the USD price per million output tokens.
	OutputPrice decimal.Decimal `yaml:"output_price"`
}

type LogConfig struct {
	Dir    string `yaml:"dir"`
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

func Default() *Config {
	return &Config{
		Mode:          "agile",
		Game:          "freeway",
		CognitiveLoad: "E",
		Budget: BudgetConfig{
			Unit:     "token",
			PerTick:  8192,
			Internal: 4096,
		},
		Reactive: ModelConfig{
			Provider:    "deepseek",
			Model:       "deepseek-chat",
			Temperature: 1,
			TopP:        1,
		},
		Planning: ModelConfig{
			Provider:    "deepseek",
			Model:       "deepseek-reasoner",
			MaxTokens:   32768,
			Temperature: 0.6,
			TopP:        0.95,
		},
		Log: LogConfig{
			Dir:    "logs",
			Format: LogFormatCSV,
			Level:  "info",
		},
		Seeds:   1,
		Repeats: 1,
	}
}

// Validate checks the structural settings. Budget consistency is checked by
// the budget package when an agent is constructed.
func (c *Config) Validate() error {
	var errs []error
	switch c.Mode {
	case "agile", "reactive", "planning":
	default:
		errs = append(errs, fmt.Errorf("mode must be one of agile, reactive, planning: got %q", c.Mode))
	}
	switch c.CognitiveLoad {
	case "E", "M", "H":
	default:
		errs = append(errs, fmt.Errorf("cognitive_load must be one of E, M, H: got %q", c.CognitiveLoad))
	}
	if c.Game == "" {
		errs = append(errs, errors.New("game is required"))
	}
	switch c.Log.Format {
	case LogFormatCSV, LogFormatSQLite:
	default:
		errs = append(errs, fmt.Errorf("log.format must be csv or sqlite: got %q", c.Log.Format))
	}
	if c.Seeds <= 0 {
		errs = append(errs, fmt.Errorf("seeds must be positive: got %d", c.Seeds))
	}
	if c.Repeats <= 0 {
		errs = append(errs, fmt.Errorf("repeats must be positive: got %d", c.Repeats))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative: got %d", c.Workers))
	}
	if c.UsesReactive() && c.Reactive.Model == "" {
		errs = append(errs, errors.New("reactive.model is required"))
	}
	if c.UsesPlanning() && c.Planning.Model == "" {
		errs = append(errs, errors.New("planning.model is required"))
	}

	if err := errors.Join(errs...); err != nil {
		return shared.Wrap(shared.ErrorSourceConfig, err, "invalid configuration")
	}
	return nil
}

func (c *Config) UsesReactive() bool { return c.Mode != "planning" }
func (c *Config) UsesPlanning() bool { return c.Mode != "reactive" }

func (c *Config) SkipsStaleActions() bool {
	if c.SkipAction != nil {
		return *c.SkipAction
	}
	return c.Mode == "planning"
}

// Setting is the compact run descriptor game_load_pertick_mode_internal,
// e.g. "freeway_E_8192_agile_4096".
func (c *Config) Setting() string {
	return fmt.Sprintf("%s_%s_%s_%s_%s", c.Game, c.CognitiveLoad,
		strconv.FormatFloat(c.Budget.PerTick, 'f', -1, 64), c.Mode,
		strconv.FormatFloat(c.Budget.Internal, 'f', -1, 64))
}

// ApplySetting returns a copy of c overridden by a setting descriptor.
func (c *Config) ApplySetting(setting string) (*Config, error) {
	parts := strings.Split(setting, "_")
	if len(parts) != 5 {
		return nil, shared.Errorf(shared.ErrorSourceConfig,
			"setting %q must have the form game_load_pertick_mode_internal", setting)
	}

	perTick, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return nil, shared.Wrap(shared.ErrorSourceConfig, err, "setting %q: per-tick budget", setting)
	}
	internal, err := strconv.ParseFloat(parts[4], 64)
	if err != nil {
		return nil, shared.Wrap(shared.ErrorSourceConfig, err, "setting %q: internal budget", setting)
	}

	out := *c
	out.Game = parts[0]
	out.CognitiveLoad = parts[1]
	out.Budget.PerTick = perTick
	out.Mode = parts[3]
	out.Budget.Internal = internal
	return &out, nil
}

// Path is the default config file location.
func Path() string {
	return filepath.Join(xdg.ConfigHome, "cadence", FileName)
}

type Loader struct {
	fs      *afero.Afero
	secrets keyring.Provider
	getenv  func(string) string
}

func NewLoader(fs *afero.Afero, secrets keyring.Provider) *Loader {
	return &Loader{
		fs:      fs,
		secrets: secrets,
		getenv:  os.Getenv,
	}
}

// Load reads path over the defaults. A missing file at the default location
// yields the defaults; a missing explicit path is an error.
func (l *Loader) Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = Path()
	}

	cfg := Default()
	exists, err := l.fs.Exists(path)
	if err != nil {
		return nil, shared.Wrap(shared.ErrorSourceConfig, err, "checking %s", path)
	}
	if !exists {
		if explicit {
			return nil, shared.Errorf(shared.ErrorSourceConfig, "config file %s does not exist", path)
		}
		return cfg, nil
	}

	content, err := l.fs.ReadFile(path)
	if err != nil {
		return nil, shared.Wrap(shared.ErrorSourceConfig, err, "reading %s", path)
	}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, shared.Wrap(shared.ErrorSourceConfig, err, "parsing %s", path)
	}
	return cfg, nil
}

func (l *Loader) Save(path string, cfg *Config) error {
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := l.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return l.fs.WriteFile(path, content, 0o600)
}

// ResolveAPIKey looks the key up in the environment, then the keyring under
// the provider name, then the inline value.
func (l *Loader) ResolveAPIKey(model ModelConfig) (string, error) {
	envName := model.APIKeyEnv
	if envName == "" {
		envName = DefaultAPIKeyEnv(model.Provider)
	}
	if envName != "" {
		if key := l.getenv(envName); key != "" {
			return key, nil
		}
	}

	if l.secrets != nil {
		key, err := l.secrets.Get(model.Provider)
		if err == nil && key != "" {
			return key, nil
		}
		if err != nil && !errors.Is(err, &keyring.ErrSecretNotFound{}) {
			return "", shared.Wrap(shared.ErrorSourceConfig, err, "reading %s key from keyring", model.Provider)
		}
	}

	if model.APIKey != "" {
		return model.APIKey, nil
	}
	return "", shared.Errorf(shared.ErrorSourceConfig, "no API key for provider %q", model.Provider)
}

func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "deepseek":
		return "DEEPSEEK_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}
