package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models waveline.yml.
type Config struct {
	Engine struct {
		// ActorID is the identity the engine posts under.
		ActorID string `yaml:"actor_id"`
		// MaxWriteAttempts bounds the re-read/retry loop on revision
		// conflicts. Retries are immediate; nothing in the engine waits
		// on wall-clock time.
		MaxWriteAttempts int `yaml:"max_write_attempts"`
	} `yaml:"engine"`
	Store struct {
		Backend   string `yaml:"backend" enum:"local,github"`
		Workspace string `yaml:"workspace"`
		GitHub    struct {
			Owner    string `yaml:"owner"`
			Repo     string `yaml:"repo"`
			TokenEnv string `yaml:"token_env"`
		} `yaml:"github"`
	} `yaml:"store"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig is one outbound event delivery target.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "waveline.yml")
}

// Load reads and validates config from the workspace, falling back to
// defaults when the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(workspace), nil
		}
		return nil, err
	}
	cfg, err := FromYAML(data)
	if err != nil {
		return nil, err
	}
	if cfg.Store.Workspace == "" {
		cfg.Store.Workspace = workspace
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "local", "github":
	case "":
		return fmt.Errorf("config.store.backend is required")
	default:
		return fmt.Errorf("config.store.backend must be local or github, got %q", c.Store.Backend)
	}
	if c.Store.Backend == "github" {
		if c.Store.GitHub.Owner == "" || c.Store.GitHub.Repo == "" {
			return fmt.Errorf("config.store.github.owner and repo are required for the github backend")
		}
	}
	if c.Engine.ActorID == "" {
		return fmt.Errorf("config.engine.actor_id is required")
	}
	if c.Engine.MaxWriteAttempts < 1 {
		return fmt.Errorf("config.engine.max_write_attempts must be at least 1")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Default returns the default Config for a workspace.
func Default(workspace string) *Config {
	var cfg Config
	cfg.Engine.ActorID = "waveline"
	cfg.Engine.MaxWriteAttempts = 5
	cfg.Store.Backend = "local"
	cfg.Store.Workspace = workspace
	cfg.Store.GitHub.TokenEnv = "WAVELINE_GITHUB_TOKEN"
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns the default config YAML for a new workspace.
func GenerateDefault(workspace string) string {
	return fmt.Sprintf(defaultTemplate, workspace)
}

const defaultTemplate = `engine:
  actor_id: waveline
  max_write_attempts: 5

store:
  backend: local
  workspace: %s
  github:
    owner: ""
    repo: ""
    token_env: WAVELINE_GITHUB_TOKEN

webhooks: []
`
