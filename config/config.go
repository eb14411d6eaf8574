// Package config loads the engine's YAML configuration file (default
// $HOME/.chameleon/config/config.yaml) and applies defaults, matching
// spec §6. Values in the file override these defaults. main reads no CLI
// flags; the only override it applies is the config file path, taken from
// the CHAMELEON_CONFIG environment variable.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration document.
type Config struct {
	Server           ServerConfig   `yaml:"server"`
	MetadataDatabase DatabaseConfig `yaml:"metadata_database"`
	DataDatabase     DatabaseConfig `yaml:"data_database"`
	Tables           TablesConfig   `yaml:"tables"`
	Features         FeaturesConfig `yaml:"features"`
}

// ServerConfig controls transport and logging.
type ServerConfig struct {
	Transport string `yaml:"transport"` // "stdio" | "sse"
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogsDir   string `yaml:"logs_dir"`
}

// DatabaseConfig names a connection string and optional schema qualifier,
// used identically for the Metadata Store and the Data Store.
type DatabaseConfig struct {
	URL    string `yaml:"url"`
	Schema string `yaml:"schema"`
}

// TablesConfig overrides default table names per registry entity kind.
type TablesConfig struct {
	CodeVault        string `yaml:"codevault"`
	ToolRegistry     string `yaml:"toolregistry"`
	ResourceRegistry string `yaml:"resourceregistry"`
	PromptRegistry   string `yaml:"promptregistry"`
	MacroRegistry    string `yaml:"macroregistry"`
	SecurityPolicy   string `yaml:"securitypolicy"`
	IconRegistry     string `yaml:"iconregistry"`
	ExecutionLog     string `yaml:"executionlog"`
	AgentNotebook    string `yaml:"agentnotebook"`
	NotebookHistory  string `yaml:"notebookhistory"`
	NotebookAudit    string `yaml:"notebookaudit"`
	SalesPerDay      string `yaml:"sales_per_day"`
}

// FeaturesConfig toggles optional subsystems.
type FeaturesConfig struct {
	ChameleonUI ChameleonUIConfig `yaml:"chameleon_ui"`
}

// ChameleonUIConfig controls the (adapter-level, out-of-core) admin UI.
type ChameleonUIConfig struct {
	Enabled bool   `yaml:"enabled"`
	AppsDir string `yaml:"apps_dir"`
}

// DefaultPath returns $HOME/.chameleon/config/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".chameleon", "config", "config.yaml")
}

// Load reads and parses the YAML file at path, applying defaults for any
// field the file omits. A missing file is not an error — it returns
// Defaults() unchanged, since every field in the spec's config section is
// optional and built-in defaults fill the gaps.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Defaults returns the configuration the engine assumes when no config
// file overrides a field.
func Defaults() Config {
	var c Config
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Server.Transport == "" {
		c.Server.Transport = "stdio"
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8585
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "INFO"
	}
	if c.Server.LogsDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		c.Server.LogsDir = filepath.Join(home, ".chameleon", "logs")
	}
	if c.MetadataDatabase.URL == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		c.MetadataDatabase.URL = filepath.Join(home, ".chameleon", "data", "metadata.db")
	}
	t := &c.Tables
	setDefault(&t.CodeVault, "codevault")
	setDefault(&t.ToolRegistry, "toolregistry")
	setDefault(&t.ResourceRegistry, "resourceregistry")
	setDefault(&t.PromptRegistry, "promptregistry")
	setDefault(&t.MacroRegistry, "macroregistry")
	setDefault(&t.SecurityPolicy, "securitypolicy")
	setDefault(&t.IconRegistry, "iconregistry")
	setDefault(&t.ExecutionLog, "executionlog")
	setDefault(&t.AgentNotebook, "agentnotebook")
	setDefault(&t.NotebookHistory, "notebookhistory")
	setDefault(&t.NotebookAudit, "notebookaudit")
	setDefault(&t.SalesPerDay, "sales_per_day")
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// ValidLogLevels enumerates the spec's recognized server.log_level values.
var ValidLogLevels = []string{"DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL"}
