package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file
func (l *Loader) Load() (*Config, error) {
	// Determine config path
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".outrigger", "outrigger.json")
	}

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Return default config if file doesn't exist
		return l.finalize(DefaultConfig())
	}

	// Setup viper
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	// Read environment variables
	v.SetEnvPrefix("OUTRIGGER")
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal into config struct
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Provider keys may come from the environment instead of the file
	if cfg.Providers.AnthropicKey == "" {
		cfg.Providers.AnthropicKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.Providers.OpenAIKey == "" {
		cfg.Providers.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	}

	return l.finalize(cfg)
}

// GetConfigPath returns the resolved config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "outrigger.json"
	}
	return filepath.Join(home, ".outrigger", "outrigger.json")
}

// Save writes the configuration as indented JSON
func (l *Loader) Save(cfg *Config) error {
	path := l.GetConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// finalize fills in derived paths that depend on the data directory
func (l *Loader) finalize(cfg *Config) (*Config, error) {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".outrigger")
	}

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "logs", "outrigger.log")
	}
	if cfg.Recommend.StatePath == "" {
		cfg.Recommend.StatePath = filepath.Join(cfg.DataDir, "recommend.db")
	}
	if cfg.Profiles.Dir == "" {
		cfg.Profiles.Dir = filepath.Join(cfg.DataDir, "profiles")
	}

	return cfg, nil
}
