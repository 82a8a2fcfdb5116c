package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "nossacarteira.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/nossacarteira"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
	// TokenFileName is the default session token file under UserConfigDir
	TokenFileName = "session.jwt"
	// EnvFile is the dotenv file read from the working directory
	EnvFile = ".env"
)

// Environment variables that override file configuration.
const (
	EnvNATSURL          = "NC_NATS_URL"
	EnvSessionSecret    = "NC_SESSION_SECRET"
	EnvSessionTokenFile = "NC_SESSION_TOKEN_FILE"
	EnvAPIAddr          = "NC_API_ADDR"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger  *slog.Logger
	workDir string
	homeDir string
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{logger: logger}
	if cwd, err := os.Getwd(); err == nil {
		l.workDir = cwd
	}
	if home, err := os.UserHomeDir(); err == nil {
		l.homeDir = home
	}
	return l
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/nossacarteira/config.yaml)
// 3. Project config (nossacarteira.yaml in current or parent directories),
// or explicitPath when set
// 4. .env in the working directory, then environment variables
func (l *Loader) Load(explicitPath string) (*Config, error) {
	config := DefaultConfig()

	userConfigPath := l.userConfigPath()
	if userConfigPath != "" {
		if err := config.Overlay(userConfigPath); err == nil {
			l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
		} else if !errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
		}
	}

	if explicitPath != "" {
		if err := config.Overlay(explicitPath); err != nil {
			return nil, err
		}
		l.logger.Debug("Loaded config", slog.String("path", explicitPath))
	} else if projectConfigPath := l.findProjectConfig(); projectConfigPath != "" {
		if err := config.Overlay(projectConfigPath); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
		} else {
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("No project config found")
	}

	l.applyEnv(config)

	if config.Session.TokenFile == "" && l.homeDir != "" {
		config.Session.TokenFile = filepath.Join(l.homeDir, UserConfigDir, TokenFileName)
	}
	if config.NATS.StoreDir == "" {
		config.NATS.StoreDir = filepath.Join(os.TempDir(), "nossacarteira-jetstream")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnv overlays the dotenv file and the process environment. Variables
// already set in the environment win over the dotenv file.
func (l *Loader) applyEnv(config *Config) {
	if l.workDir != "" {
		envPath := filepath.Join(l.workDir, EnvFile)
		if err := godotenv.Load(envPath); err == nil {
			l.logger.Debug("Loaded env file", slog.String("path", envPath))
		} else if !errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("Failed to load env file", slog.String("path", envPath), slog.String("error", err.Error()))
		}
	}

	env := &Config{}
	env.NATS.URL = os.Getenv(EnvNATSURL)
	env.Session.Secret = os.Getenv(EnvSessionSecret)
	env.Session.TokenFile = os.Getenv(EnvSessionTokenFile)
	env.API.Addr = os.Getenv(EnvAPIAddr)
	config.Merge(env)
}

// UserConfigPath returns the path to the user config file
func (l *Loader) UserConfigPath() string {
	return l.userConfigPath()
}

// EnsureUserConfig creates the user config file with defaults and a freshly
// generated session secret if it doesn't exist. It reports whether the file
// was created.
func (l *Loader) EnsureUserConfig() (bool, error) {
	userConfigPath := l.userConfigPath()
	if userConfigPath == "" {
		return false, fmt.Errorf("no home directory for user config")
	}

	if _, err := os.Stat(userConfigPath); err == nil {
		return false, nil // Already exists
	}

	config := DefaultConfig()
	config.Session.Secret = rand.Text()
	if err := config.SaveToFile(userConfigPath); err != nil {
		return false, err
	}

	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return true, nil
}

func (l *Loader) userConfigPath() string {
	if l.homeDir == "" {
		return ""
	}
	return filepath.Join(l.homeDir, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for nossacarteira.yaml in current and parent directories
func (l *Loader) findProjectConfig() string {
	if l.workDir == "" {
		return ""
	}

	dir := l.workDir
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			break
		}
		dir = parent
	}

	return ""
}
