package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"launchq/internal/prompt"
)

type Config struct {
	Port           string
	LogLevel       slog.Level
	DataDir        string
	GameDir        string
	CatalogURL     string
	CatalogCache   bool
	CatalogTTL     time.Duration
	InstallerPath  string
	FinishDelay    time.Duration
	PromptTimeout  time.Duration
	OptionalPolicy prompt.Policy
}

// Load reads configuration from envFile (if it exists), LAUNCHQ_* environment
// variables and an optional config.yaml in the working or data directory.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "INFO")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("game_dir", "./game")
	v.SetDefault("catalog_url", "https://api.modrinth.com/v2")
	v.SetDefault("catalog_cache", true)
	v.SetDefault("catalog_ttl", 30*time.Minute)
	v.SetDefault("installer_path", "launchq-installer")
	v.SetDefault("finish_delay", time.Second)
	v.SetDefault("prompt_timeout", 5*time.Minute)
	v.SetDefault("optional_policy", string(prompt.PolicyAsk))

	v.SetEnvPrefix("LAUNCHQ")
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(v.GetString("data_dir"))
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	policy := prompt.Policy(strings.ToLower(v.GetString("optional_policy")))
	switch policy {
	case prompt.PolicyAsk, prompt.PolicyAccept, prompt.PolicyDecline:
	default:
		return Config{}, fmt.Errorf("optional_policy must be ask, accept or decline, got %q", policy)
	}

	return Config{
		Port:           v.GetString("port"),
		LogLevel:       parseLogLevel(v.GetString("log_level")),
		DataDir:        v.GetString("data_dir"),
		GameDir:        v.GetString("game_dir"),
		CatalogURL:     v.GetString("catalog_url"),
		CatalogCache:   v.GetBool("catalog_cache"),
		CatalogTTL:     v.GetDuration("catalog_ttl"),
		InstallerPath:  v.GetString("installer_path"),
		FinishDelay:    v.GetDuration("finish_delay"),
		PromptTimeout:  v.GetDuration("prompt_timeout"),
		OptionalPolicy: policy,
	}, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
