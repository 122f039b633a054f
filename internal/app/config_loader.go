package app

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/yourusername/hqmx-go/internal/domain"
)

// envKeys are the settings that can be overridden with HQMX_* variables,
// e.g. HQMX_BACKEND_BASE_URL
var envKeys = []string{
	"server.host",
	"server.port",
	"backend.base_url",
	"backend.request_timeout",
	"backend.reconcile_delay",
	"backend.accept_language",
	"download.base_dir",
	"download.max_retries",
	"download.retry_delay",
	"download.bandwidth_limit",
	"download.max_direct_size",
	"download.fetch_artifacts",
	"queue.database_path",
	"queue.auto_start",
	"extraction.enabled",
	"extraction.ytdlp_binary",
	"extraction.cookie_file",
	"notification.enabled",
	"logging.level",
	"logging.format",
	"logging.output_path",
}

// LoadConfig loads configuration from file and environment. A .env file in the
// working directory is applied to the environment first.
func LoadConfig(configPath string) (*domain.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	config := domain.DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.hqmx")
		v.AddConfigPath("/etc/hqmx")
	}

	v.SetEnvPrefix("HQMX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Configured lists replace the defaults rather than overlaying them
	if v.IsSet("routing.rules") {
		config.Routing.Rules = nil
	}
	if v.IsSet("routing.adaptive_markers") {
		config.Routing.AdaptiveMarkers = nil
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config = expandPaths(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// expandPaths expands environment variables in path configurations
func expandPaths(config *domain.Config) *domain.Config {
	config.Download.BaseDir = expandPath(config.Download.BaseDir)
	config.Queue.DatabasePath = expandPath(config.Queue.DatabasePath)
	config.Extraction.CookieFile = expandPath(config.Extraction.CookieFile)

	if config.Logging.OutputPath != "stdout" && config.Logging.OutputPath != "stderr" {
		config.Logging.OutputPath = expandPath(config.Logging.OutputPath)
	}

	return config
}

// expandPath expands environment variables and ~ in paths
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}

	// $HOME is resolved through UserHomeDir so it works where HOME is unset
	if strings.Contains(path, "$HOME") {
		if home, err := os.UserHomeDir(); err == nil {
			path = strings.ReplaceAll(path, "$HOME", home)
		}
	}

	return os.ExpandEnv(path)
}

// validateConfig validates the configuration
func validateConfig(config *domain.Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	base, err := url.Parse(config.Backend.BaseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return fmt.Errorf("invalid backend base URL: %q", config.Backend.BaseURL)
	}

	if config.Backend.ReconcileDelay < 0 {
		return fmt.Errorf("reconcile delay cannot be negative")
	}

	if config.Download.BaseDir == "" {
		return fmt.Errorf("download base directory not configured")
	}

	if config.Download.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	if config.Download.BandwidthLimit < 0 || config.Download.MaxDirectSize < 0 {
		return fmt.Errorf("download limits cannot be negative")
	}

	if config.Download.ChunkSize <= 0 {
		config.Download.ChunkSize = 32 * 1024
	}

	if config.Queue.DatabasePath == "" {
		return fmt.Errorf("queue database path not configured")
	}

	if config.Queue.CheckInterval <= 0 {
		return fmt.Errorf("queue check interval must be positive")
	}

	for i, rule := range config.Routing.Rules {
		if rule.Name == "" || len(rule.Hosts) == 0 {
			return fmt.Errorf("routing rule %d needs a name and at least one host", i)
		}
		if !domain.ValidateStrategyKind(rule.Strategy) {
			return fmt.Errorf("routing rule %s has invalid strategy: %s", rule.Name, rule.Strategy)
		}
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}

	return nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *domain.Config, path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	for key, value := range configValues(config) {
		v.Set(key, value)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// configValues flattens the config into the keys LoadConfig reads back
func configValues(c *domain.Config) map[string]interface{} {
	rules := make([]map[string]interface{}, 0, len(c.Routing.Rules))
	for _, r := range c.Routing.Rules {
		rules = append(rules, map[string]interface{}{
			"name":     r.Name,
			"hosts":    r.Hosts,
			"strategy": string(r.Strategy),
			"reason":   r.Reason,
		})
	}

	return map[string]interface{}{
		"server.host":              c.Server.Host,
		"server.port":              c.Server.Port,
		"backend.base_url":         c.Backend.BaseURL,
		"backend.request_timeout":  c.Backend.RequestTimeout.String(),
		"backend.reconcile_delay":  c.Backend.ReconcileDelay.String(),
		"backend.accept_language":  c.Backend.AcceptLanguage,
		"backend.user_agent":       c.Backend.UserAgent,
		"download.base_dir":        c.Download.BaseDir,
		"download.max_retries":     c.Download.MaxRetries,
		"download.retry_delay":     c.Download.RetryDelay.String(),
		"download.bandwidth_limit": c.Download.BandwidthLimit,
		"download.max_direct_size": c.Download.MaxDirectSize,
		"download.chunk_size":      c.Download.ChunkSize,
		"download.fetch_artifacts": c.Download.FetchArtifacts,
		"queue.database_path":      c.Queue.DatabasePath,
		"queue.check_interval":     c.Queue.CheckInterval.String(),
		"queue.auto_start":         c.Queue.AutoStart,
		"queue.auto_exit_on_empty": c.Queue.AutoExitOnEmpty,
		"queue.empty_wait_time":    c.Queue.EmptyWaitTime.String(),
		"routing.rules":            rules,
		"routing.adaptive_markers": c.Routing.AdaptiveMarkers,
		"extraction.enabled":       c.Extraction.Enabled,
		"extraction.ytdlp_binary":  c.Extraction.YTDLPBinary,
		"extraction.cookie_file":   c.Extraction.CookieFile,
		"notification.enabled":     c.Notification.Enabled,
		"notification.sound":       c.Notification.Sound,
		"notification.method":      c.Notification.Method,
		"logging.level":            c.Logging.Level,
		"logging.format":           c.Logging.Format,
		"logging.output_path":      c.Logging.OutputPath,
	}
}
