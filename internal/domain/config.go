package domain

import (
	"path/filepath"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Backend      BackendConfig      `mapstructure:"backend"`
	Download     DownloadConfig     `mapstructure:"download"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Routing      RoutingConfig      `mapstructure:"routing"`
	Extraction   ExtractionConfig   `mapstructure:"extraction"`
	Notification NotificationConfig `mapstructure:"notification"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// BackendConfig describes the analysis/conversion service
type BackendConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ReconcileDelay time.Duration `mapstructure:"reconcile_delay"` // Wait after a channel error before /check-status
	AcceptLanguage string        `mapstructure:"accept_language"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// DownloadConfig contains download-related configuration
type DownloadConfig struct {
	BaseDir        string        `mapstructure:"base_dir"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	BandwidthLimit int64         `mapstructure:"bandwidth_limit"` // bytes/s, 0 = unlimited
	MaxDirectSize  int64         `mapstructure:"max_direct_size"` // bytes, 0 = unlimited
	ChunkSize      int           `mapstructure:"chunk_size"`
	FetchArtifacts bool          `mapstructure:"fetch_artifacts"` // Fetch server job results into CompletedDir
}

// IncomingDir holds partial transfers
func (c DownloadConfig) IncomingDir() string {
	return filepath.Join(c.BaseDir, "incoming")
}

// CompletedDir holds finished files
func (c DownloadConfig) CompletedDir() string {
	return filepath.Join(c.BaseDir, "completed")
}

// LogsDir holds the per-category log files
func (c DownloadConfig) LogsDir() string {
	return filepath.Join(c.BaseDir, "logs")
}

// ConfigDir holds the queue database and cookies
func (c DownloadConfig) ConfigDir() string {
	return filepath.Join(c.BaseDir, "config")
}

// QueueConfig contains queue-related configuration
type QueueConfig struct {
	DatabasePath    string        `mapstructure:"database_path"`
	CheckInterval   time.Duration `mapstructure:"check_interval"`
	AutoStart       bool          `mapstructure:"auto_start"`
	AutoExitOnEmpty bool          `mapstructure:"auto_exit_on_empty"`
	EmptyWaitTime   time.Duration `mapstructure:"empty_wait_time"`
}

// RoutingConfig overrides the platform routing table
type RoutingConfig struct {
	Rules           []PlatformRule `mapstructure:"rules"`
	AdaptiveMarkers []string       `mapstructure:"adaptive_markers"`
}

// ExtractionConfig configures credentialed local extraction
type ExtractionConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	YTDLPBinary string `mapstructure:"ytdlp_binary"`
	CookieFile  string `mapstructure:"cookie_file"`
}

// NotificationConfig contains notification-related configuration
type NotificationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Sound   bool   `mapstructure:"sound"`
	Method  string `mapstructure:"method"` // osascript, notify-send, etc.
}

// LoggingConfig contains logging-related configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Backend: BackendConfig{
			BaseURL:        "http://localhost:5000/api",
			RequestTimeout: 30 * time.Second,
			ReconcileDelay: 2 * time.Second,
			AcceptLanguage: "en",
			UserAgent:      "hqmx-go/1.0",
		},
		Download: DownloadConfig{
			BaseDir:        "$HOME/Downloads/hqmx",
			MaxRetries:     3,
			RetryDelay:     30 * time.Second,
			ChunkSize:      32 * 1024,
			FetchArtifacts: true,
		},
		Queue: QueueConfig{
			DatabasePath:    "$HOME/Downloads/hqmx/config/queue.db",
			CheckInterval:   10 * time.Second,
			AutoStart:       true,
			AutoExitOnEmpty: false,
			EmptyWaitTime:   5 * time.Minute,
		},
		Routing: RoutingConfig{
			Rules:           DefaultPlatformRules(),
			AdaptiveMarkers: DefaultAdaptiveMarkers,
		},
		Extraction: ExtractionConfig{
			Enabled:     false,
			YTDLPBinary: "yt-dlp",
			CookieFile:  "$HOME/Downloads/hqmx/config/cookies.txt",
		},
		Notification: NotificationConfig{
			Enabled: true,
			Sound:   true,
			Method:  "osascript",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stdout",
		},
	}
}
