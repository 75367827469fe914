package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "ASSETINSIGHT"

	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultServerDatabasePath = "assetinsight-server.db"
	defaultClientDatabasePath = "assetinsight.db"
	defaultLogLevel           = "info"
	defaultAccessTTL          = time.Hour
	defaultRefreshTTL         = 30 * 24 * time.Hour
	defaultRemoteBaseURL      = "http://127.0.0.1:8080"
	defaultRemoteTimeout      = 30 * time.Second
	defaultSyncInterval       = 15 * time.Minute
	defaultSyncBudget         = 2 * time.Minute
	defaultSyncRetryDelay     = 30 * time.Second
	defaultSyncMaxRejections  = 3
	defaultRefreshSkew        = 5 * time.Minute
)

// ServerConfig captures runtime configuration for the sync service.
type ServerConfig struct {
	HTTPAddress    string
	DatabasePath   string
	SigningSecret  string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	AllowedOrigins []string
	LogLevel       string
}

// ClientConfig captures runtime configuration for the client CLI and daemon.
type ClientConfig struct {
	DatabasePath      string
	RemoteBaseURL     string
	RemoteTimeout     time.Duration
	DeviceInfo        string
	SyncInterval      time.Duration
	SyncBudget        time.Duration
	SyncRetryDelay    time.Duration
	SyncMaxRejections int
	RefreshSkew       time.Duration
	LogLevel          string
	LogFile           string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper
// instance. The client and the service share one key space; database.path
// defaults to the client database.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")
	configViper.SetDefault("database.path", defaultClientDatabasePath)

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("token.access_ttl", defaultAccessTTL)
	configViper.SetDefault("token.refresh_ttl", defaultRefreshTTL)

	configViper.SetDefault("remote.base_url", defaultRemoteBaseURL)
	configViper.SetDefault("remote.timeout", defaultRemoteTimeout)
	configViper.SetDefault("remote.device_info", "")
	configViper.SetDefault("sync.interval", defaultSyncInterval)
	configViper.SetDefault("sync.budget", defaultSyncBudget)
	configViper.SetDefault("sync.retry_delay", defaultSyncRetryDelay)
	configViper.SetDefault("sync.max_rejections", defaultSyncMaxRejections)
	configViper.SetDefault("session.refresh_skew", defaultRefreshSkew)
}

// ApplyServerDefaults points database.path at the service database.
func ApplyServerDefaults(configViper *viper.Viper) {
	ApplyDefaults(configViper)
	configViper.SetDefault("database.path", defaultServerDatabasePath)
}

// LoadServer parses the sync service configuration from viper.
func LoadServer(configViper *viper.Viper) (ServerConfig, error) {
	cfg := ServerConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		AccessTTL:      configViper.GetDuration("token.access_ttl"),
		RefreshTTL:     configViper.GetDuration("token.refresh_ttl"),
		AllowedOrigins: configViper.GetStringSlice("http.allowed_origins"),
		LogLevel:       configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return ServerConfig{}, err
	}

	return cfg, nil
}

// LoadClient parses the client configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		DatabasePath:      configViper.GetString("database.path"),
		RemoteBaseURL:     configViper.GetString("remote.base_url"),
		RemoteTimeout:     configViper.GetDuration("remote.timeout"),
		DeviceInfo:        configViper.GetString("remote.device_info"),
		SyncInterval:      configViper.GetDuration("sync.interval"),
		SyncBudget:        configViper.GetDuration("sync.budget"),
		SyncRetryDelay:    configViper.GetDuration("sync.retry_delay"),
		SyncMaxRejections: configViper.GetInt("sync.max_rejections"),
		RefreshSkew:       configViper.GetDuration("session.refresh_skew"),
		LogLevel:          configViper.GetString("log.level"),
		LogFile:           configViper.GetString("log.file"),
	}

	if err := cfg.validate(); err != nil {
		return ClientConfig{}, err
	}

	return cfg, nil
}

func (c ServerConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return fmt.Errorf("token.access_ttl and token.refresh_ttl must be positive")
	}
	if c.AccessTTL >= c.RefreshTTL {
		return fmt.Errorf("token.access_ttl must be shorter than token.refresh_ttl")
	}
	return nil
}

func (c ClientConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	parsed, err := url.Parse(strings.TrimSpace(c.RemoteBaseURL))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("remote.base_url must be an http or https URL, got %q", c.RemoteBaseURL)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if c.SyncBudget <= 0 {
		return fmt.Errorf("sync.budget must be positive")
	}
	if c.SyncMaxRejections < 1 {
		return fmt.Errorf("sync.max_rejections must be at least 1")
	}
	return nil
}
