package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "SPACECAT_AUTH"

// Handler names accepted in auth.handlers.
const (
	HandlerJWT          = "jwt"
	HandlerScopedAPIKey = "scopedApiKey"
	HandlerIMS          = "ims"
	HandlerLegacyAPIKey = "legacyApiKey"
)

type Config struct {
	Server struct {
		Addr         string        `mapstructure:"addr"`
		Mode         string        `mapstructure:"mode"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"server"`

	Redis struct {
		URL      string `mapstructure:"url"`
		PoolSize int    `mapstructure:"pool_size"`
	} `mapstructure:"redis"`

	Database struct {
		DSN          string `mapstructure:"dsn"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		EnsureSchema bool   `mapstructure:"ensure_schema"`
	} `mapstructure:"database"`

	Auth struct {
		Handlers     []string `mapstructure:"handlers"`
		PublicKeyB64 string   `mapstructure:"public_key_b64"`
		UserAPIKey   string   `mapstructure:"user_api_key"`
		AdminAPIKey  string   `mapstructure:"admin_api_key"`
		AdminRoutes  []string `mapstructure:"admin_routes"`
		IMSHandler   string   `mapstructure:"ims_handler"`
	} `mapstructure:"auth"`

	IMS struct {
		Host                   string        `mapstructure:"host"`
		ClientID               string        `mapstructure:"client_id"`
		ClientCode             string        `mapstructure:"client_code"`
		ClientSecret           string        `mapstructure:"client_secret"`
		Scope                  string        `mapstructure:"scope"`
		DisallowedEmailDomains []string      `mapstructure:"disallowed_email_domains"`
		AdminGroupRole         string        `mapstructure:"admin_group_role"`
		Timeout                time.Duration `mapstructure:"timeout"`
		RetryCount             int           `mapstructure:"retry_count"`
	} `mapstructure:"ims"`

	Observability struct {
		MetricsEnabled     bool   `mapstructure:"metrics_enabled"`
		TraceEnabled       bool   `mapstructure:"trace_enabled"`
		TracingEndpointURL string `mapstructure:"tracing_endpoint_url"`
		LogLevel           string `mapstructure:"log_level"`
		Format             string `mapstructure:"log_format"`
		LogSource          bool   `mapstructure:"log_source"`
	} `mapstructure:"observability"`
}

// envAliases are the bare variable names deployments already set.
var envAliases = map[string]string{
	"ims.host":            "IMS_HOST",
	"ims.client_id":       "IMS_CLIENT_ID",
	"ims.client_code":     "IMS_CLIENT_CODE",
	"ims.client_secret":   "IMS_CLIENT_SECRET",
	"ims.scope":           "IMS_SCOPE",
	"auth.public_key_b64": "AUTH_PUBLIC_KEY_B64",
	"auth.user_api_key":   "USER_API_KEY",
	"auth.admin_api_key":  "ADMIN_API_KEY",
	"auth.ims_handler":    "AUTH_HANDLER_IMS",
	"redis.url":           "REDIS_URL",
	"database.dsn":        "DATABASE_URL",
}

type loadOptions struct {
	paths []string
}

type Option func(*loadOptions)

// WithConfigPaths replaces the directories searched for config.yaml.
func WithConfigPaths(paths ...string) Option {
	return func(o *loadOptions) {
		o.paths = paths
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.ensure_schema", false)

	v.SetDefault("auth.handlers", []string{HandlerJWT, HandlerIMS, HandlerScopedAPIKey, HandlerLegacyAPIKey})
	v.SetDefault("auth.public_key_b64", "")
	v.SetDefault("auth.user_api_key", "")
	v.SetDefault("auth.admin_api_key", "")
	v.SetDefault("auth.admin_routes", nil)
	v.SetDefault("auth.ims_handler", "")

	v.SetDefault("ims.host", "")
	v.SetDefault("ims.client_id", "")
	v.SetDefault("ims.client_code", "")
	v.SetDefault("ims.client_secret", "")
	v.SetDefault("ims.scope", "")
	v.SetDefault("ims.disallowed_email_domains", []string{})
	v.SetDefault("ims.admin_group_role", "")
	v.SetDefault("ims.timeout", 15*time.Second)
	v.SetDefault("ims.retry_count", 2)

	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.trace_enabled", false)
	v.SetDefault("observability.tracing_endpoint_url", "")
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
	v.SetDefault("observability.log_source", false)
}

// Load reads config.yaml (optional), config.<APP_ENV>.yaml (optional) and the
// environment. SPACECAT_AUTH_<SECTION>_<KEY> and the bare aliases both apply.
func Load(opts ...Option) (*Config, error) {
	o := loadOptions{paths: []string{"./config", "."}}
	for _, opt := range opts {
		opt(&o)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range o.paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range envAliases {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, alias); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", alias, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if env := os.Getenv("APP_ENV"); env != "" {
		v.SetConfigName(fmt.Sprintf("config.%s", env))
		if err := v.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config for %s: %w", env, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		slog.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	return cfg
}

func (c *Config) validate() error {
	if len(c.Auth.Handlers) == 0 {
		return errors.New("auth.handlers must name at least one handler")
	}
	for _, h := range c.Auth.Handlers {
		switch h {
		case HandlerJWT, HandlerScopedAPIKey, HandlerIMS, HandlerLegacyAPIKey:
		default:
			return fmt.Errorf("unknown auth handler %q", h)
		}
	}
	return nil
}
