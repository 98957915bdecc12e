// Package config builds the server configuration once at startup.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pavelanni/examdesk/internal/model"
)

// Config is the resolved configuration of an examdesk process.
type Config struct {
	Addr     string
	StoreURL string
	// PublicCredential is the insert-only "user:password" used by the start
	// flow. ServiceCredential is used for everything else. Both are only
	// read for PostgreSQL.
	PublicCredential  string
	ServiceCredential string
	AdminSecret       string
	AllowedGrades     []string
	Lang              string
	BasePath          string
	SecureCookies     bool
	Redis             RedisConfig
	LogLevel          string
	LogFormat         string
}

// RedisConfig configures the optional exam cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// FromViper reads settings bound under their flag names.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Addr:              v.GetString("addr"),
		StoreURL:          strings.TrimSpace(v.GetString("store-url")),
		PublicCredential:  v.GetString("store-public-credential"),
		ServiceCredential: v.GetString("store-service-credential"),
		AdminSecret:       v.GetString("admin-secret"),
		AllowedGrades:     cleanList(v.GetStringSlice("allowed-grades")),
		Lang:              v.GetString("lang"),
		BasePath:          NormalizeBasePath(v.GetString("base-path")),
		SecureCookies:     v.GetBool("secure-cookies"),
		Redis: RedisConfig{
			Addr:     v.GetString("redis-addr"),
			Password: v.GetString("redis-password"),
			DB:       v.GetInt("redis-db"),
		},
		LogLevel:  v.GetString("log-level"),
		LogFormat: v.GetString("log-format"),
	}
	if raw := strings.TrimSpace(v.GetString("redis-ttl")); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return cfg, model.Configuration("InvalidSetting",
				fmt.Sprintf("redis-ttl %q is not a duration (for example 5m)", raw), err)
		}
		cfg.Redis.TTL = ttl
	}
	return cfg, nil
}

// Validate fails with a configuration error naming the first missing
// setting.
func (c Config) Validate() error {
	if c.StoreURL == "" {
		return missing("store-url")
	}
	if c.IsPostgres() {
		if c.PublicCredential == "" {
			return missing("store-public-credential")
		}
		if c.ServiceCredential == "" {
			return missing("store-service-credential")
		}
	}
	if c.AdminSecret == "" {
		return missing("admin-secret")
	}
	if c.Redis.TTL < 0 {
		return model.Configuration("InvalidSetting", "redis-ttl must not be negative", nil)
	}
	return nil
}

// ValidateStore checks only the store settings, for commands that do not
// serve HTTP.
func (c Config) ValidateStore() error {
	if c.StoreURL == "" {
		return missing("store-url")
	}
	if c.IsPostgres() && c.ServiceCredential == "" {
		return missing("store-service-credential")
	}
	return nil
}

// IsPostgres reports whether the store is a PostgreSQL server.
func (c Config) IsPostgres() bool {
	return strings.HasPrefix(c.StoreURL, "postgres://") || strings.HasPrefix(c.StoreURL, "postgresql://")
}

// CookiePath is the path admin cookies are scoped to.
func (c Config) CookiePath() string {
	if c.BasePath == "" {
		return "/"
	}
	return c.BasePath + "/"
}

// NormalizeBasePath returns "" or a path with a leading and no trailing slash.
func NormalizeBasePath(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func missing(setting string) error {
	env := "EXAMDESK_" + strings.ToUpper(strings.ReplaceAll(setting, "-", "_"))
	return model.Configuration("MissingSetting",
		fmt.Sprintf("%s is not set: pass --%s or set %s", setting, setting, env), nil)
}

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
