package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/KevinKickass/OdinBridge/internal/odin"
	"github.com/KevinKickass/OdinBridge/internal/types"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "ODIN_BRIDGE"

	devSecret = "dev-secret-change-in-production-min-32-chars"
)

type Config struct {
	Odin   OdinConfig   `mapstructure:"odin"`
	Server ServerConfig `mapstructure:"server"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Log    LogConfig    `mapstructure:"log"`
}

type OdinConfig struct {
	Host                string                         `mapstructure:"host"`
	Port                int                            `mapstructure:"port"`
	APIVersion          string                         `mapstructure:"api_version"`
	RequestTimeout      time.Duration                  `mapstructure:"request_timeout"`
	PollInterval        time.Duration                  `mapstructure:"poll_interval"`
	VerifyWrites        bool                           `mapstructure:"verify_writes"`
	IgnoreAdapters      []string                       `mapstructure:"ignore_adapters"`
	DiscoveryAttempts   uint                           `mapstructure:"discovery_attempts"`
	DiscoveryRetryDelay time.Duration                  `mapstructure:"discovery_retry_delay"`
	Adapters            map[string]types.AdapterConfig `mapstructure:"adapters"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig guards attribute writes. Tokens are issued elsewhere; the
// bridge only validates them.
type AuthConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	JWTSecretEnv       string        `mapstructure:"jwt_secret_env"`
	AccessTokenTTL     time.Duration `mapstructure:"access_token_ttl"`
	MachineTokenHashes []string      `mapstructure:"machine_token_hashes"`
}

type LogConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load reads the YAML file at path, if any, on top of the defaults.
// Every key can be overridden from the environment, e.g.
// ODIN_BRIDGE_ODIN_HOST for odin.host.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("odin.host", "127.0.0.1")
	v.SetDefault("odin.port", 8888)
	v.SetDefault("odin.api_version", "0.1")
	v.SetDefault("odin.request_timeout", "2s")
	v.SetDefault("odin.poll_interval", "200ms")
	v.SetDefault("odin.verify_writes", false)
	v.SetDefault("odin.ignore_adapters", types.DefaultIgnoredAdapters)
	v.SetDefault("odin.discovery_attempts", 3)
	v.SetDefault("odin.discovery_retry_delay", "1s")

	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")
	v.SetDefault("auth.machine_token_hashes", []string{})

	v.SetDefault("log.development", false)
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Odin.Host == "" {
		return fmt.Errorf("invalid config: odin.host is empty")
	}
	if c.Odin.Port <= 0 || c.Odin.Port > 65535 {
		return fmt.Errorf("invalid config: odin.port %d out of range", c.Odin.Port)
	}
	if c.Odin.PollInterval <= 0 {
		return fmt.Errorf("invalid config: odin.poll_interval must be positive")
	}
	return nil
}

func (o *OdinConfig) APIPrefix() string {
	return odin.APIPrefix(o.APIVersion)
}

func (o *OdinConfig) Composition() types.Composition {
	return types.Composition{
		APIPrefix: o.APIPrefix(),
		Ignore:    o.IgnoreAdapters,
		Adapters:  o.Adapters,
	}
}

// GetJWTSecret reads the signing secret from the configured environment
// variable, falling back to a development secret.
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		return devSecret
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devSecret && len(secret) >= 32
}
