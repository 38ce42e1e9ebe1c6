// Package config loads fleurq settings from defaults, an optional YAML file
// and FLEURQ_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// AppName prefixes environment variables and names the config file.
	AppName   = "fleurq"
	envPrefix = "FLEURQ"
)

// ServerConfig drives the daemon.
type ServerConfig struct {
	Addr       string `mapstructure:"addr"`
	Ledger     string `mapstructure:"ledger"`
	Repository string `mapstructure:"repository"`
	KeysDir    string `mapstructure:"keys_dir"`
}

// ClientConfig drives the submission client.
type ClientConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AgentConfig drives the execution agent.
type AgentConfig struct {
	ID       string        `mapstructure:"id"`
	Interval time.Duration `mapstructure:"interval"`
	WorkDir  string        `mapstructure:"workdir"`
}

// LogConfig selects level and output format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the full settings tree.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Client ClientConfig `mapstructure:"client"`
	Agent  AgentConfig  `mapstructure:"agent"`
	Log    LogConfig    `mapstructure:"log"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:       ":8080",
			Ledger:     "./fleurq-data/ledger.jsonl",
			Repository: "./fleurq-data/repository",
			KeysDir:    "./fleurq-data/keys",
		},
		Client: ClientConfig{
			URL:     "http://localhost:8080",
			Timeout: 30 * time.Second,
		},
		Agent: AgentConfig{
			Interval: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// New returns a viper instance with defaults and environment bindings set.
func New() *viper.Viper {
	v := viper.New()
	d := Default()
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.ledger", d.Server.Ledger)
	v.SetDefault("server.repository", d.Server.Repository)
	v.SetDefault("server.keys_dir", d.Server.KeysDir)
	v.SetDefault("client.url", d.Client.URL)
	v.SetDefault("client.timeout", d.Client.Timeout)
	v.SetDefault("agent.id", d.Agent.ID)
	v.SetDefault("agent.interval", d.Agent.Interval)
	v.SetDefault("agent.workdir", d.Agent.WorkDir)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file at path (when non-empty) into v and decodes it.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is empty"))
	}
	if c.Server.Ledger == "" {
		errs = append(errs, errors.New("server.ledger is empty"))
	}
	if u, err := url.Parse(c.Client.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("client.url %q is not an absolute URL", c.Client.URL))
	}
	if c.Client.Timeout <= 0 {
		errs = append(errs, errors.New("client.timeout must be positive"))
	}
	if c.Agent.Interval <= 0 {
		errs = append(errs, errors.New("agent.interval must be positive"))
	}
	return errors.Join(errs...)
}
