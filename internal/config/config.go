// Package config loads and validates reindexer configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/explorer-reindexer/internal/logging"
	"github.com/JakeFAU/explorer-reindexer/internal/reindex"
)

// ErrInvalid marks configuration that cannot start a run.
var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix prefixes every environment override, e.g. REINDEX_AUTH.
const EnvPrefix = "REINDEX"

// Config captures all knobs loaded via Viper.
type Config struct {
	Start      string           `mapstructure:"start"`
	Auth       string           `mapstructure:"auth"`
	URL        string           `mapstructure:"url"`
	Apps       string           `mapstructure:"apps"`
	Step       int              `mapstructure:"step"`
	Debug      string           `mapstructure:"debug"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Targets    []reindex.Target `mapstructure:"targets"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// HTTPConfig configures the explorer client.
type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	// Rate caps requests per second; zero sends them back to back.
	Rate      float64       `mapstructure:"rate"`
}

// CheckpointConfig enables the SQLite run journal.
type CheckpointConfig struct {
	Path   string `mapstructure:"path"`
	Resume bool   `mapstructure:"resume"`
}

// MetricsConfig exposes run metrics over HTTP or as a textfile.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
	File string `mapstructure:"file"`
}

// flagKeys maps viper keys to the flag names that feed them.
var flagKeys = map[string]string{
	"start":             "start",
	"auth":              "auth",
	"url":               "url",
	"apps":              "apps",
	"step":              "step",
	"debug":             "debug",
	"http.timeout":      "timeout",
	"http.user_agent":   "user-agent",
	"http.rate":         "rate",
	"checkpoint.path":   "checkpoint-db",
	"checkpoint.resume": "resume",
	"metrics.addr":      "metrics-addr",
	"metrics.file":      "metrics-file",
}

// RegisterGlobalFlags declares flags shared by every command.
func RegisterGlobalFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (yaml, toml or json)")
	fs.String("env-file", ".env", "dotenv file loaded before reading the environment, ignored when missing")
	fs.String("debug", "false", "Activate debug (true, True, y or Y)")
	fs.String("checkpoint-db", "", "SQLite file recording runs and resume checkpoints")
}

// RegisterRunFlags declares the flags of a reindex run.
func RegisterRunFlags(fs *pflag.FlagSet) {
	fs.String("start", "", "Specify the 'from' date (yyyy-MM-dd)")
	fs.String("auth", "", "oneSessionId cookie of a super admin session")
	fs.String("url", "", "Base URL of the ENT, e.g. https://ent.example.org")
	fs.String("apps", reindex.AllApps, "Comma-separated apps to reindex, or 'all'")
	fs.Int("step", 7, "Number of days reindexed per request")
	fs.Duration("timeout", 60*time.Second, "Per-request timeout")
	fs.String("user-agent", defaultUserAgent, "User-Agent sent to the explorer")
	fs.Float64("rate", 0, "Maximum requests per second, 0 for no pacing")
	fs.Bool("resume", false, "Start from the last completed pass recorded in --checkpoint-db")
	fs.String("metrics-addr", "", "Serve /healthz, /status and /metrics on this address during the run")
	fs.String("metrics-file", "", "Write Prometheus metrics to this file when the run ends")
}

const defaultUserAgent = "explorer-reindexer/1.0"

// Load builds a Config from the env file, a config file, the environment and
// flags, in increasing order of precedence. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for key, name := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Targets) == 0 {
		cfg.Targets = reindex.DefaultTargets()
	}
	return cfg, nil
}

// LoadEnvFile exports the variables of a dotenv file without overriding the
// ones already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("apps", reindex.AllApps)
	v.SetDefault("step", 7)
	v.SetDefault("debug", "false")
	v.SetDefault("http.timeout", 60*time.Second)
	v.SetDefault("http.user_agent", defaultUserAgent)
	v.SetDefault("http.rate", 0.0)
	v.SetDefault("checkpoint.resume", false)
}

// Validate enforces the values a reindex run needs.
func (c Config) Validate() error {
	if c.Start == "" {
		return fmt.Errorf("%w: start is required", ErrInvalid)
	}
	if c.Auth == "" {
		return fmt.Errorf("%w: auth is required", ErrInvalid)
	}
	if c.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalid)
	}
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) URL, got %q", ErrInvalid, c.URL)
	}
	if c.Step <= 0 {
		return fmt.Errorf("%w: step must be > 0", ErrInvalid)
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("%w: http.timeout must be > 0", ErrInvalid)
	}
	if c.HTTP.Rate < 0 {
		return fmt.Errorf("%w: http.rate must be >= 0", ErrInvalid)
	}
	for i, t := range c.Targets {
		if t.App == "" || t.Resource == "" {
			return fmt.Errorf("%w: targets[%d] needs both app and resource", ErrInvalid, i)
		}
	}
	if c.Checkpoint.Resume && c.Checkpoint.Path == "" {
		return fmt.Errorf("%w: resume needs checkpoint.path", ErrInvalid)
	}
	return nil
}

// DebugEnabled reports whether the boolean-like debug value is set.
func (c Config) DebugEnabled() bool {
	return logging.IsTruthy(c.Debug)
}

// Fields renders the configuration for a debug log line with the session
// token redacted.
func (c Config) Fields() []zap.Field {
	auth := ""
	if c.Auth != "" {
		auth = "***"
	}
	return []zap.Field{
		zap.String("start", c.Start),
		zap.String("auth", auth),
		zap.String("url", c.URL),
		zap.String("apps", c.Apps),
		zap.Int("step", c.Step),
		zap.String("debug", c.Debug),
		zap.Duration("timeout", c.HTTP.Timeout),
		zap.String("user_agent", c.HTTP.UserAgent),
		zap.Float64("rate", c.HTTP.Rate),
		zap.Any("targets", c.Targets),
		zap.String("checkpoint_path", c.Checkpoint.Path),
		zap.Bool("resume", c.Checkpoint.Resume),
		zap.String("metrics_addr", c.Metrics.Addr),
		zap.String("metrics_file", c.Metrics.File),
	}
}
