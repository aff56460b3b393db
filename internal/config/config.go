package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// DatabaseConfig is the host/port form of the database settings, used when no DSN is given.
type DatabaseConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Name     string
	SSLMode  string
}

// Config holds configuration values for the run command, loaded from flags, env, or config file.
type Config struct {
	RPCURL  string
	Address string

	PGDSN    string
	Database DatabaseConfig
	DryRun   bool

	StartBlock     uint64
	BatchSize      int
	FlushInterval  time.Duration
	QueueSize      int
	DecodeWorkers  int
	ReconcileDepth uint64
	BackfillChunk  uint64
	BackfillRPS    int

	MaxRetries       int
	RetryBackoff     time.Duration
	RetryMaxInterval time.Duration

	DialTimeout      time.Duration
	HeartbeatTimeout time.Duration
	CommitTimeout    time.Duration
	ShutdownTimeout  time.Duration

	Errors      string
	MetricsAddr string
	LogLevel    string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := newViper()

	v.SetDefault("db-port", 5432)
	v.SetDefault("db-sslmode", "disable")
	v.SetDefault("batch-size", 500)
	v.SetDefault("flush-interval", 2*time.Second)
	v.SetDefault("queue-size", 2000)
	v.SetDefault("decode-workers", 4)
	v.SetDefault("reconcile-depth", uint64(64))
	v.SetDefault("backfill-chunk", uint64(2000))
	v.SetDefault("backfill-rps", 10)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("retry-max-interval", 30*time.Second)
	v.SetDefault("dial-timeout", 15*time.Second)
	v.SetDefault("heartbeat-timeout", 60*time.Second)
	v.SetDefault("commit-timeout", 30*time.Second)
	v.SetDefault("shutdown-timeout", 10*time.Second)
	v.SetDefault("errors", "./data/decode_errors.jsonl")
	v.SetDefault("log-level", "info")

	if err := readConfig(v, cfgFile, flags); err != nil {
		return Config{}, err
	}

	cfg := Config{
		RPCURL:  v.GetString("rpc"),
		Address: v.GetString("address"),
		PGDSN:   v.GetString("pg-dsn"),
		Database: DatabaseConfig{
			Host:     v.GetString("db-host"),
			Port:     v.GetInt("db-port"),
			Username: v.GetString("db-username"),
			Password: v.GetString("db-password"),
			Name:     v.GetString("db-name"),
			SSLMode:  v.GetString("db-sslmode"),
		},
		DryRun:           v.GetBool("dry-run"),
		StartBlock:       v.GetUint64("start-block"),
		BatchSize:        v.GetInt("batch-size"),
		FlushInterval:    v.GetDuration("flush-interval"),
		QueueSize:        v.GetInt("queue-size"),
		DecodeWorkers:    v.GetInt("decode-workers"),
		ReconcileDepth:   v.GetUint64("reconcile-depth"),
		BackfillChunk:    v.GetUint64("backfill-chunk"),
		BackfillRPS:      v.GetInt("backfill-rps"),
		MaxRetries:       v.GetInt("max-retries"),
		RetryBackoff:     v.GetDuration("retry-backoff"),
		RetryMaxInterval: v.GetDuration("retry-max-interval"),
		DialTimeout:      v.GetDuration("dial-timeout"),
		HeartbeatTimeout: v.GetDuration("heartbeat-timeout"),
		CommitTimeout:    v.GetDuration("commit-timeout"),
		ShutdownTimeout:  v.GetDuration("shutdown-timeout"),
		Errors:           v.GetString("errors"),
		MetricsAddr:      v.GetString("metrics-addr"),
		LogLevel:         v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks the settings once at startup.
func (c Config) Validate() error {
	var errs []error

	if err := validateRPC(c.RPCURL); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseAddress(c.Address); err != nil {
		errs = append(errs, err)
	}
	if !c.DryRun {
		if _, err := c.DSN(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := validateLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	positive := []struct {
		name  string
		value int64
	}{
		{"batch-size", int64(c.BatchSize)},
		{"queue-size", int64(c.QueueSize)},
		{"decode-workers", int64(c.DecodeWorkers)},
		{"backfill-chunk", int64(c.BackfillChunk)},
		{"backfill-rps", int64(c.BackfillRPS)},
		{"flush-interval", int64(c.FlushInterval)},
		{"retry-backoff", int64(c.RetryBackoff)},
		{"dial-timeout", int64(c.DialTimeout)},
		{"heartbeat-timeout", int64(c.HeartbeatTimeout)},
		{"commit-timeout", int64(c.CommitTimeout)},
		{"shutdown-timeout", int64(c.ShutdownTimeout)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", p.name))
		}
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max-retries must not be negative"))
	}
	if c.RetryMaxInterval < c.RetryBackoff {
		errs = append(errs, fmt.Errorf("retry-max-interval must be at least retry-backoff"))
	}
	if c.QueueSize > 0 && c.QueueSize < c.BatchSize {
		errs = append(errs, fmt.Errorf("queue-size must be at least batch-size"))
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			errs = append(errs, fmt.Errorf("invalid metrics-addr: %w", err))
		}
	}

	return errors.Join(errs...)
}

// PoolAddress returns the parsed contract address.
func (c Config) PoolAddress() (common.Address, error) {
	return ParseAddress(c.Address)
}

// DSN returns pg-dsn when set, otherwise a postgres URL built from the db-* settings.
func (c Config) DSN() (string, error) {
	return c.Database.dsn(c.PGDSN)
}

func (d DatabaseConfig) dsn(explicit string) (string, error) {
	if explicit != "" {
		u, err := url.Parse(explicit)
		if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			return "", fmt.Errorf("pg-dsn must be a postgres:// URL")
		}
		return explicit, nil
	}
	if d.Host == "" || d.Name == "" || d.Username == "" {
		return "", fmt.Errorf("database is required: set pg-dsn or db-host, db-username and db-name")
	}
	if d.Port <= 0 || d.Port > 65535 {
		return "", fmt.Errorf("invalid db-port: %d", d.Port)
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Name,
	}
	if d.Password != "" {
		u.User = url.UserPassword(d.Username, d.Password)
	} else {
		u.User = url.User(d.Username)
	}
	if d.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{d.SSLMode}}.Encode()
	}
	return u.String(), nil
}

func validateRPC(raw string) error {
	if raw == "" {
		return fmt.Errorf("rpc url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid rpc url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
		return nil
	case "http", "https":
		return fmt.Errorf("rpc url must be a websocket endpoint (ws:// or wss://) for log subscriptions")
	default:
		return fmt.Errorf("invalid rpc url scheme: %q", u.Scheme)
	}
}

func validateLevel(level string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log-level: %w", err)
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func readConfig(v *viper.Viper, cfgFile string, flags *pflag.FlagSet) error {
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}
