package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// GenerateConfig holds configuration for the generate command.
type GenerateConfig struct {
	// ABI is a path to an ABI JSON file. Empty selects the built-in pool ABI.
	ABI      string
	Package  string
	Type     string
	Out      string
	LogLevel string
}

// LoadGenerate merges config file, environment variables, and flags into GenerateConfig.
func LoadGenerate(cfgFile string, flags *pflag.FlagSet) (GenerateConfig, error) {
	v := newViper()

	v.SetDefault("pkg", "bindings")
	v.SetDefault("type", "Pool")
	v.SetDefault("out", "./bindings/pool.go")
	v.SetDefault("log-level", "info")

	if err := readConfig(v, cfgFile, flags); err != nil {
		return GenerateConfig{}, err
	}

	cfg := GenerateConfig{
		ABI:      v.GetString("abi"),
		Package:  v.GetString("pkg"),
		Type:     v.GetString("type"),
		Out:      v.GetString("out"),
		LogLevel: v.GetString("log-level"),
	}
	return cfg, nil
}

// Validate checks that the output path and identifiers are set.
func (c GenerateConfig) Validate() error {
	switch {
	case c.Package == "":
		return fmt.Errorf("package name is required")
	case c.Type == "":
		return fmt.Errorf("type name is required")
	case c.Out == "":
		return fmt.Errorf("output path is required")
	}
	return validateLevel(c.LogLevel)
}

// MigrateConfig holds configuration for the migrate command.
type MigrateConfig struct {
	PGDSN    string
	Database DatabaseConfig
	LogLevel string
}

// LoadMigrate merges config file, environment variables, and flags into MigrateConfig.
func LoadMigrate(cfgFile string, flags *pflag.FlagSet) (MigrateConfig, error) {
	v := newViper()

	v.SetDefault("db-port", 5432)
	v.SetDefault("db-sslmode", "disable")
	v.SetDefault("log-level", "info")

	if err := readConfig(v, cfgFile, flags); err != nil {
		return MigrateConfig{}, err
	}

	cfg := MigrateConfig{
		PGDSN: v.GetString("pg-dsn"),
		Database: DatabaseConfig{
			Host:     v.GetString("db-host"),
			Port:     v.GetInt("db-port"),
			Username: v.GetString("db-username"),
			Password: v.GetString("db-password"),
			Name:     v.GetString("db-name"),
			SSLMode:  v.GetString("db-sslmode"),
		},
		LogLevel: v.GetString("log-level"),
	}
	return cfg, nil
}

// DSN returns pg-dsn when set, otherwise a postgres URL built from the db-* settings.
func (c MigrateConfig) DSN() (string, error) {
	return c.Database.dsn(c.PGDSN)
}
