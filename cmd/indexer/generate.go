package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"poolIndexer/internal/config"
	"poolIndexer/internal/dex"
)

func runGenerate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadGenerate(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	abiJSON, source, err := readABI(cfg.ABI)
	if err != nil {
		return err
	}

	code, err := bind.Bind([]string{cfg.Type}, []string{abiJSON}, []string{""}, nil, cfg.Package, bind.LangGo, nil, nil)
	if err != nil {
		return fmt.Errorf("generate bindings: %w", err)
	}

	if err := writeFile(cfg.Out, []byte(code)); err != nil {
		return err
	}

	logger.Info("bindings generated",
		zap.String("abi", source),
		zap.String("type", cfg.Type),
		zap.String("pkg", cfg.Package),
		zap.String("out", cfg.Out),
	)
	return nil
}

func readABI(path string) (string, string, error) {
	if path == "" {
		return dex.V3PoolABIJSON, "builtin", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("read abi: %w", err)
	}
	return string(data), path, nil
}

func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}
