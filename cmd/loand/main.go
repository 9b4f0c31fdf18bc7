// Command loand runs a loan ledger node: it applies genesis to the
// configured store and serves the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"loanledger/config"
	"loanledger/core/genesis"
	"loanledger/node"
	"loanledger/observability/logging"
	"loanledger/observability/metrics"
	telemetry "loanledger/observability/otel"
	"loanledger/rpc"
)

const (
	serviceName    = "loand"
	genesisPathEnv = "LOAN_GENESIS"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.LookupEnv); err != nil {
		fmt.Fprintf(os.Stderr, "loand: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, lookupEnv func(string) (string, bool)) error {
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	configFile := fs.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := fs.String("genesis", "", "Path to the genesis YAML (overrides "+genesisPathEnv+" and config GenesisFile)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level, err := config.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger, closer := logging.Setup(logging.Options{
		Service:    serviceName,
		Env:        cfg.Environment,
		Level:      level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer closer.Close()

	genesisPath, err := resolveGenesisPath(*genesisFlag, cfg.GenesisFile, lookupEnv)
	if err != nil {
		return err
	}
	spec, err := genesis.LoadGenesisSpec(genesisPath)
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.FromNodeConfig(serviceName, cfg, spec.ChainID))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	n, err := node.New(node.Options{
		Config:  cfg,
		Genesis: spec,
		Logger:  logger,
		Metrics: metrics.Ledger(),
	})
	if err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	defer n.Close()
	logger.Info("node ready",
		slog.Uint64("chainId", n.ChainID()),
		slog.Any("deployments", n.DeploymentNames()),
		slog.String("feeSnapshot", cfg.FeeSnapshot.String()))

	srv, err := rpc.NewServer(rpc.Config{
		Node:        n,
		Logger:      logger,
		ServiceName: serviceName,
		RateLimit:   rpc.RateLimit{RequestsPerMinute: cfg.RateLimit.RequestsPerMinute, Burst: cfg.RateLimit.Burst},
		Auth:        authConfig(cfg.Auth, lookupEnv),
		Gatherer:    prometheus.DefaultGatherer,
	})
	if err != nil {
		return err
	}
	if err := srv.Serve(ctx, cfg.ListenAddress); err != nil {
		return err
	}
	logger.Info("node stopped")
	return nil
}

// authConfig reads the token secret from the configured environment
// variable. An unset variable leaves the write API disabled.
func authConfig(auth config.Auth, lookupEnv func(string) (string, bool)) rpc.AuthConfig {
	out := rpc.AuthConfig{
		Issuer:    strings.TrimSpace(auth.Issuer),
		Audience:  strings.TrimSpace(auth.Audience),
		ClockSkew: time.Duration(auth.ClockSkewSeconds) * time.Second,
	}
	if lookupEnv != nil && auth.SecretEnv != "" {
		if value, ok := lookupEnv(auth.SecretEnv); ok {
			out.HMACSecret = strings.TrimSpace(value)
		}
	}
	return out
}

// resolveGenesisPath picks the genesis file: flag first, then the
// environment, then the config file.
func resolveGenesisPath(flagValue, configValue string, lookupEnv func(string) (string, bool)) (string, error) {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed, nil
	}
	if lookupEnv != nil {
		if value, ok := lookupEnv(genesisPathEnv); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed, nil
			}
		}
	}
	if trimmed := strings.TrimSpace(configValue); trimmed != "" {
		return trimmed, nil
	}
	return "", errors.New("genesis file required: pass --genesis, set " + genesisPathEnv + " or configure GenesisFile")
}
