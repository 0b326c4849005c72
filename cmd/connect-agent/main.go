// Command connect-agent is an example printer-side agent built on the
// SDK: it loads a TOML config, mounts one or more storage backends,
// registers with Prusa Connect if needed, and runs the communication
// loop until signaled to stop. Grounded on the teacher's
// cmd/ublk-mem/main.go composition-root shape (flag/config parsing,
// logger setup, signal-driven shutdown with a cleanup timeout), with
// the flag package swapped for cobra per the CLI-framing dependency
// named in the domain stack.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	connectsdk "github.com/prusa3d/connect-sdk-go"
	"github.com/prusa3d/connect-sdk-go/backend/local"
	"github.com/prusa3d/connect-sdk-go/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "connect-agent",
		Short: "Run a Prusa Connect printer-side agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a TOML config file")
	root.AddCommand(newRegisterCmd(&configPath))
	return root
}

func newRegisterCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Register this printer and print the pairing code",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegisterOnly(*configPath)
		},
	}
}

func runRegisterOnly(configPath string) error {
	cfg, logger, err := buildPrinterConfig(configPath)
	if err != nil {
		return err
	}

	printer, err := connectsdk.New(cfg)
	if err != nil {
		return fmt.Errorf("connect-agent: creating printer: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if printer.RegistrationState() != "AUTHENTICATED" {
		code, err := printer.Register(ctx)
		if err != nil {
			return fmt.Errorf("connect-agent: register: %w", err)
		}
		logger.Info("registered, waiting for pairing", "code", code)
		fmt.Printf("Pairing code: %s\n", code)

		token, err := printer.WaitForToken(ctx)
		if err != nil {
			return fmt.Errorf("connect-agent: waiting for token: %w", err)
		}
		logger.Info("paired successfully", "token_len", len(token))
	}
	return nil
}

func runAgent(configPath string) error {
	cfg, logger, err := buildPrinterConfig(configPath)
	if err != nil {
		return err
	}

	agentCfg, err := loadAgentConfig(configPath)
	if err != nil {
		return err
	}

	printer, err := connectsdk.New(cfg)
	if err != nil {
		return fmt.Errorf("connect-agent: creating printer: %w", err)
	}

	for name, root := range agentCfg.Mounts {
		backend, err := local.New(root)
		if err != nil {
			return fmt.Errorf("connect-agent: mounting %q at %q: %w", name, root, err)
		}
		if err := printer.Mount(name, backend); err != nil {
			return fmt.Errorf("connect-agent: mounting %q: %w", name, err)
		}
		logger.Info("mounted storage", "name", name, "root", root)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	regCtx, regCancel := context.WithTimeout(ctx, 2*time.Minute)
	if printer.RegistrationState() != "AUTHENTICATED" {
		code, err := printer.Register(regCtx)
		if err != nil {
			regCancel()
			return fmt.Errorf("connect-agent: register: %w", err)
		}
		fmt.Printf("Pairing code: %s\n", code)
		if _, err := printer.WaitForToken(regCtx); err != nil {
			regCancel()
			return fmt.Errorf("connect-agent: waiting for token: %w", err)
		}
	}
	regCancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		printer.StopLoop()
		cancel()
	}()

	logger.Info("starting communication loop")
	if err := printer.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("connect-agent: run: %w", err)
	}
	logger.Info("stopped")
	return nil
}

// buildPrinterConfig loads the TOML config and turns it into a
// connectsdk.Config plus a ready-to-use logger.
func buildPrinterConfig(configPath string) (connectsdk.Config, *logging.Logger, error) {
	agentCfg, err := loadAgentConfig(configPath)
	if err != nil {
		return connectsdk.Config{}, nil, err
	}
	if err := agentCfg.validate(); err != nil {
		return connectsdk.Config{}, nil, err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = parseLogLevel(agentCfg.Log.Level)
	logCfg.Format = agentCfg.Log.Format
	logger := logging.NewLogger(logCfg)
	logging.SetDefault(logger)

	cfg := connectsdk.DefaultConfig(agentCfg.BaseURL, agentCfg.Fingerprint, agentCfg.PrinterType)
	cfg.PrinterVer = agentCfg.PrinterVer
	cfg.Logger = logger
	if agentCfg.ThrottleBytesPerSecond > 0 {
		cfg.ThrottleBytesPerSecond = agentCfg.ThrottleBytesPerSecond
	}
	return cfg, logger, nil
}

func parseLogLevel(s string) logging.LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return logging.LevelDebug
	case "warn", "warning":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
