package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"hkexagent/internal/config"
	"hkexagent/internal/crypto"
	"hkexagent/internal/metrics"
	"hkexagent/internal/storage"
)

func main() {
	root := &cobra.Command{
		Use:   "hkexctl",
		Short: "Operate the assistant's configuration database",
	}
	root.AddCommand(
		configsCMD(),
		llmCMD(),
		presetsCMD(),
		sessionsCMD(),
		historyCMD(),
		switchCMD(),
		migrateCMD(),
		opsCMD(),
	)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStore loads the environment configuration and connects to the shared
// database file. Every subcommand goes through here.
func openStore(ctx context.Context) (*storage.Store, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	setupLogger(cfg.Log.Level)

	var keyring *crypto.Keyring
	if len(cfg.Crypto.Keys) > 0 {
		keyring, err = crypto.NewKeyring(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
		if err != nil {
			return nil, nil, err
		}
	}

	store, err := storage.Open(ctx, storage.Options{
		Path:    cfg.DB.Path,
		Logger:  log.Logger,
		Metrics: metrics.Global(),
		Keyring: keyring,
		Defaults: storage.ModelSettings{
			Provider: "custom",
			APIKey:   cfg.Model.APIKey,
			APIURL:   cfg.Model.APIURL,
			Model:    cfg.Model.Model,
			Protocol: cfg.Model.Protocol,
		},
		PreviewLen:   cfg.History.PreviewLen,
		HistoryLimit: cfg.History.Limit,
	})
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
