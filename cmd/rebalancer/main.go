package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "rebalancer",
		Short:        "Risk-triggered cross-chain vault rebalancer",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file path")
	flags.Uint64("chain", 0, "chain id this command acts on")
	flags.String("state-backend", "file", "state store (file, sqlite, postgres)")
	flags.String("state-dir", "./data/state", "state directory for the file backend")
	flags.String("sqlite-path", "./data/state.db", "database path for the sqlite backend")
	flags.String("pg-dsn", "", "Postgres DSN for the postgres backend")
	flags.String("outbox", "./data/outbox.jsonl", "JSONL file envelopes are written to")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newUpdatePriceCmd(),
		newRiskCmd(),
		newEvaluateCmd(),
		newSendCmd(),
		newRelayCmd(),
		newPendingCmd(),
		newAckCmd(),
		newResendCmd(),
		newDepositCmd(),
		newWithdrawCmd(),
		newBalanceCmd(),
		newReconcileCmd(),
		newAdminCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
