package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crossRebalance/internal/config"
	"crossRebalance/internal/model"
	"crossRebalance/internal/node"
	"crossRebalance/internal/storage"
	"crossRebalance/internal/storage/postgres"
	"crossRebalance/internal/storage/sqlite"
	"crossRebalance/internal/transport"
)

// session is one chain's node loaded from the state store for the duration
// of a command.
type session struct {
	cfg     config.Config
	chain   config.ChainConfig
	node    *node.Node
	store   storage.StateStore
	version uint64
	outbox  *transport.JSONLOutbox
	staged  *transport.Staged
	logger  *zap.Logger
}

func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func openStore(ctx context.Context, cfg config.Config) (storage.StateStore, error) {
	switch cfg.StateBackend {
	case "sqlite":
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	default:
		return &storage.FileStateStore{Dir: cfg.StateDir}, nil
	}
}

func openSession(ctx context.Context, cfg config.Config, store storage.StateStore, chainID uint64, logger *zap.Logger) (*session, error) {
	if chainID == 0 {
		return nil, fmt.Errorf("chain is required")
	}
	chainCfg, ok := cfg.ChainByID(chainID)
	if !ok {
		return nil, fmt.Errorf("chain %d is not configured", chainID)
	}
	nodeCfg, err := chainCfg.NodeConfig()
	if err != nil {
		return nil, err
	}
	venue, err := chainCfg.SwapVenue()
	if err != nil {
		return nil, err
	}
	minFee, err := model.ParseAmount(cfg.MinFee)
	if err != nil {
		return nil, fmt.Errorf("min fee: %w", err)
	}

	outbox := transport.NewJSONLOutbox(cfg.Outbox, chainID, nodeCfg.Controller, minFee)
	staged := transport.NewStaged(outbox)
	n, err := node.New(nodeCfg, staged, venue, logger)
	if err != nil {
		return nil, err
	}

	st, version, found, err := store.Load(ctx, chainID)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if found {
		if err := n.Restore(st); err != nil {
			return nil, fmt.Errorf("restore chain %d: %w", chainID, err)
		}
	} else {
		logger.Info("genesis state from config", zap.Uint64("chain_id", chainID))
	}

	return &session{
		cfg:     cfg,
		chain:   chainCfg,
		node:    n,
		store:   store,
		version: version,
		outbox:  outbox,
		staged:  staged,
		logger:  logger,
	}, nil
}

// commit persists the node and then releases staged envelopes to the outbox
// file. A concurrent writer makes it fail with model.ErrStateConflict, in
// which case the command's effects, envelopes included, are discarded.
func (s *session) commit(ctx context.Context) error {
	version, err := s.store.Save(ctx, s.node.Snapshot(), s.version)
	if err != nil {
		s.staged.Discard()
		return fmt.Errorf("save chain %d: %w", s.node.ChainID(), err)
	}
	s.version = version
	s.logger.Debug("state saved", zap.Uint64("chain_id", s.node.ChainID()), zap.Uint64("version", version))

	if err := s.staged.Flush(ctx); err != nil {
		// The messages are committed as pending; resend exports them again.
		return fmt.Errorf("write outbox %s: %w", s.outbox.Path(), err)
	}
	return nil
}

// withSession runs fn against the configured chain and commits on success.
func withSession(cmd *cobra.Command, mutate bool, fn func(ctx context.Context, s *session) error) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	s, err := openSession(ctx, cfg, store, cfg.Chain, logger)
	if err != nil {
		return err
	}
	if err := fn(ctx, s); err != nil {
		logger.Error("command failed", zap.String("kind", string(model.Kind(err))), zap.Error(err))
		return err
	}
	if !mutate {
		return nil
	}
	return s.commit(ctx)
}
