package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crossRebalance/internal/config"
	"crossRebalance/internal/model"
	"crossRebalance/internal/protocol"
	"crossRebalance/internal/storage"
	"crossRebalance/internal/transport"
)

type deliveryView struct {
	Source  uint64 `json:"source"`
	Nonce   uint64 `json:"nonce"`
	ID      string `json:"id"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

func newRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Deliver outbox envelopes addressed to the chain and acknowledge them on their source",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fromStart, _ := cmd.Flags().GetBool("from-start")
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

			dest, err := openSession(ctx, cfg, store, cfg.Chain, logger)
			if err != nil {
				return err
			}
			records, err := transport.ReadOutbox(cfg.Outbox)
			if err != nil {
				return err
			}

			cursors := transport.NewCursorStore(cfg.Outbox)
			offset := 0
			if !fromStart {
				if offset, err = cursors.Load(cfg.Chain); err != nil {
					return err
				}
			}
			if offset > len(records) {
				logger.Warn("cursor past end of outbox, starting over", zap.Int("offset", offset), zap.Int("records", len(records)))
				offset = 0
			}

			views := make([]deliveryView, 0)
			acks := make(map[uint64][]uint64)
			next := len(records)
			for i := offset; i < len(records); i++ {
				record := records[i]
				if record.Destination != cfg.Chain {
					continue
				}
				outcome, err := dest.node.Receive(ctx, record.Source, record.SourceAddress, record.Envelope)
				view := deliveryView{Source: record.Source, Nonce: record.Nonce, ID: record.ID.Hex(), Outcome: outcome.String()}
				if err != nil {
					view.Error = err.Error()
					logger.Warn("delivery rejected",
						zap.Uint64("source", record.Source),
						zap.Uint64("nonce", record.Nonce),
						zap.String("kind", string(model.Kind(err))),
						zap.Error(err),
					)
				}
				views = append(views, view)
				if outcome == protocol.OutcomeRejected {
					if i < next {
						next = i
					}
					continue
				}
				acks[record.Source] = append(acks[record.Source], record.Nonce)
			}

			if err := dest.commit(ctx); err != nil {
				return err
			}
			if err := cursors.Save(cfg.Chain, next); err != nil {
				return err
			}
			if err := acknowledgeSources(ctx, cfg, store, cfg.Chain, acks, logger); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), views)
		},
	}
	cmd.Flags().Bool("from-start", false, "ignore the relay cursor and replay the whole outbox")
	return cmd
}

// acknowledgeSources marks delivered messages on every configured source
// chain. Sources missing from the config are left for their own operator.
func acknowledgeSources(ctx context.Context, cfg config.Config, store storage.StateStore, destination uint64, acks map[uint64][]uint64, logger *zap.Logger) error {
	sources := make([]uint64, 0, len(acks))
	for source := range acks {
		sources = append(sources, source)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })

	for _, source := range sources {
		if _, ok := cfg.ChainByID(source); !ok {
			logger.Info("source chain not configured, skipping acknowledgement", zap.Uint64("source", source))
			continue
		}
		src, err := openSession(ctx, cfg, store, source, logger)
		if err != nil {
			return err
		}
		for _, nonce := range acks[source] {
			if err := src.node.Acknowledge(destination, nonce); err != nil {
				logger.Warn("acknowledge", zap.Uint64("source", source), zap.Uint64("nonce", nonce), zap.Error(err))
			}
		}
		if err := src.commit(ctx); err != nil {
			return err
		}
	}
	return nil
}

type outboxView struct {
	ID          string `json:"id"`
	Destination uint64 `json:"destination"`
	Nonce       uint64 `json:"nonce"`
	Status      string `json:"status"`
	SentAt      uint64 `json:"sent_at"`
}

func newPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List outbound messages not yet acknowledged",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, false, func(_ context.Context, s *session) error {
				views := make([]outboxView, 0)
				for _, entry := range s.node.Pending() {
					views = append(views, outboxView{
						ID:          entry.ID.Hex(),
						Destination: entry.Destination,
						Nonce:       entry.Nonce,
						Status:      string(entry.Status),
						SentAt:      entry.SentAt,
					})
				}
				return printJSON(cmd.OutOrStdout(), views)
			})
		},
	}
}

func newAckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ack",
		Short: "Mark an outbound message as delivered",
		RunE: func(cmd *cobra.Command, _ []string) error {
			destination, _ := cmd.Flags().GetUint64("destination")
			nonce, _ := cmd.Flags().GetUint64("nonce")
			if destination == 0 || nonce == 0 {
				return fmt.Errorf("--destination and --nonce are required")
			}
			return withSession(cmd, true, func(_ context.Context, s *session) error {
				return s.node.Acknowledge(destination, nonce)
			})
		},
	}
	cmd.Flags().Uint64("destination", 0, "destination chain id")
	cmd.Flags().Uint64("nonce", 0, "message nonce")
	return cmd
}

func newResendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resend",
		Short: "Write pending envelopes to the outbox file again",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, false, func(ctx context.Context, s *session) error {
				pending := s.node.Pending()
				for _, entry := range pending {
					fee, err := s.outbox.MinFee(ctx, entry.Destination, entry.Envelope)
					if err != nil {
						return err
					}
					if err := s.outbox.Dispatch(ctx, entry.Destination, entry.Envelope, fee); err != nil {
						return fmt.Errorf("resend nonce %d to %d: %w", entry.Nonce, entry.Destination, err)
					}
				}
				s.logger.Info("pending envelopes resent", zap.Int("count", len(pending)), zap.String("outbox", s.outbox.Path()))
				return nil
			})
		},
	}
}
