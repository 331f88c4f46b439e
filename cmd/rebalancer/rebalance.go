package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crossRebalance/internal/config"
	"crossRebalance/internal/decider"
	"crossRebalance/internal/model"
)

func newUpdatePriceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update-price",
		Short: "Push a price observation into the price store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			feedArg, _ := cmd.Flags().GetString("feed")
			priceArg, _ := cmd.Flags().GetString("price")
			tsArg, _ := cmd.Flags().GetString("timestamp")
			signerArg, _ := cmd.Flags().GetString("signer")

			price, err := model.ParsePrice(priceArg)
			if err != nil {
				return fmt.Errorf("parse price: %w", err)
			}
			ts, err := config.ParseTimestamp(tsArg)
			if err != nil {
				return fmt.Errorf("parse timestamp: %w", err)
			}
			signer, err := config.ParseAddress(signerArg)
			if err != nil {
				return fmt.Errorf("signer: %w", err)
			}

			return withSession(cmd, true, func(_ context.Context, s *session) error {
				feed, err := s.cfg.ResolveFeed(feedArg)
				if err != nil {
					return err
				}
				if ts == 0 {
					ts = s.node.Now()
				}
				if err := s.node.UpdatePrice(feed, price, ts, signer); err != nil {
					return err
				}
				s.logger.Info("price updated",
					zap.String("feed", feed.Hex()),
					zap.String("price", model.FormatAmount(price)),
					zap.Uint64("timestamp", ts),
				)
				return nil
			})
		},
	}
	cmd.Flags().String("feed", "", "feed symbol from the feeds table or 32-byte feed id")
	cmd.Flags().String("price", "", "decimal price, at most 8 decimals")
	cmd.Flags().String("timestamp", "", "publish time (unix seconds or RFC3339), defaults to now")
	cmd.Flags().String("signer", "", "updater address")
	return cmd
}

func newRiskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "risk",
		Short: "Score the configured feed pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, false, func(_ context.Context, s *session) error {
				breakdown, err := s.node.Risk()
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]uint64{
					"score_bps":      uint64(breakdown.Score),
					"divergence_bps": breakdown.DivergenceBps,
					"volatility_bps": breakdown.VolatilityBps,
				})
			})
		},
	}
}

type planView struct {
	Reason      string `json:"reason"`
	Score       uint64 `json:"score_bps"`
	Destination uint64 `json:"destination,omitempty"`
	TokenIn     string `json:"token_in,omitempty"`
	TokenOut    string `json:"token_out,omitempty"`
	Beneficiary string `json:"beneficiary,omitempty"`
	AmountIn    string `json:"amount_in,omitempty"`
	MinOut      string `json:"min_out,omitempty"`
	Swap        string `json:"swap,omitempty"`
	Nonce       uint64 `json:"nonce,omitempty"`
	ID          string `json:"id,omitempty"`
}

func viewDecision(d decider.Decision) planView {
	view := planView{Reason: d.Reason, Score: uint64(d.Score)}
	if d.Plan == nil {
		return view
	}
	msg := d.Plan.Message
	view.Destination = msg.DestinationChainID
	view.TokenIn = msg.TokenIn.Hex()
	view.TokenOut = msg.TokenOut.Hex()
	view.Beneficiary = msg.Beneficiary.Hex()
	view.AmountIn = model.FormatAmount(msg.AmountIn)
	view.MinOut = model.FormatAmount(msg.MinOut)
	view.Swap = msg.Swap.Kind.String()
	if msg.Swap.Kind == model.SwapKindVenue {
		view.Swap += ":" + hexutil.Encode(msg.Swap.Data)
	}
	return view
}

func newEvaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Show the rebalance plan the current risk would produce",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, false, func(ctx context.Context, s *session) error {
				return printJSON(cmd.OutOrStdout(), viewDecision(s.node.Evaluate(ctx)))
			})
		},
	}
}

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Evaluate and, when triggered, dispatch a rebalance message",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, true, func(ctx context.Context, s *session) error {
				fee, err := model.ParseAmount(s.cfg.Fee)
				if err != nil {
					return fmt.Errorf("fee: %w", err)
				}
				decision, handle, err := s.node.Rebalance(ctx, fee)
				if err != nil {
					return err
				}
				view := viewDecision(decision)
				if handle != nil {
					view.Nonce = handle.Nonce
					view.ID = handle.ID.Hex()
				}
				return printJSON(cmd.OutOrStdout(), view)
			})
		},
	}
	cmd.Flags().String("fee", "10000000000000000", "delivery fee in native wei")
	return cmd
}
