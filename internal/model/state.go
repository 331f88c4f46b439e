package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ChainState is the persisted snapshot of one chain's state machine.
// Amounts are base-10 strings so snapshots stay readable and lossless.
type ChainState struct {
	ChainID   uint64           `json:"chain_id"`
	Admin     AdminState       `json:"admin"`
	Feeds     []FeedState      `json:"feeds"`
	Vault     VaultState       `json:"vault"`
	Custody   []CustodyBalance `json:"custody"`
	Protocol  ProtocolState    `json:"protocol"`
	UpdatedAt string           `json:"updated_at"`
}

// AdminState holds the access-controlled configuration tables.
type AdminState struct {
	Owner          common.Address   `json:"owner"`
	Updaters       []common.Address `json:"updaters"`
	TrustedRemotes []TrustedRemote  `json:"trusted_remotes"`
	ThresholdBps   uint64           `json:"threshold_bps"`
}

// FeedState is a feed's accepted sample window, oldest first.
type FeedState struct {
	FeedID  common.Hash   `json:"feed_id"`
	Samples []SampleState `json:"samples"`
}

// SampleState is a persisted PriceSample.
type SampleState struct {
	Price     string `json:"price"`
	Timestamp uint64 `json:"timestamp"`
}

// VaultState is a persisted share ledger.
type VaultState struct {
	Asset       common.Address `json:"asset"`
	TotalShares string         `json:"total_shares"`
	TotalAssets string         `json:"total_assets"`
	Holders     []HolderShares `json:"holders"`
}

// HolderShares is one holder's share balance.
type HolderShares struct {
	Holder common.Address `json:"holder"`
	Shares string         `json:"shares"`
}

// CustodyBalance is one token balance held by one account.
type CustodyBalance struct {
	Token  common.Address `json:"token"`
	Holder common.Address `json:"holder"`
	Amount string         `json:"amount"`
}

// ProtocolState is the persisted message endpoint state.
type ProtocolState struct {
	Nonces    []NonceState     `json:"nonces"`
	Highest   []NonceState     `json:"highest_applied"`
	Delivered []DeliveryRecord `json:"delivered"`
	Outbox    []OutboxEntry    `json:"outbox"`
}

// NonceState is a route's last nonce.
type NonceState struct {
	Route RouteKey `json:"route"`
	Nonce uint64   `json:"nonce"`
}

// OutboxStatus tracks a sent message as seen from the source chain.
type OutboxStatus string

const (
	// OutboxPending is the only stored status; acknowledged entries are removed.
	OutboxPending OutboxStatus = "pending"
)

// OutboxEntry is a message dispatched by this chain.
type OutboxEntry struct {
	ID          common.Hash   `json:"id"`
	Destination uint64        `json:"destination"`
	Nonce       uint64        `json:"nonce"`
	Envelope    hexutil.Bytes `json:"envelope"`
	Status      OutboxStatus  `json:"status"`
	SentAt      uint64        `json:"sent_at"`
}
