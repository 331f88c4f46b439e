package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SwapKind tags the variant carried by SwapInstruction.
type SwapKind uint8

const (
	// SwapKindNone delivers tokenIn directly to the beneficiary.
	SwapKindNone SwapKind = iota
	// SwapKindVenue forwards opaque instructions to the swap venue.
	SwapKindVenue
)

func (k SwapKind) String() string {
	switch k {
	case SwapKindNone:
		return "none"
	case SwapKindVenue:
		return "venue"
	default:
		return "unknown"
	}
}

// SwapInstruction is either NoSwap or a venue instruction with opaque bytes.
type SwapInstruction struct {
	Kind SwapKind
	Data []byte
}

// NoSwap returns the direct-transfer variant.
func NoSwap() SwapInstruction {
	return SwapInstruction{Kind: SwapKindNone}
}

// VenueInstruction returns the swap variant carrying data.
func VenueInstruction(data []byte) SwapInstruction {
	return SwapInstruction{Kind: SwapKindVenue, Data: append([]byte(nil), data...)}
}

// Valid reports whether the tag and payload agree.
func (s SwapInstruction) Valid() bool {
	switch s.Kind {
	case SwapKindNone:
		return len(s.Data) == 0
	case SwapKindVenue:
		return len(s.Data) > 0
	default:
		return false
	}
}

// RebalanceMessage is the cross-chain instruction to move value and
// optionally swap it on arrival.
type RebalanceMessage struct {
	SourceChainID      uint64
	DestinationChainID uint64
	Nonce              uint64
	SourceAddress      common.Address
	TokenIn            common.Address
	Beneficiary        common.Address
	AmountIn           *uint256.Int
	TokenOut           common.Address
	MinOut             *uint256.Int
	Swap               SwapInstruction
}

// Clone returns a deep copy.
func (m RebalanceMessage) Clone() RebalanceMessage {
	out := m
	out.AmountIn = cloneAmount(m.AmountIn)
	out.MinOut = cloneAmount(m.MinOut)
	out.Swap.Data = append([]byte(nil), m.Swap.Data...)
	return out
}

// TrustedRemote allow-lists a (chain, address) pair as a message peer.
type TrustedRemote struct {
	ChainID uint64         `json:"chain_id" mapstructure:"chain_id"`
	Address common.Address `json:"address" mapstructure:"address"`
}

// DeliveryRecord identifies a consumed inbound message.
type DeliveryRecord struct {
	SourceChainID uint64 `json:"source_chain_id"`
	Nonce         uint64 `json:"nonce"`
}

// RouteKey identifies a (source, destination) nonce sequence.
type RouteKey struct {
	Source      uint64 `json:"source"`
	Destination uint64 `json:"destination"`
}

// ExecutionResult describes what the executor did with a message.
type ExecutionResult struct {
	AmountOut *uint256.Int
	Swapped   bool
	// Credited is set when the output was credited to the local vault.
	Credited bool
	// SharesMinted is set when the output was deposited for the beneficiary.
	SharesMinted *uint256.Int
}
