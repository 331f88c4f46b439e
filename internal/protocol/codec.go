package protocol

import (
	"bytes"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"crossRebalance/internal/model"
)

// Envelope field order. Every field occupies fixed 32-byte ABI words except
// the trailing dynamic swap payload.
var envelopeTypes = []string{
	"uint64",  // source chain id
	"uint64",  // destination chain id
	"uint64",  // nonce
	"address", // source address
	"address", // token in
	"address", // beneficiary
	"uint256", // amount in
	"address", // token out
	"uint256", // min out
	"uint8",   // swap kind
	"bytes",   // swap instructions
}

var (
	envelopeArgs     abi.Arguments
	envelopeArgsOnce sync.Once
	envelopeArgsErr  error
)

func envelopeArguments() (abi.Arguments, error) {
	envelopeArgsOnce.Do(func() {
		args := make(abi.Arguments, 0, len(envelopeTypes))
		for _, name := range envelopeTypes {
			typ, err := abi.NewType(name, "", nil)
			if err != nil {
				envelopeArgsErr = fmt.Errorf("abi type %s: %w", name, err)
				return
			}
			args = append(args, abi.Argument{Type: typ})
		}
		envelopeArgs = args
	})
	return envelopeArgs, envelopeArgsErr
}

// Encode serializes msg into its canonical envelope bytes.
func Encode(msg model.RebalanceMessage) ([]byte, error) {
	if !msg.Swap.Valid() {
		return nil, fmt.Errorf("swap instruction kind %s with %d bytes: %w", msg.Swap.Kind, len(msg.Swap.Data), model.ErrMalformedEnvelope)
	}
	args, err := envelopeArguments()
	if err != nil {
		return nil, err
	}
	return args.Pack(
		msg.SourceChainID,
		msg.DestinationChainID,
		msg.Nonce,
		msg.SourceAddress,
		msg.TokenIn,
		msg.Beneficiary,
		toBig(msg.AmountIn),
		msg.TokenOut,
		toBig(msg.MinOut),
		uint8(msg.Swap.Kind),
		append([]byte{}, msg.Swap.Data...),
	)
}

// Decode parses envelope bytes. Non-canonical encodings are rejected so that
// a message has exactly one byte representation.
func Decode(envelope []byte) (model.RebalanceMessage, error) {
	args, err := envelopeArguments()
	if err != nil {
		return model.RebalanceMessage{}, err
	}
	values, err := args.Unpack(envelope)
	if err != nil {
		return model.RebalanceMessage{}, fmt.Errorf("unpack envelope: %v: %w", err, model.ErrMalformedEnvelope)
	}
	if len(values) != len(envelopeTypes) {
		return model.RebalanceMessage{}, fmt.Errorf("envelope has %d fields: %w", len(values), model.ErrMalformedEnvelope)
	}

	var msg model.RebalanceMessage
	var ok bool
	var amountIn, minOut *big.Int
	var kind uint8
	var data []byte

	if msg.SourceChainID, ok = values[0].(uint64); !ok {
		return model.RebalanceMessage{}, fieldError("source chain id", values[0])
	}
	if msg.DestinationChainID, ok = values[1].(uint64); !ok {
		return model.RebalanceMessage{}, fieldError("destination chain id", values[1])
	}
	if msg.Nonce, ok = values[2].(uint64); !ok {
		return model.RebalanceMessage{}, fieldError("nonce", values[2])
	}
	if msg.SourceAddress, ok = values[3].(common.Address); !ok {
		return model.RebalanceMessage{}, fieldError("source address", values[3])
	}
	if msg.TokenIn, ok = values[4].(common.Address); !ok {
		return model.RebalanceMessage{}, fieldError("token in", values[4])
	}
	if msg.Beneficiary, ok = values[5].(common.Address); !ok {
		return model.RebalanceMessage{}, fieldError("beneficiary", values[5])
	}
	if amountIn, ok = values[6].(*big.Int); !ok {
		return model.RebalanceMessage{}, fieldError("amount in", values[6])
	}
	if msg.TokenOut, ok = values[7].(common.Address); !ok {
		return model.RebalanceMessage{}, fieldError("token out", values[7])
	}
	if minOut, ok = values[8].(*big.Int); !ok {
		return model.RebalanceMessage{}, fieldError("min out", values[8])
	}
	if kind, ok = values[9].(uint8); !ok {
		return model.RebalanceMessage{}, fieldError("swap kind", values[9])
	}
	if data, ok = values[10].([]byte); !ok {
		return model.RebalanceMessage{}, fieldError("swap instructions", values[10])
	}

	msg.AmountIn, _ = uint256.FromBig(amountIn)
	msg.MinOut, _ = uint256.FromBig(minOut)
	msg.Swap = model.SwapInstruction{Kind: model.SwapKind(kind), Data: append([]byte(nil), data...)}
	if len(msg.Swap.Data) == 0 {
		msg.Swap.Data = nil
	}

	canonical, err := Encode(msg)
	if err != nil {
		return model.RebalanceMessage{}, err
	}
	if !bytes.Equal(canonical, envelope) {
		return model.RebalanceMessage{}, fmt.Errorf("non-canonical envelope: %w", model.ErrMalformedEnvelope)
	}
	return msg, nil
}

// MessageID is the keccak256 hash of the envelope.
func MessageID(envelope []byte) common.Hash {
	return crypto.Keccak256Hash(envelope)
}

func fieldError(field string, value interface{}) error {
	return fmt.Errorf("envelope %s has type %T: %w", field, value, model.ErrMalformedEnvelope)
}

func toBig(value *uint256.Int) *big.Int {
	if value == nil {
		return new(big.Int)
	}
	return value.ToBig()
}
