package transport

import (
	"context"
	"sync"

	"github.com/holiman/uint256"

	"crossRebalance/internal/protocol"
)

type staged struct {
	destination uint64
	envelope    []byte
	fee         *uint256.Int
}

// Staged holds dispatched envelopes until Flush, so they reach the real
// transport only after the state that assigned their nonces is committed.
type Staged struct {
	next protocol.Transport
	mu   sync.Mutex
	held []staged
}

// NewStaged wraps next.
func NewStaged(next protocol.Transport) *Staged {
	return &Staged{next: next}
}

// MinFee implements protocol.Transport.
func (s *Staged) MinFee(ctx context.Context, destination uint64, envelope []byte) (*uint256.Int, error) {
	return s.next.MinFee(ctx, destination, envelope)
}

// Dispatch implements protocol.Transport.
func (s *Staged) Dispatch(_ context.Context, destination uint64, envelope []byte, fee *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held = append(s.held, staged{destination: destination, envelope: append([]byte(nil), envelope...), fee: fee.Clone()})
	return nil
}

// Held returns the number of envelopes waiting for Flush.
func (s *Staged) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held)
}

// Flush forwards held envelopes in dispatch order. Envelopes after a failure
// stay held.
func (s *Staged) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.held) > 0 {
		h := s.held[0]
		if err := s.next.Dispatch(ctx, h.destination, h.envelope, h.fee); err != nil {
			return err
		}
		s.held = s.held[1:]
	}
	return nil
}

// Discard drops held envelopes.
func (s *Staged) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held = nil
}
