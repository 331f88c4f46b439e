package pricestore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"crossRebalance/internal/model"
)

// DefaultWindow is the number of samples kept per feed.
const DefaultWindow = 16

// Clock returns the current chain time in unix seconds.
type Clock func() uint64

// Config controls a Store.
type Config struct {
	Updaters []common.Address
	Window   int
	Clock    Clock
}

// Store holds the last known price per feed plus a bounded sample window.
type Store struct {
	mu       sync.RWMutex
	window   int
	clock    Clock
	updaters map[common.Address]struct{}
	samples  map[common.Hash][]model.PriceSample
	logger   *zap.Logger
}

// New builds a Store with the given updater allow-list.
func New(cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	s := &Store{
		window:   cfg.Window,
		clock:    cfg.Clock,
		updaters: make(map[common.Address]struct{}, len(cfg.Updaters)),
		samples:  make(map[common.Hash][]model.PriceSample),
		logger:   logger,
	}
	for _, addr := range cfg.Updaters {
		s.updaters[addr] = struct{}{}
	}
	return s
}

// Update records a new price for feedID if updater is allow-listed and
// timestamp is strictly newer than the current record.
func (s *Store) Update(feedID common.Hash, price *uint256.Int, timestamp uint64, updater common.Address) error {
	if price == nil {
		return fmt.Errorf("price is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.updaters[updater]; !ok {
		return fmt.Errorf("updater %s: %w", updater.Hex(), model.ErrUnauthorized)
	}

	history := s.samples[feedID]
	if n := len(history); n > 0 && timestamp <= history[n-1].Timestamp {
		return fmt.Errorf("feed %s at %d (current %d): %w", feedID.Hex(), timestamp, history[n-1].Timestamp, model.ErrStaleUpdate)
	}

	history = append(history, model.PriceSample{Price: price.Clone(), Timestamp: timestamp})
	if len(history) > s.window {
		history = append([]model.PriceSample(nil), history[len(history)-s.window:]...)
	}
	s.samples[feedID] = history

	s.logger.Debug("price updated",
		zap.String("feed", feedID.Hex()),
		zap.String("price", model.FormatAmount(price)),
		zap.Uint64("timestamp", timestamp),
	)
	return nil
}

// Read returns the last accepted price and its age in seconds, regardless of
// how old it is.
func (s *Store) Read(feedID common.Hash) (*uint256.Int, uint64, error) {
	feed, err := s.Feed(feedID)
	if err != nil {
		return nil, 0, err
	}
	return feed.Price, s.age(feed.UpdatedAt), nil
}

// Feed returns the last accepted record for feedID.
func (s *Store) Feed(feedID common.Hash) (model.PriceFeed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.samples[feedID]
	if len(history) == 0 {
		return model.PriceFeed{}, fmt.Errorf("feed %s: %w", feedID.Hex(), model.ErrFeedUnavailable)
	}
	last := history[len(history)-1]
	return model.PriceFeed{FeedID: feedID, Price: last.Price.Clone(), UpdatedAt: last.Timestamp}, nil
}

// History returns the sample window for feedID, oldest first.
func (s *Store) History(feedID common.Hash) []model.PriceSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.samples[feedID]
	out := make([]model.PriceSample, 0, len(history))
	for _, sample := range history {
		out = append(out, model.PriceSample{Price: sample.Price.Clone(), Timestamp: sample.Timestamp})
	}
	return out
}

// Now returns the store's current time.
func (s *Store) Now() uint64 {
	if s.clock == nil {
		return 0
	}
	return s.clock()
}

// SetUpdater adds or removes an address from the updater allow-list.
func (s *Store) SetUpdater(addr common.Address, allowed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if allowed {
		s.updaters[addr] = struct{}{}
		return
	}
	delete(s.updaters, addr)
}

// Updaters returns the allow-list in address order.
func (s *Store) Updaters() []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]common.Address, 0, len(s.updaters))
	for addr := range s.updaters {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (s *Store) age(updatedAt uint64) uint64 {
	now := s.Now()
	if now <= updatedAt {
		return 0
	}
	return now - updatedAt
}
