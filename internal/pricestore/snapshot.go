package pricestore

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"crossRebalance/internal/model"
)

// Snapshot exports every feed window ordered by feed id.
func (s *Store) Snapshot() []model.FeedState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]common.Hash, 0, len(s.samples))
	for id := range s.samples {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })

	out := make([]model.FeedState, 0, len(ids))
	for _, id := range ids {
		feed := model.FeedState{FeedID: id}
		for _, sample := range s.samples[id] {
			feed.Samples = append(feed.Samples, model.SampleState{
				Price:     model.FormatAmount(sample.Price),
				Timestamp: sample.Timestamp,
			})
		}
		out = append(out, feed)
	}
	return out
}

// Restore replaces all feed windows with feeds.
func (s *Store) Restore(feeds []model.FeedState) error {
	samples := make(map[common.Hash][]model.PriceSample, len(feeds))
	for _, feed := range feeds {
		var prev uint64
		for i, st := range feed.Samples {
			price, err := model.ParseAmount(st.Price)
			if err != nil {
				return fmt.Errorf("feed %s sample %d: %w", feed.FeedID.Hex(), i, err)
			}
			if i > 0 && st.Timestamp <= prev {
				return fmt.Errorf("feed %s sample %d: timestamps not increasing", feed.FeedID.Hex(), i)
			}
			prev = st.Timestamp
			samples[feed.FeedID] = append(samples[feed.FeedID], model.PriceSample{Price: price, Timestamp: st.Timestamp})
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, history := range samples {
		if len(history) > s.window {
			samples[id] = history[len(history)-s.window:]
		}
	}
	s.samples = samples
	return nil
}
