// Package storage persists executed trades so history survives restarts
// and the API can serve recent trades without holding them in memory.
package storage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/openclob/tokenex/pkg/exchange"
)

// TradeStore is a Pebble-backed append-only trade history, keyed so a
// reverse scan over a symbol prefix yields newest trades first.
type TradeStore struct {
	db *pebble.DB

	mu  sync.Mutex
	seq map[string]uint64 // symbol -> next sequence
}

func NewTradeStore(path string) (*TradeStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	s := &TradeStore{db: db, seq: make(map[string]uint64)}
	if err := s.loadSequences(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *TradeStore) Close() error { return s.db.Close() }

// loadSequences recovers the per-symbol sequence counters from the last
// key of each symbol's range.
func (s *TradeStore) loadSequences() error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefixTrade),
		UpperBound: keyUpperBound([]byte(prefixTrade)),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		symbol, seq, err := parseTradeKey(iter.Key())
		if err != nil {
			continue
		}
		if seq >= s.seq[symbol] {
			s.seq[symbol] = seq + 1
		}
	}
	return nil
}

// SaveTrade appends a trade to the symbol's history.
func (s *TradeStore) SaveTrade(t exchange.Trade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}

	s.mu.Lock()
	seq := s.seq[t.Symbol]
	s.seq[t.Symbol] = seq + 1
	s.mu.Unlock()

	if err := s.db.Set(tradeKey(t.Symbol, seq), data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// RecentTrades returns up to limit trades for a symbol, newest first.
func (s *TradeStore) RecentTrades(symbol string, limit int) ([]exchange.Trade, error) {
	prefix := tradePrefix(symbol)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	trades := make([]exchange.Trade, 0, limit)
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var t exchange.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			continue // skip invalid entries
		}
		trades = append(trades, t)
	}
	return trades, nil
}
