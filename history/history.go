// Package history remembers the last observed lowest price per tracked item.
//
// Entries live only in process memory and are lost on restart; the sweep
// reseeds them from the record store's last-known price.
package history

import (
	"sync"

	"wishlist-notifier/pkg/wishlist"
)

// Store maps (owner, query) to the last observed lowest price.
type Store struct {
	prices map[wishlist.Key]float64
	mu     sync.RWMutex
}

// New creates an empty store.
func New() *Store {
	return &Store{prices: make(map[wishlist.Key]float64)}
}

// Get returns the last observed price for key.
func (s *Store) Get(key wishlist.Key) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[key]
	return p, ok
}

// Set records price as the latest observation for key.
func (s *Store) Set(key wishlist.Key, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[key] = price
}

// Len returns the number of tracked entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.prices)
}
