package oracle

import (
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNoQuote indicates no price observation exists for the asset.
	ErrNoQuote = errors.New("oracle: no quote for asset")
	// ErrQuoteStale indicates the latest observation exceeded the freshness bound.
	ErrQuoteStale = errors.New("oracle: quote stale")
)

// Quote is a single price observation for a collateral asset, denominated in
// the stablecoin's peg currency.
type Quote struct {
	Rate      *big.Rat
	Timestamp time.Time
}

// Clone returns a defensive copy of the quote.
func (q Quote) Clone() Quote {
	clone := Quote{Timestamp: q.Timestamp}
	if q.Rate != nil {
		clone.Rate = new(big.Rat).Set(q.Rate)
	}
	return clone
}

// Source supplies prices and sustainability scores for registered collateral
// assets. Price acquisition mechanics live outside the ledger; the issuance
// engine only consumes this contract.
type Source interface {
	Price(assetID string) (Quote, error)
	ESGScore(assetID string) (uint64, error)
}

// CheckFresh returns ErrQuoteStale when the observation is older than maxAge
// relative to now. A zero maxAge disables the check.
func CheckFresh(q Quote, now time.Time, maxAge time.Duration) error {
	if maxAge <= 0 {
		return nil
	}
	if q.Timestamp.IsZero() || now.Sub(q.Timestamp) > maxAge {
		return ErrQuoteStale
	}
	return nil
}

// StaticSource is a mutable in-memory source used by tests and operator
// tooling. Quotes are set explicitly and returned verbatim.
type StaticSource struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	scores map[string]uint64
}

// NewStaticSource constructs an empty static source.
func NewStaticSource() *StaticSource {
	return &StaticSource{
		quotes: make(map[string]Quote),
		scores: make(map[string]uint64),
	}
}

// SetPrice records the quote for the asset, replacing any previous observation.
func (s *StaticSource) SetPrice(assetID string, rate *big.Rat, ts time.Time) {
	if s == nil {
		return
	}
	trimmed := strings.TrimSpace(assetID)
	if trimmed == "" || rate == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[trimmed] = Quote{Rate: new(big.Rat).Set(rate), Timestamp: ts}
}

// SetESGScore records the sustainability score for the asset.
func (s *StaticSource) SetESGScore(assetID string, score uint64) {
	if s == nil {
		return
	}
	trimmed := strings.TrimSpace(assetID)
	if trimmed == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[trimmed] = score
}

// Price implements Source.
func (s *StaticSource) Price(assetID string) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quote, ok := s.quotes[strings.TrimSpace(assetID)]
	if !ok {
		return Quote{}, ErrNoQuote
	}
	return quote.Clone(), nil
}

// ESGScore implements Source.
func (s *StaticSource) ESGScore(assetID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	score, ok := s.scores[strings.TrimSpace(assetID)]
	if !ok {
		return 0, ErrNoQuote
	}
	return score, nil
}
