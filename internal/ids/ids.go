// Package ids generates identifiers for carts and offline sales.
package ids

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type Generator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 identifiers.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined identifiers for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedGenerator creates a generator that returns tokens in order.
func NewFixedGenerator(tokens ...string) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

// Generate returns the next predetermined token.
// Panics if all tokens have been consumed, which points at a test that
// created more carts than it declared.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.tokens) {
		panic("FixedGenerator: all tokens exhausted")
	}
	token := g.tokens[g.idx]
	g.idx++
	return token
}

// OfflinePrefix starts every client-generated sale number. Server-issued
// numbers never carry it, so the two namespaces cannot collide.
const OfflinePrefix = "OFFLINE-"

// SaleNumbers issues OFFLINE-<unix-millis> sale numbers.
//
// Two sales queued within the same millisecond would share a timestamp, so
// the generator never hands out a value at or below the previous one.
type SaleNumbers struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

// NewSaleNumbers returns a generator reading wall time from now.
// A nil now uses time.Now.
func NewSaleNumbers(now func() time.Time) *SaleNumbers {
	if now == nil {
		now = time.Now
	}
	return &SaleNumbers{now: now}
}

// Next returns the next offline sale number.
func (s *SaleNumbers) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UnixMilli()
	if ts <= s.last {
		ts = s.last + 1
	}
	s.last = ts
	return OfflinePrefix + strconv.FormatInt(ts, 10)
}

// Observe raises the floor to an offline number issued elsewhere, such as
// one queued by an earlier run against the same database. Server-issued
// numbers are ignored.
func (s *SaleNumbers) Observe(saleNumber string) {
	ts, err := ParseOffline(saleNumber)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ms := ts.UnixMilli(); ms > s.last {
		s.last = ms
	}
}

// IsOffline reports whether saleNumber was generated client-side.
func IsOffline(saleNumber string) bool {
	return strings.HasPrefix(saleNumber, OfflinePrefix)
}

// ParseOffline extracts the timestamp of an offline sale number.
func ParseOffline(saleNumber string) (time.Time, error) {
	if !IsOffline(saleNumber) {
		return time.Time{}, fmt.Errorf("not an offline sale number: %q", saleNumber)
	}
	ms, err := strconv.ParseInt(strings.TrimPrefix(saleNumber, OfflinePrefix), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse offline sale number %q: %w", saleNumber, err)
	}
	return time.UnixMilli(ms), nil
}
