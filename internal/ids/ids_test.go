package ids

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator_ValidFormat(t *testing.T) {
	gen := UUIDv7Generator{}
	token := gen.Generate()

	parsed, err := uuid.Parse(token)
	require.NoError(t, err, "token should be valid UUID")
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, token)
}

func TestUUIDv7Generator_Concurrent(t *testing.T) {
	gen := UUIDv7Generator{}
	const goroutines = 100

	tokens := make(chan string, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens <- gen.Generate()
		}()
	}
	wg.Wait()
	close(tokens)

	seen := make(map[string]bool)
	for token := range tokens {
		require.False(t, seen[token], "duplicate token generated")
		seen[token] = true
	}
	assert.Len(t, seen, goroutines)
}

func TestFixedGenerator_Sequential(t *testing.T) {
	gen := NewFixedGenerator("cart-1", "cart-2")
	assert.Equal(t, "cart-1", gen.Generate())
	assert.Equal(t, "cart-2", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}

func TestSaleNumbers_UsesMillis(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	gen := NewSaleNumbers(func() time.Time { return at })

	assert.Equal(t, "OFFLINE-1700000000123", gen.Next())
}

func TestSaleNumbers_StrictlyIncreasingWithinSameMillisecond(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	gen := NewSaleNumbers(func() time.Time { return at })

	first := gen.Next()
	second := gen.Next()
	third := gen.Next()

	assert.Equal(t, "OFFLINE-1700000000000", first)
	assert.Equal(t, "OFFLINE-1700000000001", second)
	assert.Equal(t, "OFFLINE-1700000000002", third)
}

func TestSaleNumbers_ClockGoingBackwards(t *testing.T) {
	times := []time.Time{time.UnixMilli(2000), time.UnixMilli(1000)}
	i := 0
	gen := NewSaleNumbers(func() time.Time {
		ts := times[i]
		i++
		return ts
	})

	assert.Equal(t, "OFFLINE-2000", gen.Next())
	assert.Equal(t, "OFFLINE-2001", gen.Next())
}

func TestIsOfflineAndParse(t *testing.T) {
	assert.True(t, IsOffline("OFFLINE-42"))
	assert.False(t, IsOffline("S-000042"))

	ts, err := ParseOffline("OFFLINE-1700000000123")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000123), ts.UnixMilli())

	_, err = ParseOffline("S-1")
	assert.Error(t, err)
	_, err = ParseOffline("OFFLINE-abc")
	assert.Error(t, err)
}

func TestSaleNumbers_ObserveRaisesFloor(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	gen := NewSaleNumbers(func() time.Time { return at })

	gen.Observe("OFFLINE-1700000000005")
	gen.Observe("OFFLINE-1699999999999")
	gen.Observe("S-000009")
	gen.Observe("OFFLINE-junk")

	assert.Equal(t, "OFFLINE-1700000000006", gen.Next())
}
