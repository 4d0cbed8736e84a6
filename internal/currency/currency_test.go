package currency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cashier/internal/failure"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var fixedNow = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

type fakeSource struct {
	mu    sync.Mutex
	rates map[string]decimal.Decimal
	err   error
	calls atomic.Int32
	gate  map[string]chan struct{}
}

func (f *fakeSource) LatestRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	f.calls.Add(1)
	f.mu.Lock()
	gate := f.gate[to]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return decimal.Zero, f.err
	}
	r, ok := f.rates[from+"/"+to]
	if !ok {
		return decimal.Zero, errors.New("no such pair")
	}
	return r, nil
}

func TestValidateCode(t *testing.T) {
	code, err := ValidateCode("USD")
	require.NoError(t, err)
	assert.Equal(t, "USD", code)

	_, err = ValidateCode("NOPE")
	assert.True(t, failure.HasCode(err, failure.CodeInvalidCurrency))
}

func TestSuggestedAmount_AsymmetricRule(t *testing.T) {
	tests := []struct {
		name  string
		total string
		rate  string
		want  string
	}{
		{"rate above one divides", "1000", "500", "2"},
		{"rate of one multiplies", "15", "1", "15"},
		{"rate below one multiplies", "100", "0.25", "25"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SuggestedAmount(dec(tt.total), dec(tt.rate))
			require.NoError(t, err)
			assert.True(t, got.Equal(dec(tt.want)), "got %s", got)
		})
	}
}

func TestToBase_InvertsSuggestedAmount(t *testing.T) {
	got, err := ToBase(dec("2"), dec("500"))
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("1000")))

	got, err = ToBase(dec("25"), dec("0.25"))
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("100")))

	got, err = ToBase(dec("1"), dec("0.3"))
	require.NoError(t, err)
	assert.Equal(t, "3.3333", got.String(), "rounded to four places")
}

func TestRateMustBePositive(t *testing.T) {
	_, err := SuggestedAmount(dec("10"), decimal.Zero)
	assert.True(t, failure.HasCode(err, failure.CodeInvalidRate))
	_, err = ToBase(dec("10"), dec("-2"))
	assert.True(t, failure.HasCode(err, failure.CodeInvalidRate))
}

func TestResolve_BaseCurrencySkipsFetch(t *testing.T) {
	src := &fakeSource{}
	r, err := NewResolver("YER", src, fixedNow)
	require.NoError(t, err)

	q, err := r.Resolve(context.Background(), "YER", dec("1000"))
	require.NoError(t, err)
	assert.True(t, q.Rate.Equal(decimal.NewFromInt(1)))
	assert.True(t, q.Suggested.Equal(dec("1000")))
	assert.Equal(t, int32(0), src.calls.Load())
}

func TestResolve_FetchesForeignRate(t *testing.T) {
	src := &fakeSource{rates: map[string]decimal.Decimal{"YER/USD": dec("500")}}
	r, err := NewResolver("YER", src, fixedNow)
	require.NoError(t, err)

	q, err := r.Resolve(context.Background(), "USD", dec("1000"))
	require.NoError(t, err)
	assert.Equal(t, "USD", q.Currency)
	assert.Equal(t, "YER", q.Base)
	assert.True(t, q.Suggested.Equal(dec("2.00")))

	cur, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, q, cur)
}

func TestResolve_FailureKeepsStaleQuote(t *testing.T) {
	src := &fakeSource{rates: map[string]decimal.Decimal{"YER/USD": dec("500")}}
	r, err := NewResolver("YER", src, fixedNow)
	require.NoError(t, err)
	first, err := r.Resolve(context.Background(), "USD", dec("1000"))
	require.NoError(t, err)

	src.mu.Lock()
	src.err = errors.New("connection refused")
	src.mu.Unlock()

	_, err = r.Resolve(context.Background(), "USD", dec("2000"))
	require.Error(t, err)
	assert.True(t, failure.IsNetwork(err))
	assert.True(t, failure.HasCode(err, failure.CodeRateUnavailable))

	cur, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, first, cur, "previous quote is left stale, not cleared")
}

func TestResolve_LateResponseIsDiscarded(t *testing.T) {
	gate := make(chan struct{})
	src := &fakeSource{
		rates: map[string]decimal.Decimal{"YER/USD": dec("500"), "YER/SAR": dec("140")},
		gate:  map[string]chan struct{}{"USD": gate},
	}
	r, err := NewResolver("YER", src, fixedNow)
	require.NoError(t, err)

	slowErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(context.Background(), "USD", dec("1000"))
		slowErr <- err
	}()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	q, err := r.Resolve(context.Background(), "SAR", dec("1400"))
	require.NoError(t, err)
	assert.True(t, q.Suggested.Equal(dec("10")))

	close(gate)
	assert.ErrorIs(t, <-slowErr, ErrSuperseded)

	cur, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, "SAR", cur.Currency)
}

func TestResolve_ConcurrentFetchesShareOneCall(t *testing.T) {
	gate := make(chan struct{})
	src := &fakeSource{
		rates: map[string]decimal.Decimal{"YER/USD": dec("500")},
		gate:  map[string]chan struct{}{"USD": gate},
	}
	r, err := NewResolver("YER", src, fixedNow)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Resolve(context.Background(), "USD", dec("1000"))
		}()
	}
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	cur, ok := r.Current()
	require.True(t, ok)
	assert.True(t, cur.Rate.Equal(dec("500")))
}

func TestNewResolver_RejectsBadBase(t *testing.T) {
	_, err := NewResolver("NOPE", &fakeSource{}, nil)
	assert.Error(t, err)
	_, err = NewResolver("YER", nil, nil)
	assert.Error(t, err)
}
