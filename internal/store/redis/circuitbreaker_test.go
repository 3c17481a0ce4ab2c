package redis

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errWrite = errors.New("write: connection refused")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int, cooldown time.Duration) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(BreakerConfig{MaxFailures: maxFailures, Cooldown: cooldown})
	cb.now = clk.now
	return cb, clk
}

func failN(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(func() error { return errWrite })
	}
}

func TestBreakerConfig_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{})
	assert.Equal(t, 5, cb.cfg.MaxFailures)
	assert.Equal(t, 10*time.Second, cb.cfg.Cooldown)
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	failN(cb, 2)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Zero(t, cb.Stats().Failures)

	failN(cb, 2)
	assert.Equal(t, StateClosed, cb.CurrentState())
	assert.ErrorIs(t, cb.Execute(func() error { return errWrite }), errWrite)

	st := cb.Stats()
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, 1, st.Trips)

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_TrialClosesAfterCooldown(t *testing.T) {
	cb, clk := newTestBreaker(1, time.Second)
	failN(cb, 1)

	clk.advance(999 * time.Millisecond)
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)

	clk.advance(time.Millisecond)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.CurrentState())
	assert.Equal(t, 1, cb.Stats().Trips)
}

func TestCircuitBreaker_FailedTrialReopens(t *testing.T) {
	cb, clk := newTestBreaker(2, time.Second)
	failN(cb, 2)

	clk.advance(time.Second)
	assert.ErrorIs(t, cb.Execute(func() error { return errWrite }), errWrite)

	st := cb.Stats()
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, 2, st.Trips)
	assert.Equal(t, clk.t, st.OpenSince)

	// a fresh cooldown starts from the failed trial write
	clk.advance(500 * time.Millisecond)
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)
}

func TestCircuitBreaker_SingleTrialWhileHalfOpen(t *testing.T) {
	cb, clk := newTestBreaker(1, time.Second)
	failN(cb, 1)
	clk.advance(time.Second)

	var inner error
	err := cb.Execute(func() error {
		assert.Equal(t, StateHalfOpen, cb.CurrentState())
		inner = cb.Execute(func() error { return nil })
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrCircuitOpen)
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_ReportsTransitions(t *testing.T) {
	cb, clk := newTestBreaker(1, time.Second)
	var seen []string
	cb.OnStateChange = func(from, to State) { seen = append(seen, from.String()+">"+to.String()) }

	failN(cb, 1)
	clk.advance(time.Second)
	failN(cb, 1)
	clk.advance(time.Second)
	require.NoError(t, cb.Execute(func() error { return nil }))

	assert.Equal(t, []string{
		"closed>open",
		"open>half-open",
		"half-open>open",
		"open>half-open",
		"half-open>closed",
	}, seen)
}
