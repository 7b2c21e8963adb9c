package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker("test", 2, time.Minute)
	cb.now = func() time.Time { return now }

	boom := errors.New("boom")
	fail := func() error { return boom }

	assert.ErrorIs(t, cb.Execute(fail, nil), boom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(fail, nil), boom)
	assert.Equal(t, StateOpen, cb.State())

	assert.ErrorIs(t, cb.Execute(func() error { return nil }, nil), ErrOpen)

	now = now.Add(2 * time.Minute)
	assert.True(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.False(t, cb.Allow(), "only one trial call while half-open")
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_IgnoredErrorsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Minute)
	notFound := errors.New("not found")
	err := cb.Execute(func() error { return notFound }, func(err error) bool { return errors.Is(err, notFound) })
	assert.ErrorIs(t, err, notFound)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker("test", 1, time.Second)
	cb.now = func() time.Time { return now }
	cb.RecordFailure()
	now = now.Add(2 * time.Second)
	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, "OPEN", cb.State().String())
}
