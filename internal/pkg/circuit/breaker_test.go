package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerTripsAndRecovers(t *testing.T) {
	clock := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	b := New("test", 2, time.Minute)
	b.now = func() time.Time { return clock }
	boom := errors.New("boom")
	fail := func() error { return boom }
	ok := func() error { return nil }

	assert.ErrorIs(t, b.Do(fail, nil), boom)
	assert.Equal(t, StateClosed, b.State())
	assert.ErrorIs(t, b.Do(fail, nil), boom)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Do(ok, nil), ErrOpen)

	clock = clock.Add(2 * time.Minute)
	assert.ErrorIs(t, b.Do(fail, nil), boom, "half-open probe runs")
	assert.Equal(t, StateOpen, b.State())

	clock = clock.Add(2 * time.Minute)
	assert.NoError(t, b.Do(ok, nil))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerIgnoredErrors(t *testing.T) {
	b := New("test", 1, time.Minute)
	ignore := func(err error) bool { return errors.Is(err, context.Canceled) }
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Do(func() error { return context.Canceled }, ignore), context.Canceled)
	}
	assert.Equal(t, StateClosed, b.State())
}
