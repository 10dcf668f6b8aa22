package sink

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/notnil/canmotion"
)

func TestAsyncDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []float64
	a := NewAsync(canmotion.SinkFunc(func(s canmotion.Sample) {
		mu.Lock()
		got = append(got, s.Measured)
		mu.Unlock()
	}), 100, slog.New(slog.DiscardHandler))
	for i := 0; i < 50; i++ {
		a.Push(canmotion.Sample{Measured: float64(i)})
	}
	assert.NoError(t, a.Close())
	assert.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, float64(i), v)
	}
	assert.Zero(t, a.Dropped())

	a.Push(canmotion.Sample{})
	assert.NoError(t, a.Close())
	assert.Len(t, got, 50)
}

func TestAsyncDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	a := NewAsync(canmotion.SinkFunc(func(canmotion.Sample) { <-release }), 1, slog.New(slog.DiscardHandler))
	// One sample may be held by the worker, one sits in the queue.
	for i := 0; i < 10; i++ {
		a.Push(canmotion.Sample{})
	}
	assert.GreaterOrEqual(t, a.Dropped(), uint64(8))
	close(release)
	assert.NoError(t, a.Close())
}
