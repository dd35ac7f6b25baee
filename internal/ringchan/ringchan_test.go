package ringchan_test

import (
	"sync"
	"testing"

	"github.com/srg/blectl/internal/ringchan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_OverwritesOldest(t *testing.T) {
	r := ringchan.New[int](3)
	for i := 0; i < 10; i++ {
		r.Send(i)
	}
	assert.Equal(t, []int{7, 8, 9}, r.Drain(), "only the newest values MUST survive")

	m := r.Metrics()
	assert.Equal(t, uint64(10), m.Written)
	assert.Equal(t, uint64(7), m.Overwritten)
	assert.Equal(t, uint64(3), m.Received)
}

func TestRing_TrySendDoesNotOverwrite(t *testing.T) {
	r := ringchan.New[string](1)
	require.True(t, r.TrySend("a"))
	assert.False(t, r.TrySend("b"))

	v, ok := r.TryReceive()
	assert.True(t, ok)
	assert.Equal(t, "a", v)

	_, ok = r.TryReceive()
	assert.False(t, ok)
}

func TestRing_ConcurrentProducersNeverBlock(t *testing.T) {
	r := ringchan.New[int](4)
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				r.Send(i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, r.Len())
	m := r.Metrics()
	assert.Equal(t, uint64(8000), m.Written)
	assert.Equal(t, uint64(8000-4), m.Overwritten)
}

func TestRing_Close(t *testing.T) {
	r := ringchan.New[int](2)
	r.Send(1)
	r.Close()
	r.Close()
	assert.False(t, r.Send(2), "send after close MUST be ignored")

	v, ok := r.Receive()
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = r.Receive()
	assert.False(t, ok)
}

func TestRing_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { ringchan.New[int](0) })
}
