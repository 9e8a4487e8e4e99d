package loop

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRunsInOrder(t *testing.T) {
	l := New()
	defer l.Close()

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	var snapshot []int
	require.True(t, l.Do(func() { snapshot = append([]int(nil), got...) }))

	assert.Equal(t, []int{0, 1, 2, 3, 4}, snapshot)
}

func TestSerializesConcurrentPosts(t *testing.T) {
	l := New()
	defer l.Close()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Do(func() { counter++ })
		}()
	}
	wg.Wait()

	var n int
	l.Do(func() { n = counter })
	assert.Equal(t, 100, n)
}

func TestClosedLoopRejects(t *testing.T) {
	l := New()
	l.Close()
	l.Close()

	ran := false
	assert.False(t, l.Post(func() { ran = true }))
	assert.False(t, l.Do(func() { ran = true }))
	assert.False(t, ran)
}
