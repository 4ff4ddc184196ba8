package lock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMutexMapSerializesSameKey(t *testing.T) {
	m := NewMutexMap()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock("bcr-1")
			defer m.Unlock("bcr-1")
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestMutexMapIndependentKeys(t *testing.T) {
	m := NewMutexMap()

	// Holding one key must not block another.
	m.Lock("bcr-1")
	defer m.Unlock("bcr-1")

	done := make(chan struct{})
	go func() {
		m.Lock("bcr-2")
		m.Unlock("bcr-2")
		close(done)
	}()
	<-done
}

func TestMutexMapReusesMutexPerKey(t *testing.T) {
	m := NewMutexMap()

	first := m.getMutex("bcr-1")
	second := m.getMutex("bcr-1")
	other := m.getMutex("bcr-2")

	assert.Same(t, first, second)
	assert.NotSame(t, first, other)
}
