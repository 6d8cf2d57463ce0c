package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDirectory(t *testing.T) {
	m := NewMemory()
	testDirectory(t, m.Join)
}

func TestMemoryLeave(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := m.Join("a/0")
	b := m.Join("b/0")
	require.NoError(t, b.Set(ctx, "k", "v"))

	m.Leave("b/0")
	peers, err := a.Peers(ctx)
	require.NoError(t, err)
	assert.Empty(t, peers)
	_, err = a.Get(ctx, "b/0", "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryConcurrentUse(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := m.Join(Unit{Name: "agent", Number: i}.String())
			for j := 0; j < 100; j++ {
				_ = u.Set(ctx, "neighbors", "x")
				_, _ = u.Peers(ctx)
				_, _ = u.Get(ctx, "agent/0", "neighbors")
			}
		}(i)
	}
	wg.Wait()

	peers, err := m.Join("controller/0").Peers(ctx)
	require.NoError(t, err)
	assert.Len(t, peers, 16)
}
