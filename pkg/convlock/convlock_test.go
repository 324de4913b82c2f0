package convlock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	ctx := context.Background()

	release, err := km.Acquire(ctx, "conv-1")
	require.NoError(t, err)

	var acquired sync.WaitGroup
	acquired.Add(1)
	var order []string
	var mu sync.Mutex
	go func() {
		defer acquired.Done()
		r, err := km.Acquire(ctx, "conv-1")
		require.NoError(t, err)
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		r()
	}()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	order = append(order, "first")
	mu.Unlock()
	release()
	acquired.Wait()

	require.Equal(t, []string{"first", "second"}, order)
}

func TestKeyedMutex_IndependentKeysDoNotBlock(t *testing.T) {
	km := NewKeyedMutex()
	ctx := context.Background()

	release1, err := km.Acquire(ctx, "conv-1")
	require.NoError(t, err)
	defer release1()

	done := make(chan struct{})
	go func() {
		release2, err := km.Acquire(ctx, "conv-2")
		require.NoError(t, err)
		release2()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("independent key blocked")
	}
}

func TestKeyedMutex_AcquireHonorsContext(t *testing.T) {
	km := NewKeyedMutex()

	release, err := km.Acquire(context.Background(), "conv-1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = km.Acquire(ctx, "conv-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyedMutex_EmptyKey(t *testing.T) {
	km := NewKeyedMutex()
	_, err := km.Acquire(context.Background(), "")
	require.Error(t, err)
}
