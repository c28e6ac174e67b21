package stream

import (
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxPreservesOrder(t *testing.T) {
	out := NewOutbox()
	var mu sync.Mutex
	var got [][]byte
	received := make(chan struct{}, 16)

	go out.Run(func(chunks iter.Seq[[]byte]) error {
		for chunk := range chunks {
			mu.Lock()
			got = append(got, chunk)
			mu.Unlock()
			received <- struct{}{}
		}
		return nil
	})

	for i := byte(0); i < 10; i++ {
		require.NoError(t, out.Push([]byte{i}))
	}
	for i := 0; i < 10; i++ {
		select {
		case <-received:
		case <-time.After(time.Second):
			t.Fatalf("only %d chunks received", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, chunk := range got {
		assert.Equal(t, []byte{byte(i)}, chunk)
	}
}

func TestOutboxPushCopiesBuffer(t *testing.T) {
	out := NewOutbox()
	buf := []byte{1, 2, 3}
	require.NoError(t, out.Push(buf))
	buf[0] = 99

	chunk, ok := out.next()
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, chunk)
}

func TestOutboxSinglePuller(t *testing.T) {
	out := NewOutbox()
	started := make(chan struct{})
	finished := make(chan error)

	go func() {
		finished <- out.Run(func(chunks iter.Seq[[]byte]) error {
			close(started)
			for range chunks {
			}
			return nil
		})
	}()
	<-started

	err := out.Run(func(iter.Seq[[]byte]) error { return nil })
	assert.ErrorIs(t, err, ErrPullerRunning)

	out.Close()
	select {
	case err := <-finished:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close did not end the puller")
	}
}

func TestOutboxPushAfterClose(t *testing.T) {
	out := NewOutbox()
	out.Close()
	out.Close()
	assert.ErrorIs(t, out.Push([]byte{1}), ErrClosed)
	assert.Equal(t, 0, out.Len())
}
