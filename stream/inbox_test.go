package stream

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboxSpansAndSplitsChunks(t *testing.T) {
	in := NewInbox(0)
	require.True(t, in.Push([]byte{1, 2, 3}))
	require.True(t, in.Push([]byte{4}))
	require.True(t, in.Push([]byte{5, 6, 7, 8}))

	first := make([]byte, 5)
	require.NoError(t, in.ReadFull(first))
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, first)

	// the last chunk was split; its 3-byte remainder must be kept
	second := make([]byte, 3)
	require.NoError(t, in.ReadFull(second))
	assert.Equal(t, []byte{6, 7, 8}, second)
}

func TestInboxReadWaitsForData(t *testing.T) {
	in := NewInbox(0)
	done := make(chan []byte)
	go func() {
		buf := make([]byte, 4)
		if err := in.ReadFull(buf); err != nil {
			done <- nil
			return
		}
		done <- buf
	}()

	select {
	case <-done:
		t.Fatal("ReadFull returned before any data was pushed")
	case <-time.After(50 * time.Millisecond):
	}

	in.Push([]byte{9, 9})
	in.Push([]byte{8, 8})
	select {
	case got := <-done:
		assert.Equal(t, []byte{9, 9, 8, 8}, got)
	case <-time.After(time.Second):
		t.Fatal("ReadFull did not complete")
	}
}

func TestInboxCloseUnblocksReader(t *testing.T) {
	in := NewInbox(0)
	errCh := make(chan error)
	go func() {
		errCh <- in.ReadFull(make([]byte, 1))
	}()

	time.Sleep(20 * time.Millisecond)
	in.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock ReadFull")
	}
	assert.False(t, in.Push([]byte{1}))
}

func TestInboxCloseWithErrorDrainsFirst(t *testing.T) {
	in := NewInbox(0)
	in.Push([]byte{1, 2})
	in.CloseWithError(nil)

	buf := make([]byte, 2)
	require.NoError(t, in.ReadFull(buf))
	assert.Equal(t, []byte{1, 2}, buf)

	assert.ErrorIs(t, in.ReadFull(buf), io.EOF)
}

func TestInboxUnexpectedEOF(t *testing.T) {
	in := NewInbox(0)
	in.Push([]byte{1, 2})
	in.CloseWithError(io.EOF)

	err := in.ReadFull(make([]byte, 4))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestInboxCloseWithErrorKeepsFirst(t *testing.T) {
	in := NewInbox(0)
	first := errors.New("first")
	in.CloseWithError(first)
	in.CloseWithError(errors.New("second"))
	assert.ErrorIs(t, in.ReadFull(make([]byte, 1)), first)
}

func TestInboxLimitBlocksProducer(t *testing.T) {
	in := NewInbox(4)
	require.True(t, in.Push([]byte{1, 2, 3, 4}))

	pushed := make(chan bool)
	go func() {
		pushed <- in.Push([]byte{5, 6})
	}()

	select {
	case <-pushed:
		t.Fatal("Push should block while the inbox is full")
	case <-time.After(50 * time.Millisecond):
	}

	buf := make([]byte, 3)
	require.NoError(t, in.ReadFull(buf))
	select {
	case ok := <-pushed:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Push did not resume after the reader made room")
	}

	rest := make([]byte, 3)
	require.NoError(t, in.ReadFull(rest))
	assert.Equal(t, []byte{4, 5, 6}, rest)
}
