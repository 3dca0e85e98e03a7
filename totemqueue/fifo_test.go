package totemqueue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageFIFOOrderAndBound(t *testing.T) {
	f := NewMessageFIFO[int](2)
	require.NoError(t, f.Push(1))
	require.NoError(t, f.Push(2))
	require.Error(t, f.Push(3))
	require.Equal(t, 0, f.Avail())

	v, ok := f.Pop()
	require.True(t, ok)
	require.Equal(t, 1, v)
	require.NoError(t, f.Push(3))

	v, ok = f.Pop()
	require.True(t, ok)
	require.Equal(t, 2, v)
	v, ok = f.Pop()
	require.True(t, ok)
	require.Equal(t, 3, v)
	_, ok = f.Pop()
	require.False(t, ok)
}

func TestMessageFIFOPeekDoesNotRemove(t *testing.T) {
	f := NewMessageFIFO[string](4)
	require.NoError(t, f.Push("x"))
	v, ok := f.Peek()
	require.True(t, ok)
	require.Equal(t, "x", v)
	require.Equal(t, 1, f.Len())
}
