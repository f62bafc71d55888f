package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueDequeueHead_FIFO(t *testing.T) {
	b := New[int](4)
	require.True(t, b.Empty())

	require.NoError(t, b.Enqueue(1))
	require.NoError(t, b.Enqueue(2))
	require.NoError(t, b.Enqueue(3))
	assert.Equal(t, 3, b.Len())

	v, err := b.Dequeue(Head)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = b.Dequeue(Head)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	v, err = b.Dequeue(Head)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	assert.True(t, b.Empty())
}

func TestEnqueueHeadTail(t *testing.T) {
	b := New[string](4)
	require.NoError(t, b.Enqueue("a"))
	require.NoError(t, b.Enqueue("b"))

	v, err := b.Dequeue(Tail)
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	v, err = b.Dequeue(Head)
	require.NoError(t, err)
	assert.Equal(t, "a", v)
}

func TestFullAndEmptyErrors(t *testing.T) {
	b := New[int](1)
	require.NoError(t, b.Enqueue(42))
	assert.True(t, b.Full())
	assert.ErrorIs(t, b.Enqueue(43), ErrFull)

	v, err := b.Dequeue(Head)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.True(t, b.Empty())

	_, err = b.Dequeue(Head)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestWrapAround(t *testing.T) {
	b := New[int](3)
	require.NoError(t, b.Enqueue(1))
	require.NoError(t, b.Enqueue(2))
	_, err := b.Dequeue(Head)
	require.NoError(t, err)
	require.NoError(t, b.Enqueue(3))
	require.NoError(t, b.Enqueue(4))
	assert.True(t, b.Full())

	var got []int
	for !b.Empty() {
		v, err := b.Dequeue(Head)
		require.NoError(t, err)
		got = append(got, v)
	}
	assert.Equal(t, []int{2, 3, 4}, got)
}

func TestLastElementResetsToEmpty(t *testing.T) {
	b := New[int](2)
	require.NoError(t, b.Enqueue(7))
	v, err := b.Dequeue(Tail)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.True(t, b.Empty())
	assert.Equal(t, 0, b.Len())

	// Buffer should be fully reusable after emptying.
	require.NoError(t, b.Enqueue(1))
	require.NoError(t, b.Enqueue(2))
	assert.True(t, b.Full())
}
