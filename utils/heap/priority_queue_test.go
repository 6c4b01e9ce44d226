package heap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPriorityQueue(t *testing.T) {
	require := require.New(t)
	items := []*Item{{Value: "a", Priority: 3}, {Value: "b", Priority: 2}, {Value: "c", Priority: 4}}
	itemsCopy := []*Item{{Value: "a", Priority: 3}, {Value: "b", Priority: 2}, {Value: "c", Priority: 4}}

	pq := NewPriorityQueue(items...)

	item, err := pq.Pop()
	require.NoError(err)
	require.Equal(itemsCopy[1], item)

	newItem := &Item{Value: "d", Priority: 1}
	pq.Push(newItem)

	item, err = pq.Pop()
	require.NoError(err)
	require.Equal(newItem, item)

	item, err = pq.Pop()
	require.NoError(err)
	require.Equal(itemsCopy[0], item)

	item, err = pq.Pop()
	require.NoError(err)
	require.Equal(itemsCopy[2], item)

	_, err = pq.Pop()
	require.Error(err)
}

func TestPriorityQueueLen(t *testing.T) {
	require := require.New(t)
	pq := NewPriorityQueue()
	require.Equal(0, pq.Len())
	pq.Push(&Item{Value: 1, Priority: 1})
	require.Equal(1, pq.Len())
	_, err := pq.Pop()
	require.NoError(err)
	require.Equal(0, pq.Len())
}
