package rsocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDAllocatorParity(t *testing.T) {
	registry := NewStreamRegistry()
	client := NewClientIDAllocator()
	server := NewServerIDAllocator()

	for i := 0; i < 10; i++ {
		id := client.Next(registry, NewStream(0, RoleRequester, StreamKindRequestResponse, nil))
		assert.EqualValues(t, 1, id%2, "client ids must be odd")
	}
	for i := 0; i < 10; i++ {
		id := server.Next(registry, NewStream(0, RoleRequester, StreamKindRequestResponse, nil))
		assert.EqualValues(t, 0, id%2, "server ids must be even")
	}
}

func TestIDAllocatorNeverZero(t *testing.T) {
	registry := NewStreamRegistry()
	a := &IDAllocator{next: 0}

	id := a.Next(registry, NewStream(0, RoleRequester, StreamKindFNF, nil))
	assert.NotZero(t, id)
}

func TestIDAllocatorSkipsLiveCollisionAfterWraparound(t *testing.T) {
	registry := NewStreamRegistry()
	occupied := NewStream(0, RoleRequester, StreamKindFNF, nil)
	require := assert.New(t)
	require.NoError(registry.Insert(3, occupied))

	a := &IDAllocator{next: 3}
	id := a.Next(registry, NewStream(0, RoleRequester, StreamKindFNF, nil))
	assert.NotEqual(t, uint32(3), id)
}

func TestIDAllocatorUniqueness(t *testing.T) {
	registry := NewStreamRegistry()
	a := NewClientIDAllocator()

	seen := make(map[uint32]bool)
	for i := 0; i < 1000; i++ {
		id := a.Next(registry, NewStream(0, RoleRequester, StreamKindFNF, nil))
		assert.False(t, seen[id], "id %d handed out twice", id)
		seen[id] = true
	}
}
