package rsocket

import "sync"

const maxStreamID uint32 = 1<<31 - 1

// IDAllocator hands out stream ids for one side of a connection: odd
// for client-initiated streams, even for server-initiated ones
// (spec.md §3, §4.3). Allocation is atomic with insertion into the
// stream registry so an id is never handed out twice concurrently.
//
// Grounded on the teacher's Conn.nextID counter (conn.go) and
// serverConn.go's analogous server-side counter, generalized to share
// one allocator type for both roles and to add the registry-aware
// wraparound skip spec.md's §4.3 requires.
type IDAllocator struct {
	mu   sync.Mutex
	next uint32
}

// NewClientIDAllocator starts a client-side (odd) allocator.
func NewClientIDAllocator() *IDAllocator { return &IDAllocator{next: 1} }

// NewServerIDAllocator starts a server-side (even) allocator.
func NewServerIDAllocator() *IDAllocator { return &IDAllocator{next: 2} }

// Next returns the next unused stream id, inserting handle into
// registry under that id before returning. It skips any id already
// present (relevant after the 2^31 wraparound).
func (a *IDAllocator) Next(registry *StreamRegistry, handle StreamHandle) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	for {
		id := a.next
		a.next += 2
		if a.next > maxStreamID {
			// wrap back to the parity this allocator owns
			a.next = a.next%2 + 2
			if a.next < 2 {
				a.next += 2
			}
		}

		if id == 0 {
			continue
		}
		if err := registry.Insert(id, handle); err == nil {
			return id
		}
		// id already live (post-wraparound collision); try the next one
	}
}
