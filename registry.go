package rsocket

import "sync"

// StreamHandle is the registry's value type: a pointer to a stream's
// single-writer state, owned by exactly one connection.
type StreamHandle = *Stream

const (
	registryShards     = 16
	shardInitialSize   = 16
	shardMaxLoadFactor = 0.75
)

// StreamRegistry is a concurrent mapping from stream id to StreamHandle
// (spec.md §4.4, C4). It shards by id across registryShards
// independent open-addressed hash tables, each with its own lock, so
// unrelated streams never contend. Within a shard, linear probing
// finds/inserts slots and Knuth's Algorithm R compacts the probe chain
// on delete, per spec.md §9's design note — this is the reference
// design called out explicitly in preference to a simpler sorted
// structure.
//
// Grounded on the contract of the teacher's streams.go (Insert/Del/Get
// operation set), re-implemented as the sharded hash table spec.md's
// Design Notes mandate rather than streams.go's sorted-slice approach.
type StreamRegistry struct {
	shards [registryShards]shard
}

// NewStreamRegistry returns an empty registry.
func NewStreamRegistry() *StreamRegistry {
	r := &StreamRegistry{}
	for i := range r.shards {
		r.shards[i].init()
	}
	return r
}

func shardFor(id uint32) uint32 {
	// Fibonacci hashing spreads both odd (client) and even (server) ids
	// evenly across shards despite their fixed parity.
	return (id * 2654435761) >> 28 & (registryShards - 1)
}

// Insert adds id->handle, failing with ErrDuplicateStream if id is
// already present.
func (r *StreamRegistry) Insert(id uint32, handle StreamHandle) error {
	return r.shards[shardFor(id)&(registryShards-1)].insert(id, handle)
}

// Get returns the handle for id, or nil if absent.
func (r *StreamRegistry) Get(id uint32) StreamHandle {
	return r.shards[shardFor(id)&(registryShards-1)].get(id)
}

// Remove deletes id from the registry. It is a no-op if id is absent.
func (r *StreamRegistry) Remove(id uint32) {
	r.shards[shardFor(id)&(registryShards-1)].remove(id)
}

// Len returns the number of live streams across all shards.
func (r *StreamRegistry) Len() int {
	n := 0
	for i := range r.shards {
		n += r.shards[i].len()
	}
	return n
}

// ForEach calls fn for every live stream. Each shard is copied under
// its lock and fn runs on that copy with no lock held, so fn may call
// back into the registry. Used for connection-close fan-out (spec.md
// §4.4, §4.7).
func (r *StreamRegistry) ForEach(fn func(id uint32, handle StreamHandle)) {
	for i := range r.shards {
		r.shards[i].forEach(fn)
	}
}

type shard struct {
	mu    sync.Mutex
	keys  []uint32 // 0 == empty slot; stream id 0 is never a valid key
	vals  []StreamHandle
	count int
}

func (s *shard) init() {
	s.keys = make([]uint32, shardInitialSize)
	s.vals = make([]StreamHandle, shardInitialSize)
}

func (s *shard) slot(id uint32) int {
	size := len(s.keys)
	i := int(id) % size
	for {
		if s.keys[i] == 0 || s.keys[i] == id {
			return i
		}
		i = (i + 1) % size
	}
}

func (s *shard) insert(id uint32, handle StreamHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if float64(s.count+1) > shardMaxLoadFactor*float64(len(s.keys)) {
		s.grow()
	}

	i := s.slot(id)
	if s.keys[i] == id {
		return ErrDuplicateStream
	}
	s.keys[i] = id
	s.vals[i] = handle
	s.count++
	return nil
}

func (s *shard) get(id uint32) StreamHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.slot(id)
	if s.keys[i] != id {
		return nil
	}
	return s.vals[i]
}

func (s *shard) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *shard) forEach(fn func(id uint32, handle StreamHandle)) {
	s.mu.Lock()
	keys := append([]uint32(nil), s.keys...)
	vals := append([]StreamHandle(nil), s.vals...)
	s.mu.Unlock()

	for i, id := range keys {
		if id != 0 {
			fn(id, vals[i])
		}
	}
}

func (s *shard) grow() {
	oldKeys, oldVals := s.keys, s.vals
	s.keys = make([]uint32, len(oldKeys)*2)
	s.vals = make([]StreamHandle, len(oldVals)*2)
	for i, id := range oldKeys {
		if id == 0 {
			continue
		}
		j := s.slot(id)
		s.keys[j] = id
		s.vals[j] = oldVals[i]
	}
}

// remove implements deletion via Knuth's Algorithm R: the gap left at
// i is backfilled by scanning forward and relocating any entry whose
// ideal slot lies outside the (i,j] arc being vacated, so later
// lookups along the original probe sequence still terminate correctly
// without tombstones.
func (s *shard) remove(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := len(s.keys)
	i := s.slot(id)
	if s.keys[i] != id {
		return // not present
	}

	s.keys[i] = 0
	s.vals[i] = nil
	s.count--

	j := i
	for {
		j = (j + 1) % size
		if s.keys[j] == 0 {
			break
		}
		k := int(s.keys[j]) % size

		movable := false
		if i <= j {
			movable = !(k > i && k <= j)
		} else {
			movable = !(k <= j || k > i)
		}

		if !movable {
			continue
		}

		s.keys[i] = s.keys[j]
		s.vals[i] = s.vals[j]
		s.keys[j] = 0
		s.vals[j] = nil
		i = j
	}
}
