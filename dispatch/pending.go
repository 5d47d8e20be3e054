package dispatch

import (
	"sync"

	"github.com/aukilabs/pointcloud-viewer/protocol"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

const pendingShards = 32

// PendingTable maps the correlation ids of sent commands to the wait points of
// their callers. Its zero value is ready to use.
//
// A wait point is fulfilled at most once and is removed when fulfilled.
type PendingTable struct {
	shards [pendingShards]pendingShard
}

type pendingShard struct {
	mutex sync.Mutex
	waits map[uuid.UUID]chan protocol.Reply
}

// Insert creates the wait point for the given id. It returns false when a wait
// point with the same id is already pending.
func (t *PendingTable) Insert(id uuid.UUID) (<-chan protocol.Reply, bool) {
	s := t.shard(id)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.waits[id]; ok {
		return nil, false
	}

	if s.waits == nil {
		s.waits = make(map[uuid.UUID]chan protocol.Reply)
	}

	wait := make(chan protocol.Reply, 1)
	s.waits[id] = wait
	return wait, true
}

// Fulfill delivers the reply to the wait point matching its id and removes
// the wait point. It returns false when no wait point is pending for the id.
func (t *PendingTable) Fulfill(r protocol.Reply) bool {
	s := t.shard(r.ID)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	wait, ok := s.waits[r.ID]
	if !ok {
		return false
	}

	delete(s.waits, r.ID)
	wait <- r
	return true
}

// Remove removes the wait point with the given id. It returns false when the
// wait point was already fulfilled or removed.
func (t *PendingTable) Remove(id uuid.UUID) bool {
	s := t.shard(id)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.waits[id]; !ok {
		return false
	}

	delete(s.waits, id)
	return true
}

// Len returns the number of pending wait points.
func (t *PendingTable) Len() int {
	var n int
	for i := range t.shards {
		s := &t.shards[i]
		s.mutex.Lock()
		n += len(s.waits)
		s.mutex.Unlock()
	}
	return n
}

func (t *PendingTable) shard(id uuid.UUID) *pendingShard {
	return &t.shards[xxhash.Sum64(id[:])%pendingShards]
}
