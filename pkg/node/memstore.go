package node

import (
	"context"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// MemStore is the in-memory reference implementation of Store, used by
// the tests and by single-conductor deployments. The lock table gives
// real shared/exclusive semantics with an atomic upgrade.
type MemStore struct {
	mu    sync.Mutex
	nodes map[string]*Node
	locks map[string]*nodeLock

	logger *log.Entry
}

type nodeLock struct {
	readers int
	writer  bool
}

// NewMemStore creates an empty store
func NewMemStore() *MemStore {
	return &MemStore{
		nodes:  map[string]*Node{},
		locks:  map[string]*nodeLock{},
		logger: log.WithField("Module", "NodeStore"),
	}
}

// Add registers a node, overwriting any previous record with the same ID
func (s *MemStore) Add(n *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.ID] = n.DeepCopy()
}

// Acquire implements Store
func (s *MemStore) Acquire(_ context.Context, nodeID string, exclusive bool) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[nodeID]
	if !ok {
		return nil, ErrNodeNotFound
	}

	lock := s.locks[nodeID]
	if lock == nil {
		lock = &nodeLock{}
		s.locks[nodeID] = lock
	}
	if lock.writer || (exclusive && lock.readers > 0) {
		return nil, ErrNodeLocked
	}
	if exclusive {
		lock.writer = true
	} else {
		lock.readers++
	}

	return &memSession{
		store:     s,
		nodeID:    nodeID,
		node:      n.DeepCopy(),
		exclusive: exclusive,
	}, nil
}

// ListPendingNodes implements Store
func (s *MemStore) ListPendingNodes(kind PendingKind) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, n := range s.nodes {
		if n.HasPending(kind) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

type memSession struct {
	store     *MemStore
	nodeID    string
	node      *Node
	exclusive bool
	released  bool
}

func (ms *memSession) Node() *Node {
	return ms.node
}

// UpgradeLock turns a shared session into an exclusive one without a
// release/re-acquire window. It fails with ErrNodeLocked while any
// other reader still holds the node.
func (ms *memSession) UpgradeLock() error {
	ms.store.mu.Lock()
	defer ms.store.mu.Unlock()

	if ms.exclusive {
		return nil
	}
	lock := ms.store.locks[ms.nodeID]
	if lock == nil || lock.writer || lock.readers != 1 {
		return ErrNodeLocked
	}
	lock.readers = 0
	lock.writer = true
	ms.exclusive = true
	return nil
}

func (ms *memSession) Save() error {
	ms.store.mu.Lock()
	defer ms.store.mu.Unlock()

	if !ms.exclusive {
		return ErrLockNotExclusive
	}
	if _, ok := ms.store.nodes[ms.nodeID]; !ok {
		return ErrNodeNotFound
	}
	ms.store.nodes[ms.nodeID] = ms.node.DeepCopy()
	return nil
}

func (ms *memSession) Release() {
	ms.store.mu.Lock()
	defer ms.store.mu.Unlock()

	if ms.released {
		return
	}
	ms.released = true

	lock := ms.store.locks[ms.nodeID]
	if lock == nil {
		return
	}
	if ms.exclusive {
		lock.writer = false
	} else if lock.readers > 0 {
		lock.readers--
	}
	if !lock.writer && lock.readers == 0 {
		delete(ms.store.locks, ms.nodeID)
	}
}
