package node

import (
	"context"
	"errors"
)

var (
	// ErrNodeLocked means another holder has an incompatible lock on the
	// node. The reconciliation loop treats it as "try again next tick".
	ErrNodeLocked = errors.New("node is locked by another holder")
	// ErrNodeNotFound means the node no longer exists in the store
	ErrNodeNotFound = errors.New("node not found")
	// ErrLockNotExclusive means a write was attempted through a shared session
	ErrLockNotExclusive = errors.New("operation requires an exclusive lock")
)

// PendingKind selects one class of pending operations
type PendingKind string

const (
	PendingRAIDCreate PendingKind = "raid-create"
	PendingRAIDDelete PendingKind = "raid-delete"
	PendingFirmware   PendingKind = "firmware"
	PendingBIOS       PendingKind = "bios"
)

// Kinds lists every pending-operation class
func Kinds() []PendingKind {
	return []PendingKind{PendingRAIDCreate, PendingRAIDDelete, PendingFirmware, PendingBIOS}
}

// Store is the node/session store facade. Multiple conductor processes
// share one store; all node mutation is serialized through its locks.
//
//go:generate mockgen -source=store.go -destination=store_mock.go -package=node
type Store interface {
	// Acquire takes a per-node lock and opens a session. It fails fast
	// with ErrNodeLocked instead of blocking when another holder has an
	// incompatible lock, and with ErrNodeNotFound when the node is gone.
	Acquire(ctx context.Context, nodeID string, exclusive bool) (Session, error)

	// ListPendingNodes returns the IDs of nodes whose stash carries a
	// non-empty pending set of the given kind. Implementations should
	// back this with an index, not a full scan of all node attributes.
	ListPendingNodes(kind PendingKind) ([]string, error)
}

// Session is one held lock on one node. Node() stays valid until
// Release. UpgradeLock must be atomic with respect to other lock
// requests: no unlock/relock window may open up.
type Session interface {
	Node() *Node
	UpgradeLock() error
	Save() error
	Release()
}
