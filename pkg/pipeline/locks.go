package pipeline

import "sync"

// shipmentLocks serializes writers per shipment. Every field merge and
// state fold runs under the shipment's lock, which is what makes the
// authority and monotonicity invariants race-free without DB-level locking.
//
// Locks are never reclaimed; the map grows with the working set of shipment
// IDs touched during one process lifetime, which is bounded for a CLI run.
type shipmentLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newShipmentLocks() *shipmentLocks {
	return &shipmentLocks{locks: make(map[int64]*sync.Mutex)}
}

// acquire locks the shipment and returns the unlock function.
func (l *shipmentLocks) acquire(shipmentID int64) func() {
	l.mu.Lock()
	lock, ok := l.locks[shipmentID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[shipmentID] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
