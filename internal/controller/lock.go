package controller

import "sync"

// idLocks serialises mutating rasctl calls per SCSI ID. The controller binary
// gives no ordering guarantee between concurrent attach/detach on one ID.
type idLocks struct {
	mu    sync.Mutex
	locks map[int]*sync.Mutex
}

func newIDLocks() *idLocks {
	return &idLocks{locks: map[int]*sync.Mutex{}}
}

func (l *idLocks) lock(id int) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
