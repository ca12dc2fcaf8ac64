package service

import "sync"

// RecordLocks serializes read-modify-write on a single reminder.
type RecordLocks struct {
	mu    sync.Mutex
	locks map[uint]*recordLock
}

type recordLock struct {
	mu   sync.Mutex
	refs int
}

func NewRecordLocks() *RecordLocks {
	return &RecordLocks{locks: make(map[uint]*recordLock)}
}

// Lock blocks until the record is free and returns the unlock func.
func (l *RecordLocks) Lock(id uint) func() {
	l.mu.Lock()
	lk, ok := l.locks[id]
	if !ok {
		lk = &recordLock{}
		l.locks[id] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()
	return func() {
		lk.mu.Unlock()
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
