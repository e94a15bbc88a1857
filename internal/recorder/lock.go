package recorder

import "sync"

// LockManager hands out per-job locks so that two builds of the same job are
// never recorded at the same time. Different jobs record concurrently.
type LockManager struct {
	mu    sync.Mutex             // guards locks
	locks map[string]*sync.Mutex // one per job
}

// NewLockManager creates an empty lock manager.
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

// TryLock acquires the lock for jobName without blocking. It returns false
// when another build of the job is being recorded.
func (lm *LockManager) TryLock(jobName string) bool {
	lm.mu.Lock()
	lock, exists := lm.locks[jobName]
	if !exists {
		lock = &sync.Mutex{}
		lm.locks[jobName] = lock
	}
	lm.mu.Unlock()

	return lock.TryLock()
}

// Unlock releases the lock for jobName. Unlocking a job that was never
// locked is a no-op.
func (lm *LockManager) Unlock(jobName string) {
	lm.mu.Lock()
	lock := lm.locks[jobName]
	lm.mu.Unlock()

	if lock != nil {
		lock.Unlock()
	}
}
