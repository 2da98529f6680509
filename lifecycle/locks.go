package lifecycle

import (
	"context"
	"sync"
	"time"
)

// lockTable serializes transitions per job id. Different jobs proceed fully
// in parallel; two requests for the same job queue on the same entry. Entries
// are refcounted and removed once the last holder releases, so the table does
// not grow with the job count.
//
// A keyed in-memory mutex is sufficient here because one process owns the
// database (SQLite), so there is no cross-process writer to coordinate with.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*jobLock
}

type jobLock struct {
	sem  chan struct{} // 1-slot semaphore
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*jobLock)}
}

// acquire blocks until the per-job lock is held, the timeout elapses, or ctx
// is done. On success the returned release function must be called exactly
// once.
func (lt *lockTable) acquire(ctx context.Context, jobID string, timeout time.Duration) (func(), error) {
	lt.mu.Lock()
	l, ok := lt.locks[jobID]
	if !ok {
		l = &jobLock{sem: make(chan struct{}, 1)}
		lt.locks[jobID] = l
	}
	l.refs++
	lt.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			lt.put(jobID, l)
		}, nil
	case <-timer.C:
		lt.put(jobID, l)
		return nil, ErrConcurrentModification
	case <-ctx.Done():
		lt.put(jobID, l)
		return nil, ctx.Err()
	}
}

// put drops one reference and evicts the entry when unused.
func (lt *lockTable) put(jobID string, l *jobLock) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(lt.locks, jobID)
	}
}
