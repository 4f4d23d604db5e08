package feedback

import (
	"context"
	"sync"
)

// docLocks serialises read-modify-write cycles on one stored batch document.
// Entries exist only while some caller holds or waits for them.
type docLocks struct {
	mu    sync.Mutex
	locks map[string]*docLock
}

type docLock struct {
	sem  chan struct{}
	refs int
}

// lock blocks until key is free or ctx is done. The returned func releases
// the lock.
func (d *docLocks) lock(ctx context.Context, key string) (func(), error) {
	d.mu.Lock()
	if d.locks == nil {
		d.locks = make(map[string]*docLock)
	}
	l, ok := d.locks[key]
	if !ok {
		l = &docLock{sem: make(chan struct{}, 1)}
		d.locks[key] = l
	}
	l.refs++
	d.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		d.release(key, l)
		return nil, ctx.Err()
	}
	return func() {
		<-l.sem
		d.release(key, l)
	}, nil
}

func (d *docLocks) release(key string, l *docLock) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(d.locks, key)
	}
}

func (d *docLocks) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.locks)
}
