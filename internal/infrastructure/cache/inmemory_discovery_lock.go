package cache

import (
	"context"
	"sync"

	"github.com/crmgateway/backend/internal/domain/integration"
)

// keyLock is a one-slot semaphore shared by everyone waiting on a key
type keyLock struct {
	slot    chan struct{}
	waiters int
}

// InMemoryDiscoveryLocker serializes discovery runs per key within one process.
// This is suitable for single-instance deployments and testing
type InMemoryDiscoveryLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// NewInMemoryDiscoveryLocker creates a new in-memory discovery locker
func NewInMemoryDiscoveryLocker() *InMemoryDiscoveryLocker {
	return &InMemoryDiscoveryLocker{
		locks: make(map[string]*keyLock),
	}
}

// Lock blocks until key is free or ctx is done.
// The returned unlock func is safe to call more than once.
func (l *InMemoryDiscoveryLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{slot: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.waiters++
	l.mu.Unlock()

	select {
	case kl.slot <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.slot
			l.release(key, kl)
		})
	}, nil
}

// release drops the key entry once nobody holds or waits for it
func (l *InMemoryDiscoveryLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.waiters--
	if kl.waiters == 0 {
		delete(l.locks, key)
	}
}

// Size returns the number of keys currently held or awaited (for testing/monitoring)
func (l *InMemoryDiscoveryLocker) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// Ensure InMemoryDiscoveryLocker implements DiscoveryLocker
var _ integration.DiscoveryLocker = (*InMemoryDiscoveryLocker)(nil)
