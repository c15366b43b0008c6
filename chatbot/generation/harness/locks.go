package harness

import (
	"context"
	"hash/fnv"
	"sync"
)

const lockShards = 64

// keyedLocker hands out one exclusive lock per key. Entries are refcounted and
// removed once nobody holds or waits for them.
type keyedLocker struct {
	shards [lockShards]lockShard
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sem  chan struct{}
	refs int
}

func newKeyedLocker() *keyedLocker {
	k := &keyedLocker{}
	for i := range k.shards {
		k.shards[i].locks = make(map[string]*keyedLock)
	}
	return k
}

func (k *keyedLocker) shard(key string) *lockShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &k.shards[h.Sum32()%lockShards]
}

// Lock blocks until key is free or ctx is done. The returned unlock is idempotent.
func (k *keyedLocker) Lock(ctx context.Context, key string) (unlock func(), err error) {
	s := k.shard(key)

	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyedLock{sem: make(chan struct{}, 1)}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		s.drop(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			s.drop(key, l)
		})
	}, nil
}

// TryLock takes the lock for key only if nobody holds it.
func (k *keyedLocker) TryLock(key string) (unlock func(), ok bool) {
	s := k.shard(key)

	s.mu.Lock()
	l, exists := s.locks[key]
	if !exists {
		l = &keyedLock{sem: make(chan struct{}, 1)}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	default:
		s.drop(key, l)
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			s.drop(key, l)
		})
	}, true
}

func (s *lockShard) drop(key string, l *keyedLock) {
	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, key)
	}
	s.mu.Unlock()
}

// size reports the number of live lock entries.
func (k *keyedLocker) size() int {
	n := 0
	for i := range k.shards {
		s := &k.shards[i]
		s.mu.Lock()
		n += len(s.locks)
		s.mu.Unlock()
	}
	return n
}
