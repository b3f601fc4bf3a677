package session

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// maxReaders bounds concurrent snapshot readers; a writer acquires the
// full weight and therefore excludes all readers.
const maxReaders = 64

// RWLock is a reader/writer lock whose acquisition is cancellable through
// a context. Both acquire methods return a release func that is safe to
// call more than once.
type RWLock struct {
	sem *semaphore.Weighted
}

func NewRWLock() *RWLock {
	return &RWLock{sem: semaphore.NewWeighted(maxReaders)}
}

func (l *RWLock) AcquireRead(ctx context.Context) (func(), error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { l.sem.Release(1) }) }, nil
}

func (l *RWLock) AcquireWrite(ctx context.Context) (func(), error) {
	if err := l.sem.Acquire(ctx, maxReaders); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { l.sem.Release(maxReaders) }) }, nil
}
