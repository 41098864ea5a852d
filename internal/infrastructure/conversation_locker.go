package infrastructure

import (
	"context"
	"sync"
)

// ConversationLocker serializes work per conversation within this process.
type ConversationLocker struct {
	mu    sync.Mutex
	locks map[int64]*conversationLock
}

type conversationLock struct {
	ch      chan struct{}
	waiters int
}

func NewConversationLocker() *ConversationLocker {
	return &ConversationLocker{
		locks: make(map[int64]*conversationLock),
	}
}

// Lock blocks until the conversation is free or ctx is done. The returned
// function releases the lock and must be called exactly once.
func (l *ConversationLocker) Lock(ctx context.Context, conversationID int64) (func(), error) {
	l.mu.Lock()
	lock, exists := l.locks[conversationID]
	if !exists {
		lock = &conversationLock{ch: make(chan struct{}, 1)}
		l.locks[conversationID] = lock
	}
	lock.waiters++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(conversationID, lock, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(conversationID, lock, true) })
	}, nil
}

func (l *ConversationLocker) release(conversationID int64, lock *conversationLock, held bool) {
	if held {
		<-lock.ch
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.waiters--
	if lock.waiters == 0 {
		delete(l.locks, conversationID)
	}
}

// Active returns the number of conversations currently locked or awaited.
func (l *ConversationLocker) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
