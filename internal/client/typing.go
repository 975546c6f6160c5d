package client

import (
	"errors"
	"sync"
	"time"
)

const DefaultTypingWindow = 200 * time.Millisecond

var ErrTypingSuppressed = errors.New("local edits suppressed while a peer is typing")

type LockState int

const (
	Idle LockState = iota
	Suppressed
)

func (s LockState) String() string {
	if s == Suppressed {
		return "suppressed"
	}
	return "idle"
}

// TypingLock is the advisory single writer rule for the document: after a
// remote document change, local edits are refused for one window. Every
// further remote change restarts the window.
type TypingLock struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	until  time.Time
}

func NewTypingLock(window time.Duration, now func() time.Time) *TypingLock {
	if window <= 0 {
		window = DefaultTypingWindow
	}
	if now == nil {
		now = time.Now
	}
	return &TypingLock{window: window, now: now}
}

// Observe records a remote document change.
func (l *TypingLock) Observe() {
	l.mu.Lock()
	l.until = l.now().Add(l.window)
	l.mu.Unlock()
}

func (l *TypingLock) State() LockState {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.now().Before(l.until) {
		return Suppressed
	}
	return Idle
}

// Allow returns ErrTypingSuppressed while a peer is typing.
func (l *TypingLock) Allow() error {
	if l.State() == Suppressed {
		return ErrTypingSuppressed
	}
	return nil
}
