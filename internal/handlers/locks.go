package handlers

import "sync"

// sessionLocks serializes streaming requests per session. Overlapping
// requests against one session would race on the history tail (a rapid
// double-submit, or a retry while a stream is still open), so the second
// request is rejected instead of queued: an SSE response can stay open for
// minutes and blocking on it would look like a hang to the client.
type sessionLocks struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{active: make(map[string]struct{})}
}

// tryAcquire marks the session as streaming, reporting false when another
// request already holds it.
func (l *sessionLocks) tryAcquire(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.active[sessionID]; ok {
		return false
	}
	l.active[sessionID] = struct{}{}
	return true
}

func (l *sessionLocks) release(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.active, sessionID)
}
