package record

import "sync"

// ExceptionLog keeps the most recent formatted read exceptions of a session.
// Older messages are evicted once the limit is reached; Total still counts them.
type ExceptionLog struct {
	mu    sync.Mutex
	limit int
	ring  []string
	next  int
	total int
}

// NewExceptionLog keeps at most limit messages. A non-positive limit keeps one.
func NewExceptionLog(limit int) *ExceptionLog {
	if limit <= 0 {
		limit = 1
	}
	return &ExceptionLog{limit: limit, ring: make([]string, 0, limit)}
}

// Record stores msg, evicting the oldest message when full.
func (l *ExceptionLog) Record(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total++
	if len(l.ring) < l.limit {
		l.ring = append(l.ring, msg)
		return
	}
	l.ring[l.next] = msg
	l.next = (l.next + 1) % l.limit
}

// Recent returns the retained messages, oldest first.
func (l *ExceptionLog) Recent() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.ring))
	out = append(out, l.ring[l.next:]...)
	out = append(out, l.ring[:l.next]...)
	return out
}

// Total reports how many messages were recorded, evicted ones included.
func (l *ExceptionLog) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
