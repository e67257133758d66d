package stream

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLog mirrors the Redis consumer-group semantics in process: exclusive
// delivery per claim, redelivery after the visibility timeout, acknowledged
// entries retired. Tests drive the clock through Now.
type MemoryLog struct {
	mu         sync.Mutex
	entries    []*memoryEntry
	nextID     int
	visibility time.Duration

	// Now is injectable for redelivery tests; nil means time.Now.
	Now func() time.Time
}

type memoryEntry struct {
	entry       *Entry
	deliveredTo string
	deliveredAt time.Time
	acked       bool
}

// NewMemoryLog creates an in-memory log with the given visibility timeout.
func NewMemoryLog(visibility time.Duration) *MemoryLog {
	return &MemoryLog{visibility: visibility}
}

func (l *MemoryLog) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Initialize implements Log.
func (l *MemoryLog) Initialize(context.Context) error { return nil }

// Publish implements Log.
func (l *MemoryLog) Publish(_ context.Context, e *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	copied := *e
	copied.ID = fmt.Sprintf("%d-0", l.nextID)
	l.entries = append(l.entries, &memoryEntry{entry: &copied})
	return nil
}

// Claim implements Log. It polls rather than parks; the block duration
// bounds the wait the same way XREADGROUP's BLOCK does.
func (l *MemoryLog) Claim(ctx context.Context, consumer string, block time.Duration) (*Entry, error) {
	deadline := l.now().Add(block)
	for {
		if e := l.tryClaim(consumer); e != nil {
			copied := *e
			return &copied, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !l.now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (l *MemoryLog) tryClaim(consumer string) *Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for _, me := range l.entries {
		if me.acked {
			continue
		}
		undelivered := me.deliveredTo == ""
		expired := !undelivered && now.Sub(me.deliveredAt) >= l.visibility
		if undelivered || expired {
			me.deliveredTo = consumer
			me.deliveredAt = now
			return me.entry
		}
	}
	return nil
}

// Ack implements Log.
func (l *MemoryLog) Ack(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, me := range l.entries {
		if me.entry.ID == id {
			me.acked = true
			return nil
		}
	}
	return fmt.Errorf("ack unknown entry %s", id)
}

// Backlog implements Log.
func (l *MemoryLog) Backlog(context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for _, me := range l.entries {
		if !me.acked && me.deliveredTo == "" {
			n++
		}
	}
	return n, nil
}

// Stats implements Log.
func (l *MemoryLog) Stats(ctx context.Context) (*Info, error) {
	backlog, _ := l.Backlog(ctx)
	l.mu.Lock()
	defer l.mu.Unlock()
	info := &Info{Stream: "memory", Group: "memory", Length: int64(len(l.entries)), Backlog: backlog}
	for _, me := range l.entries {
		if !me.acked && me.deliveredTo != "" {
			info.Pending++
		}
	}
	return info, nil
}
