// Package interactions correlates deferred chat requests with the
// asynchronous replies that answer them.
//
// A request is registered before it is forwarded to the plugin, and is
// either resolved by the matching reply or expired by the periodic sweep.
// Both outcomes remove the entry.
package interactions

import (
	"sync"
	"time"

	"github.com/scpdiscord/scpdiscord/pkg/logger"
)

const DefaultTimeout = 30 * time.Second

// Entry is one pending request. Handle is whatever the transport needs to
// answer the original request; the table never looks inside it.
type Entry struct {
	RequestID uint64
	CreatedAt time.Time
	ChannelID uint64
	UserID    uint64
	Command   string
	Handle    any
}

type Option func(*Table)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Table) {
		t.now = now
	}
}

// WithRequestTime derives an entry's creation time from its request id,
// e.g. from the timestamp embedded in a snowflake.
func WithRequestTime(fn func(requestID uint64) (time.Time, bool)) Option {
	return func(t *Table) {
		t.requestTime = fn
	}
}

// Table holds pending requests keyed by request id. Several entries may
// share an id; they resolve oldest first.
type Table struct {
	mu          sync.Mutex
	entries     map[uint64][]Entry
	size        int
	timeout     time.Duration
	now         func() time.Time
	requestTime func(uint64) (time.Time, bool)
}

func NewTable(timeout time.Duration, opts ...Option) *Table {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	t := &Table{
		entries: make(map[uint64][]Entry),
		timeout: timeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Table) Timeout() time.Duration {
	return t.timeout
}

// Register stores e and returns it with CreatedAt filled in.
func (t *Table) Register(e Entry) Entry {
	if t.requestTime != nil {
		if created, ok := t.requestTime(e.RequestID); ok {
			e.CreatedAt = created
		}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now()
	}

	t.mu.Lock()
	dup := len(t.entries[e.RequestID]) > 0
	t.entries[e.RequestID] = append(t.entries[e.RequestID], e)
	t.size++
	t.mu.Unlock()

	if dup {
		logger.WarnCF("interactions", "Request id registered twice, replies resolve oldest first", map[string]any{
			"request_id": e.RequestID,
		})
	}
	logger.DebugCF("interactions", "Adding interaction to cache", map[string]any{
		"request_id": e.RequestID,
		"command":    e.Command,
	})
	return e
}

// Resolve removes and returns the oldest live entry for requestID. Expired
// entries for the id are purged first and never returned.
func (t *Table) Resolve(requestID uint64) (Entry, bool) {
	now := t.now()

	var (
		e       Entry
		ok      bool
		expired []Entry
	)

	t.mu.Lock()
	list := t.entries[requestID]
	kept := list[:0]
	for _, x := range list {
		switch {
		case t.isExpired(x, now):
			expired = append(expired, x)
		case !ok:
			e, ok = x, true
		default:
			kept = append(kept, x)
		}
	}
	clear(list[len(kept):])
	t.store(requestID, kept)
	t.size -= len(expired)
	if ok {
		t.size--
	}
	t.mu.Unlock()

	for _, x := range expired {
		t.warnExpired(x, now)
	}

	if ok {
		logger.DebugCF("interactions", "Removing interaction from cache", map[string]any{
			"request_id": requestID,
		})
	}
	return e, ok
}

// SweepExpired removes every entry older than the timeout and warns once per
// removed entry. It returns the number removed.
func (t *Table) SweepExpired() int {
	now := t.now()

	var expired []Entry
	t.mu.Lock()
	for id, list := range t.entries {
		kept := list[:0]
		for _, e := range list {
			if t.isExpired(e, now) {
				expired = append(expired, e)
			} else {
				kept = append(kept, e)
			}
		}
		clear(list[len(kept):])
		t.store(id, kept)
	}
	t.size -= len(expired)
	t.mu.Unlock()

	for _, e := range expired {
		t.warnExpired(e, now)
	}
	return len(expired)
}

// Len is the number of pending entries, expired or not.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

func (t *Table) isExpired(e Entry, now time.Time) bool {
	return now.Sub(e.CreatedAt) > t.timeout
}

// store must be called with mu held.
func (t *Table) store(id uint64, list []Entry) {
	if len(list) == 0 {
		delete(t.entries, id)
		return
	}
	t.entries[id] = list
}

func (t *Table) warnExpired(e Entry, now time.Time) {
	logger.WarnCF("interactions", "Cached interaction timed out", map[string]any{
		"request_id": e.RequestID,
		"command":    e.Command,
		"channel_id": e.ChannelID,
		"age":        now.Sub(e.CreatedAt).Round(time.Millisecond).String(),
	})
}
