package interactions

import (
	"bytes"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scpdiscord/scpdiscord/pkg/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.UseConsole(os.Stderr) })
	return &buf
}

func TestRegisterThenResolve(t *testing.T) {
	table := NewTable(DefaultTimeout)

	ctx := "ctx1"
	table.Register(Entry{RequestID: 1, ChannelID: 10, Handle: ctx})
	require.Equal(t, 1, table.Len())

	e, ok := table.Resolve(1)
	require.True(t, ok)
	assert.Equal(t, ctx, e.Handle)
	assert.Equal(t, uint64(10), e.ChannelID)
	assert.False(t, e.CreatedAt.IsZero())
	assert.Equal(t, 0, table.Len())

	_, ok = table.Resolve(1)
	assert.False(t, ok)
}

func TestResolveUnknown(t *testing.T) {
	table := NewTable(DefaultTimeout)
	_, ok := table.Resolve(99)
	assert.False(t, ok)
}

func TestDuplicateIDsResolveOldestFirst(t *testing.T) {
	table := NewTable(DefaultTimeout)

	table.Register(Entry{RequestID: 5, Handle: "first"})
	table.Register(Entry{RequestID: 5, Handle: "second"})
	assert.Equal(t, 2, table.Len())

	e, ok := table.Resolve(5)
	require.True(t, ok)
	assert.Equal(t, "first", e.Handle)

	e, ok = table.Resolve(5)
	require.True(t, ok)
	assert.Equal(t, "second", e.Handle)

	_, ok = table.Resolve(5)
	assert.False(t, ok)
}

func TestResolveReleasesRemovedSlots(t *testing.T) {
	table := NewTable(DefaultTimeout)
	for _, h := range []string{"first", "second", "third"} {
		table.Register(Entry{RequestID: 5, Handle: h})
	}
	backing := table.entries[5]
	require.Len(t, backing, 3)

	_, ok := table.Resolve(5)
	require.True(t, ok)

	assert.Equal(t, "second", backing[0].Handle)
	assert.Equal(t, "third", backing[1].Handle)
	assert.Equal(t, Entry{}, backing[2])
}

func TestSweepReleasesRemovedSlots(t *testing.T) {
	clock := newFakeClock()
	table := NewTable(30*time.Second, WithClock(clock.Now))

	table.Register(Entry{RequestID: 7, Handle: "old"})
	clock.Advance(20 * time.Second)
	table.Register(Entry{RequestID: 7, Handle: "new"})
	backing := table.entries[7]
	require.Len(t, backing, 2)

	clock.Advance(15 * time.Second)
	assert.Equal(t, 1, table.SweepExpired())

	assert.Equal(t, "new", backing[0].Handle)
	assert.Equal(t, Entry{}, backing[1])
}

func TestSweepExpiresUnansweredRequest(t *testing.T) {
	buf := captureLogs(t)
	clock := newFakeClock()
	table := NewTable(30*time.Second, WithClock(clock.Now))

	table.Register(Entry{RequestID: 1001, Handle: "ctx1"})

	clock.Advance(29 * time.Second)
	assert.Equal(t, 0, table.SweepExpired())

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, table.SweepExpired())
	assert.Equal(t, 0, table.SweepExpired())
	assert.Equal(t, 0, table.Len())

	_, ok := table.Resolve(1001)
	assert.False(t, ok)

	assert.Equal(t, 1, strings.Count(buf.String(), "Cached interaction timed out"))
}

func TestResolvePurgesExpiredEntry(t *testing.T) {
	buf := captureLogs(t)
	clock := newFakeClock()
	table := NewTable(30*time.Second, WithClock(clock.Now))

	table.Register(Entry{RequestID: 7, Handle: "old"})
	clock.Advance(31 * time.Second)

	_, ok := table.Resolve(7)
	assert.False(t, ok)
	assert.Equal(t, 0, table.Len())
	assert.Equal(t, 0, table.SweepExpired())

	assert.Equal(t, 1, strings.Count(buf.String(), "Cached interaction timed out"))
}

func TestResolveSkipsExpiredDuplicate(t *testing.T) {
	captureLogs(t)
	clock := newFakeClock()
	table := NewTable(30*time.Second, WithClock(clock.Now))

	table.Register(Entry{RequestID: 3, Handle: "stale"})
	clock.Advance(20 * time.Second)
	table.Register(Entry{RequestID: 3, Handle: "fresh"})
	clock.Advance(15 * time.Second)

	e, ok := table.Resolve(3)
	require.True(t, ok)
	assert.Equal(t, "fresh", e.Handle)
	assert.Equal(t, 0, table.Len())
}

func TestRequestTimeOverridesClock(t *testing.T) {
	clock := newFakeClock()
	issued := clock.Now().Add(-10 * time.Second)
	table := NewTable(30*time.Second,
		WithClock(clock.Now),
		WithRequestTime(func(id uint64) (time.Time, bool) {
			if id == 0 {
				return time.Time{}, false
			}
			return issued, true
		}),
	)

	e := table.Register(Entry{RequestID: 1})
	assert.Equal(t, issued, e.CreatedAt)

	e = table.Register(Entry{RequestID: 0})
	assert.Equal(t, clock.Now(), e.CreatedAt)

	clock.Advance(21 * time.Second)
	assert.Equal(t, 1, table.SweepExpired())
	assert.Equal(t, 1, table.Len())
}

func TestConcurrentRegisterResolveSweep(t *testing.T) {
	table := NewTable(DefaultTimeout)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := uint64(w*1000 + i)
				table.Register(Entry{RequestID: id})
				if _, ok := table.Resolve(id); !ok {
					t.Errorf("Resolve(%d) missing right after Register", id)
				}
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			table.SweepExpired()
		}
	}()
	wg.Wait()

	assert.Equal(t, 0, table.Len())
}
