package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	channelID uint64
	text      string
}

type fakeSink struct {
	mu      sync.Mutex
	ready   bool
	sends   []sent
	failFor map[uint64]error
	panicOn map[uint64]bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		ready:   true,
		failFor: make(map[uint64]error),
		panicOn: make(map[uint64]bool),
	}
}

func (s *fakeSink) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *fakeSink) setReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

func (s *fakeSink) SendText(_ context.Context, channelID uint64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicOn[channelID] {
		panic("boom")
	}
	if err := s.failFor[channelID]; err != nil {
		return err
	}
	s.sends = append(s.sends, sent{channelID: channelID, text: text})
	return nil
}

func (s *fakeSink) sentTo(channelID uint64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.sends {
		if m.channelID == channelID {
			out = append(out, m.text)
		}
	}
	return out
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sends)
}

type countingSweeper struct {
	mu    sync.Mutex
	calls int
}

func (c *countingSweeper) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return 0
}

func newTestDispatcher(sink Sink, sweepers ...Sweeper) (*Queue, *Dispatcher) {
	q := NewQueue(DefaultMaxLength)
	return q, NewDispatcher(q, sink, Config{Interval: 10 * time.Millisecond}, sweepers...)
}

func TestTickPacksUnderLimit(t *testing.T) {
	sink := newFakeSink()
	q, d := newTestDispatcher(sink)

	f1 := strings.Repeat("a", 700)
	f2 := strings.Repeat("b", 700)
	f3 := strings.Repeat("c", 700)
	q.Enqueue(42, f1)
	q.Enqueue(42, f2)
	q.Enqueue(42, f3)

	res := d.Tick(context.Background())
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.Held)

	got := sink.sentTo(42)
	require.Len(t, got, 1)
	assert.Equal(t, f1+"\n"+f2, got[0])
	assert.Len(t, got[0], 1401)
	assert.Equal(t, 1, q.Len(42))

	d.Tick(context.Background())
	got = sink.sentTo(42)
	require.Len(t, got, 2)
	assert.Equal(t, f3, got[1])
	assert.Equal(t, 0, q.Len(42))
}

func TestTickSkipsBlankBatch(t *testing.T) {
	sink := newFakeSink()
	q, d := newTestDispatcher(sink)

	q.Enqueue(7, "")
	q.Enqueue(8, "   ")

	res := d.Tick(context.Background())
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 0, sink.count())
	assert.Equal(t, 0, q.Len(7))
	assert.Equal(t, 0, q.Len(8))
}

func TestTickPreservesOrderAndBound(t *testing.T) {
	sink := newFakeSink()
	q, d := newTestDispatcher(sink)

	var want []string
	for i := 0; i < 60; i++ {
		f := fmt.Sprintf("msg-%02d-%s", i, strings.Repeat("x", 90+i))
		want = append(want, f)
		q.Enqueue(1, f)
	}

	for i := 0; i < 20 && q.Len(1) > 0; i++ {
		d.Tick(context.Background())
	}
	require.Equal(t, 0, q.Len(1))

	var got []string
	for _, batch := range sink.sentTo(1) {
		assert.LessOrEqual(t, utf8.RuneCountInString(batch), DefaultMaxLength)
		got = append(got, strings.Split(batch, "\n")...)
	}
	assert.Equal(t, want, got)
}

func TestTickSkippedWhenNotReady(t *testing.T) {
	sink := newFakeSink()
	sink.setReady(false)
	q, d := newTestDispatcher(sink)

	q.Enqueue(3, "hello")
	res := d.Tick(context.Background())
	assert.True(t, res.Skipped)
	assert.Equal(t, 0, sink.count())
	assert.Equal(t, 1, q.Len(3))

	sink.setReady(true)
	d.Tick(context.Background())
	assert.Equal(t, []string{"hello"}, sink.sentTo(3))
}

func TestSendFailureIsAtMostOnce(t *testing.T) {
	sink := newFakeSink()
	sink.failFor[1] = errors.New("missing permissions")
	q, d := newTestDispatcher(sink)

	q.Enqueue(1, "lost")
	q.Enqueue(2, "delivered")

	res := d.Tick(context.Background())
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, []string{"delivered"}, sink.sentTo(2))
	assert.Equal(t, 0, q.Len(1))

	delete(sink.failFor, 1)
	d.Tick(context.Background())
	assert.Empty(t, sink.sentTo(1))
}

func TestSinkPanicDoesNotStopOtherChannels(t *testing.T) {
	sink := newFakeSink()
	sink.panicOn[1] = true
	q, d := newTestDispatcher(sink)

	q.Enqueue(1, "explodes")
	q.Enqueue(2, "fine")

	res := d.Tick(context.Background())
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"fine"}, sink.sentTo(2))
}

func TestOversizedHeadDoesNotBlockOtherChannels(t *testing.T) {
	sink := newFakeSink()
	q, d := newTestDispatcher(sink)

	big := strings.Repeat("x", 5000)
	q.push(1, big)
	q.push(2, "small")

	d.Tick(context.Background())
	assert.Equal(t, []string{"small"}, sink.sentTo(2))

	for i := 0; i < 10 && q.Len(1) > 0; i++ {
		d.Tick(context.Background())
	}

	batches := sink.sentTo(1)
	require.NotEmpty(t, batches)
	for _, b := range batches {
		assert.LessOrEqual(t, utf8.RuneCountInString(b), DefaultMaxLength)
	}
	assert.Equal(t, big, strings.Join(batches, ""))
}

func TestEnqueueSplitsOversizedFragment(t *testing.T) {
	q := NewQueue(DefaultMaxLength)
	q.Enqueue(1, strings.Repeat("y", 4500))
	assert.Equal(t, 3, q.Len(1))
	assert.Equal(t, 3, q.Pending())
}

func TestConcurrentProducers(t *testing.T) {
	sink := newFakeSink()
	q, d := newTestDispatcher(sink)

	const producers = 10
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(uint64(p%3), fmt.Sprintf("p%d-%03d", p, i))
			}
		}(p)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			d.Tick(context.Background())
		}
	}()

	wg.Wait()
	<-done
	for i := 0; i < 50 && q.Pending() > 0; i++ {
		d.Tick(context.Background())
	}
	require.Equal(t, 0, q.Pending())

	next := make(map[string]int)
	total := 0
	for ch := uint64(0); ch < 3; ch++ {
		for _, batch := range sink.sentTo(ch) {
			for _, f := range strings.Split(batch, "\n") {
				var p, i int
				_, err := fmt.Sscanf(f, "p%d-%d", &p, &i)
				require.NoError(t, err)
				key := fmt.Sprint(p)
				assert.Equal(t, next[key], i, "producer %d out of order", p)
				next[key] = i + 1
				total++
			}
		}
	}
	assert.Equal(t, producers*perProducer, total)
}

func TestSweepersRunEveryTick(t *testing.T) {
	sink := newFakeSink()
	sink.setReady(false)
	sw := &countingSweeper{}
	_, d := newTestDispatcher(sink, sw)

	d.Tick(context.Background())
	d.Tick(context.Background())
	assert.Equal(t, 2, sw.calls)
}

func TestRunStopsOnCancel(t *testing.T) {
	sink := newFakeSink()
	q, d := newTestDispatcher(sink)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	q.Enqueue(5, "tick")
	require.Eventually(t, func() bool { return len(sink.sentTo(5)) == 1 }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, d.Run(ctx), ErrAlreadyRunning)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
