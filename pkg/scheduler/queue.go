package scheduler

import (
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/scpdiscord/scpdiscord/pkg/logger"
	"github.com/scpdiscord/scpdiscord/pkg/utils"
)

// DefaultMaxLength is the Discord message body limit.
const DefaultMaxLength = 2000

// Batch is the text sent to one channel in one tick.
type Batch struct {
	ChannelID uint64
	Text      string
	Fragments int
}

// Queue keeps one FIFO of pending fragments per destination channel.
// Channel queues are created on first use and live as long as the Queue.
type Queue struct {
	mu        sync.RWMutex
	channels  map[uint64]*channelQueue
	maxLength int
}

type channelQueue struct {
	mu        sync.Mutex
	fragments []string
}

func NewQueue(maxLength int) *Queue {
	if maxLength < 2 {
		maxLength = DefaultMaxLength
	}
	return &Queue{
		channels:  make(map[uint64]*channelQueue),
		maxLength: maxLength,
	}
}

// MaxLength is the character limit of a single batch.
func (q *Queue) MaxLength() int {
	return q.maxLength
}

// Enqueue appends fragment to the channel's queue. A fragment that could
// never fit in a batch on its own is split into pieces first, so no channel
// can stall behind it.
func (q *Queue) Enqueue(channelID uint64, fragment string) {
	limit := q.maxLength - 1
	if utf8.RuneCountInString(fragment) <= limit {
		q.push(channelID, fragment)
		return
	}

	pieces := utils.SplitMessage(fragment, limit)
	logger.DebugCF("scheduler", "Split oversized fragment", map[string]any{
		"channel_id": channelID,
		"length":     utf8.RuneCountInString(fragment),
		"pieces":     len(pieces),
	})
	q.push(channelID, pieces...)
}

func (q *Queue) push(channelID uint64, fragments ...string) {
	cq := q.channel(channelID)
	cq.mu.Lock()
	cq.fragments = append(cq.fragments, fragments...)
	cq.mu.Unlock()
}

func (q *Queue) channel(channelID uint64) *channelQueue {
	q.mu.RLock()
	cq, ok := q.channels[channelID]
	q.mu.RUnlock()
	if ok {
		return cq
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if cq, ok = q.channels[channelID]; ok {
		return cq
	}
	cq = &channelQueue{}
	q.channels[channelID] = cq
	return cq
}

// ChannelIDs returns every channel that has ever been enqueued to, in ascending order.
func (q *Queue) ChannelIDs() []uint64 {
	q.mu.RLock()
	ids := make([]uint64, 0, len(q.channels))
	for id := range q.channels {
		ids = append(ids, id)
	}
	q.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// Len is the number of fragments queued for channelID.
func (q *Queue) Len(channelID uint64) int {
	q.mu.RLock()
	cq, ok := q.channels[channelID]
	q.mu.RUnlock()
	if !ok {
		return 0
	}

	cq.mu.Lock()
	defer cq.mu.Unlock()
	return len(cq.fragments)
}

// Pending is the number of fragments queued across all channels.
func (q *Queue) Pending() int {
	total := 0
	for _, id := range q.ChannelIDs() {
		total += q.Len(id)
	}
	return total
}

// take removes the longest prefix of the channel's queue that fits in one
// batch. held reports that fragments were left behind because of the limit.
func (q *Queue) take(channelID uint64) (batch Batch, held bool) {
	cq := q.channel(channelID)

	cq.mu.Lock()
	defer cq.mu.Unlock()

	var sb strings.Builder
	size, taken := 0, 0

	for taken < len(cq.fragments) {
		next := cq.fragments[taken]
		n := utf8.RuneCountInString(next)

		if size+n >= q.maxLength {
			if taken == 0 {
				// Only reachable for fragments that skipped Enqueue's split.
				pieces := utils.SplitMessage(next, q.maxLength-1)
				cq.fragments = slices.Replace(cq.fragments, 0, 1, pieces...)
				continue
			}
			held = true
			logger.WarnCF("scheduler", "Tried to send too much at once, holding the rest for the next tick", map[string]any{
				"channel_id": channelID,
				"current":    size,
				"next":       n,
				"queued":     len(cq.fragments) - taken,
			})
			break
		}

		sb.WriteString(next)
		sb.WriteByte('\n')
		size += n + 1
		taken++
	}

	clear(cq.fragments[:taken])
	cq.fragments = cq.fragments[taken:]
	if len(cq.fragments) == 0 {
		cq.fragments = nil
	}

	return Batch{
		ChannelID: channelID,
		Text:      strings.TrimSuffix(sb.String(), "\n"),
		Fragments: taken,
	}, held
}
