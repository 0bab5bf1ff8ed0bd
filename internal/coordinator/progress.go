package coordinator

import (
	"sync"

	"github.com/dshills/kbsync/pkg/types"
)

// subscriberBuffer is the per-subscriber queue length
const subscriberBuffer = 16

// broadcaster fans progress snapshots out to subscribers. Slow subscribers
// lose intermediate snapshots but always receive the latest one.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan types.IndexProgress
	next   int
	last   types.IndexProgress
	closed bool
}

func newBroadcaster(initial types.IndexProgress) *broadcaster {
	return &broadcaster{subs: make(map[int]chan types.IndexProgress), last: initial}
}

func (b *broadcaster) subscribe() (<-chan types.IndexProgress, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan types.IndexProgress, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	ch <- b.last

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

func (b *broadcaster) publish(p types.IndexProgress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = p
	for _, ch := range b.subs {
		select {
		case ch <- p:
		default:
			// Drop the oldest snapshot to make room for the newest
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- p:
			default:
			}
		}
	}
}

func (b *broadcaster) latest() types.IndexProgress {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// tracker owns the progress of one coordinator and publishes at a fixed
// cadence instead of on every file.
type tracker struct {
	every int
	out   *broadcaster

	mu        sync.Mutex
	p         types.IndexProgress
	sinceLast int
}

func newTracker(kind types.SourceKind, every int) *tracker {
	if every <= 0 {
		every = 10
	}
	initial := types.IndexProgress{Kind: kind, Status: types.StatusIdle}
	return &tracker{every: every, out: newBroadcaster(initial), p: initial}
}

func (t *tracker) begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p = types.IndexProgress{Kind: t.p.Kind, Status: types.StatusIndexing}
	t.sinceLast = 0
	t.out.publish(t.p)
}

func (t *tracker) setTotal(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.TotalFiles = n
	t.out.publish(t.p)
}

func (t *tracker) processed(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.ProcessedFiles += n
	t.sinceLast += n
	if t.sinceLast >= t.every {
		t.sinceLast = 0
		t.out.publish(t.p)
	}
}

func (t *tracker) skipped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.SkippedFiles++
}

func (t *tracker) removed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.RemovedFiles++
}

func (t *tracker) finish(segments int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.Status = types.StatusReady
	t.p.Segments = segments
	t.p.Error = ""
	t.out.publish(t.p)
}

func (t *tracker) fail(err error, segments int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.Status = types.StatusFailed
	t.p.Segments = segments
	t.p.Error = err.Error()
	t.out.publish(t.p)
}

// reset returns to Idle after the index was cleared
func (t *tracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p = types.IndexProgress{Kind: t.p.Kind, Status: types.StatusIdle}
	t.out.publish(t.p)
}

func (t *tracker) snapshot() types.IndexProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.p
}
