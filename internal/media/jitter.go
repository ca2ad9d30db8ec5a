package media

import (
	"sync"
	"time"

	"github.com/dkeye/mediacore/internal/domain"
	"github.com/gammazero/deque"
)

type jitterItem struct {
	frame *domain.EncodedFrame
	at    time.Time
}

// firstSeq is the sequence number a Sender gives its first frame.
const firstSeq = 1

// JitterBuffer reorders encoded frames by sequence number. A frame is held
// until its predecessor arrives, the buffer holds window frames, or it has
// waited maxDelay; then the gap is skipped. Before anything was released the
// predecessor of firstSeq counts as delivered, so a stream joined late waits
// out the window once. Frames arriving behind the release point are dropped,
// never delivered out of order.
type JitterBuffer struct {
	window   int
	maxDelay time.Duration
	now      func() time.Time

	mu      sync.Mutex
	items   deque.Deque[jitterItem] // sorted by seq
	next    uint64
	started bool
	late    uint64
	skipped uint64
}

func NewJitterBuffer(window int, maxDelay time.Duration) *JitterBuffer {
	if window < 1 {
		window = 1
	}
	return &JitterBuffer{window: window, maxDelay: maxDelay, now: time.Now}
}

// Push inserts f. It returns false when f is late or a duplicate.
func (j *JitterBuffer) Push(f *domain.EncodedFrame) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.started && f.Seq < j.next {
		j.late++
		return false
	}

	// walk back from the tail; arrivals are mostly in order
	i := j.items.Len()
	for i > 0 {
		s := j.items.At(i - 1).frame.Seq
		if s == f.Seq {
			j.late++
			return false
		}
		if s < f.Seq {
			break
		}
		i--
	}
	item := jitterItem{frame: f, at: j.now()}
	if i == j.items.Len() {
		j.items.PushBack(item)
	} else {
		j.items.Insert(i, item)
	}
	return true
}

// Pop returns every frame that is ready for release, in sequence order.
func (j *JitterBuffer) Pop() []*domain.EncodedFrame {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []*domain.EncodedFrame
	now := j.now()
	for j.items.Len() > 0 {
		head := j.items.Front()
		expected := j.next
		if !j.started {
			expected = firstSeq
		}
		if head.frame.Seq != expected {
			full := j.items.Len() >= j.window
			expired := j.maxDelay > 0 && now.Sub(head.at) >= j.maxDelay
			if !full && !expired {
				break
			}
			if head.frame.Seq > expected {
				j.skipped += head.frame.Seq - expected
			}
		}
		j.items.PopFront()
		j.started = true
		j.next = head.frame.Seq + 1
		out = append(out, head.frame)
	}
	return out
}

// Flush releases everything still buffered.
func (j *JitterBuffer) Flush() []*domain.EncodedFrame {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]*domain.EncodedFrame, 0, j.items.Len())
	for j.items.Len() > 0 {
		it := j.items.PopFront()
		out = append(out, it.frame)
		j.started = true
		j.next = it.frame.Seq + 1
	}
	return out
}

func (j *JitterBuffer) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.items.Len()
}

// Late is the number of frames rejected for arriving behind the release point.
func (j *JitterBuffer) Late() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.late
}

// Skipped is the number of sequence numbers given up on.
func (j *JitterBuffer) Skipped() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.skipped
}
