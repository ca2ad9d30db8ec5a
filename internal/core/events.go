package core

import (
	"sync"
	"time"

	"github.com/dkeye/mediacore/internal/domain"
	"github.com/gammazero/deque"
)

const (
	drainTimeout = time.Second
	// maxPending bounds the backlog of a reader that stopped draining.
	maxPending = 1024
)

type EventKind int

const (
	EventStateChanged EventKind = iota + 1
	EventLocalCandidate
	EventGatheringComplete
	EventRenegotiationNeeded
	EventRemoteTrack
	EventTrackMuted
	EventTrackUnmuted
	EventFrameDropped
	EventDataChannel
	EventChannelOpen
	EventChannelClosed
	EventChannelWritable
	EventBitrateChanged
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventLocalCandidate:
		return "local_candidate"
	case EventGatheringComplete:
		return "gathering_complete"
	case EventRenegotiationNeeded:
		return "renegotiation_needed"
	case EventRemoteTrack:
		return "remote_track"
	case EventTrackMuted:
		return "track_muted"
	case EventTrackUnmuted:
		return "track_unmuted"
	case EventFrameDropped:
		return "frame_dropped"
	case EventDataChannel:
		return "data_channel"
	case EventChannelOpen:
		return "channel_open"
	case EventChannelClosed:
		return "channel_closed"
	case EventChannelWritable:
		return "channel_writable"
	case EventBitrateChanged:
		return "bitrate_changed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single notification from a session. Only the fields relevant to
// Kind are set. Count is the number of frames an EventFrameDropped stands for:
// drops of one track queued back to back are merged.
type Event struct {
	Kind        EventKind
	Session     domain.SessionID
	At          time.Time
	State       domain.SessionState
	Prev        domain.SessionState
	Candidate   *domain.Candidate
	Description *domain.Description
	Track       domain.TrackID
	Media       domain.MediaKind
	Channel     string
	Bitrate     int
	Count       int
	Err         error
}

// EventStream delivers events in emission order without ever blocking the
// emitter. Pending events are kept in a deque and pumped to a channel. Once
// limit events are pending, lossy events (frame drops, bitrate changes,
// writable notifications) are discarded and counted; the rest are kept.
type EventStream struct {
	mu      sync.Mutex
	pending deque.Deque[Event]
	limit   int
	lost    uint64
	notify  chan struct{}
	out     chan Event
	closed  bool
	done    chan struct{}
}

func NewEventStream(buffer int) *EventStream {
	if buffer < 0 {
		buffer = 0
	}
	s := &EventStream{
		limit:  maxPending,
		notify: make(chan struct{}, 1),
		out:    make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go s.pump()
	return s
}

// C is the receive side consumed by the application.
func (s *EventStream) C() <-chan Event { return s.out }

// Emit queues ev. It returns false once the stream is closed.
func (s *EventStream) Emit(ev Event) bool {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if ev.Kind == EventFrameDropped {
		ev.Count = max(ev.Count, 1)
		if n := s.pending.Len(); n > 0 {
			if last := s.pending.Back(); last.Kind == EventFrameDropped && last.Track == ev.Track {
				last.Count += ev.Count
				last.Err = ev.Err
				s.pending.Set(n-1, last)
				s.mu.Unlock()
				return true
			}
		}
	}
	if s.pending.Len() >= s.limit && lossy(ev.Kind) {
		s.lost++
		s.mu.Unlock()
		return true
	}
	s.pending.PushBack(ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

func lossy(k EventKind) bool {
	switch k {
	case EventFrameDropped, EventBitrateChanged, EventChannelWritable:
		return true
	}
	return false
}

// Lost is the number of lossy events discarded while the backlog was full.
func (s *EventStream) Lost() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost
}

// Close stops accepting events. Queued events are still delivered before C is
// closed, as long as a reader keeps draining it.
func (s *EventStream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Done is closed after the last event was handed to C and C was closed.
func (s *EventStream) Done() <-chan struct{} { return s.done }

func (s *EventStream) pump() {
	defer close(s.done)
	defer close(s.out)
	for {
		s.mu.Lock()
		if s.pending.Len() == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			<-s.notify
			continue
		}
		ev := s.pending.PopFront()
		s.mu.Unlock()
		if !s.deliver(ev) {
			return
		}
	}
}

// deliver blocks until ev is taken. After Close it gives the reader
// drainTimeout to catch up and then abandons the remaining events.
func (s *EventStream) deliver(ev Event) bool {
	for {
		select {
		case s.out <- ev:
			return true
		case <-s.notify:
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				continue
			}
			select {
			case s.out <- ev:
				return true
			case <-time.After(drainTimeout):
				return false
			}
		}
	}
}
