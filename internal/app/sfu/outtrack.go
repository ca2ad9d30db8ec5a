package sfu

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/mediacore/internal/domain"
	"github.com/dkeye/mediacore/internal/media"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

func (s TrackState) String() string {
	switch s {
	case TrackStateOk:
		return "ok"
	case TrackStateMuted:
		return "muted"
	case TrackStateDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// OutTrack represents a single outgoing track to a subscriber. It is the
// frame source of the subscriber's send pipeline.
type OutTrack struct {
	Dst   domain.SessionID
	Track domain.TrackID
	kind  domain.MediaKind

	frames    chan *domain.RawFrame
	state     atomic.Int32 // Zero by default (TrackStateOk)
	done      chan struct{}
	closeOnce sync.Once
}

func NewOutTrack(dst domain.SessionID, track domain.TrackID, kind domain.MediaKind, buffer int) *OutTrack {
	if buffer < 1 {
		buffer = 1
	}
	return &OutTrack{
		Dst:    dst,
		Track:  track,
		kind:   kind,
		frames: make(chan *domain.RawFrame, buffer),
		done:   make(chan struct{}),
	}
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

// MarkOk resumes a muted track. A deleted track stays deleted.
func (ot *OutTrack) MarkOk() {
	ot.state.CompareAndSwap(int32(TrackStateMuted), int32(TrackStateOk))
}

func (ot *OutTrack) MarkMuted() {
	ot.state.CompareAndSwap(int32(TrackStateOk), int32(TrackStateMuted))
}

// MarkDelete is terminal; the pending Next returns media.ErrSourceClosed.
func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
	ot.closeOnce.Do(func() { close(ot.done) })
}

// offer hands f to the subscriber without blocking.
func (ot *OutTrack) offer(f *domain.RawFrame) bool {
	select {
	case <-ot.done:
		return false
	default:
	}
	select {
	case ot.frames <- f:
		return true
	default:
		return false
	}
}

func (ot *OutTrack) Kind() domain.MediaKind { return ot.kind }

func (ot *OutTrack) Reset() error { return nil }

func (ot *OutTrack) Close() error {
	ot.MarkDelete()
	return nil
}

func (ot *OutTrack) Next(ctx context.Context) (*domain.RawFrame, error) {
	select {
	case f := <-ot.frames:
		return f, nil
	case <-ot.done:
		return nil, media.ErrSourceClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
