package sfu

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dkeye/mediacore/internal/domain"
	"github.com/rs/zerolog"
)

// RelayKey names the remote track a relay reads from.
type RelayKey struct {
	Owner domain.SessionID
	Track domain.TrackID
}

// Relay fans the decoded frames of one remote track out to subscribers.
type Relay struct {
	Key  RelayKey
	Kind domain.MediaKind

	frames <-chan *domain.RawFrame

	mu        sync.RWMutex
	outTracks map[domain.SessionID]*OutTrack

	forwarded atomic.Uint64
	dropped   atomic.Uint64

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRelay(key RelayKey, kind domain.MediaKind, frames <-chan *domain.RawFrame, cancel context.CancelFunc) *Relay {
	return &Relay{
		Key:       key,
		Kind:      kind,
		frames:    frames,
		outTracks: make(map[domain.SessionID]*OutTrack),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Done is closed once the relay loop has exited.
func (r *Relay) Done() <-chan struct{} { return r.done }

// Forwarded and Dropped count per-subscriber deliveries.
func (r *Relay) Forwarded() uint64 { return r.forwarded.Load() }
func (r *Relay) Dropped() uint64   { return r.dropped.Load() }

// loop reads frames from the source track and forwards them to all OutTracks.
// It returns the subscriber tracks detached when it stopped.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) []*OutTrack {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all out tracks for delete")
			return r.markAllDelete()
		case f, ok := <-r.frames:
			if !ok {
				logger.Info().Msg("source track ended, stopping relay")
				return r.markAllDelete()
			}
			r.forward(f, logger)
		}
	}
}

func (r *Relay) forward(f *domain.RawFrame, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outTracks)
	r.mu.RUnlock()

	dirty := make([]domain.SessionID, 0, len(snapshot))
	for dst, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, dst)
		case TrackStateMuted:
		case TrackStateOk:
			// Each subscriber runs its own processor chain over the frame.
			if ot.offer(f.Clone()) {
				r.forwarded.Add(1)
				continue
			}
			if r.dropped.Add(1)%100 == 1 {
				logger.Debug().Str("dst_sid", string(dst)).Msg("subscriber lagging, frame dropped")
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sid := range dirty {
		if ot, ok := r.outTracks[sid]; ok && ot.GetState() == TrackStateDelete {
			delete(r.outTracks, sid)
		}
	}
}

// markAllDelete detaches every subscriber and returns their tracks.
func (r *Relay) markAllDelete() []*OutTrack {
	r.mu.Lock()
	defer r.mu.Unlock()
	outs := slices.Collect(maps.Values(r.outTracks))
	for _, ot := range outs {
		ot.MarkDelete()
	}
	clear(r.outTracks)
	return outs
}

// AddOutTrack attaches ot, replacing and deleting an earlier track of the
// same subscriber.
func (r *Relay) AddOutTrack(ot *OutTrack) {
	r.mu.Lock()
	old, ok := r.outTracks[ot.Dst]
	r.outTracks[ot.Dst] = ot
	r.mu.Unlock()
	if ok && old != ot {
		old.MarkDelete()
	}
}

func (r *Relay) removeOutTrack(dst domain.SessionID) (*OutTrack, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ot, ok := r.outTracks[dst]
	if ok {
		delete(r.outTracks, dst)
		ot.MarkDelete()
	}
	return ot, ok
}

func (r *Relay) setMuted(muted bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ot := range r.outTracks {
		if muted {
			ot.MarkMuted()
		} else {
			ot.MarkOk()
		}
	}
}

func (r *Relay) HasSubscriber(dst domain.SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.outTracks[dst]
	return ok
}

// Subscribers lists the sessions currently fed by the relay.
func (r *Relay) Subscribers() []domain.SessionID {
	r.mu.RLock()
	out := slices.Collect(maps.Keys(r.outTracks))
	r.mu.RUnlock()
	slices.Sort(out)
	return out
}
