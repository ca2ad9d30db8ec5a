package domain

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

type MediaKind int

const (
	KindAudio MediaKind = iota + 1
	KindVideo
)

func (k MediaKind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// CodecType maps the kind onto pion's codec type.
func (k MediaKind) CodecType() webrtc.RTPCodecType {
	switch k {
	case KindAudio:
		return webrtc.RTPCodecTypeAudio
	case KindVideo:
		return webrtc.RTPCodecTypeVideo
	default:
		return 0
	}
}

func KindFromCodecType(t webrtc.RTPCodecType) MediaKind {
	switch t {
	case webrtc.RTPCodecTypeAudio:
		return KindAudio
	case webrtc.RTPCodecTypeVideo:
		return KindVideo
	default:
		return 0
	}
}

// Track is a local media track. It is owned by at most one session at a time;
// renderers and relays refer to it by ID only.
type Track struct {
	ID       TrackID
	Kind     MediaKind
	StreamID string
	Source   string

	enabled atomic.Bool

	mu    sync.Mutex
	owner SessionID
}

func NewTrack(kind MediaKind, streamID string) *Track {
	t := &Track{
		ID:       NewTrackID(),
		Kind:     kind,
		StreamID: streamID,
	}
	t.enabled.Store(true)
	return t
}

func (t *Track) Enabled() bool     { return t.enabled.Load() }
func (t *Track) SetEnabled(v bool) { t.enabled.Store(v) }

// Owner returns the session the track is attached to, or "".
func (t *Track) Owner() SessionID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.owner
}

// Bind attaches the track to sid. Rebinding to the same session is a no-op.
func (t *Track) Bind(sid SessionID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.owner != "" && t.owner != sid {
		return ErrTrackOwned
	}
	t.owner = sid
	return nil
}

// Unbind releases the track if sid owns it.
func (t *Track) Unbind(sid SessionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.owner == sid {
		t.owner = ""
	}
}
