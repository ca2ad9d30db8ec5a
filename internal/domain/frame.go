package domain

import "time"

// RawFrame is an uncompressed frame produced by a capture source. Video frames
// carry I420 planes packed back to back, audio frames carry PCM16 samples.
type RawFrame struct {
	Kind       MediaKind
	Timestamp  time.Duration // monotonic since source start
	Duration   time.Duration
	Width      int
	Height     int
	SampleRate int
	Data       []byte
}

// Clone copies the frame so the caller may keep it past the next pull.
func (f *RawFrame) Clone() *RawFrame {
	c := *f
	c.Data = append([]byte(nil), f.Data...)
	return &c
}

// EncodedFrame flows one way from the media pipeline to the transport.
type EncodedFrame struct {
	Track     TrackID
	Seq       uint64
	Timestamp time.Duration
	Duration  time.Duration
	Payload   []byte
	Codec     string
	Width     int
	Height    int
	Bitrate   int
	Keyframe  bool
}
