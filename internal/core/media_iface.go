package core

import (
	"context"
	"io"

	"github.com/dkeye/mediacore/internal/domain"
)

// FrameSource produces raw frames for one local track. Next blocks until a frame
// is available or ctx is done. Reset rewinds the source so a new pull starts over.
type FrameSource interface {
	io.Closer
	Kind() domain.MediaKind
	Next(ctx context.Context) (*domain.RawFrame, error)
	Reset() error
}

// Encoder compresses raw frames to the advisory target bitrate. Implementations
// must honour ctx cancellation; the pipeline uses it to enforce the encode budget.
type Encoder interface {
	Codec() string
	Encode(ctx context.Context, frame *domain.RawFrame, targetBps int) (*domain.EncodedFrame, error)
	RequestKeyframe()
}

// Decoder turns encoded frames back into raw frames on the receive side.
type Decoder interface {
	Decode(frame *domain.EncodedFrame) (*domain.RawFrame, error)
}

// BitrateTarget is the read side of the adaptive bitrate controller.
type BitrateTarget interface {
	Target() int
}
