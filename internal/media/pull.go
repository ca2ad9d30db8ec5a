// Package media moves frames between capture, encode and the transport.
//
// Sender: FrameSource -> processor.Chain -> capture queue -> Encoder -> encoded
// queue -> SampleWriter. Receiver: RTPReader -> samplebuilder -> bitstream ->
// JitterBuffer -> Decoder -> Frames().
package media

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/dkeye/mediacore/internal/core"
	"github.com/dkeye/mediacore/internal/domain"
	"github.com/rs/zerolog/log"
)

// Pull turns a source into a lazy sequence of frames. Each range over the
// returned sequence resets the source and starts again. Timestamps are clamped
// so they strictly increase within one iteration even when the source repeats
// or goes backwards. The sequence ends when ctx is done or the source fails.
func Pull(ctx context.Context, src core.FrameSource) iter.Seq[*domain.RawFrame] {
	return func(yield func(*domain.RawFrame) bool) {
		if err := src.Reset(); err != nil {
			log.Warn().Str("module", "media").Err(err).Msg("source reset failed")
			return
		}
		var (
			last  time.Duration
			first = true
		)
		for {
			f, err := src.Next(ctx)
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
					log.Warn().Str("module", "media").Str("kind", src.Kind().String()).Err(err).Msg("source stopped")
				}
				return
			}
			if f == nil {
				continue
			}
			if !first && f.Timestamp <= last {
				f.Timestamp = last + 1
			}
			first = false
			last = f.Timestamp
			if !yield(f) {
				return
			}
		}
	}
}
