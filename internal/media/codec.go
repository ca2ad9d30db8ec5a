package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dkeye/mediacore/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
)

const (
	CodecVP8  = webrtc.MimeTypeVP8
	CodecOpus = webrtc.MimeTypeOpus
)

var ErrUnsupportedCodec = errors.New("media: unsupported codec")

// CodecFor picks the transport codec for a media kind.
func CodecFor(kind domain.MediaKind) webrtc.RTPCodecCapability {
	if kind == domain.KindAudio {
		return webrtc.RTPCodecCapability{MimeType: CodecOpus, ClockRate: 48000, Channels: 2}
	}
	return webrtc.RTPCodecCapability{MimeType: CodecVP8, ClockRate: 90000}
}

// Depacketizer returns the RTP depacketizer for mime.
func Depacketizer(mime string) (rtp.Depacketizer, error) {
	switch {
	case strings.EqualFold(mime, CodecVP8):
		return &codecs.VP8Packet{}, nil
	case strings.EqualFold(mime, CodecOpus):
		return &codecs.OpusPacket{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, mime)
	}
}

// PassthroughEncoder is a reference codec. It emits a payload whose size
// follows the advisory bitrate (bps / 8 / fps), filled from the frame data,
// so pipeline behaviour under rate changes is observable without a real
// codec. Delay simulates encode cost.
type PassthroughEncoder struct {
	codec string
	fps   int
	gop   uint64
	Delay time.Duration

	n        atomic.Uint64
	keyframe atomic.Bool
}

func NewPassthroughEncoder(kind domain.MediaKind, fps int) *PassthroughEncoder {
	if fps <= 0 {
		fps = 30
	}
	e := &PassthroughEncoder{
		codec: CodecFor(kind).MimeType,
		fps:   fps,
		gop:   uint64(fps) * 2,
	}
	e.keyframe.Store(true)
	return e
}

func (e *PassthroughEncoder) Codec() string { return e.codec }

func (e *PassthroughEncoder) RequestKeyframe() { e.keyframe.Store(true) }

func (e *PassthroughEncoder) Encode(ctx context.Context, f *domain.RawFrame, targetBps int) (*domain.EncodedFrame, error) {
	if e.Delay > 0 {
		t := time.NewTimer(e.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := e.n.Add(1) - 1
	key := e.keyframe.Swap(false) || n%e.gop == 0

	size := max(targetBps/8/e.fps, 1)
	payload := make([]byte, size)
	if len(f.Data) > 0 {
		for i := range payload {
			payload[i] = f.Data[i%len(f.Data)]
		}
	}
	return &domain.EncodedFrame{
		Timestamp: f.Timestamp,
		Duration:  f.Duration,
		Payload:   payload,
		Codec:     e.codec,
		Width:     f.Width,
		Height:    f.Height,
		Bitrate:   targetBps,
		Keyframe:  key,
	}, nil
}

// PassthroughDecoder reverses PassthroughEncoder: the payload becomes the raw
// frame data.
type PassthroughDecoder struct {
	kind       domain.MediaKind
	sampleRate int
}

func NewPassthroughDecoder(kind domain.MediaKind, sampleRate int) *PassthroughDecoder {
	return &PassthroughDecoder{kind: kind, sampleRate: sampleRate}
}

func (d *PassthroughDecoder) Decode(f *domain.EncodedFrame) (*domain.RawFrame, error) {
	if f == nil || len(f.Payload) == 0 {
		return nil, ErrBadFrame
	}
	out := &domain.RawFrame{
		Kind:      d.kind,
		Timestamp: f.Timestamp,
		Duration:  f.Duration,
		Data:      append([]byte(nil), f.Payload...),
	}
	if d.kind == domain.KindVideo {
		out.Width, out.Height = f.Width, f.Height
	} else {
		out.SampleRate = d.sampleRate
	}
	return out, nil
}
