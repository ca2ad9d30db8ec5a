package media

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/dkeye/mediacore/internal/config"
	"github.com/dkeye/mediacore/internal/core"
	"github.com/dkeye/mediacore/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// RTPReader is the transport end of a Receiver. *webrtc.TrackRemote satisfies it.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type ReceiverConfig struct {
	Track     domain.TrackID
	Kind      domain.MediaKind
	Codec     string
	ClockRate uint32
	Media     config.Media
	OnDrop    func(*domain.FrameDropError)
	OnMute    func(muted bool)
}

// Receiver reassembles, reorders and decodes one remote track.
type Receiver struct {
	cfg    ReceiverConfig
	reader RTPReader
	dec    core.Decoder

	builder *samplebuilder.SampleBuilder
	jitter  *JitterBuffer
	mute    *MuteDetector
	frames  chan *domain.RawFrame

	deliverMu sync.Mutex
	stats     receiverCounters
	logger    zerolog.Logger
}

func NewReceiver(reader RTPReader, dec core.Decoder, cfg ReceiverConfig) (*Receiver, error) {
	depacketizer, err := Depacketizer(cfg.Codec)
	if err != nil {
		return nil, err
	}
	if cfg.ClockRate == 0 {
		cfg.ClockRate = CodecFor(cfg.Kind).ClockRate
	}
	if cfg.OnDrop == nil {
		cfg.OnDrop = func(*domain.FrameDropError) {}
	}
	maxLate := cfg.Media.SampleMaxLate
	if maxLate == 0 {
		maxLate = 64
	}
	buffer := max(cfg.Media.JitterWindow, 1)

	return &Receiver{
		cfg:     cfg,
		reader:  reader,
		dec:     dec,
		builder: samplebuilder.New(maxLate, depacketizer, cfg.ClockRate),
		jitter:  NewJitterBuffer(cfg.Media.JitterWindow, cfg.Media.JitterDelay),
		mute:    NewMuteDetector(cfg.Media.MuteTimeout, cfg.OnMute),
		frames:  make(chan *domain.RawFrame, buffer),
		logger: log.With().
			Str("module", "media").
			Str("track", string(cfg.Track)).
			Str("kind", cfg.Kind.String()).
			Logger(),
	}, nil
}

// Frames delivers decoded frames in sequence order. It is closed when Run
// returns.
func (r *Receiver) Frames() <-chan *domain.RawFrame { return r.frames }

func (r *Receiver) Stats() ReceiverStats { return r.stats.snapshot() }

func (r *Receiver) Muted() bool { return r.mute.Muted() }

// Run reads until the reader fails or ctx is done. The reader is not
// context-aware, so callers unblock it by closing the transport.
func (r *Receiver) Run(ctx context.Context) error {
	defer close(r.frames)
	r.logger.Info().Str("codec", r.cfg.Codec).Msg("receiver started")
	defer r.logger.Info().Msg("receiver stopped")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.mute.Run(gctx) })
	g.Go(func() error { return r.releaseLoop(gctx) })
	g.Go(func() error {
		defer cancel()
		return r.readLoop(gctx)
	})
	err := g.Wait()

	r.deliverMu.Lock()
	r.deliver(r.jitter.Flush())
	r.deliverMu.Unlock()
	return err
}

func (r *Receiver) readLoop(ctx context.Context) error {
	for {
		pkt, _, err := r.reader.ReadRTP()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
		r.stats.packets.Add(1)
		r.stats.bytes.Add(uint64(len(pkt.Payload)))
		r.mute.Touch()

		r.builder.Push(pkt)
		for s := r.builder.Pop(); s != nil; s = r.builder.Pop() {
			ef, err := UnmarshalFrame(s.Data, r.cfg.Codec)
			if err != nil {
				r.stats.errors.Add(1)
				r.logger.Debug().Err(err).Msg("bad frame")
				continue
			}
			r.stats.assembled.Add(1)
			ef.Track = r.cfg.Track
			if !r.jitter.Push(ef) {
				r.stats.late.Add(1)
				r.cfg.OnDrop(&domain.FrameDropError{Track: r.cfg.Track, Seq: ef.Seq, Reason: domain.DropLate})
			}
		}
		r.release()
	}
}

// releaseLoop lets frames held for a missing predecessor out once they time out.
func (r *Receiver) releaseLoop(ctx context.Context) error {
	if r.cfg.Media.JitterDelay <= 0 {
		return nil
	}
	t := time.NewTicker(max(r.cfg.Media.JitterDelay/4, 5*time.Millisecond))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			r.release()
		}
	}
}

func (r *Receiver) release() {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()
	r.deliver(r.jitter.Pop())
}

// deliver must be called with deliverMu held.
func (r *Receiver) deliver(frames []*domain.EncodedFrame) {
	for _, ef := range frames {
		raw, err := r.dec.Decode(ef)
		if err != nil {
			r.stats.errors.Add(1)
			continue
		}
		r.stats.decoded.Add(1)
		select {
		case r.frames <- raw:
		default:
			r.stats.dropped.Add(1)
			r.cfg.OnDrop(&domain.FrameDropError{Track: r.cfg.Track, Seq: ef.Seq, Reason: domain.DropSlowConsumer})
		}
	}
}
