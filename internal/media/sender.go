package media

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/dkeye/mediacore/internal/config"
	"github.com/dkeye/mediacore/internal/core"
	"github.com/dkeye/mediacore/internal/domain"
	"github.com/dkeye/mediacore/internal/processor"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// SampleWriter is the transport end of a Sender. *webrtc.TrackLocalStaticSample
// satisfies it.
type SampleWriter interface {
	WriteSample(s media.Sample) error
}

type fixedTarget int

func (t fixedTarget) Target() int { return int(t) }

// FixedBitrate is a BitrateTarget that never changes, used for audio.
func FixedBitrate(bps int) core.BitrateTarget { return fixedTarget(bps) }

type SenderConfig struct {
	Track   *domain.Track
	Media   config.Media
	Chain   *processor.Chain
	Bitrate core.BitrateTarget
	OnDrop  func(*domain.FrameDropError)
}

// Sender drives one local track from its capture source to the transport.
type Sender struct {
	track   *domain.Track
	src     core.FrameSource
	enc     core.Encoder
	out     SampleWriter
	chain   *processor.Chain
	bitrate core.BitrateTarget
	onDrop  func(*domain.FrameDropError)

	budget   time.Duration
	interval time.Duration

	capture *Queue[*domain.RawFrame]
	encoded *Queue[*domain.EncodedFrame]

	seq    uint64 // owned by the encode loop
	stats  senderCounters
	logger zerolog.Logger
}

func NewSender(src core.FrameSource, enc core.Encoder, out SampleWriter, cfg SenderConfig) *Sender {
	if cfg.Chain == nil {
		cfg.Chain = processor.NewChain()
	}
	if cfg.Bitrate == nil {
		cfg.Bitrate = FixedBitrate(cfg.Media.AudioBitrate)
	}
	if cfg.OnDrop == nil {
		cfg.OnDrop = func(*domain.FrameDropError) {}
	}
	fps := cfg.Media.FPS
	if fps <= 0 {
		fps = 30
	}
	return &Sender{
		track:    cfg.Track,
		src:      src,
		enc:      enc,
		out:      out,
		chain:    cfg.Chain,
		bitrate:  cfg.Bitrate,
		onDrop:   cfg.OnDrop,
		budget:   cfg.Media.EncodeBudget,
		interval: time.Second / time.Duration(fps),
		capture:  NewQueue[*domain.RawFrame](cfg.Media.CaptureQueue, BlockBriefly, cfg.Media.CaptureBlock),
		encoded:  NewQueue[*domain.EncodedFrame](cfg.Media.EncodeQueue, DropOldest, 0),
		logger: log.With().
			Str("module", "media").
			Str("track", string(cfg.Track.ID)).
			Str("kind", cfg.Track.Kind.String()).
			Logger(),
	}
}

func (s *Sender) Stats() SenderStats { return s.stats.snapshot() }

func (s *Sender) RequestKeyframe() { s.enc.RequestKeyframe() }

// Run blocks until ctx is done or the source ends. Closing the transport
// also ends it.
func (s *Sender) Run(ctx context.Context) error {
	s.logger.Info().Str("codec", s.enc.Codec()).Msg("sender started")
	defer s.logger.Info().Msg("sender stopped")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.captureLoop(ctx) })
	g.Go(func() error { return s.encodeLoop(ctx) })
	g.Go(func() error { return s.writeLoop(ctx) })
	err := g.Wait()
	s.capture.Clear()
	s.encoded.Clear()
	return err
}

func (s *Sender) captureLoop(ctx context.Context) error {
	defer s.capture.Close()
	for f := range Pull(ctx, s.src) {
		s.stats.captured.Add(1)
		if !s.track.Enabled() {
			continue
		}
		if s.chain.Process(f) == processor.Drop {
			s.stats.filtered.Add(1)
			continue
		}
		if _, dropped, err := s.capture.Push(f); err != nil {
			return nil
		} else if dropped {
			s.drop(0, domain.DropCaptureFull)
		}
	}
	return nil
}

func (s *Sender) encodeLoop(ctx context.Context) error {
	defer s.encoded.Close()
	for {
		f, err := s.capture.Pop(ctx)
		if err != nil {
			return nil
		}

		ectx, cancel := ctx, context.CancelFunc(func() {})
		if s.budget > 0 {
			ectx, cancel = context.WithTimeout(ctx, s.budget)
		}
		start := time.Now()
		ef, err := s.enc.Encode(ectx, f, s.bitrate.Target())
		elapsed := time.Since(start)
		cancel()

		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) || (err == nil && s.budget > 0 && elapsed > s.budget) {
			s.drop(0, domain.DropEncodeBudget)
			continue
		}
		if err != nil {
			s.stats.errors.Add(1)
			s.logger.Warn().Err(err).Msg("encode failed")
			continue
		}

		s.seq++
		ef.Seq = s.seq
		ef.Track = s.track.ID
		if ef.Duration <= 0 {
			ef.Duration = s.interval
		}
		s.stats.encoded.Add(1)
		if ef.Keyframe {
			s.stats.keyframes.Add(1)
		}

		evicted, dropped, err := s.encoded.Push(ef)
		if err != nil {
			return nil
		}
		if dropped {
			s.drop(evicted.Seq, domain.DropEncodeQueue)
		}
	}
}

func (s *Sender) writeLoop(ctx context.Context) error {
	for {
		ef, err := s.encoded.Pop(ctx)
		if err != nil {
			return nil
		}
		data := MarshalFrame(ef)
		if err := s.out.WriteSample(media.Sample{Data: data, Duration: ef.Duration}); err != nil {
			if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) {
				return nil
			}
			s.stats.errors.Add(1)
			s.logger.Warn().Err(err).Uint64("seq", ef.Seq).Msg("write sample failed")
			continue
		}
		s.stats.sent.Add(1)
		s.stats.bytes.Add(uint64(len(data)))
	}
}

func (s *Sender) drop(seq uint64, reason domain.DropReason) {
	s.stats.dropped.Add(1)
	s.logger.Debug().Uint64("seq", seq).Str("reason", string(reason)).Msg("frame dropped")
	s.onDrop(&domain.FrameDropError{Track: s.track.ID, Seq: seq, Reason: reason})
}
