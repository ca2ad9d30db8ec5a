package media

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/dkeye/mediacore/internal/domain"
)

var ErrSourceClosed = errors.New("media: source closed")

// AudioFPS is the audio frame rate: 20 ms frames.
const AudioFPS = 50

// SyntheticConfig configures a SyntheticSource.
type SyntheticConfig struct {
	Kind       domain.MediaKind
	Width      int // video only
	Height     int
	FPS        int // video frames or audio packets per second
	SampleRate int // audio only
	Paced      bool
}

// SyntheticSource generates a moving-bar I420 test pattern for video or a
// 440 Hz PCM16 tone for audio. Unpaced sources return frames as fast as they
// are pulled while still stamping them at the nominal rate.
type SyntheticSource struct {
	cfg      SyntheticConfig
	interval time.Duration

	mu     sync.Mutex
	n      uint64
	start  time.Time
	closed bool
}

func NewSyntheticSource(cfg SyntheticConfig) *SyntheticSource {
	if cfg.Kind == 0 {
		cfg.Kind = domain.KindVideo
	}
	if cfg.FPS <= 0 {
		if cfg.Kind == domain.KindAudio {
			cfg.FPS = AudioFPS
		} else {
			cfg.FPS = 30
		}
	}
	if cfg.Width <= 0 {
		cfg.Width = 320
	}
	if cfg.Height <= 0 {
		cfg.Height = 240
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	return &SyntheticSource{
		cfg:      cfg,
		interval: time.Second / time.Duration(cfg.FPS),
	}
}

func (s *SyntheticSource) Kind() domain.MediaKind { return s.cfg.Kind }

func (s *SyntheticSource) Interval() time.Duration { return s.interval }

func (s *SyntheticSource) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSourceClosed
	}
	s.n = 0
	s.start = time.Time{}
	return nil
}

func (s *SyntheticSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *SyntheticSource) Next(ctx context.Context) (*domain.RawFrame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSourceClosed
	}
	if s.start.IsZero() {
		s.start = time.Now()
	}
	n := s.n
	s.n++
	due := s.start.Add(time.Duration(n) * s.interval)
	s.mu.Unlock()

	if s.cfg.Paced {
		if wait := time.Until(due); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	f := &domain.RawFrame{
		Kind:      s.cfg.Kind,
		Timestamp: time.Duration(n) * s.interval,
		Duration:  s.interval,
	}
	if s.cfg.Kind == domain.KindAudio {
		f.SampleRate = s.cfg.SampleRate
		f.Data = tone(n, s.cfg.SampleRate, s.cfg.FPS)
	} else {
		f.Width, f.Height = s.cfg.Width, s.cfg.Height
		f.Data = bars(n, s.cfg.Width, s.cfg.Height)
	}
	return f, nil
}

// bars draws eight vertical luma bars that scroll one column per frame.
func bars(n uint64, w, h int) []byte {
	ySize := w * h
	cSize := ((w + 1) / 2) * ((h + 1) / 2)
	buf := make([]byte, ySize+2*cSize)
	barW := max(w/8, 1)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			bar := ((x + int(n)) / barW) % 8
			buf[y*w+x] = byte(16 + bar*30)
		}
	}
	for i := ySize; i < len(buf); i++ {
		buf[i] = 128
	}
	return buf
}

func tone(n uint64, rate, pps int) []byte {
	samples := rate / pps
	buf := make([]byte, samples*2)
	base := int(n) * samples
	for i := 0; i < samples; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(base+i)/float64(rate)))
		buf[2*i] = byte(v)
		buf[2*i+1] = byte(v >> 8)
	}
	return buf
}
