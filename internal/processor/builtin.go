package processor

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dkeye/mediacore/internal/config"
	"github.com/dkeye/mediacore/internal/domain"
)

const (
	chromaNeutral = 128
	lumaBlack     = 16
)

func newPassthrough(string, config.Media) (Processor, error) {
	return Func{Label: "passthrough", Fn: func(*domain.RawFrame) Verdict { return Continue }}, nil
}

// i420Planes splits a packed I420 buffer. ok is false when the buffer does not
// match the frame geometry.
func i420Planes(f *domain.RawFrame) (y, u, v []byte, ok bool) {
	if f.Kind != domain.KindVideo || f.Width <= 0 || f.Height <= 0 {
		return nil, nil, nil, false
	}
	ySize := f.Width * f.Height
	cSize := ((f.Width + 1) / 2) * ((f.Height + 1) / 2)
	if len(f.Data) < ySize+2*cSize {
		return nil, nil, nil, false
	}
	return f.Data[:ySize], f.Data[ySize : ySize+cSize], f.Data[ySize+cSize : ySize+2*cSize], true
}

type grayscale struct{}

func newGrayscale(string, config.Media) (Processor, error) { return grayscale{}, nil }

func (grayscale) Name() string { return "grayscale" }

func (grayscale) Process(f *domain.RawFrame) Verdict {
	_, u, v, ok := i420Planes(f)
	if !ok {
		return Continue
	}
	fill(u, chromaNeutral)
	fill(v, chromaNeutral)
	return Continue
}

// background blanks everything outside a centred box covering ratio of each
// dimension, a cheap stand-in for segmentation-based background effects.
type background struct {
	ratio float64
}

func newBackground(arg string, _ config.Media) (Processor, error) {
	b := background{ratio: 0.5}
	if arg != "" {
		r, err := strconv.ParseFloat(arg, 64)
		if err != nil || r <= 0 || r > 1 {
			return nil, fmt.Errorf("invalid ratio %q", arg)
		}
		b.ratio = r
	}
	return b, nil
}

func (background) Name() string { return "background" }

func (b background) Process(f *domain.RawFrame) Verdict {
	y, u, v, ok := i420Planes(f)
	if !ok {
		return Continue
	}
	x0, y0, x1, y1 := b.box(f.Width, f.Height)
	for row := 0; row < f.Height; row++ {
		line := y[row*f.Width : (row+1)*f.Width]
		if row < y0 || row >= y1 {
			fill(line, lumaBlack)
			continue
		}
		fill(line[:x0], lumaBlack)
		fill(line[x1:], lumaBlack)
	}

	cw, ch := (f.Width+1)/2, (f.Height+1)/2
	for row := 0; row < ch; row++ {
		inRow := row*2 >= y0 && row*2 < y1
		for col := 0; col < cw; col++ {
			if inRow && col*2 >= x0 && col*2 < x1 {
				continue
			}
			u[row*cw+col] = chromaNeutral
			v[row*cw+col] = chromaNeutral
		}
	}
	return Continue
}

func (b background) box(w, h int) (x0, y0, x1, y1 int) {
	bw := int(float64(w) * b.ratio)
	bh := int(float64(h) * b.ratio)
	x0 = (w - bw) / 2
	y0 = (h - bh) / 2
	return x0, y0, x0 + bw, y0 + bh
}

// fpsLimit drops frames arriving faster than the configured rate. A small
// slack absorbs timestamp rounding from sources running at a multiple.
type fpsLimit struct {
	interval time.Duration
	next     time.Duration
	seen     bool
}

func newFPSLimit(arg string, cfg config.Media) (Processor, error) {
	fps := cfg.FPS
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid fps %q", arg)
		}
		fps = n
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid fps %d", fps)
	}
	return &fpsLimit{interval: time.Second / time.Duration(fps)}, nil
}

func (*fpsLimit) Name() string { return "fps-limit" }

func (p *fpsLimit) Process(f *domain.RawFrame) Verdict {
	if f.Kind != domain.KindVideo {
		return Continue
	}
	if p.seen && f.Timestamp < p.next-p.interval/8 {
		return Drop
	}
	if !p.seen || f.Timestamp-p.next > p.interval {
		p.next = f.Timestamp
	}
	p.seen = true
	p.next += p.interval
	return Continue
}

func fill(b []byte, val byte) {
	for i := range b {
		b[i] = val
	}
}
