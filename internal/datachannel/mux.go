package datachannel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dkeye/mediacore/internal/config"
	"github.com/dkeye/mediacore/internal/core"
	"github.com/dkeye/mediacore/internal/domain"
	"github.com/hashicorp/go-multierror"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrDuplicateLabel     = errors.New("datachannel: label already in use")
	ErrInvalidReliability = errors.New("datachannel: max retransmits and max packet lifetime are exclusive")
)

const acceptBacklog = 16

// Mux owns every data channel of one PeerConnection, local and remote.
type Mux struct {
	pc   *webrtc.PeerConnection
	cfg  config.DataChannel
	emit func(core.Event)

	mu       sync.RWMutex
	channels map[string]*Channel
	closed   bool

	accepted chan *Channel
	logger   zerolog.Logger
}

// NewMux attaches to pc. emit receives channel lifecycle events and may be nil.
func NewMux(pc *webrtc.PeerConnection, cfg config.DataChannel, emit func(core.Event)) *Mux {
	if emit == nil {
		emit = func(core.Event) {}
	}
	m := &Mux{
		pc:       pc,
		cfg:      cfg,
		emit:     emit,
		channels: make(map[string]*Channel),
		accepted: make(chan *Channel, acceptBacklog),
		logger:   log.With().Str("module", "datachannel").Logger(),
	}
	pc.OnDataChannel(m.onDataChannel)
	return m
}

// WithLogger replaces the mux logger, typically with one carrying the session id.
func (m *Mux) WithLogger(l zerolog.Logger) *Mux {
	m.logger = l.With().Str("module", "datachannel").Logger()
	return m
}

// Open creates a local channel. It starts in connecting and becomes open once
// the SCTP association is up.
func (m *Mux) Open(label string, rel domain.Reliability) (*Channel, error) {
	if !rel.Valid() {
		return nil, ErrInvalidReliability
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, domain.ErrChannelClosed
	}
	if _, ok := m.channels[label]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateLabel, label)
	}

	ordered := rel.Ordered
	dc, err := m.pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered:           &ordered,
		MaxRetransmits:    rel.MaxRetransmits,
		MaxPacketLifeTime: rel.MaxPacketLifeTime,
	})
	if err != nil {
		return nil, fmt.Errorf("datachannel %s: create: %w", label, err)
	}
	c := newChannel(dc, rel, false, m.cfg, m.emit, m.logger)
	m.channels[label] = c
	m.logger.Debug().Str("label", label).Bool("ordered", rel.Ordered).Msg("data channel created")
	return c, nil
}

// Accept waits for the next channel opened by the remote peer.
func (m *Mux) Accept(ctx context.Context) (*Channel, error) {
	select {
	case c, ok := <-m.accepted:
		if !ok {
			return nil, domain.ErrChannelClosed
		}
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Mux) Get(label string) (*Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.channels[label]
	return c, ok
}

func (m *Mux) Labels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.channels))
	for l := range m.channels {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// CloseAll closes every channel and rejects further opens. Safe to call twice.
func (m *Mux) CloseAll() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	chans := make([]*Channel, 0, len(m.channels))
	for _, c := range m.channels {
		chans = append(chans, c)
	}
	close(m.accepted)
	m.mu.Unlock()

	var result *multierror.Error
	for _, c := range chans {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("datachannel %s: %w", c.Label(), err))
		}
	}
	return result.ErrorOrNil()
}

func (m *Mux) onDataChannel(dc *webrtc.DataChannel) {
	rel := domain.Reliability{
		Ordered:           dc.Ordered(),
		MaxRetransmits:    dc.MaxRetransmits(),
		MaxPacketLifeTime: dc.MaxPacketLifeTime(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		_ = dc.Close()
		return
	}
	key := dc.Label()
	if _, ok := m.channels[key]; ok {
		if id := dc.ID(); id != nil {
			key = fmt.Sprintf("%s#%d", key, *id)
		}
	}
	m.logger.Info().Str("label", key).Msg("remote data channel")
	m.emit(core.Event{Kind: core.EventDataChannel, Channel: key})

	c := newChannel(dc, rel, true, m.cfg, m.emit, m.logger)
	m.channels[key] = c
	select {
	case m.accepted <- c:
	default:
		m.logger.Warn().Str("label", key).Msg("accept backlog full, channel still reachable by label")
	}
}
