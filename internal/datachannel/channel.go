// Package datachannel multiplexes labelled SCTP data channels over one
// PeerConnection.
package datachannel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/mediacore/internal/config"
	"github.com/dkeye/mediacore/internal/core"
	"github.com/dkeye/mediacore/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Message is one inbound data channel message.
type Message struct {
	Data []byte
	Text bool
}

// Channel is a single data channel. Inbound messages are delivered in arrival
// order; a slow reader stalls the SCTP stream rather than losing messages.
type Channel struct {
	label  string
	rel    domain.Reliability
	remote bool

	dc    *webrtc.DataChannel
	state atomic.Int32
	high  uint64

	recvMu     sync.RWMutex
	recvClosed bool
	msgs       chan Message
	done       chan struct{}
	closeOnce  sync.Once

	emit   func(core.Event)
	logger zerolog.Logger
}

func newChannel(dc *webrtc.DataChannel, rel domain.Reliability, remote bool, cfg config.DataChannel, emit func(core.Event), logger zerolog.Logger) *Channel {
	c := &Channel{
		label:  dc.Label(),
		rel:    rel,
		remote: remote,
		dc:     dc,
		high:   cfg.HighWatermark,
		msgs:   make(chan Message, max(cfg.RecvBuffer, 1)),
		done:   make(chan struct{}),
		emit:   emit,
		logger: logger.With().Str("label", dc.Label()).Logger(),
	}
	c.state.Store(int32(domain.ChannelConnecting))

	if cfg.LowWatermark > 0 {
		dc.SetBufferedAmountLowThreshold(cfg.LowWatermark)
	}
	dc.OnBufferedAmountLow(func() {
		c.emit(core.Event{Kind: core.EventChannelWritable, Channel: c.label})
	})
	dc.OnOpen(c.handleOpen)
	dc.OnClose(c.handleClose)
	dc.OnError(func(err error) {
		c.logger.Warn().Err(err).Msg("data channel error")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.recvMu.RLock()
		defer c.recvMu.RUnlock()
		if c.recvClosed {
			return
		}
		select {
		case c.msgs <- Message{Data: msg.Data, Text: msg.IsString}:
		case <-c.done:
		}
	})

	// remote channels may already be open by the time we wrap them
	if dc.ReadyState() == webrtc.DataChannelStateOpen {
		c.handleOpen()
	}
	return c
}

func (c *Channel) Label() string                   { return c.label }
func (c *Channel) Reliability() domain.Reliability { return c.rel }
func (c *Channel) Remote() bool                    { return c.remote }

func (c *Channel) State() domain.DataChannelState {
	return domain.DataChannelState(c.state.Load())
}

// BufferedAmount is the number of bytes queued but not yet sent.
func (c *Channel) BufferedAmount() uint64 { return c.dc.BufferedAmount() }

// Send queues data for delivery. It fails with ErrChannelClosed unless the
// channel is open and with ErrBufferFull when the outbound buffer would pass
// the high watermark; the caller may retry after EventChannelWritable.
func (c *Channel) Send(data []byte) error {
	if err := c.writable(len(data)); err != nil {
		return err
	}
	return c.sendErr(c.dc.Send(data))
}

func (c *Channel) SendText(s string) error {
	if err := c.writable(len(s)); err != nil {
		return err
	}
	return c.sendErr(c.dc.SendText(s))
}

func (c *Channel) writable(n int) error {
	if c.State() != domain.ChannelOpen {
		return domain.ErrChannelClosed
	}
	if c.high > 0 && c.dc.BufferedAmount()+uint64(n) > c.high {
		return domain.ErrBufferFull
	}
	return nil
}

func (c *Channel) sendErr(err error) error {
	if err == nil {
		return nil
	}
	if c.State() != domain.ChannelOpen {
		return domain.ErrChannelClosed
	}
	return fmt.Errorf("datachannel %s: send: %w", c.label, err)
}

// Messages is closed when the channel closes.
func (c *Channel) Messages() <-chan Message { return c.msgs }

// Recv waits for the next message.
func (c *Channel) Recv(ctx context.Context) (Message, error) {
	select {
	case m, ok := <-c.msgs:
		if !ok {
			return Message{}, domain.ErrChannelClosed
		}
		return m, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Close is idempotent. Sends fail with ErrChannelClosed from the moment it is
// called.
func (c *Channel) Close() error {
	for {
		s := c.State()
		if s == domain.ChannelClosing || s == domain.ChannelClosed {
			return nil
		}
		if c.state.CompareAndSwap(int32(s), int32(domain.ChannelClosing)) {
			break
		}
	}
	err := c.dc.Close()
	c.finish()
	return err
}

func (c *Channel) handleOpen() {
	if c.state.CompareAndSwap(int32(domain.ChannelConnecting), int32(domain.ChannelOpen)) {
		c.logger.Info().Bool("ordered", c.rel.Ordered).Msg("data channel open")
		c.emit(core.Event{Kind: core.EventChannelOpen, Channel: c.label})
	}
}

func (c *Channel) handleClose() { c.finish() }

func (c *Channel) finish() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(domain.ChannelClosed))
		close(c.done)
		c.recvMu.Lock()
		c.recvClosed = true
		close(c.msgs)
		c.recvMu.Unlock()
		c.logger.Info().Msg("data channel closed")
		c.emit(core.Event{Kind: core.EventChannelClosed, Channel: c.label})
	})
}
