package media

import "sync/atomic"

// SenderStats is a snapshot of a Sender's counters.
type SenderStats struct {
	FramesCaptured uint64
	FramesFiltered uint64
	FramesEncoded  uint64
	FramesDropped  uint64
	FramesSent     uint64
	BytesSent      uint64
	Keyframes      uint64
	Errors         uint64
}

type senderCounters struct {
	captured, filtered, encoded, dropped atomic.Uint64
	sent, bytes, keyframes, errors       atomic.Uint64
}

func (c *senderCounters) snapshot() SenderStats {
	return SenderStats{
		FramesCaptured: c.captured.Load(),
		FramesFiltered: c.filtered.Load(),
		FramesEncoded:  c.encoded.Load(),
		FramesDropped:  c.dropped.Load(),
		FramesSent:     c.sent.Load(),
		BytesSent:      c.bytes.Load(),
		Keyframes:      c.keyframes.Load(),
		Errors:         c.errors.Load(),
	}
}

// ReceiverStats is a snapshot of a Receiver's counters.
type ReceiverStats struct {
	PacketsReceived uint64
	BytesReceived   uint64
	FramesAssembled uint64
	FramesDecoded   uint64
	FramesLate      uint64
	FramesDropped   uint64
	Errors          uint64
}

type receiverCounters struct {
	packets, bytes, assembled, decoded atomic.Uint64
	late, dropped, errors              atomic.Uint64
}

func (c *receiverCounters) snapshot() ReceiverStats {
	return ReceiverStats{
		PacketsReceived: c.packets.Load(),
		BytesReceived:   c.bytes.Load(),
		FramesAssembled: c.assembled.Load(),
		FramesDecoded:   c.decoded.Load(),
		FramesLate:      c.late.Load(),
		FramesDropped:   c.dropped.Load(),
		Errors:          c.errors.Load(),
	}
}
