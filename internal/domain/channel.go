package domain

type DataChannelState int32

const (
	ChannelConnecting DataChannelState = iota
	ChannelOpen
	ChannelClosing
	ChannelClosed
)

func (s DataChannelState) String() string {
	switch s {
	case ChannelConnecting:
		return "connecting"
	case ChannelOpen:
		return "open"
	case ChannelClosing:
		return "closing"
	case ChannelClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Reliability selects the SCTP delivery mode of a data channel.
// MaxRetransmits and MaxPacketLifeTime are mutually exclusive.
type Reliability struct {
	Ordered           bool    `json:"ordered"`
	MaxRetransmits    *uint16 `json:"maxRetransmits,omitempty"`
	MaxPacketLifeTime *uint16 `json:"maxPacketLifeTime,omitempty"`
}

func ReliableOrdered() Reliability { return Reliability{Ordered: true} }

// UnorderedPartial is unordered delivery with at most n retransmissions.
func UnorderedPartial(n uint16) Reliability {
	return Reliability{Ordered: false, MaxRetransmits: &n}
}

func (r Reliability) IsReliable() bool {
	return r.MaxRetransmits == nil && r.MaxPacketLifeTime == nil
}

func (r Reliability) Valid() bool {
	return r.MaxRetransmits == nil || r.MaxPacketLifeTime == nil
}
