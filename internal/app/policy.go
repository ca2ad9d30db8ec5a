package app

import "github.com/dkeye/mediacore/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	Retry
	DropMessage
	CloseChannel
)

func (a BackpressureAction) String() string {
	switch a {
	case NoAction:
		return "none"
	case Retry:
		return "retry"
	case DropMessage:
		return "drop"
	case CloseChannel:
		return "close"
	default:
		return "unknown"
	}
}

// Policy decides what to do when a relayed data-channel message hits a full
// send buffer. attempt counts the failed sends of the current message.
type Policy interface {
	OnBackpressure(rel domain.Reliability, attempt int) BackpressureAction
}

// SimplePolicy retries up to MaxRetries times. After that unreliable channels
// lose the message and reliable ones are closed, since a reliable channel
// must not skip a message silently.
type SimplePolicy struct {
	MaxRetries int
}

func (p SimplePolicy) OnBackpressure(rel domain.Reliability, attempt int) BackpressureAction {
	if attempt <= p.MaxRetries {
		return Retry
	}
	if rel.IsReliable() {
		return CloseChannel
	}
	return DropMessage
}
