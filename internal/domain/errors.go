package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when an operation is not valid in the session's current state.
	ErrInvalidState = errors.New("mediacore: invalid state")

	// ErrNegotiation is returned for incompatible or malformed descriptions.
	ErrNegotiation = errors.New("mediacore: negotiation failed")

	// ErrChannelClosed is returned when sending on a data channel that is not open.
	ErrChannelClosed = errors.New("mediacore: channel closed")

	// ErrBufferFull signals backpressure; the caller may retry later.
	ErrBufferFull = errors.New("mediacore: buffer full")

	// ErrFrameDropped is a non-fatal signal that a media frame was discarded.
	ErrFrameDropped = errors.New("mediacore: frame dropped")

	// ErrTimeout is returned when connectivity is not established in time.
	ErrTimeout = errors.New("mediacore: connectivity timeout")

	// ErrTrackOwned is returned when a track is already attached to another session.
	ErrTrackOwned = errors.New("mediacore: track owned by another session")

	// ErrTrackNotFound is returned for unknown track ids.
	ErrTrackNotFound = errors.New("mediacore: track not found")
)

// StateError describes an operation rejected because of the session state.
type StateError struct {
	Op    string
	State SessionState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s not allowed in state %s", ErrInvalidState, e.Op, e.State)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// DropReason says why a frame was discarded.
type DropReason string

const (
	DropEncodeBudget DropReason = "encode_budget"
	DropCaptureFull  DropReason = "capture_queue_full"
	DropEncodeQueue  DropReason = "encode_queue_full"
	DropProcessor    DropReason = "processor"
	DropLate         DropReason = "late"
	DropSlowConsumer DropReason = "slow_consumer"
)

// FrameDropError carries the reason and the frame sequence of a drop.
type FrameDropError struct {
	Track  TrackID
	Seq    uint64
	Reason DropReason
}

func (e *FrameDropError) Error() string {
	return fmt.Sprintf("%s: track %s seq %d (%s)", ErrFrameDropped, e.Track, e.Seq, e.Reason)
}

func (e *FrameDropError) Unwrap() error { return ErrFrameDropped }
