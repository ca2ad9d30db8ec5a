// Package domain contains the transport core's entities, states and error taxonomy.
package domain

import "github.com/google/uuid"

type (
	SessionID string
	TrackID   string
)

func NewSessionID() SessionID { return SessionID(uuid.NewString()) }

func NewTrackID() TrackID { return TrackID(uuid.NewString()) }
