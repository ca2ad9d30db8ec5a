package domain

import "errors"

const MaxNameLen = 36

var (
	ErrNameTooLong = errors.New("name too long")
	ErrNameEmpty   = errors.New("name empty")
)

type RoomName string

// Room groups sessions whose remote tracks are relayed to each other.
type Room struct {
	Name RoomName
}

func NewRoomName(raw string) (RoomName, error) {
	if err := validName(raw); err != nil {
		return "", err
	}
	return RoomName(raw), nil
}

// Peer is the signaling-side identity of a session.
type Peer struct {
	ID   SessionID `json:"id"`
	Name string    `json:"name"`
}

func (p *Peer) SetName(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	p.Name = name
	return nil
}

func validName(s string) error {
	if len(s) == 0 {
		return ErrNameEmpty
	}
	if len(s) > MaxNameLen {
		return ErrNameTooLong
	}
	return nil
}
