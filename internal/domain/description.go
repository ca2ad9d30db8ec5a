package domain

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

type DescriptionType string

const (
	DescriptionOffer    DescriptionType = "offer"
	DescriptionAnswer   DescriptionType = "answer"
	DescriptionPranswer DescriptionType = "pranswer"
	DescriptionRollback DescriptionType = "rollback"
)

// Description is the opaque SDP blob exchanged over the external signaling channel.
type Description struct {
	Type DescriptionType `json:"type"`
	SDP  string          `json:"sdp"`
}

func (d Description) ToWebRTC() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch d.Type {
	case DescriptionOffer:
		t = webrtc.SDPTypeOffer
	case DescriptionAnswer:
		t = webrtc.SDPTypeAnswer
	case DescriptionPranswer:
		t = webrtc.SDPTypePranswer
	case DescriptionRollback:
		t = webrtc.SDPTypeRollback
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("%w: unknown description type %q", ErrNegotiation, d.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}, nil
}

func DescriptionFromWebRTC(sd webrtc.SessionDescription) Description {
	return Description{Type: DescriptionType(sd.Type.String()), SDP: sd.SDP}
}
