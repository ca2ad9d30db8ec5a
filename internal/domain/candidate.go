package domain

import (
	"fmt"
	"strings"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
)

// Candidate is an immutable ICE candidate as exchanged over signaling.
type Candidate struct {
	Foundation    string `json:"foundation,omitempty"`
	Component     uint16 `json:"component,omitempty"`
	Protocol      string `json:"protocol,omitempty"`
	Address       string `json:"address,omitempty"`
	Port          int    `json:"port,omitempty"`
	Priority      uint32 `json:"priority,omitempty"`
	Type          string `json:"type,omitempty"`
	RelatedAddr   string `json:"relatedAddress,omitempty"`
	RelatedPort   int    `json:"relatedPort,omitempty"`
	Raw           string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

// ParseCandidate parses an SDP candidate attribute ("candidate:..." prefix optional).
func ParseCandidate(raw, sdpMid string, sdpMLineIndex uint16) (Candidate, error) {
	line := strings.TrimPrefix(strings.TrimSpace(raw), "a=")
	c, err := ice.UnmarshalCandidate(strings.TrimPrefix(line, "candidate:"))
	if err != nil {
		return Candidate{}, fmt.Errorf("%w: bad candidate: %v", ErrNegotiation, err)
	}
	out := Candidate{
		Foundation:    c.Foundation(),
		Component:     c.Component(),
		Protocol:      c.NetworkType().NetworkShort(),
		Address:       c.Address(),
		Port:          c.Port(),
		Priority:      c.Priority(),
		Type:          c.Type().String(),
		Raw:           line,
		SDPMid:        sdpMid,
		SDPMLineIndex: sdpMLineIndex,
	}
	if rel := c.RelatedAddress(); rel != nil {
		out.RelatedAddr = rel.Address
		out.RelatedPort = rel.Port
	}
	return out, nil
}

// CandidateFromInit converts a pion candidate init into a Candidate.
func CandidateFromInit(init webrtc.ICECandidateInit) (Candidate, error) {
	var mid string
	var idx uint16
	if init.SDPMid != nil {
		mid = *init.SDPMid
	}
	if init.SDPMLineIndex != nil {
		idx = *init.SDPMLineIndex
	}
	return ParseCandidate(init.Candidate, mid, idx)
}

// Init converts back into the form pion accepts.
func (c Candidate) Init() webrtc.ICECandidateInit {
	init := webrtc.ICECandidateInit{Candidate: c.Raw}
	if c.SDPMid != "" {
		mid := c.SDPMid
		init.SDPMid = &mid
	}
	idx := c.SDPMLineIndex
	init.SDPMLineIndex = &idx
	return init
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s %s %s:%d prio=%d", c.Type, c.Protocol, c.Address, c.Port, c.Priority)
}
