package orch

import "github.com/dkeye/mediacore/internal/domain"

// Messages pushed to signaling clients. Client requests are decoded by the
// signaling adapter.

type DescriptionMsg struct {
	Type domain.DescriptionType `json:"type"`
	SDP  string                 `json:"sdp"`
}

type CandidateMsg struct {
	Type          string `json:"type"`
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

type StateMsg struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

type BitrateMsg struct {
	Type    string `json:"type"`
	Bitrate int    `json:"bitrate"`
}

type TrackMsg struct {
	Type  string           `json:"type"`
	From  domain.SessionID `json:"from"`
	Track domain.TrackID   `json:"track"`
	Kind  string           `json:"kind"`
}

type ChannelMsg struct {
	Type        string             `json:"type"`
	Label       string             `json:"label"`
	Reliability domain.Reliability `json:"reliability"`
}

type ErrorMsg struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func descriptionMsg(d domain.Description) DescriptionMsg {
	return DescriptionMsg{Type: d.Type, SDP: d.SDP}
}

func candidateMsg(c domain.Candidate) CandidateMsg {
	return CandidateMsg{
		Type:          "candidate",
		Candidate:     c.Raw,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
}

func errorMsg(err error) ErrorMsg {
	return ErrorMsg{Type: "error", Error: err.Error()}
}
