package session

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dkeye/mediacore/internal/domain"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// codecs the default media engine can negotiate
var supportedCodecs = map[string]struct{}{
	"vp8":  {},
	"vp9":  {},
	"h264": {},
	"av1":  {},
	"opus": {},
	"g722": {},
	"pcmu": {},
	"pcma": {},
}

func negotiationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrNegotiation, fmt.Sprintf(format, args...))
}

// validateRemote rejects descriptions pion would accept but the session
// cannot use: answers that do not match the local offer and media sections
// without a single usable codec.
func (s *Session) validateRemote(d domain.Description) error {
	if d.Type == domain.DescriptionRollback {
		return nil
	}
	remote, err := parseSDP(d.SDP)
	if err != nil {
		return err
	}

	if d.Type == domain.DescriptionAnswer || d.Type == domain.DescriptionPranswer {
		st := s.pc.SignalingState()
		if st != webrtc.SignalingStateHaveLocalOffer && st != webrtc.SignalingStateHaveRemotePranswer {
			return negotiationError("%s in signaling state %s", d.Type, st)
		}
		if local := s.pc.LocalDescription(); local != nil {
			offer, err := parseSDP(local.SDP)
			if err != nil {
				return err
			}
			if err := matchSections(offer, remote); err != nil {
				return err
			}
		}
	}

	for i, m := range remote.MediaDescriptions {
		kind := m.MediaName.Media
		if kind != "audio" && kind != "video" {
			continue
		}
		if m.MediaName.Port.Value == 0 {
			continue // rejected section
		}
		if !hasSupportedCodec(remote, m) {
			return negotiationError("m-section %d (%s) has no supported codec", i, kind)
		}
	}
	return nil
}

func parseSDP(raw string) (*sdp.SessionDescription, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return nil, negotiationError("malformed sdp: %v", err)
	}
	return &sd, nil
}

func matchSections(offer, answer *sdp.SessionDescription) error {
	if len(offer.MediaDescriptions) != len(answer.MediaDescriptions) {
		return negotiationError("answer has %d m-sections, offer has %d",
			len(answer.MediaDescriptions), len(offer.MediaDescriptions))
	}
	for i := range offer.MediaDescriptions {
		o := offer.MediaDescriptions[i].MediaName.Media
		a := answer.MediaDescriptions[i].MediaName.Media
		if o != a {
			return negotiationError("m-section %d is %s in answer, %s in offer", i, a, o)
		}
	}
	return nil
}

func hasSupportedCodec(sd *sdp.SessionDescription, m *sdp.MediaDescription) bool {
	for _, f := range m.MediaName.Formats {
		pt, err := strconv.ParseUint(f, 10, 8)
		if err != nil {
			continue
		}
		c, err := sd.GetCodecForPayloadType(uint8(pt))
		if err != nil {
			continue
		}
		if _, ok := supportedCodecs[strings.ToLower(c.Name)]; ok {
			return true
		}
	}
	return false
}
