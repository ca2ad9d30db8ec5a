package domain

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestTrack_Bind(t *testing.T) {
	tr := NewTrack(KindVideo, "stream")
	if !tr.Enabled() {
		t.Fatal("new track should be enabled")
	}

	if err := tr.Bind("a"); err != nil {
		t.Fatalf("Bind(a) = %v", err)
	}
	if err := tr.Bind("a"); err != nil {
		t.Fatalf("rebind to same session = %v", err)
	}
	if err := tr.Bind("b"); !errors.Is(err, ErrTrackOwned) {
		t.Fatalf("Bind(b) = %v, want ErrTrackOwned", err)
	}

	tr.Unbind("b")
	if got := tr.Owner(); got != "a" {
		t.Fatalf("Unbind by non-owner changed owner to %q", got)
	}
	tr.Unbind("a")
	if err := tr.Bind("b"); err != nil {
		t.Fatalf("Bind(b) after release = %v", err)
	}
}

func TestMediaKind_CodecType(t *testing.T) {
	for _, k := range []MediaKind{KindAudio, KindVideo} {
		if got := KindFromCodecType(k.CodecType()); got != k {
			t.Errorf("round trip of %s = %s", k, got)
		}
	}
	if KindFromCodecType(webrtc.RTPCodecType(0)) != 0 {
		t.Error("unknown codec type should map to zero kind")
	}
}

func TestReliability(t *testing.T) {
	if !ReliableOrdered().IsReliable() {
		t.Error("ReliableOrdered should be reliable")
	}
	p := UnorderedPartial(2)
	if p.IsReliable() || p.Ordered {
		t.Errorf("UnorderedPartial = %+v", p)
	}
	if *p.MaxRetransmits != 2 {
		t.Errorf("MaxRetransmits = %d, want 2", *p.MaxRetransmits)
	}
	life := uint16(100)
	bad := Reliability{MaxRetransmits: p.MaxRetransmits, MaxPacketLifeTime: &life}
	if bad.Valid() {
		t.Error("retransmits and lifetime together must be invalid")
	}
}
