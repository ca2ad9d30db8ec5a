package abr

import (
	"time"

	"github.com/pion/rtcp"
)

// ReportFromReceiverReport builds a Report from one RTCP reception report block.
// RTT follows RFC 3550 §6.4.1: A - LSR - DLSR in 1/65536 s units, where A is
// the middle 32 bits of the NTP time the block was received.
func ReportFromReceiverReport(rr rtcp.ReceptionReport, now time.Time) Report {
	r := Report{
		LossFraction: float64(rr.FractionLost) / 256.0,
		At:           now,
	}
	if rr.LastSenderReport != 0 {
		a := ntpMiddle(now)
		rtt := a - rr.LastSenderReport - rr.Delay
		// guard against wrap from clock skew
		if int32(rtt) > 0 {
			r.RTT = time.Duration(float64(rtt) / 65536.0 * float64(time.Second))
		}
	}
	return r
}

// ReportsFromPackets extracts reports for the given local SSRCs from a compound
// RTCP packet. An empty ssrcs set accepts every block.
func ReportsFromPackets(pkts []rtcp.Packet, ssrcs map[uint32]struct{}, now time.Time) []Report {
	var out []Report
	for _, p := range pkts {
		var blocks []rtcp.ReceptionReport
		switch pkt := p.(type) {
		case *rtcp.ReceiverReport:
			blocks = pkt.Reports
		case *rtcp.SenderReport:
			blocks = pkt.Reports
		default:
			continue
		}
		for _, b := range blocks {
			if len(ssrcs) > 0 {
				if _, ok := ssrcs[b.SSRC]; !ok {
					continue
				}
			}
			out = append(out, ReportFromReceiverReport(b, now))
		}
	}
	return out
}

const ntpEpochOffset = 2208988800

func ntpMiddle(t time.Time) uint32 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(t.Nanosecond()) * (1 << 32) / uint64(time.Second)
	ntp := secs<<32 | frac
	return uint32(ntp >> 16)
}
