package abr

import (
	"sync"
	"testing"
	"time"

	"github.com/dkeye/mediacore/internal/config"
	"github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.ABR {
	return config.ABR{
		MinBitrate:     100_000,
		MaxBitrate:     1_000_000,
		StartBitrate:   500_000,
		LossThreshold:  0.05,
		DecreaseFactor: 0.8,
		DecreaseAfter:  2,
		IncreaseStep:   100_000,
		IncreaseAfter:  3,
		RTTThreshold:   300 * time.Millisecond,
		StaleAfter:     time.Second,
	}
}

func TestController_DecreasesOnSustainedLoss(t *testing.T) {
	c := NewController(testConfig())
	start := c.Target()

	assert.Equal(t, start, c.Observe(Report{LossFraction: 0.2}), "single lossy report must not act yet")
	after := c.Observe(Report{LossFraction: 0.2})
	assert.Less(t, after, start)
	assert.Equal(t, 400_000, after)
}

func TestController_IncreasesOnSustainedCleanReports(t *testing.T) {
	c := NewController(testConfig())
	start := c.Target()

	c.Observe(Report{})
	c.Observe(Report{})
	assert.Equal(t, start, c.Target())
	c.Observe(Report{})
	assert.Greater(t, c.Target(), start)
}

func TestController_Bounds(t *testing.T) {
	c := NewController(testConfig())
	for range 100 {
		c.Observe(Report{})
	}
	assert.Equal(t, 1_000_000, c.Target())

	for range 100 {
		c.Observe(Report{LossFraction: 0.5})
	}
	assert.Equal(t, 100_000, c.Target())
}

func TestController_HoldsOnHighRTTOrMinorLoss(t *testing.T) {
	c := NewController(testConfig())
	start := c.Target()
	for range 10 {
		c.Observe(Report{RTT: time.Second})
		c.Observe(Report{LossFraction: 0.01})
	}
	assert.Equal(t, start, c.Target())
}

func TestController_StreakResetsOnMixedReports(t *testing.T) {
	c := NewController(testConfig())
	start := c.Target()
	for range 5 {
		c.Observe(Report{LossFraction: 0.3})
		c.Observe(Report{})
	}
	assert.Equal(t, start, c.Target())
}

func TestController_StartClamped(t *testing.T) {
	cfg := testConfig()
	cfg.StartBitrate = 10
	assert.Equal(t, cfg.MinBitrate, NewController(cfg).Target())
}

func TestController_OnChange(t *testing.T) {
	c := NewController(testConfig())
	var got []int
	c.OnChange(func(bps int) { got = append(got, bps) })

	c.Observe(Report{LossFraction: 0.5})
	c.Observe(Report{LossFraction: 0.5})
	require.Len(t, got, 1)
	assert.Equal(t, c.Target(), got[0])
}

func TestController_Stale(t *testing.T) {
	c := NewController(testConfig())
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	assert.True(t, c.Stale(), "no feedback yet")
	c.Observe(Report{})
	assert.False(t, c.Stale())
	now = now.Add(2 * time.Second)
	assert.True(t, c.Stale())
}

func TestController_ConcurrentReaders(t *testing.T) {
	c := NewController(testConfig())
	lo, hi := c.Bounds()

	var wg sync.WaitGroup
	done := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					bps := c.Target()
					if bps < lo || bps > hi {
						t.Errorf("target %d out of bounds", bps)
						return
					}
				}
			}
		}()
	}
	for i := range 1000 {
		loss := 0.0
		if i%7 < 3 {
			loss = 0.4
		}
		c.Observe(Report{LossFraction: loss})
	}
	close(done)
	wg.Wait()
}

func TestReportFromReceiverReport(t *testing.T) {
	now := time.Now()
	sent := now.Add(-150 * time.Millisecond)
	rr := rtcp.ReceptionReport{
		SSRC:             1,
		FractionLost:     64,
		LastSenderReport: ntpMiddle(sent),
		Delay:            uint32(50 * 65536 / 1000), // 50ms
	}

	r := ReportFromReceiverReport(rr, now)
	assert.InDelta(t, 0.25, r.LossFraction, 1e-9)
	assert.InDelta(t, float64(100*time.Millisecond), float64(r.RTT), float64(2*time.Millisecond))
}

func TestReportsFromPackets_FiltersSSRC(t *testing.T) {
	pkts := []rtcp.Packet{
		&rtcp.ReceiverReport{Reports: []rtcp.ReceptionReport{{SSRC: 1, FractionLost: 10}, {SSRC: 2}}},
		&rtcp.PictureLossIndication{MediaSSRC: 1},
	}
	got := ReportsFromPackets(pkts, map[uint32]struct{}{1: {}}, time.Now())
	require.Len(t, got, 1)
	assert.InDelta(t, 10.0/256.0, got[0].LossFraction, 1e-9)

	assert.Len(t, ReportsFromPackets(pkts, nil, time.Now()), 2)
}
