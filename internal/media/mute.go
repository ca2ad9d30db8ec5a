package media

import (
	"context"
	"sync"
	"time"
)

// MuteDetector flags a remote track as muted when no packet arrived for
// timeout, and unmuted on the next packet.
type MuteDetector struct {
	timeout time.Duration
	onMute  func(muted bool)
	now     func() time.Time

	mu    sync.Mutex
	last  time.Time
	muted bool
}

func NewMuteDetector(timeout time.Duration, onMute func(muted bool)) *MuteDetector {
	if onMute == nil {
		onMute = func(bool) {}
	}
	return &MuteDetector{timeout: timeout, onMute: onMute, now: time.Now}
}

// Touch records activity.
func (m *MuteDetector) Touch() {
	m.mu.Lock()
	m.last = m.now()
	wasMuted := m.muted
	m.muted = false
	m.mu.Unlock()
	if wasMuted {
		m.onMute(false)
	}
}

func (m *MuteDetector) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// Check evaluates inactivity once.
func (m *MuteDetector) Check() {
	m.mu.Lock()
	if m.muted || m.last.IsZero() || m.now().Sub(m.last) < m.timeout {
		m.mu.Unlock()
		return
	}
	m.muted = true
	m.mu.Unlock()
	m.onMute(true)
}

// Run checks periodically until ctx is done.
func (m *MuteDetector) Run(ctx context.Context) error {
	if m.timeout <= 0 {
		return nil
	}
	t := time.NewTicker(max(m.timeout/4, 10*time.Millisecond))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			m.Check()
		}
	}
}
