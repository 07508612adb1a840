package simdevice

import (
	"sync"
	"time"
)

// FailSafe is the device-side fail-safe timer. While armed, the device
// accepts fabric and network changes; when it expires before
// CommissioningComplete those changes are rolled back through onExpire.
//
// See Matter Specification Section 11.10.7.2.
type FailSafe struct {
	mu        sync.Mutex
	armed     bool
	expiresAt time.Time
	timer     *time.Timer
	// gen invalidates callbacks of timers replaced by a later Arm.
	gen      uint64
	expiries int
	onExpire func()
}

// NewFailSafe creates a disarmed timer. onExpire runs on the timer goroutine.
func NewFailSafe(onExpire func()) *FailSafe {
	return &FailSafe{onExpire: onExpire}
}

// Arm arms the timer, or re-arms it with a new deadline. A zero timeout
// disarms, as ArmFailSafe with ExpiryLengthSeconds of 0 does.
func (f *FailSafe) Arm(timeout time.Duration) {
	if timeout <= 0 {
		f.Disarm()
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.timer != nil {
		f.timer.Stop()
	}
	f.gen++
	gen := f.gen
	f.armed = true
	f.expiresAt = time.Now().Add(timeout)
	f.timer = time.AfterFunc(timeout, func() { f.expire(gen) })
}

func (f *FailSafe) expire(gen uint64) {
	f.mu.Lock()
	if !f.armed || gen != f.gen {
		f.mu.Unlock()
		return
	}
	f.armed = false
	f.timer = nil
	f.expiries++
	onExpire := f.onExpire
	f.mu.Unlock()

	if onExpire != nil {
		onExpire()
	}
}

// Disarm stops the timer without running onExpire.
func (f *FailSafe) Disarm() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.armed = false
	f.gen++
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

// IsArmed returns true if the timer is currently armed.
func (f *FailSafe) IsArmed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.armed
}

// RemainingTime returns the time remaining before expiry, or 0 when disarmed.
func (f *FailSafe) RemainingTime() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.armed {
		return 0
	}
	if remaining := time.Until(f.expiresAt); remaining > 0 {
		return remaining
	}
	return 0
}

// Expiries counts how often the timer ran out.
func (f *FailSafe) Expiries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.expiries
}
