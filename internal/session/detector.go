package session

import (
	"sync"
	"time"
)

// Detector fires a callback when no activity was seen for timeout.
type Detector struct {
	timeout time.Duration
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	onIdle  func()
}

func NewDetector(timeout time.Duration) *Detector {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Detector{timeout: timeout}
}

func (d *Detector) OnIdle(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onIdle = callback
}

// Touch records activity and re-arms the timer.
func (d *Detector) Touch() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.timeout, func() {
		d.mu.Lock()
		callback := d.onIdle
		stopped := d.stopped
		d.timer = nil
		d.mu.Unlock()

		if callback != nil && !stopped {
			callback()
		}
	})
}

// Stop disarms the detector for good.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
