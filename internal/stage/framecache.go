package stage

import (
	"image"
	"sync"
	"time"

	xdraw "golang.org/x/image/draw"
)

// FrameSnapshot is an immutable grayscale frame together with the cache
// counter value at which it was captured. The pixel buffer is independent
// of the cache's internal state.
type FrameSnapshot struct {
	Gray    *image.Gray
	Counter uint64
}

// FrameCache holds the most recent camera frame. The camera producer calls
// Publish at its own cadence; the motion task blocks on Latest or
// WaitNewerThan without busy-polling.
type FrameCache struct {
	mu      sync.Mutex
	latest  *image.Gray
	counter uint64
	wake    chan struct{}
}

// NewFrameCache returns an empty cache.
func NewFrameCache() *FrameCache {
	return &FrameCache{wake: make(chan struct{})}
}

// Publish converts img to grayscale, stores it as the latest frame, bumps
// the counter, and wakes all waiters. Safe to call concurrently with reads.
func (c *FrameCache) Publish(img image.Image) {
	gray := toGray(img)
	c.mu.Lock()
	c.latest = gray
	c.counter++
	close(c.wake)
	c.wake = make(chan struct{})
	c.mu.Unlock()
}

// Counter returns the current frame counter.
func (c *FrameCache) Counter() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counter
}

// Latest returns the most recent frame, blocking up to timeout for the
// first frame to arrive. The second return is false on timeout.
func (c *FrameCache) Latest(timeout time.Duration) (FrameSnapshot, bool) {
	deadline := time.Now().Add(timeout)
	c.mu.Lock()
	for c.latest == nil {
		if !c.waitLocked(deadline) {
			c.mu.Unlock()
			return FrameSnapshot{}, false
		}
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	return snap, true
}

// WaitNewerThan blocks until a frame with a counter greater than counter is
// published, or timeout elapses.
func (c *FrameCache) WaitNewerThan(counter uint64, timeout time.Duration) (FrameSnapshot, bool) {
	deadline := time.Now().Add(timeout)
	c.mu.Lock()
	for c.counter <= counter || c.latest == nil {
		if !c.waitLocked(deadline) {
			c.mu.Unlock()
			return FrameSnapshot{}, false
		}
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	return snap, true
}

// waitLocked releases the lock until the next publish or the deadline.
// Returns false once the deadline has passed. The lock is held on entry
// and on return.
func (c *FrameCache) waitLocked(deadline time.Time) bool {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false
	}
	wake := c.wake
	c.mu.Unlock()
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-wake:
		c.mu.Lock()
		return true
	case <-timer.C:
		c.mu.Lock()
		return false
	}
}

func (c *FrameCache) snapshotLocked() FrameSnapshot {
	clone := image.NewGray(c.latest.Bounds())
	copy(clone.Pix, c.latest.Pix)
	return FrameSnapshot{Gray: clone, Counter: c.counter}
}

// toGray normalizes any image format into a tightly-packed single-channel
// raster anchored at the origin.
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Copy(gray, image.Point{}, img, b, xdraw.Src, nil)
	return gray
}
