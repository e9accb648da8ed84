package frames

import (
	"sync"
	"time"

	"github.com/echosight/echosight/pkg/errors"
)

// LatestHolder is a Source backed by a latest-value cell. Publishers push
// frames as the device produces them; readers always see the newest frame,
// and a read that finds only a stale frame triggers a recapture through the
// grabber.
type LatestHolder struct {
	mu      sync.RWMutex
	frame   *Frame
	seq     uint64
	closed  bool
	grabber Grabber
	maxAge  time.Duration
}

// NewLatestHolder creates a holder with the given staleness threshold. The
// grabber may be nil, in which case stale reads fail instead of recapturing.
func NewLatestHolder(maxAge time.Duration, grabber Grabber) *LatestHolder {
	return &LatestHolder{
		grabber: grabber,
		maxAge:  maxAge,
	}
}

// Set replaces the held frame. Older frames are dropped, never queued.
func (h *LatestHolder) Set(frame *Frame) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return errors.ErrShutdown
	}

	h.frame = frame
	h.seq++
	return nil
}

// CurrentFrame implements Source. A stale or missing frame is recaptured via
// the grabber when one is configured.
func (h *LatestHolder) CurrentFrame() (*Frame, error) {
	h.mu.RLock()
	frame := h.frame
	closed := h.closed
	h.mu.RUnlock()

	if closed {
		return nil, errors.ErrCaptureUnavailable
	}

	if frame != nil && !frame.Stale(h.maxAge) {
		return frame, nil
	}

	if h.grabber == nil {
		if frame == nil {
			return nil, errors.ErrCaptureUnavailable
		}
		return nil, errors.Wrapf(errors.ErrCaptureUnavailable, "frame older than %s", h.maxAge)
	}

	fresh, err := h.grabber()
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCaptureUnavailable, "recapture failed")
	}
	if err := h.Set(fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// Active implements Source. The holder is active until closed.
func (h *LatestHolder) Active() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.closed
}

// Seq returns the number of frames set so far.
func (h *LatestHolder) Seq() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// Close shuts the holder down. Subsequent reads fail with
// ErrCaptureUnavailable.
func (h *LatestHolder) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	h.frame = nil
}
