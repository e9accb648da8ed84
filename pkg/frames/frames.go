// Package frames defines the captured-frame type and the source abstraction
// the orchestrator pulls frames from. Device acquisition itself lives behind
// the Grabber callback; this package only handles freshness and hand-off.
package frames

import (
	"image"
	"time"
)

// Frame is a single captured camera image. PixelData holds an encoded JPEG
// or raw RGBA buffer depending on the grabber; Width and Height describe the
// decoded dimensions.
type Frame struct {
	PixelData []byte
	Width     int
	Height    int
	Timestamp time.Time
}

// Bounds returns the frame dimensions as an image.Rectangle.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// Stale reports whether the frame is older than maxAge.
func (f *Frame) Stale(maxAge time.Duration) bool {
	return time.Since(f.Timestamp) > maxAge
}

// Source produces the most recent captured frame on demand.
type Source interface {
	// CurrentFrame returns a frame no older than the source's staleness
	// threshold, recapturing if necessary. It returns nil when no frame
	// can be obtained.
	CurrentFrame() (*Frame, error)

	// Active reports whether the capture device is running.
	Active() bool
}

// Grabber captures a fresh frame from the device.
type Grabber func() (*Frame, error)
