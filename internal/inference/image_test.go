package inference

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echosight/echosight/internal/config"
	"github.com/echosight/echosight/pkg/errors"
	"github.com/echosight/echosight/pkg/frames"
)

func encodeTestJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func imageClient(maxBytes int) *Client {
	return &Client{
		imageCfg: config.ImageConfig{
			MaxBytes:    maxBytes,
			MaxDim:      512,
			JPEGQuality: 85,
		},
	}
}

func TestPreparePayloadSmallFramePassesThrough(t *testing.T) {
	c := imageClient(1 << 20)
	data := encodeTestJPEG(t, 64, 64)

	payload, err := c.preparePayload(&frames.Frame{PixelData: data, Timestamp: time.Now()})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(payload, "data:image/jpeg;base64,"))
}

func TestPreparePayloadDownscalesOversizedFrame(t *testing.T) {
	c := imageClient(4 << 10)
	data := encodeTestJPEG(t, 1600, 1200)
	require.Greater(t, len(data), c.imageCfg.MaxBytes)

	payload, err := c.preparePayload(&frames.Frame{PixelData: data, Timestamp: time.Now()})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(payload, "data:image/jpeg;base64,"))
	assert.Less(t, len(payload), len(data), "downscaled payload should shrink")
}

func TestPreparePayloadRejectsEmptyFrame(t *testing.T) {
	c := imageClient(1 << 20)

	_, err := c.preparePayload(nil)
	assert.ErrorIs(t, err, errors.ErrCaptureUnavailable)

	_, err = c.preparePayload(&frames.Frame{})
	assert.ErrorIs(t, err, errors.ErrCaptureUnavailable)
}

func TestPreparePayloadRejectsUndecodableOversizedFrame(t *testing.T) {
	c := imageClient(4)

	_, err := c.preparePayload(&frames.Frame{PixelData: []byte("not an image"), Timestamp: time.Now()})
	var verr *errors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "frame", verr.Field)
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{640, 480, 512, 512, 384},
		{480, 640, 512, 384, 512},
		{400, 300, 512, 400, 300},
		{1024, 1024, 512, 512, 512},
	}
	for _, tt := range tests {
		gotW, gotH := fitWithin(tt.w, tt.h, tt.max)
		assert.Equal(t, tt.wantW, gotW, "%dx%d", tt.w, tt.h)
		assert.Equal(t, tt.wantH, gotH, "%dx%d", tt.w, tt.h)
	}
}
