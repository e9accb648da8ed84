package inference

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoding for grabbers that produce PNG
	"strings"

	"golang.org/x/image/draw"

	"github.com/echosight/echosight/pkg/errors"
	"github.com/echosight/echosight/pkg/frames"
)

// preparePayload turns a captured frame into the data URL sent to the
// server, downscaling and recompressing when the encoded frame exceeds the
// configured size cap. Larger images give better text recognition; smaller
// ones cut latency. The thresholds are configuration, not policy.
func (c *Client) preparePayload(frame *frames.Frame) (string, error) {
	if frame == nil || len(frame.PixelData) == 0 {
		return "", errors.ErrCaptureUnavailable
	}

	data := frame.PixelData
	if len(data) > c.imageCfg.MaxBytes {
		scaled, err := downscale(data, c.imageCfg.MaxDim, c.imageCfg.JPEGQuality)
		if err != nil {
			return "", err
		}
		data = scaled
	}

	var sb strings.Builder
	sb.WriteString("data:image/jpeg;base64,")
	sb.WriteString(base64.StdEncoding.EncodeToString(data))
	return sb.String(), nil
}

// downscale decodes the image, scales its longer edge down to maxDim
// preserving aspect ratio, and re-encodes as JPEG.
func downscale(data []byte, maxDim, quality int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &errors.ValidationError{Field: "frame", Message: "captured frame is not a decodable image"}
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	targetW, targetH := fitWithin(width, height, maxDim)
	if targetW != width || targetH != height {
		dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		src = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
		return nil, errors.Wrapf(err, "re-encoding frame")
	}
	return buf.Bytes(), nil
}

// fitWithin scales (width, height) so the longer edge is at most maxDim,
// preserving aspect ratio.
func fitWithin(width, height, maxDim int) (int, int) {
	if width <= maxDim && height <= maxDim {
		return width, height
	}
	if width > height {
		return maxDim, height * maxDim / width
	}
	return width * maxDim / height, maxDim
}
