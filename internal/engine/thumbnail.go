package engine

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/nfnt/resize"
)

// thumbnailWidth is the fixed width of gallery thumbnails; height
// follows the source aspect ratio.
const thumbnailWidth = 320

// makeThumbnail downscales a PNG screenshot for gallery views.
func makeThumbnail(screenshot []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(screenshot))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}

	thumb := resize.Resize(thumbnailWidth, 0, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
