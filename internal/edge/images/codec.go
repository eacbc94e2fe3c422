package images

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"regexp"

	"github.com/HugoSmits86/nativewebp"
	"github.com/gen2brain/webp"

	"github.com/adminx/perfgate/pkg/types"
)

var rasterExt = regexp.MustCompile(`(?i)\.(jpg|jpeg|png)$`)

// WebPPath returns p with its jpg/jpeg/png extension replaced by .webp.
// Other paths are returned unchanged with ok=false.
func WebPPath(p string) (string, bool) {
	if !rasterExt.MatchString(p) {
		return p, false
	}
	return rasterExt.ReplaceAllString(p, ".webp"), true
}

// Supported reports whether mime is a type the optimizer can recompress
func Supported(mime string) bool {
	return mime == types.MimeJPEG || mime == types.MimePNG
}

func decode(r io.Reader, mime string) (image.Image, error) {
	switch mime {
	case types.MimeJPEG:
		return jpeg.Decode(r)
	case types.MimePNG:
		return png.Decode(r)
	default:
		return nil, fmt.Errorf("unsupported image type %q", mime)
	}
}

// encode re-encodes img in its original format. quality applies to JPEG only;
// PNG uses the default zlib level.
func encode(img image.Image, mime string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch mime {
	case types.MimeJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
	case types.MimePNG:
		enc := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported image type %q", mime)
	}
	return buf.Bytes(), nil
}

// webpMethod trades encoding speed for size, 0 (fast) to 6 (small)
const webpMethod = 4

// encodeWebP encodes img lossy at quality. PNG sources are also encoded
// lossless and the smaller stream is returned, since flat graphics and
// screenshots often compress better without loss.
func encodeWebP(img image.Image, mime string, quality int) ([]byte, error) {
	var lossy bytes.Buffer
	if err := webp.Encode(&lossy, img, webp.Options{Quality: quality, Method: webpMethod}); err != nil {
		return nil, fmt.Errorf("lossy webp: %w", err)
	}
	if mime != types.MimePNG {
		return lossy.Bytes(), nil
	}

	var lossless bytes.Buffer
	if err := nativewebp.Encode(&lossless, img, nil); err != nil {
		return nil, fmt.Errorf("lossless webp: %w", err)
	}
	if lossless.Len() < lossy.Len() {
		return lossless.Bytes(), nil
	}
	return lossy.Bytes(), nil
}
