package transform

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const fallbackWatermark = "DEMO - FALLBACK (OpenAI unavailable / billing)"

// Fallback is the degraded local transform applied when the upstream quota is
// exhausted: invert the colors and stamp a visible watermark so nobody
// mistakes the output for a real edit. Always produces PNG.
func Fallback(imageBytes []byte) (Result, error) {
	src, err := imaging.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return Result{}, fmt.Errorf("decode image: %w", err)
	}

	inverted := imaging.Invert(src)
	stampWatermark(inverted, fallbackWatermark)

	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, inverted, imaging.PNG); err != nil {
		return Result{}, fmt.Errorf("encode png: %w", err)
	}

	return Result{
		Bytes: buf.Bytes(),
		MIME:  "image/png",
		Ext:   "png",
	}, nil
}

func stampWatermark(img *image.NRGBA, text string) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.NRGBA{R: 255, A: 200}),
		Face: basicfont.Face7x13,
		// Dot is the text baseline; offset by the face height so the text
		// starts at roughly (20, 20).
		Dot: fixed.P(20, 20+basicfont.Face7x13.Ascent),
	}
	d.DrawString(text)
}
