package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mkai/pkg/utils/logging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMark        = "MK"
	DefaultAttribution = "Created with MK"

	labelMargin     = 20
	fontScale       = 0.03
	minFontSize     = 20
	shadowBlurPx    = 4
	shadowBlurPass  = 2
	textOpacity     = 0.7
	shadowOpacity   = 0.5
	watermarkFormat = "image/png"
)

var (
	ErrDecodeImage = goerr.New("failed to decode image")
)

// Codec stamps generated images with a fixed textual watermark
type Codec struct {
	mark        string
	attribution string
	font        *opentype.Font
}

type Option func(*Codec)

// WithLabels overrides the top-left mark and the bottom-right attribution
func WithLabels(mark, attribution string) Option {
	return func(c *Codec) {
		if mark != "" {
			c.mark = mark
		}
		if attribution != "" {
			c.attribution = attribution
		}
	}
}

// New creates a Codec using the embedded Go Bold font, so output does not
// depend on fonts installed on the host.
func New(opts ...Option) (*Codec, error) {
	f, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse watermark font")
	}

	c := &Codec{
		mark:        DefaultMark,
		attribution: DefaultAttribution,
		font:        f,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FontSize returns the label size in pixels for an image of the given width
func FontSize(width int) float64 {
	return math.Max(float64(width)*fontScale, minFontSize)
}

// Watermark decodes the image in dataURI, overlays the labels and returns the
// result as a PNG data URI.
func (c *Codec) Watermark(ctx context.Context, dataURI string) (string, error) {
	_, data, err := ParseDataURI(dataURI)
	if err != nil {
		return "", err
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", goerr.Wrap(ErrDecodeImage, "unsupported or corrupted image", goerr.V("error", err.Error()))
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return "", goerr.Wrap(ErrDecodeImage, "image has no pixels")
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), src, bounds.Min, draw.Src)

	size := FontSize(width)
	face, err := opentype.NewFace(c.font, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to create font face", goerr.V("size", size))
	}
	defer face.Close()

	// Text coverage is rendered once into an alpha mask, then used both for
	// the blurred shadow and for the label fill.
	mask := image.NewAlpha(canvas.Bounds())
	drawer := &font.Drawer{
		Dst:  mask,
		Src:  image.Opaque,
		Face: face,
	}

	drawer.Dot = fixed.P(labelMargin, int(math.Round(size))+labelMargin)
	drawer.DrawString(c.mark)

	advance := drawer.MeasureString(c.attribution)
	drawer.Dot = fixed.Point26_6{
		X: fixed.I(width-labelMargin) - advance,
		Y: fixed.I(height - labelMargin),
	}
	drawer.DrawString(c.attribution)

	shadow := mask
	for i := 0; i < shadowBlurPass; i++ {
		shadow = boxBlur(shadow, shadowBlurPx/2)
	}

	draw.DrawMask(canvas, canvas.Bounds(), image.NewUniform(withOpacity(color.Black, shadowOpacity)), image.Point{}, shadow, image.Point{}, draw.Over)
	draw.DrawMask(canvas, canvas.Bounds(), image.NewUniform(withOpacity(color.White, textOpacity)), image.Point{}, mask, image.Point{}, draw.Over)

	var buf bytes.Buffer
	encoder := &png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := encoder.Encode(&buf, canvas); err != nil {
		return "", goerr.Wrap(err, "failed to encode watermarked image")
	}

	logging.From(ctx).Debug("watermarked image",
		"source_format", format,
		"width", width,
		"height", height,
		"font_size", size,
	)

	return FormatDataURI(watermarkFormat, buf.Bytes()), nil
}

func withOpacity(c color.Color, opacity float64) color.NRGBA {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	n.A = uint8(math.Round(opacity * 255))
	return n
}

// boxBlur applies a separable box filter of the given radius. Pixels outside
// the image count as transparent.
func boxBlur(src *image.Alpha, radius int) *image.Alpha {
	if radius <= 0 {
		return src
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	window := 2*radius + 1

	tmp := image.NewAlpha(b)
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+w]
		out := tmp.Pix[y*tmp.Stride : y*tmp.Stride+w]
		sum := 0
		for x := -radius; x <= radius; x++ {
			if x >= 0 && x < w {
				sum += int(row[x])
			}
		}
		for x := 0; x < w; x++ {
			out[x] = uint8(sum / window)
			if in := x + radius + 1; in < w {
				sum += int(row[in])
			}
			if rm := x - radius; rm >= 0 {
				sum -= int(row[rm])
			}
		}
	}

	dst := image.NewAlpha(b)
	for x := 0; x < w; x++ {
		sum := 0
		for y := -radius; y <= radius; y++ {
			if y >= 0 && y < h {
				sum += int(tmp.Pix[y*tmp.Stride+x])
			}
		}
		for y := 0; y < h; y++ {
			dst.Pix[y*dst.Stride+x] = uint8(sum / window)
			if in := y + radius + 1; in < h {
				sum += int(tmp.Pix[in*tmp.Stride+x])
			}
			if rm := y - radius; rm >= 0 {
				sum -= int(tmp.Pix[rm*tmp.Stride+x])
			}
		}
	}

	return dst
}
