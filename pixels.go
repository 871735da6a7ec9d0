package elarasign

import (
	"image"
	"image/draw"
	"image/png"
	"io"

	"github.com/cockroachdb/errors"
)

// BytesPerPixel is the channel count of a PixelBuffer (R, G, B, A).
const BytesPerPixel = 4

const blueChannel = 2

// PixelBuffer is a mutable, tightly packed RGBA buffer in row-major order.
//
// Embedding functions mutate Pix in place and hand the same *PixelBuffer
// back to the caller. They never copy: container adapters rely on the
// signed bytes being exactly the caller's bytes.
type PixelBuffer struct {
	Pix    []byte
	Width  int
	Height int
}

// NewPixelBuffer allocates a zeroed w×h buffer.
func NewPixelBuffer(w, h int) *PixelBuffer {
	return &PixelBuffer{Pix: make([]byte, w*h*BytesPerPixel), Width: w, Height: h}
}

// Validate checks that Pix is large enough for Width×Height.
func (b *PixelBuffer) Validate() error {
	if b == nil || b.Width < 0 || b.Height < 0 || len(b.Pix) < b.Width*b.Height*BytesPerPixel {
		return ErrInvalidBuffer
	}
	return nil
}

func (b *PixelBuffer) offset(x, y, channel int) int {
	return (y*b.Width+x)*BytesPerPixel + channel
}

// Image wraps the buffer as an *image.NRGBA sharing the same backing array.
func (b *PixelBuffer) Image() *image.NRGBA {
	return &image.NRGBA{
		Pix:    b.Pix,
		Stride: b.Width * BytesPerPixel,
		Rect:   image.Rect(0, 0, b.Width, b.Height),
	}
}

// FromImage copies img into a new, non-premultiplied RGBA buffer.
func FromImage(img image.Image) *PixelBuffer {
	bounds := img.Bounds()
	if n, ok := img.(*image.NRGBA); ok && n.Stride == bounds.Dx()*BytesPerPixel && bounds.Min == (image.Point{}) {
		pix := append([]byte(nil), n.Pix[:bounds.Dx()*bounds.Dy()*BytesPerPixel]...)
		return &PixelBuffer{Pix: pix, Width: bounds.Dx(), Height: bounds.Dy()}
	}
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
	return &PixelBuffer{Pix: dst.Pix, Width: bounds.Dx(), Height: bounds.Dy()}
}

// DecodePNG reads a PNG stream into a PixelBuffer.
func DecodePNG(r io.Reader) (*PixelBuffer, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, errors.Wrap(err, "decode png")
	}
	return FromImage(img), nil
}

// EncodePNG writes the buffer as a lossless PNG.
func EncodePNG(w io.Writer, b *PixelBuffer) error {
	if err := b.Validate(); err != nil {
		return err
	}
	return errors.Wrap(png.Encode(w, b.Image()), "encode png")
}
