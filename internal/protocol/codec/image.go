package codec

import (
	"encoding/binary"
	"image"
	"math"
	"slices"
)

const (
	markerBigEndian    byte = '>'
	markerLittleEndian byte = '<'
)

// HostEndiannessMarker is the byte written ahead of 16-bit pixel data.
func HostEndiannessMarker() byte {
	var probe [2]byte
	binary.NativeEndian.PutUint16(probe[:], 1)
	if probe[0] == 0 {
		return markerBigEndian
	}
	return markerLittleEndian
}

// PutImageRGBA writes height, width, channel count (4) and the row-major
// RGBA bytes of img.
func (e *Encoder) PutImageRGBA(img *image.RGBA) {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	e.putLen(h)
	e.putLen(w)
	e.PutInt32(4)
	e.buf = slices.Grow(e.buf, h*w*4)
	for y := 0; y < h; y++ {
		start := y * img.Stride
		e.buf = append(e.buf, img.Pix[start:start+w*4]...)
	}
}

// PutImageDepth16 writes height, width, the host endianness marker and the
// pixels in host byte order. No channel count is sent for this type and the
// pixels are not swapped to network order.
func (e *Encoder) PutImageDepth16(img *image.Gray16) {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	e.putLen(h)
	e.putLen(w)
	e.buf = slices.Grow(e.buf, 1+h*w*2)
	e.buf = append(e.buf, HostEndiannessMarker())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			e.buf = binary.NativeEndian.AppendUint16(e.buf, img.Gray16At(x, y).Y)
		}
	}
}

func (d *Decoder) imageHeader(what string) (h, w int, err error) {
	if h, err = d.length(what + " height"); err != nil {
		return 0, 0, err
	}
	if w, err = d.length(what + " width"); err != nil {
		return 0, 0, err
	}
	return h, w, nil
}

func pixelBytes(h, w, channels int) (int, bool) {
	// h and w come from int32 fields, so their product fits in int64.
	n := int64(h) * int64(w)
	if n > math.MaxInt64/int64(channels) || n*int64(channels) > math.MaxInt {
		return 0, false
	}
	return int(n) * channels, true
}

// ImageRGBA reads an image written by PutImageRGBA. Images declaring three
// channels are expanded with an opaque alpha channel.
func (d *Decoder) ImageRGBA() (*image.RGBA, error) {
	h, w, err := d.imageHeader("rgba image")
	if err != nil {
		return nil, err
	}
	channels, err := d.Int32()
	if err != nil {
		return nil, err
	}
	if channels != 3 && channels != 4 {
		return nil, malformed("rgba image: unsupported channel count %d", channels)
	}
	n, ok := pixelBytes(h, w, int(channels))
	if !ok {
		return nil, malformed("rgba image: %dx%dx%d overflows", h, w, channels)
	}
	src, err := d.take(n, "rgba image pixels")
	if err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	if channels == 4 {
		copy(img.Pix, src)
		return img, nil
	}
	for i, j := 0, 0; i < len(src); i, j = i+3, j+4 {
		img.Pix[j] = src[i]
		img.Pix[j+1] = src[i+1]
		img.Pix[j+2] = src[i+2]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}

// ImageDepth16 reads an image written by PutImageDepth16. The endianness
// marker is skipped, not acted on: pixels are read in host byte order.
func (d *Decoder) ImageDepth16() (*image.Gray16, error) {
	h, w, err := d.imageHeader("depth image")
	if err != nil {
		return nil, err
	}
	if _, err := d.take(1, "depth image marker"); err != nil {
		return nil, err
	}
	n, ok := pixelBytes(h, w, 2)
	if !ok {
		return nil, malformed("depth image: %dx%d overflows", h, w)
	}
	src, err := d.take(n, "depth image pixels")
	if err != nil {
		return nil, err
	}

	img := image.NewGray16(image.Rect(0, 0, w, h))
	for i := 0; i < h*w; i++ {
		v := binary.NativeEndian.Uint16(src[2*i:])
		// image.Gray16 stores pixels big-endian.
		binary.BigEndian.PutUint16(img.Pix[2*i:], v)
	}
	return img, nil
}
