// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package layer provides decoding and compositing of radar map layers.
package layer

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"golang.org/x/image/draw"
)

var (
	ErrDecode            = errors.New("decode failure")
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// Name is a static overlay layer name.
type Name string

const (
	Background Name = "background"
	Catchments Name = "catchments"
	Topography Name = "topography"
	Waterways  Name = "waterways"
	Locations  Name = "locations"
)

// Order is the compositing order of the static layers. The scan layer is
// composited after all static layers.
var Order = []Name{Background, Catchments, Topography, Waterways, Locations}

// File returns the file name of the layer for the given product.
func (n Name) File(product string) string {
	return fmt.Sprintf("%s.%s.png", product, n)
}

// Decode decodes image data in any registered format into an RGBA image
// with its origin at 0,0.
func Decode(b []byte) (*image.RGBA, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: no image data", ErrDecode)
	}
	img, format, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	r := img.Bounds()
	if r.Empty() {
		return nil, fmt.Errorf("%w: empty %s image", ErrDecode, format)
	}
	dst := image.NewRGBA(image.Rectangle{Max: r.Size()})
	draw.Copy(dst, image.Point{}, img, r, draw.Src, nil)
	return dst, nil
}

// Over composites src over dst with src's minimum point at dst's origin
// using the Porter-Duff source-over operator. It is an error for src to be
// larger than dst in either dimension.
func Over(dst *image.RGBA, src image.Image) error {
	d, s := dst.Bounds().Size(), src.Bounds().Size()
	if s.X > d.X || s.Y > d.Y {
		return fmt.Errorf("%w: %v over %v", ErrDimensionMismatch, s, d)
	}
	draw.Copy(dst, dst.Bounds().Min, src, src.Bounds(), draw.Over, nil)
	return nil
}

// Clone returns a deep copy of img.
func Clone(img *image.RGBA) *image.RGBA {
	return &image.RGBA{
		Pix:    append([]uint8(nil), img.Pix...),
		Stride: img.Stride,
		Rect:   img.Rect,
	}
}

// Stack returns a new image holding the layers composited in Order. The
// background layer must be present and every layer must have the same
// dimensions as the background. Layers with names not in Order are
// ignored and layers in Order that are absent are skipped. layers is
// not modified.
func Stack(layers map[Name]*image.RGBA) (*image.RGBA, error) {
	bg, ok := layers[Background]
	if !ok {
		return nil, fmt.Errorf("missing %s layer", Background)
	}
	dst := Clone(bg)
	for _, n := range Order[1:] {
		img, ok := layers[n]
		if !ok {
			continue
		}
		if img.Bounds().Size() != dst.Bounds().Size() {
			return nil, fmt.Errorf("%s layer: %w: %v != %v", n, ErrDimensionMismatch, img.Bounds().Size(), dst.Bounds().Size())
		}
		err := Over(dst, img)
		if err != nil {
			return nil, fmt.Errorf("%s layer: %w", n, err)
		}
	}
	return dst, nil
}
