// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package text provides functions for rendering [basicfont.Face] fonts to
// an image.
package text

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Columns returns the number of font columns that fit in the bounding
// rectangle.
func Columns(bound image.Rectangle, fnt *basicfont.Face) int {
	return bound.Dx() / fnt.Advance
}

// Draw draws a single line of text to the destination in the provided
// color. Relative position of the text is specified by dx and dy which
// must be in the range [0, 1]. Text wider than the destination is
// truncated with an ellipsis.
func Draw(dst draw.Image, text string, col color.Color, fnt *basicfont.Face, dx, dy float64) {
	cols := Columns(dst.Bounds(), fnt)
	if cols <= 0 || dst.Bounds().Dy() < fnt.Height {
		return
	}
	line := []rune(text)
	if len(line) > cols {
		const ellipsis = "..."
		n := max(cols-len(ellipsis), 0)
		line = append(line[:n:n], []rune(ellipsis)...)
		if len(line) > cols {
			line = line[:cols]
		}
	}
	text = string(line)

	if dx != 0 || dy != 0 {
		mp := newBounds(dst)
		min := dst.Bounds().Min
		mp.drawString(text, fnt, fixed.P(min.X, min.Y+fnt.Ascent))
		dst = mp.offset(dst, dx, dy)
	}
	min := dst.Bounds().Min
	drawer := font.Drawer{
		Dst:  dst,
		Src:  &image.Uniform{col},
		Face: fnt,
		Dot:  fixed.P(min.X, min.Y+fnt.Ascent),
	}
	drawer.DrawString(text)
}

// Label draws a single line of text to dst in the provided color with a
// single pixel outline. The text is placed within a margin of the edge of
// dst using the relative position dx and dy as for Draw.
func Label(dst draw.Image, text string, col, outline color.Color, fnt *basicfont.Face, dx, dy float64, margin int) {
	b := dst.Bounds()
	o := Outlined[*image.RGBA]{
		Text:         image.NewRGBA(b),
		Background:   image.NewRGBA(b),
		OutlineColor: outline,
	}
	Draw(Shrink{Image: o, Margin: margin}, text, col, fnt, dx, dy)
	draw.Draw(dst, b, o, b.Min, draw.Over)
}

// Outlined is an image that renders a single pixel width outline
// around a drawing.
type Outlined[T draw.Image] struct {
	Text       T
	Background T

	OutlineColor color.Color
}

func (o Outlined[T]) Set(x, y int, c color.Color) {
	o.Text.Set(x, y, c)
	for i := -1; i <= 1; i++ {
		o.Background.Set(x+i, y, o.OutlineColor)
	}
	for i := -1; i <= 1; i += 2 {
		o.Background.Set(x, y+i, o.OutlineColor)
	}
}

// At returns the text color composited over the outline.
func (o Outlined[T]) At(x, y int) color.Color {
	// m is the maximum color value returned by image.Color.RGBA.
	const m = 1<<16 - 1

	rT, gT, bT, aT := o.Text.At(x, y).RGBA()
	rO, gO, bO, aO := o.Background.At(x, y).RGBA()
	a := m - aT
	return color.RGBA64{
		R: uint16(rO*a/m + rT),
		G: uint16(gO*a/m + gT),
		B: uint16(bO*a/m + bT),
		A: uint16(aO*a/m + aT),
	}
}

func (o Outlined[T]) Bounds() image.Rectangle {
	return o.Text.Bounds().Intersect(o.Background.Bounds())
}

func (o Outlined[T]) ColorModel() color.Model {
	return o.Text.ColorModel()
}

// Shrink reduces the bounds of an Image by a margin.
type Shrink struct {
	draw.Image

	// Margin is the margin size in pixels.
	Margin int
}

func (s Shrink) Bounds() image.Rectangle {
	b := s.Image.Bounds()
	b.Min = b.Min.Add(image.Point{X: s.Margin, Y: s.Margin})
	b.Max = b.Max.Sub(image.Point{X: s.Margin, Y: s.Margin})
	return b
}

type bounds image.Rectangle

func newBounds(dst draw.Image) *bounds {
	b := bounds(image.Rectangle{Min: dst.Bounds().Max, Max: dst.Bounds().Min})
	return &b
}

func (b *bounds) drawString(s string, fnt font.Face, dot fixed.Point26_6) {
	prevC := rune(-1)
	for _, c := range s {
		if prevC >= 0 {
			dot.X += fnt.Kern(prevC, c)
		}
		dr, _, _, advance, ok := fnt.Glyph(dot, c)
		if !ok {
			continue
		}
		b.set(dr.Min.X, dr.Min.Y)
		b.set(dr.Max.X, dr.Max.Y)
		dot.X += advance
		prevC = c
	}
}

func (b *bounds) set(x, y int) {
	if x < b.Min.X {
		b.Min.X = x
	}
	if y < b.Min.Y {
		b.Min.Y = y
	}
	if x > b.Max.X {
		b.Max.X = x
	}
	if y > b.Max.Y {
		b.Max.Y = y
	}
}

func (b *bounds) offset(img draw.Image, dx, dy float64) draw.Image {
	d := img.Bounds().Max.Sub(b.Max)
	return offset{Image: img, offset: image.Point{X: int(float64(d.X) * dx), Y: int(float64(d.Y) * dy)}}
}

type offset struct {
	draw.Image
	offset image.Point
}

func (o offset) Set(x, y int, c color.Color) {
	o.Image.Set(x+o.offset.X, y+o.offset.Y, c)
}

func (o offset) At(x, y int) color.Color {
	return o.Image.At(x+o.offset.X, y+o.offset.Y)
}
