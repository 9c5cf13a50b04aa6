// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"io"
)

// IsGIF returns whether the data held by r is a GIF image. Encoder.Close
// uses it to check the stream header before writing.
func IsGIF(r ReadPeeker) bool {
	return hasMagic("GIF8?a", r)
}

// ReadPeeker is an io.Reader that can also peek n bytes ahead.
type ReadPeeker interface {
	io.Reader
	Peek(n int) ([]byte, error)
}

// AsReadPeeker converts an io.Reader to a ReadPeeker.
func AsReadPeeker(r io.Reader) ReadPeeker {
	if r, ok := r.(ReadPeeker); ok {
		return r
	}
	return bufio.NewReader(r)
}

// hasMagic returns whether r starts with the provided magic bytes.
func hasMagic(magic string, r ReadPeeker) bool {
	b, err := r.Peek(len(magic))
	if err != nil || len(b) != len(magic) {
		return false
	}
	for i, c := range b {
		if magic[i] != c && magic[i] != '?' {
			return false
		}
	}
	return true
}

// DecodeGIF returns the complete GIF decoded from the provided io.Reader.
// GIF delay, disposal, global background index and frame bound values are
// checked for validity. It is intended for verifying streams produced by
// an Encoder.
func DecodeGIF(r io.Reader) (*gif.GIF, error) {
	rp := AsReadPeeker(r)
	if !IsGIF(rp) {
		return nil, errors.New("not a gif stream")
	}
	g, err := gif.DecodeAll(rp)
	if err != nil {
		return nil, err
	}
	if len(g.Image) != len(g.Delay) && g.Delay != nil {
		return nil, fmt.Errorf("mismatched image count and delay count: %d != %d", len(g.Image), len(g.Delay))
	}
	if len(g.Image) != len(g.Disposal) && g.Disposal != nil {
		return nil, fmt.Errorf("mismatched image count and disposal count: %d != %d", len(g.Image), len(g.Disposal))
	}
	pal, ok := g.Config.ColorModel.(color.Palette)
	if idx := int(g.BackgroundIndex); ok && len(pal) != 0 && idx >= len(pal) {
		return nil, fmt.Errorf("global background colour index not in palette: %d", idx)
	}
	canvas := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	for i, frame := range g.Image {
		if !frame.Bounds().In(canvas) {
			return nil, fmt.Errorf("frame %d outside canvas: %v not in %v", i, frame.Bounds(), canvas)
		}
	}
	return g, nil
}
