// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"io"
	"math"
	"time"

	"golang.org/x/image/draw"

	"github.com/kortschak/radar/internal/layer"
)

var (
	ErrEncode         = errors.New("encode failure")
	ErrEmptyStream    = fmt.Errorf("%w: empty stream", ErrEncode)
	ErrLoopAfterFrame = errors.New("loop count set after first frame")
	ErrClosed         = errors.New("encoder closed")
)

// EncodeError is an error associated with encoding a single frame.
type EncodeError struct {
	// Frame is the index of the frame in the stream.
	Frame  int
	Source string
	Err    error
}

func (e *EncodeError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("encode frame %d: %v", e.Frame, e.Err)
	}
	return fmt.Sprintf("encode frame %d (%s): %v", e.Frame, e.Source, e.Err)
}

func (e *EncodeError) Unwrap() []error { return []error{ErrEncode, e.Err} }

// Encoder is a stateful animated GIF encoder. The loop count may be set
// before the first frame is added, frames are added in display order and
// the stream is finalized by Close. Nothing is written to the underlying
// writer until Close is called, and then only if the complete stream was
// encoded successfully.
type Encoder struct {
	w      io.Writer
	g      gif.GIF
	size   image.Point
	closed bool
}

// NewEncoder returns a new Encoder writing to w. The default loop count
// is LoopForever.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// SetLoopCount sets the loop count of the stream. It must be called before
// the first call to Encode. See Sequence.LoopCount for values of n.
func (e *Encoder) SetLoopCount(n int) error {
	if e.closed {
		return ErrClosed
	}
	if len(e.g.Image) != 0 {
		return ErrLoopAfterFrame
	}
	if n < LoopOnce || n > math.MaxUint16 {
		return fmt.Errorf("%w: invalid loop count: %d", ErrEncode, n)
	}
	e.g.LoopCount = n
	return nil
}

// Encode adds f to the stream. The frame is placed at the origin of the
// canvas and must have the same dimensions as the first frame.
func (e *Encoder) Encode(f Frame) error {
	if e.closed {
		return ErrClosed
	}
	idx := len(e.g.Image)
	if f.Image == nil {
		return &EncodeError{Frame: idx, Source: f.Source, Err: errors.New("no image")}
	}
	size := f.Image.Bounds().Size()
	if size.X == 0 || size.Y == 0 {
		return &EncodeError{Frame: idx, Source: f.Source, Err: errors.New("empty image")}
	}
	if size.X > math.MaxUint16 || size.Y > math.MaxUint16 {
		return &EncodeError{Frame: idx, Source: f.Source, Err: fmt.Errorf("image too large: %v", size)}
	}
	if idx == 0 {
		e.size = size
	} else if size != e.size {
		return &EncodeError{
			Frame:  idx,
			Source: f.Source,
			Err:    fmt.Errorf("%w: %v != %v", layer.ErrDimensionMismatch, size, e.size),
		}
	}
	cs, err := Centiseconds(f.Delay)
	if err != nil {
		return &EncodeError{Frame: idx, Source: f.Source, Err: err}
	}
	e.g.Image = append(e.g.Image, Paletted(f.Image))
	e.g.Delay = append(e.g.Delay, cs)
	e.g.Disposal = append(e.g.Disposal, gif.DisposalBackground)
	return nil
}

// Len returns the number of frames encoded.
func (e *Encoder) Len() int { return len(e.g.Image) }

// Close finalizes the stream and writes it to the underlying writer.
// Closing an encoder with no frames returns ErrEmptyStream and writes
// nothing. Close may only be called once.
func (e *Encoder) Close() error {
	if e.closed {
		return ErrClosed
	}
	e.closed = true
	if len(e.g.Image) == 0 {
		return ErrEmptyStream
	}
	var buf bytes.Buffer
	err := gif.EncodeAll(&buf, &e.g)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}
	b := buf.Bytes()
	if len(e.g.Image) == 1 && e.g.LoopCount >= 0 {
		// image/gif only writes the loop extension for
		// multi-frame streams.
		b, err = insertLoop(b, e.g.LoopCount)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrEncode, err)
		}
	}
	if !IsGIF(AsReadPeeker(bytes.NewReader(b))) {
		return fmt.Errorf("%w: invalid stream header", ErrEncode)
	}
	_, err = e.w.Write(b)
	if err != nil {
		return fmt.Errorf("%w: write stream: %w", ErrEncode, err)
	}
	return nil
}

// insertLoop returns the GIF stream b with a NETSCAPE2.0 application
// extension holding the loop count n placed after the logical screen
// descriptor and global colour table.
func insertLoop(b []byte, n int) ([]byte, error) {
	// Header and logical screen descriptor.
	const lsd = 6 + 7
	if len(b) < lsd {
		return nil, errors.New("short stream")
	}
	off := lsd
	if flags := b[10]; flags&0x80 != 0 {
		off += 3 * (1 << (flags&0x07 + 1))
	}
	if len(b) < off {
		return nil, errors.New("short global colour table")
	}
	ext := []byte{
		0x21, 0xff, 0x0b, // Application extension, block size 11.
		'N', 'E', 'T', 'S', 'C', 'A', 'P', 'E', '2', '.', '0',
		0x03, 0x01, byte(n), byte(n >> 8), 0x00,
	}
	dst := make([]byte, 0, len(b)+len(ext))
	dst = append(dst, b[:off]...)
	dst = append(dst, ext...)
	return append(dst, b[off:]...), nil
}

// EncodeSequence writes seq to w as an animated GIF.
func EncodeSequence(w io.Writer, seq *Sequence) error {
	enc := NewEncoder(w)
	err := enc.SetLoopCount(seq.LoopCount)
	if err != nil {
		return err
	}
	for _, f := range seq.Frames {
		err = enc.Encode(f)
		if err != nil {
			return err
		}
	}
	return enc.Close()
}

// Centiseconds returns d rounded to the nearest hundredth of a second.
func Centiseconds(d time.Duration) (int, error) {
	if d < 0 {
		return 0, fmt.Errorf("negative delay: %v", d)
	}
	cs := (d + 5*time.Millisecond) / (10 * time.Millisecond)
	if cs > math.MaxUint16 {
		return 0, fmt.Errorf("delay too long: %v", d)
	}
	return int(cs), nil
}

// Paletted returns img as a paletted image with its origin at 0,0. If img
// has no more than 256 distinct colours the palette is exact, otherwise
// the image is dithered to the Plan 9 palette.
func Paletted(img *image.RGBA) *image.Paletted {
	b := img.Bounds()
	r := image.Rectangle{Max: b.Size()}
	pal, index, ok := exactPalette(img)
	if !ok {
		dst := image.NewPaletted(r, palette.Plan9)
		draw.FloydSteinberg.Draw(dst, r, img, b.Min)
		return dst
	}
	dst := image.NewPaletted(r, pal)
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			dst.SetColorIndex(x, y, index[img.RGBAAt(b.Min.X+x, b.Min.Y+y)])
		}
	}
	return dst
}

// exactPalette returns the distinct colours of img in order of first
// appearance and their palette indexes. It returns false if there are
// more than 256 colours.
func exactPalette(img *image.RGBA) (color.Palette, map[color.RGBA]uint8, bool) {
	b := img.Bounds()
	var pal color.Palette
	index := make(map[color.RGBA]uint8)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.RGBAAt(x, y)
			if _, ok := index[c]; ok {
				continue
			}
			if len(pal) == 256 {
				return nil, nil, false
			}
			index[c] = uint8(len(pal))
			pal = append(pal, c)
		}
	}
	return pal, index, true
}
