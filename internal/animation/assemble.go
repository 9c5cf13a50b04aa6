// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"time"

	"github.com/kortschak/radar/internal/layer"
)

// DefaultDelay is the display time of each loop frame.
const DefaultDelay = 400 * time.Millisecond

// Loop count values.
const (
	LoopForever = 0
	LoopOnce    = -1
)

// Scan is a decoded scan image and the name of its source.
type Scan struct {
	Source string
	Image  *image.RGBA
}

// Frame is a single composited animation frame.
type Frame struct {
	// Image is the complete frame. It is not shared
	// with any other frame.
	Image *image.RGBA

	// Delay is the time the frame is displayed.
	Delay time.Duration

	// Source is the name of the scan the frame was
	// made from.
	Source string
}

// Sequence is an ordered set of frames.
type Sequence struct {
	// The successive frames.
	Frames []Frame

	// LoopCount controls the number of times an animation will be
	// restarted during display.
	// A LoopCount of 0 means to loop forever.
	// A LoopCount of -1 means to show each frame only once.
	// Otherwise, the animation is looped LoopCount+1 times.
	LoopCount int
}

// DimensionError is returned when a scan does not have the dimensions of
// the loop canvas.
type DimensionError struct {
	// Source is the name of the offending scan.
	Source string
	Got    image.Point
	Want   image.Point
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("mismatched bounds for %s: %v != %v", e.Source, e.Got, e.Want)
}

func (e *DimensionError) Unwrap() error { return layer.ErrDimensionMismatch }

// Assembler builds a Sequence by compositing scans onto a static base.
// The canvas size is set by the first scan added and every later scan
// must have the same size.
type Assembler struct {
	base  *image.RGBA
	delay time.Duration

	// Label, if not nil, is called on each composited frame
	// before it is added to the sequence.
	Label func(dst draw.Image, source string)

	size   image.Point
	frames []Frame
}

// NewAssembler returns an Assembler that composites scans onto copies of
// base, giving each frame the provided delay. base is not modified by the
// Assembler and must not be modified by the caller while the Assembler is
// in use.
func NewAssembler(base *image.RGBA, delay time.Duration) *Assembler {
	return &Assembler{base: base, delay: delay}
}

// Add composites s onto a fresh copy of the base and appends the result to
// the sequence. If s does not match the canvas size a *DimensionError is
// returned and the sequence is unchanged.
func (a *Assembler) Add(s Scan) error {
	if s.Image == nil {
		return fmt.Errorf("no image for %s", s.Source)
	}
	size := s.Image.Bounds().Size()
	if len(a.frames) == 0 {
		if base := a.base.Bounds().Size(); size != base {
			return &DimensionError{Source: s.Source, Got: size, Want: base}
		}
		a.size = size
	} else if size != a.size {
		return &DimensionError{Source: s.Source, Got: size, Want: a.size}
	}
	dst := layer.Clone(a.base)
	err := layer.Over(dst, s.Image)
	if err != nil {
		return fmt.Errorf("%s: %w", s.Source, err)
	}
	if a.Label != nil {
		a.Label(dst, s.Source)
	}
	a.frames = append(a.frames, Frame{Image: dst, Delay: a.delay, Source: s.Source})
	return nil
}

// Len returns the number of frames added so far.
func (a *Assembler) Len() int { return len(a.frames) }

// Size returns the canvas size. It is the zero point until a scan has
// been added.
func (a *Assembler) Size() image.Point { return a.size }

// Sequence returns the assembled frames as an infinitely looping Sequence.
func (a *Assembler) Sequence() *Sequence {
	return &Sequence{Frames: a.frames, LoopCount: LoopForever}
}

// Assemble is a convenience function that adds each scan in order to a
// new Assembler and returns the resulting Sequence. An empty scans slice
// gives an empty Sequence.
func Assemble(base *image.RGBA, scans []Scan, delay time.Duration) (*Sequence, error) {
	if base == nil {
		return nil, errors.New("no base image")
	}
	a := NewAssembler(base, delay)
	for _, s := range scans {
		err := a.Add(s)
		if err != nil {
			return nil, err
		}
	}
	return a.Sequence(), nil
}
