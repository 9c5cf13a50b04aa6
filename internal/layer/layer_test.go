// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layer

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

func uniform(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encode(t *testing.T, fn func(io.Writer, image.Image) error, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	err := fn(&buf, img)
	if err != nil {
		t.Fatalf("unexpected error encoding test image: %v", err)
	}
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	src := uniform(16, 8, color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xff})
	pngData := encode(t, png.Encode, src)

	for _, test := range []struct {
		name     string
		data     []byte
		wantErr  error
		wantSize image.Point
		exact    bool
	}{
		{
			name:     "png",
			data:     pngData,
			wantSize: image.Pt(16, 8),
			exact:    true,
		},
		{
			name: "gif",
			data: encode(t, func(w io.Writer, m image.Image) error {
				return gif.Encode(w, m, nil)
			}, src),
			wantSize: image.Pt(16, 8),
		},
		{
			name: "jpeg",
			data: encode(t, func(w io.Writer, m image.Image) error {
				return jpeg.Encode(w, m, nil)
			}, src),
			wantSize: image.Pt(16, 8),
		},
		{
			name:     "bmp",
			data:     encode(t, bmp.Encode, src),
			wantSize: image.Pt(16, 8),
			exact:    true,
		},
		{
			name: "tiff",
			data: encode(t, func(w io.Writer, m image.Image) error {
				return tiff.Encode(w, m, nil)
			}, src),
			wantSize: image.Pt(16, 8),
			exact:    true,
		},
		{
			name:    "empty",
			data:    nil,
			wantErr: ErrDecode,
		},
		{
			name:    "truncated",
			data:    pngData[:len(pngData)/2],
			wantErr: ErrDecode,
		},
		{
			name:    "unknown",
			data:    []byte("this is not an image\n"),
			wantErr: ErrDecode,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			got, err := Decode(test.data)
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("unexpected error: got:%v want:%v", err, test.wantErr)
			}
			if err != nil {
				return
			}
			if got.Bounds().Min != (image.Point{}) {
				t.Errorf("unexpected origin: %v", got.Bounds().Min)
			}
			if got.Bounds().Size() != test.wantSize {
				t.Errorf("unexpected size: got:%v want:%v", got.Bounds().Size(), test.wantSize)
			}
			if test.exact && !bytes.Equal(got.Pix, src.Pix) {
				t.Error("decoded pixels do not match source")
			}
		})
	}
}

func TestOver(t *testing.T) {
	t.Run("opaque", func(t *testing.T) {
		dst := uniform(4, 4, color.RGBA{R: 0xff, A: 0xff})
		src := image.NewRGBA(image.Rect(0, 0, 4, 4))
		src.SetRGBA(1, 2, color.RGBA{B: 0xff, A: 0xff})
		err := Over(dst, src)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				want := color.RGBA{R: 0xff, A: 0xff}
				if x == 1 && y == 2 {
					want = color.RGBA{B: 0xff, A: 0xff}
				}
				if got := dst.RGBAAt(x, y); got != want {
					t.Errorf("unexpected pixel at %d,%d: got:%v want:%v", x, y, got, want)
				}
			}
		}
	})

	t.Run("translucent", func(t *testing.T) {
		dst := uniform(1, 1, color.RGBA{R: 0xff, A: 0xff})
		// Premultiplied half-alpha blue.
		src := uniform(1, 1, color.RGBA{B: 0x80, A: 0x80})
		err := Over(dst, src)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got := dst.RGBAAt(0, 0)
		want := color.RGBA{R: 0x7f, B: 0x80, A: 0xff}
		if got != want {
			t.Errorf("unexpected blend: got:%v want:%v", got, want)
		}
	})

	t.Run("smaller", func(t *testing.T) {
		dst := uniform(4, 4, color.RGBA{A: 0xff})
		src := uniform(2, 2, color.RGBA{G: 0xff, A: 0xff})
		err := Over(dst, src)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := dst.RGBAAt(1, 1); got != (color.RGBA{G: 0xff, A: 0xff}) {
			t.Errorf("unexpected pixel inside source: %v", got)
		}
		if got := dst.RGBAAt(2, 2); got != (color.RGBA{A: 0xff}) {
			t.Errorf("unexpected pixel outside source: %v", got)
		}
	})

	t.Run("larger", func(t *testing.T) {
		dst := uniform(4, 4, color.RGBA{A: 0xff})
		orig := Clone(dst)
		err := Over(dst, uniform(4, 5, color.RGBA{G: 0xff, A: 0xff}))
		if !errors.Is(err, ErrDimensionMismatch) {
			t.Errorf("unexpected error: got:%v want:%v", err, ErrDimensionMismatch)
		}
		if !bytes.Equal(dst.Pix, orig.Pix) {
			t.Error("destination modified by failed composite")
		}
	})
}

func TestClone(t *testing.T) {
	src := uniform(2, 2, color.RGBA{R: 1, A: 0xff})
	dst := Clone(src)
	if !cmp.Equal(dst, src) {
		t.Fatalf("clone differs from source")
	}
	dst.SetRGBA(0, 0, color.RGBA{G: 1, A: 0xff})
	if src.RGBAAt(0, 0) != (color.RGBA{R: 1, A: 0xff}) {
		t.Error("clone shares pixel storage with source")
	}
}

func TestStack(t *testing.T) {
	mark := func(c color.RGBA) *image.RGBA {
		img := image.NewRGBA(image.Rect(0, 0, 8, 8))
		img.SetRGBA(3, 3, c)
		return img
	}
	red := color.RGBA{R: 0xff, A: 0xff}
	blue := color.RGBA{B: 0xff, A: 0xff}
	green := color.RGBA{G: 0xff, A: 0xff}

	layers := map[Name]*image.RGBA{
		Background: uniform(8, 8, color.RGBA{A: 0xff}),
		Catchments: mark(red),
		Topography: mark(blue),
		Waterways:  image.NewRGBA(image.Rect(0, 0, 8, 8)),
		Locations:  image.NewRGBA(image.Rect(0, 0, 8, 8)),
	}
	layers[Locations].SetRGBA(5, 5, green)

	first, err := Stack(layers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := first.RGBAAt(3, 3); got != blue {
		t.Errorf("topography not above catchments: got:%v want:%v", got, blue)
	}
	if got := first.RGBAAt(5, 5); got != green {
		t.Errorf("locations not composited: got:%v want:%v", got, green)
	}
	if got := layers[Background].RGBAAt(3, 3); got != (color.RGBA{A: 0xff}) {
		t.Error("background layer modified")
	}

	for i := 0; i < 10; i++ {
		again, err := Stack(layers)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !bytes.Equal(again.Pix, first.Pix) {
			t.Fatal("stacking is not deterministic")
		}
	}

	t.Run("missing_background", func(t *testing.T) {
		_, err := Stack(map[Name]*image.RGBA{Catchments: mark(red)})
		if err == nil {
			t.Error("expected error for missing background")
		}
	})

	t.Run("mismatched", func(t *testing.T) {
		_, err := Stack(map[Name]*image.RGBA{
			Background: uniform(8, 8, color.RGBA{A: 0xff}),
			Waterways:  uniform(4, 4, red),
		})
		if !errors.Is(err, ErrDimensionMismatch) {
			t.Errorf("unexpected error: got:%v want:%v", err, ErrDimensionMismatch)
		}
	})
}

func TestFile(t *testing.T) {
	got := Topography.File("IDR713")
	if want := "IDR713.topography.png"; got != want {
		t.Errorf("unexpected file name: got:%q want:%q", got, want)
	}
}
