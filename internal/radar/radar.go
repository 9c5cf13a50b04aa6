// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package radar implements the radar loop rendering pipeline.
//
// A render retrieves the static layers and the most recent scans of a
// product from a remote store, composites each scan onto the stacked
// layers and encodes the result as an infinitely looping animated GIF.
package radar

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/font/basicfont"

	"github.com/kortschak/radar/internal/animation"
	"github.com/kortschak/radar/internal/frames"
	"github.com/kortschak/radar/internal/history"
	"github.com/kortschak/radar/internal/layer"
	"github.com/kortschak/radar/internal/remote"
	"github.com/kortschak/radar/internal/sink"
	"github.com/kortschak/radar/internal/slogext"
	"github.com/kortschak/radar/internal/text"
)

// Product identifies a radar product and the scans that belong to it.
type Product struct {
	// ID is the product identifier used to name static layers.
	ID string
	// Token is the string that scan names must contain.
	Token string
	// Match is an optional CEL expression used in place of Token
	// matching. See frames.NewCEL.
	Match string
	// Output is an optional path that each rendered loop is
	// persisted to.
	Output string
}

// Matcher returns the scan name matcher for p. Debug output from CEL
// match rules is written to log.
func (p Product) Matcher(log *slog.Logger) (frames.Matcher, error) {
	if p.Match == "" {
		return frames.Token(p.Token), nil
	}
	return frames.NewCEL(p.Match, p.ID, p.Token, log)
}

// Policy is the handling of individual scan failures.
type Policy string

const (
	// Fail aborts the render on any failure.
	Fail Policy = "fail"
	// Skip omits scans that fail retrieval or decoding from
	// the loop.
	Skip Policy = "skip"
)

// Default directories in the store.
const (
	DefaultLayerDir = "anon/gen/radar_transparencies"
	DefaultScanDir  = "anon/gen/radar"
)

// Options holds the rendering parameters. Zero values are replaced by
// their defaults.
type Options struct {
	// LayerDir and ScanDir are the store directories holding the static
	// layers and the scans. Relative paths are resolved from the store
	// root.
	LayerDir string
	ScanDir  string

	// Frames is the maximum number of scans in a loop.
	Frames int
	// Delay is the display time of each frame. A zero Delay is
	// replaced by animation.DefaultDelay.
	Delay time.Duration
	// OnError is the scan failure policy.
	OnError Policy
	// Label adds a timestamp label to each frame.
	Label bool
}

func (o Options) withDefaults() Options {
	if o.LayerDir == "" {
		o.LayerDir = DefaultLayerDir
	}
	if o.ScanDir == "" {
		o.ScanDir = DefaultScanDir
	}
	if o.Frames == 0 {
		o.Frames = frames.DefaultCount
	}
	if o.Delay == 0 {
		o.Delay = animation.DefaultDelay
	}
	if o.OnError == "" {
		o.OnError = Fail
	}
	return o
}

// Recorder is a render history store.
type Recorder interface {
	Record(ctx context.Context, r history.Render) error
}

// Renderer renders radar loops. A Renderer is safe for concurrent use;
// each render uses its own store session.
type Renderer struct {
	dial remote.Dialer
	opts Options
	hist Recorder
	log  *slog.Logger
}

// NewRenderer returns a new Renderer using dial to obtain store sessions.
// If hist is not nil each render outcome is recorded to it.
func NewRenderer(dial remote.Dialer, opts Options, hist Recorder, log *slog.Logger) (*Renderer, error) {
	opts = opts.withDefaults()
	if opts.Frames < 0 {
		return nil, fmt.Errorf("invalid frame count: %d", opts.Frames)
	}
	if opts.Delay < 0 {
		return nil, fmt.Errorf("invalid frame delay: %v", opts.Delay)
	}
	switch opts.OnError {
	case Fail, Skip:
	default:
		return nil, fmt.Errorf("invalid error policy: %q", opts.OnError)
	}
	return &Renderer{
		dial: dial,
		opts: opts,
		hist: hist,
		log:  log.With(slog.String("component", "radar")),
	}, nil
}

// Result is a successful render.
type Result struct {
	// ID is the unique ID of the render.
	ID string
	// GIF is the encoded animation.
	GIF []byte
	// Frames is the list of scans in the loop in display order.
	Frames []string
	// Skipped is the list of scans omitted by the Skip policy.
	Skipped []string
}

// Render renders the radar loop for p.
func (r *Renderer) Render(ctx context.Context, p Product) (res *Result, err error) {
	id := uuid.NewString()
	log := r.log.With(slog.String("request_id", id), slog.String("product", p.ID))
	start := time.Now()
	rec := history.Render{ID: id, Product: p.ID, Start: start.UTC()}
	defer func() {
		rec.Duration = time.Since(start)
		if err != nil {
			kind := KindOf(err)
			rec.Kind = kind.String()
			rec.Error = err.Error()
			log.LogAttrs(ctx, slog.LevelError, "render failed", slog.String("kind", rec.Kind), slog.Any("error", err))
		} else {
			rec.Size = len(res.GIF)
			log.LogAttrs(ctx, slog.LevelInfo, "render complete", slog.Int("size", rec.Size), slog.Duration("duration", rec.Duration))
		}
		if r.hist != nil {
			// Record failures must not affect the render.
			herr := r.hist.Record(context.WithoutCancel(ctx), rec)
			if herr != nil {
				log.LogAttrs(ctx, slog.LevelWarn, "failed to record render", slog.Any("error", herr))
			}
		}
	}()

	match, err := p.Matcher(log)
	if err != nil {
		return nil, err
	}
	log.LogAttrs(ctx, slog.LevelDebug, "render", slog.Any("match", slogext.Stringer{Stringer: matchString{match}}))

	var seq *animation.Sequence
	err = remote.With(ctx, r.dial, func(s remote.Store) error {
		var err error
		seq, rec.Frames, rec.Skipped, err = r.assemble(ctx, s, p, match, log)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.LogAttrs(ctx, slog.LevelDebug, "session closed")

	var buf sink.Buffer
	err = animation.EncodeSequence(&buf, seq)
	if err != nil {
		return nil, err
	}
	if p.Output != "" {
		err = buf.Persist(ctx, p.Output)
		if err != nil {
			return nil, err
		}
		log.LogAttrs(ctx, slog.LevelDebug, "persisted", slog.String("path", p.Output))
	}
	b, err := buf.Bytes()
	if err != nil {
		return nil, err
	}
	return &Result{ID: id, GIF: b, Frames: rec.Frames, Skipped: rec.Skipped}, nil
}

// assemble retrieves the static layers and scans for p from s and returns
// the assembled sequence and the names of the included and skipped scans.
func (r *Renderer) assemble(ctx context.Context, s remote.Store, p Product, match frames.Matcher, log *slog.Logger) (*animation.Sequence, []string, []string, error) {
	err := s.ChangeDir(ctx, r.opts.LayerDir)
	if err != nil {
		return nil, nil, nil, err
	}
	logDir(ctx, s, log)
	layers := make(map[layer.Name]*image.RGBA, len(layer.Order))
	for _, n := range layer.Order {
		name := n.File(p.ID)
		b, err := s.Retrieve(ctx, name)
		if err != nil {
			return nil, nil, nil, err
		}
		img, err := layer.Decode(b)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%s: %w", name, err)
		}
		layers[n] = img
		log.LogAttrs(ctx, slog.LevelDebug, "layer", slog.String("name", name), slog.Any("size", img.Bounds().Size()))
	}
	base, err := layer.Stack(layers)
	if err != nil {
		return nil, nil, nil, err
	}

	err = s.ChangeDir(ctx, "/")
	if err != nil {
		return nil, nil, nil, err
	}
	err = s.ChangeDir(ctx, r.opts.ScanDir)
	if err != nil {
		return nil, nil, nil, err
	}
	logDir(ctx, s, log)
	names, err := s.List(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	selected, err := frames.Select(names, match, r.opts.Frames)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%s: %w", p.ID, err)
	}
	log.LogAttrs(ctx, slog.LevelDebug, "selected scans", slog.Int("listed", len(names)), slog.Any("selected", slogext.Names(selected)))

	asm := animation.NewAssembler(base, r.opts.Delay)
	if r.opts.Label {
		asm.Label = label
	}
	var included, skipped []string
	for _, name := range selected {
		b, err := s.Retrieve(ctx, name)
		var img *image.RGBA
		if err == nil {
			img, err = layer.Decode(b)
			if err != nil {
				err = fmt.Errorf("%s: %w", name, err)
			}
		}
		if err != nil {
			if r.opts.OnError == Skip && skippable(err) {
				log.LogAttrs(ctx, slog.LevelWarn, "skipping scan", slog.String("name", name), slog.Any("error", err))
				skipped = append(skipped, name)
				continue
			}
			return nil, nil, nil, err
		}
		err = asm.Add(animation.Scan{Source: name, Image: img})
		if err != nil {
			return nil, nil, nil, err
		}
		included = append(included, name)
	}
	if asm.Len() == 0 {
		return nil, nil, skipped, fmt.Errorf("%s: %w: all %d scans skipped", p.ID, frames.ErrNoFrames, len(selected))
	}
	return asm.Sequence(), included, skipped, nil
}

// skippable returns whether err is a failure of a single scan that may be
// omitted under the Skip policy.
func skippable(err error) bool {
	return errors.Is(err, remote.ErrRetrieval) || errors.Is(err, layer.ErrDecode)
}

func logDir(ctx context.Context, s remote.Store, log *slog.Logger) {
	if !log.Enabled(ctx, slog.LevelDebug) {
		return
	}
	wd, ok := s.(remote.WorkingDirer)
	if !ok {
		return
	}
	dir, err := wd.WorkingDir(ctx)
	if err != nil {
		log.LogAttrs(ctx, slog.LevelDebug, "working directory", slog.Any("error", err))
		return
	}
	log.LogAttrs(ctx, slog.LevelDebug, "working directory", slog.String("path", dir))
}

// label draws the scan time of source onto dst.
func label(dst draw.Image, source string) {
	msg := source
	if t, ok := frames.ParseTime(source); ok {
		msg = t.Format("2006-01-02 15:04 UTC")
	}
	text.Label(dst, msg, color.White, color.Black, basicfont.Face7x13, 0, 1, 4)
}

type matchString struct {
	frames.Matcher
}

func (m matchString) String() string {
	switch m := m.Matcher.(type) {
	case fmt.Stringer:
		return m.String()
	case frames.Token:
		return fmt.Sprintf("contains(%q)", string(m))
	default:
		return fmt.Sprintf("%T", m)
	}
}
