// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package radar

import (
	"errors"

	"github.com/kortschak/radar/internal/animation"
	"github.com/kortschak/radar/internal/frames"
	"github.com/kortschak/radar/internal/layer"
	"github.com/kortschak/radar/internal/remote"
	"github.com/kortschak/radar/internal/sink"
)

// Kind is the classification of a render failure.
type Kind int

const (
	Unknown Kind = iota
	ConnectionFailure
	AuthFailure
	ListingFailure
	RetrievalFailure
	DecodeFailure
	DimensionMismatch
	EncodeFailure
	PersistenceFailure
	NoFramesAvailable
)

func (k Kind) String() string {
	switch k {
	case ConnectionFailure:
		return "ConnectionFailure"
	case AuthFailure:
		return "AuthFailure"
	case ListingFailure:
		return "ListingFailure"
	case RetrievalFailure:
		return "RetrievalFailure"
	case DecodeFailure:
		return "DecodeFailure"
	case DimensionMismatch:
		return "DimensionMismatch"
	case EncodeFailure:
		return "EncodeFailure"
	case PersistenceFailure:
		return "PersistenceFailure"
	case NoFramesAvailable:
		return "NoFramesAvailable"
	default:
		return "Unknown"
	}
}

// kinds is the classification order used by KindOf. Errors may wrap more
// than one sentinel, so more specific kinds are checked first.
var kinds = []struct {
	err  error
	kind Kind
}{
	{err: frames.ErrNoFrames, kind: NoFramesAvailable},
	{err: layer.ErrDimensionMismatch, kind: DimensionMismatch},
	{err: layer.ErrDecode, kind: DecodeFailure},
	{err: remote.ErrAuth, kind: AuthFailure},
	{err: remote.ErrConnection, kind: ConnectionFailure},
	{err: remote.ErrListing, kind: ListingFailure},
	{err: remote.ErrRetrieval, kind: RetrievalFailure},
	{err: animation.ErrEncode, kind: EncodeFailure},
	{err: sink.ErrPersist, kind: PersistenceFailure},
}

// KindOf returns the Kind of err. A nil error or an error that does not
// wrap a known failure returns Unknown.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return Unknown
}
