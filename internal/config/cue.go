// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/encoding/gocode/gocodec"
	"golang.org/x/exp/constraints"
)

// Validate performs a validation of the provided configuration value, returning
// a list of invalid paths and a CUE errors.Error explaining the issues found if
// the configuration is invalid according to the provided schema.
func Validate(schema string, cfg any) (paths [][]string, err error) {
	ctx := cuecontext.New()

	v := ctx.CompileString(schema)
	if v.Err() != nil {
		return nil, v.Err()
	}
	codec := gocodec.New(ctx, nil)

	w, err := codec.Decode(cfg)
	if err != nil {
		return nil, err
	}

	err = v.Unify(w).Validate(cue.Concrete(true), cue.Final())
	errs := cerrors.Errors(err)
	if len(errs) == 0 {
		return nil, nil
	}
	paths = make([][]string, 0, len(errs))
	for _, err := range errs {
		paths = append(paths, cerrors.Path(err))
	}
	return unique(paths), cerrors.Promote(err, "invalid configuration")
}

// unique returns paths lexically sorted in ascending order and with repeated
// and empty elements omitted.
func unique[T constraints.Ordered](paths [][]T) [][]T {
	sort.Slice(paths, func(i, j int) bool {
		return compare(paths[i], paths[j]) < 0
	})
	u := paths[:0]
	for _, p := range paths {
		if len(p) == 0 {
			continue
		}
		if len(u) != 0 && compare(u[len(u)-1], p) == 0 {
			continue
		}
		u = append(u, p)
	}
	if len(u) == 0 {
		return nil
	}
	return u
}

func compare[T constraints.Ordered](a, b []T) int {
	for i := range min(len(a), len(b)) {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return +1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return +1
	default:
		return 0
	}
}
