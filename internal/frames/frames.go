// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package frames selects the scan images that make up a radar loop.
package frames

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"
)

// ErrNoFrames is returned when no scan matches a product.
var ErrNoFrames = errors.New("no frames available")

// DefaultCount is the number of frames in a loop.
const DefaultCount = 7

// Matcher is a scan file name predicate.
type Matcher interface {
	Match(name string) (bool, error)
}

// IsImage returns whether name has a recognised image file extension.
func IsImage(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".png", ".gif", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp":
		return true
	default:
		return false
	}
}

// Token is a Matcher that matches image file names containing the token.
type Token string

// Match implements the Matcher interface.
func (t Token) Match(name string) (bool, error) {
	return strings.Contains(name, string(t)) && IsImage(name), nil
}

// Select returns the final n names in ascending order that are matched by m.
// The provided names are not modified. If no name matches, Select returns
// ErrNoFrames.
func Select(names []string, m Matcher, n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid frame count: %d", n)
	}
	var matched []string
	for _, name := range names {
		ok, err := m.Match(name)
		if err != nil {
			return nil, fmt.Errorf("match %s: %w", name, err)
		}
		if ok {
			matched = append(matched, name)
		}
	}
	if len(matched) == 0 {
		return nil, ErrNoFrames
	}
	// Listings are expected to be in ascending order already, but
	// nothing in the store contract guarantees it.
	slices.Sort(matched)
	matched = slices.Compact(matched)
	if len(matched) > n {
		matched = matched[len(matched)-n:]
	}
	return matched, nil
}

// stampLayout is the layout of the time stamp field of a scan name.
const stampLayout = "200601021504"

// ParseTime returns the UTC time encoded in a scan file name of the form
// "<product>.T.<YYYYMMDDhhmm>.<ext>".
func ParseTime(name string) (time.Time, bool) {
	base := strings.TrimSuffix(path.Base(name), path.Ext(name))
	for _, f := range strings.Split(base, ".") {
		if len(f) != len(stampLayout) {
			continue
		}
		t, err := time.Parse(stampLayout, f)
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
