// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package version reports the build version.
package version

import (
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
)

// Fprint writes the build version to w.
func Fprint(w io.Writer) error {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return errors.New("no build info")
	}
	_, err := fmt.Fprintln(w, String(bi))
	return err
}

// String returns the module version and VCS state recorded in bi.
func String(bi *debug.BuildInfo) string {
	var revision, modified string
	for _, bs := range bi.Settings {
		switch bs.Key {
		case "vcs.revision":
			revision = bs.Value
		case "vcs.modified":
			modified = bs.Value
		}
	}
	parts := []string{bi.Main.Version}
	if revision != "" {
		parts = append(parts, revision)
		switch modified {
		case "true":
			parts = append(parts, "(modified)")
		case "false":
		default:
			// This should never happen.
			parts = append(parts, modified)
		}
	}
	return strings.Join(parts, " ")
}
