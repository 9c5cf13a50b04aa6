// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package celext provides extensions to ease use of scan names in CEL match
// rules.
package celext

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// Lib returns a cel.EnvOption to configure extended functions to ease
// use of scan names and timestamps. The scanTime function is used to
// extract the time encoded in a scan name.
//
// # Scan Time
//
// Returns the time encoded in a scan name. It is an error for the name
// to not hold a time:
//
//	<string>.scan_time() -> <timestamp>
//
// Examples:
//
//	"IDR71B.T.202306081319.png".scan_time()  // return timestamp("2023-06-08T13:19:00Z")
//	"readme.txt".scan_time()                 // return error
//
// # Has Scan Time
//
// Returns whether a scan name holds a time:
//
//	<string>.has_scan_time() -> <bool>
//
// Examples:
//
//	"IDR71B.T.202306081319.png".has_scan_time()  // return true
//	"readme.txt".has_scan_time()                 // return false
//
// # Is Zero
//
// Returns whether the receiver is the zero time:
//
//	<timestamp>.is_zero() -> <bool>
//
// Examples:
//
//	timestamp("0001-01-01T00:00:00Z").is_zero()  // return true
//	timestamp("2023-06-08T13:19:00Z").is_zero()  // return false
//
// # Debug
//
// The second parameter is returned unaltered and the value is logged to the
// lib's logger:
//
//	debug(<string>, <dyn>) -> <dyn>
//
// Examples:
//
//	debug("name", name)  // return name and log the value
func Lib(log *slog.Logger, scanTime func(string) (time.Time, bool)) cel.EnvOption {
	return cel.Lib(lib{log: log, scanTime: scanTime})
}

type lib struct {
	log      *slog.Logger
	scanTime func(string) (time.Time, bool)
}

func (l lib) CompileOptions() []cel.EnvOption {
	return []cel.EnvOption{
		cel.Function("scan_time",
			cel.MemberOverload(
				"string_scan_time",
				[]*cel.Type{cel.StringType},
				cel.TimestampType,
				cel.UnaryBinding(l.parseScanTime),
			),
		),
		cel.Function("has_scan_time",
			cel.MemberOverload(
				"string_has_scan_time",
				[]*cel.Type{cel.StringType},
				cel.BoolType,
				cel.UnaryBinding(l.hasScanTime),
			),
		),
		cel.Function("is_zero",
			cel.MemberOverload(
				"timestamp_is_zero",
				[]*cel.Type{cel.TimestampType},
				cel.BoolType,
				cel.UnaryBinding(isZero),
			),
		),
		cel.Function("debug",
			cel.Overload(
				"debug_string_dyn",
				[]*cel.Type{cel.StringType, cel.DynType},
				cel.DynType,
				cel.BinaryBinding(l.logDebug),
				cel.OverloadIsNonStrict(),
			),
		),
	}
}

func (lib) ProgramOptions() []cel.ProgramOption { return nil }

func (l lib) parseScanTime(arg ref.Val) ref.Val {
	name, ok := arg.(types.String)
	if !ok {
		return types.ValOrErr(arg, "no such overload")
	}
	if l.scanTime == nil {
		return types.NewErr("no scan time parser")
	}
	t, ok := l.scanTime(string(name))
	if !ok {
		return types.NewErr("no scan time in %q", string(name))
	}
	return types.Timestamp{Time: t}
}

func (l lib) hasScanTime(arg ref.Val) ref.Val {
	name, ok := arg.(types.String)
	if !ok {
		return types.ValOrErr(arg, "no such overload")
	}
	if l.scanTime == nil {
		return types.False
	}
	_, ok = l.scanTime(string(name))
	return types.Bool(ok)
}

func isZero(arg ref.Val) ref.Val {
	ts, ok := arg.(types.Timestamp)
	if !ok {
		return types.ValOrErr(arg, "no such overload")
	}
	return types.Bool(ts.IsZero())
}

func (l lib) logDebug(arg0, arg1 ref.Val) ref.Val {
	tag, ok := arg0.(types.String)
	if !ok {
		return types.ValOrErr(arg0, "no such overload")
	}
	if l.log == nil {
		return arg1
	}
	if err, ok := arg1.(*types.Err); ok {
		l.log.LogAttrs(context.Background(), slog.LevelError, "cel debug log error", slog.String("tag", string(tag)), slog.Any("error", err))
	} else {
		l.log.LogAttrs(context.Background(), slog.LevelDebug, "cel debug log", slog.String("tag", string(tag)), slog.Any("value", arg1.Value()))
	}
	return arg1
}
