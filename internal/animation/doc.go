// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package animation provides assembly and GIF encoding of radar loop
// animations.
//
// An animation is built in two steps. An [Assembler] composites each scan
// image onto a private copy of a static base map to give a [Sequence], and
// an [Encoder] serializes the sequence as an animated GIF:
//
//	asm := animation.NewAssembler(base, animation.DefaultDelay)
//	for _, s := range scans {
//		err := asm.Add(s)
//		...
//	}
//	enc := animation.NewEncoder(w)
//	err := enc.SetLoopCount(animation.LoopForever)
//	...
//	for _, f := range asm.Sequence().Frames {
//		err = enc.Encode(f)
//		...
//	}
//	err = enc.Close()
package animation
