// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package frames

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"

	"github.com/kortschak/radar/internal/celext"
)

// CEL is a Matcher that evaluates a CEL expression for each name. The
// expression has access to the variables name, product and token, and must
// evaluate to a bool. The scan_time, has_scan_time, is_zero and debug
// extensions are available; see celext.Lib.
type CEL struct {
	src     string
	product string
	token   string
	prg     cel.Program
}

// NewCEL compiles src into a CEL Matcher for the provided product and token.
// Debug output from the expression is written to log if it is not nil.
func NewCEL(src, product, token string, log *slog.Logger) (*CEL, error) {
	env, err := cel.NewEnv(
		cel.Variable("name", cel.StringType),
		cel.Variable("product", cel.StringType),
		cel.Variable("token", cel.StringType),
		celext.Lib(log, ParseTime),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create env: %v", err)
	}
	ast, iss := env.Compile(src)
	if iss.Err() != nil {
		return nil, fmt.Errorf("failed compilation: %v", iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("match expression must be bool: %s", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed program instantiation: %v", err)
	}
	return &CEL{src: src, product: product, token: token, prg: prg}, nil
}

// Match implements the Matcher interface.
func (m *CEL) Match(name string) (bool, error) {
	out, _, err := m.prg.Eval(map[string]any{
		"name":    name,
		"product": m.product,
		"token":   m.token,
	})
	if err != nil {
		return false, fmt.Errorf("failed eval: %v", err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("non-bool match result: %T", out.Value())
	}
	return ok, nil
}

// String returns the CEL source of the matcher.
func (m *CEL) String() string { return m.src }
