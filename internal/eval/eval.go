// Package eval compiles caller-supplied row predicates and group reducers and
// runs them against store rows. Two languages are available: JavaScript, run
// by a restricted pure-Go interpreter, and CEL.
package eval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/vinodismyname/mcpsheets/config"
	"github.com/vinodismyname/mcpsheets/internal/store"
)

// Dialect names an expression language.
type Dialect string

const (
	JavaScript Dialect = config.LanguageJavaScript
	CEL        Dialect = config.LanguageCEL
)

var (
	ErrCompile         = errors.New("eval: compile failed")
	ErrInitialValue    = errors.New("eval: initial value is not valid JSON")
	ErrDialectDisabled = errors.New("eval: language disabled")
	ErrUnknownDialect  = errors.New("eval: unknown language")
	ErrEvalTimeout     = errors.New("eval: evaluation interrupted")
)

// Predicate decides whether a row matches. A row whose evaluation throws does
// not match and is counted in Failures.
type Predicate interface {
	Match(ctx context.Context, row store.Row) (bool, error)
	Failures() int
}

// State is a reducer accumulator owned by the Reducer that produced it.
type State any

// Reducer folds rows into an accumulator. Init returns an independent copy of
// the initial value on every call. Apply returns the input state unchanged when
// the body throws. All three stop with ErrEvalTimeout once ctx ends.
type Reducer interface {
	Init(ctx context.Context) (State, error)
	Apply(ctx context.Context, state State, row store.Row) (State, error)
	Result(ctx context.Context, state State) (json.RawMessage, error)
	Failures() int
}

// Options configures which languages a Compiler accepts.
type Options struct {
	Default Dialect
	Allowed []Dialect
}

// Compiler resolves language names and compiles sources for them.
type Compiler struct {
	def     Dialect
	allowed []Dialect
}

// NewCompiler returns a Compiler. A zero Options allows both languages with
// JavaScript as the default.
func NewCompiler(opts Options) *Compiler {
	c := &Compiler{def: opts.Default, allowed: slices.Clone(opts.Allowed)}
	if len(c.allowed) == 0 {
		c.allowed = []Dialect{JavaScript, CEL}
	}
	if c.def == "" {
		c.def = Dialect(config.DefaultLanguage)
	}
	if !slices.Contains(c.allowed, c.def) {
		c.def = c.allowed[0]
	}
	return c
}

// Default reports the language used when a request names none.
func (c *Compiler) Default() Dialect { return c.def }

// Resolve maps a requested language name to an enabled Dialect.
func (c *Compiler) Resolve(name string) (Dialect, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return c.def, nil
	}
	d := Dialect(n)
	switch d {
	case JavaScript, CEL:
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDialect, name)
	}
	if !slices.Contains(c.allowed, d) {
		return "", fmt.Errorf("%w: %s", ErrDialectDisabled, d)
	}
	return d, nil
}

// CompilePredicate compiles a boolean expression over row.
func (c *Compiler) CompilePredicate(ctx context.Context, language, src string) (Predicate, error) {
	d, err := c.Resolve(language)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrCompile)
	}
	switch d {
	case CEL:
		return compileCELPredicate(ctx, src)
	default:
		return compileJSPredicate(ctx, src)
	}
}

// CompileReducer compiles a reducer and validates its JSON initial value.
func (c *Compiler) CompileReducer(ctx context.Context, language, src, initialJSON string) (Reducer, error) {
	d, err := c.Resolve(language)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("%w: empty reducer body", ErrCompile)
	}
	init := strings.TrimSpace(initialJSON)
	if !json.Valid([]byte(init)) {
		return nil, fmt.Errorf("%w: %q", ErrInitialValue, initialJSON)
	}
	switch d {
	case CEL:
		return compileCELReducer(ctx, src, init)
	default:
		return compileJSReducer(ctx, src, init)
	}
}

// timedOut reports whether err or ctx indicate the evaluation was cut short.
func timedOut(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrEvalTimeout, context.Cause(ctx))
	}
	if errors.Is(err, ErrEvalTimeout) {
		return err
	}
	return nil
}
