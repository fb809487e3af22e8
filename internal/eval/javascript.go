package eval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dop251/goja"
	"github.com/vinodismyname/mcpsheets/internal/store"
)

// maxCallStack bounds recursion inside caller code.
const maxCallStack = 1024

var errRowFailed = errors.New("eval: row evaluation threw")

// jsProgram is one compiled function inside its own runtime. The runtime has
// no host bindings beyond dateHelper and is never shared across requests.
type jsProgram struct {
	vm       *goja.Runtime
	fn       goja.Callable
	helper   goja.Value
	failures int
}

func newJSProgram(ctx context.Context, name, wrapped string) (*jsProgram, error) {
	if err := ctx.Err(); err != nil {
		return nil, timedOut(ctx, err)
	}
	prg, err := goja.Compile(name, wrapped, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	vm := goja.New()
	vm.SetMaxCallStackSize(maxCallStack)
	v, err := vm.RunProgram(prg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, fmt.Errorf("%w: source did not produce a function", ErrCompile)
	}
	p := &jsProgram{vm: vm, fn: fn}
	p.helper = vm.ToValue(p.dateHelper)
	return p, nil
}

// dateHelper converts a day serial to a Date; falsy input yields null.
func (p *jsProgram) dateHelper(call goja.FunctionCall) goja.Value {
	arg := call.Argument(0)
	if !arg.ToBoolean() {
		return goja.Null()
	}
	t, ok := serialToTime(arg.ToFloat())
	if !ok {
		return goja.Null()
	}
	d, err := p.vm.New(p.vm.Get("Date"), p.vm.ToValue(t.UnixMilli()))
	if err != nil {
		return goja.Null()
	}
	return d
}

func (p *jsProgram) row(r store.Row) goja.Value {
	obj := p.vm.NewObject()
	for _, f := range r.Fields() {
		_ = obj.Set(f.Name, f.Value.Native())
	}
	return obj
}

// guard runs fn with the runtime interrupted when ctx ends. Any caller code
// reached from fn, including toJSON methods and getters, is covered.
func (p *jsProgram) guard(ctx context.Context, fn func() (goja.Value, error)) (goja.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, timedOut(ctx, err)
	}
	stop := context.AfterFunc(ctx, func() { p.vm.Interrupt(ErrEvalTimeout) })
	v, err := fn()
	if !stop() {
		p.vm.ClearInterrupt()
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return nil, fmt.Errorf("%w: %v", ErrEvalTimeout, context.Cause(ctx))
	}
	return v, err
}

// call runs the compiled function under guard. A thrown exception is
// reported as errRowFailed.
func (p *jsProgram) call(ctx context.Context, args ...goja.Value) (goja.Value, error) {
	v, err := p.guard(ctx, func() (goja.Value, error) {
		return p.fn(goja.Undefined(), args...)
	})
	if err == nil || errors.Is(err, ErrEvalTimeout) {
		return v, err
	}
	p.failures++
	return nil, errRowFailed
}

type jsPredicate struct{ *jsProgram }

func compileJSPredicate(ctx context.Context, src string) (*jsPredicate, error) {
	wrapped := "(function(row, dateHelper) {\nreturn (" + src + "\n);\n})"
	p, err := newJSProgram(ctx, "filter", wrapped)
	if err != nil {
		return nil, err
	}
	return &jsPredicate{p}, nil
}

func (p *jsPredicate) Match(ctx context.Context, row store.Row) (bool, error) {
	v, err := p.call(ctx, p.row(row), p.helper)
	if errors.Is(err, errRowFailed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v.ToBoolean(), nil
}

func (p *jsPredicate) Failures() int { return p.failures }

type jsReducer struct {
	*jsProgram
	initial   string
	parse     goja.Callable
	stringify goja.Callable
}

func compileJSReducer(ctx context.Context, src, initialJSON string) (*jsReducer, error) {
	wrapped := "(function(accumulator, row, dateHelper) {\n" + src + "\n})"
	p, err := newJSProgram(ctx, "reducer", wrapped)
	if err != nil {
		return nil, err
	}
	jsonObj := p.vm.Get("JSON").ToObject(p.vm)
	parse, _ := goja.AssertFunction(jsonObj.Get("parse"))
	stringify, _ := goja.AssertFunction(jsonObj.Get("stringify"))
	r := &jsReducer{jsProgram: p, initial: initialJSON, parse: parse, stringify: stringify}
	if _, err := r.Init(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Init parses the initial value inside the runtime, so every call returns a
// distinct object graph.
func (r *jsReducer) Init(ctx context.Context) (State, error) {
	v, err := r.guard(ctx, func() (goja.Value, error) {
		return r.parse(goja.Undefined(), r.vm.ToValue(r.initial))
	})
	if errors.Is(err, ErrEvalTimeout) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitialValue, err)
	}
	return v, nil
}

func (r *jsReducer) Apply(ctx context.Context, state State, row store.Row) (State, error) {
	acc, ok := state.(goja.Value)
	if !ok {
		acc = r.vm.ToValue(state)
	}
	v, err := r.call(ctx, acc, r.row(row), r.helper)
	if errors.Is(err, errRowFailed) {
		return acc, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Result serializes the accumulator with JSON.stringify, which may run caller
// code through toJSON or getters and is therefore bounded by ctx.
func (r *jsReducer) Result(ctx context.Context, state State) (json.RawMessage, error) {
	acc, ok := state.(goja.Value)
	if !ok {
		return json.Marshal(state)
	}
	out, err := r.guard(ctx, func() (goja.Value, error) {
		return r.stringify(goja.Undefined(), acc)
	})
	if errors.Is(err, ErrEvalTimeout) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("eval: serialize accumulator: %w", err)
	}
	if out == nil || goja.IsUndefined(out) {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(out.String()), nil
}

func (r *jsReducer) Failures() int { return r.failures }
