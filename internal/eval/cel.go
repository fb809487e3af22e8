package eval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/vinodismyname/mcpsheets/internal/store"
	"google.golang.org/protobuf/types/known/structpb"
)

// interruptEvery is how many comprehension iterations run between context checks.
const interruptEvery = 100

var structValueType = reflect.TypeOf(&structpb.Value{})

func celEnv(reducer bool) (*cel.Env, error) {
	opts := []cel.EnvOption{
		cel.Variable("row", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
		cel.Function("dateHelper",
			cel.Overload("dateHelper_double", []*cel.Type{cel.DoubleType}, cel.DynType,
				cel.UnaryBinding(celDate)),
			cel.Overload("dateHelper_int", []*cel.Type{cel.IntType}, cel.DynType,
				cel.UnaryBinding(celDate)),
		),
	}
	if reducer {
		opts = append(opts, cel.Variable("accumulator", cel.DynType))
	}
	return cel.NewEnv(opts...)
}

func celDate(v ref.Val) ref.Val {
	var serial float64
	switch n := v.(type) {
	case types.Double:
		serial = float64(n)
	case types.Int:
		serial = float64(n)
	default:
		return types.NullValue
	}
	t, ok := serialToTime(serial)
	if !ok {
		return types.NullValue
	}
	return types.DefaultTypeAdapter.NativeToValue(t)
}

type celProgram struct {
	prg      cel.Program
	failures int
}

func newCELProgram(ctx context.Context, src string, reducer bool) (*celProgram, error) {
	if err := ctx.Err(); err != nil {
		return nil, timedOut(ctx, err)
	}
	env, err := celEnv(reducer)
	if err != nil {
		return nil, fmt.Errorf("eval: cel environment: %w", err)
	}
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %s", ErrCompile, issues.Err())
	}
	prg, err := env.Program(ast, cel.InterruptCheckFrequency(interruptEvery))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	return &celProgram{prg: prg}, nil
}

// eval returns errRowFailed for evaluation errors and ErrEvalTimeout when ctx ended.
func (p *celProgram) eval(ctx context.Context, vars map[string]any) (ref.Val, error) {
	if err := ctx.Err(); err != nil {
		return nil, timedOut(ctx, err)
	}
	out, _, err := p.prg.ContextEval(ctx, vars)
	if err != nil {
		if terr := timedOut(ctx, err); terr != nil {
			return nil, terr
		}
		p.failures++
		return nil, errRowFailed
	}
	return out, nil
}

type celPredicate struct{ *celProgram }

func compileCELPredicate(ctx context.Context, src string) (*celPredicate, error) {
	p, err := newCELProgram(ctx, src, false)
	if err != nil {
		return nil, err
	}
	return &celPredicate{p}, nil
}

// Match accepts only a boolean true result.
func (p *celPredicate) Match(ctx context.Context, row store.Row) (bool, error) {
	out, err := p.eval(ctx, map[string]any{"row": row.Native()})
	if errors.Is(err, errRowFailed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	return ok && b, nil
}

func (p *celPredicate) Failures() int { return p.failures }

type celReducer struct {
	*celProgram
	initial string
}

func compileCELReducer(ctx context.Context, src, initialJSON string) (*celReducer, error) {
	p, err := newCELProgram(ctx, src, true)
	if err != nil {
		return nil, err
	}
	r := &celReducer{celProgram: p, initial: initialJSON}
	if _, err := r.Init(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Init decodes the initial value afresh on every call.
func (r *celReducer) Init(ctx context.Context) (State, error) {
	var v any
	if err := json.Unmarshal([]byte(r.initial), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitialValue, err)
	}
	return v, nil
}

// Apply evaluates the expression; its value is the next accumulator.
func (r *celReducer) Apply(ctx context.Context, state State, row store.Row) (State, error) {
	out, err := r.eval(ctx, map[string]any{"accumulator": state, "row": row.Native()})
	if errors.Is(err, errRowFailed) {
		return state, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *celReducer) Result(ctx context.Context, state State) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, timedOut(ctx, err)
	}
	val, ok := state.(ref.Val)
	if !ok {
		return json.Marshal(state)
	}
	native, err := val.ConvertToNative(structValueType)
	if err != nil {
		return nil, fmt.Errorf("eval: serialize accumulator: %w", err)
	}
	pv, ok := native.(*structpb.Value)
	if !ok {
		return nil, fmt.Errorf("eval: serialize accumulator: unexpected %T", native)
	}
	return json.Marshal(pv.AsInterface())
}

func (r *celReducer) Failures() int { return r.failures }
