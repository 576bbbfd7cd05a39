package codec

import (
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"
)

// Rules compiles CEL expressions into a Validator. Each expression sees the
// value's JSON form as the variable `value` and must evaluate to true, e.g.
//
//	size(value) <= 100
//	value.all(c, c.title != "")
func Rules[T any](exprs ...string) (Validator[T], error) {
	env, err := cel.NewEnv(cel.Variable("value", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	programs := make([]rule, 0, len(exprs))
	for _, expr := range exprs {
		ast, iss := env.Compile(expr)
		if iss.Err() != nil {
			return nil, fmt.Errorf("compile rule %q: %w", expr, iss.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("program rule %q: %w", expr, err)
		}
		programs = append(programs, rule{expr: expr, prg: prg})
	}

	return ValidatorFunc[T](func(v T) error {
		doc, err := jsonDocument(v)
		if err != nil {
			return err
		}
		for _, r := range programs {
			out, _, err := r.prg.Eval(map[string]any{"value": doc})
			if err != nil {
				return fmt.Errorf("rule %q: %w", r.expr, err)
			}
			ok, isBool := out.Value().(bool)
			if !isBool {
				return fmt.Errorf("rule %q: result is %T, want bool", r.expr, out.Value())
			}
			if !ok {
				return fmt.Errorf("rule %q failed", r.expr)
			}
		}
		return nil
	}), nil
}

// MustRules is Rules for expressions known at compile time.
func MustRules[T any](exprs ...string) Validator[T] {
	v, err := Rules[T](exprs...)
	if err != nil {
		panic(err)
	}
	return v
}

type rule struct {
	expr string
	prg  cel.Program
}

func jsonDocument(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rule input: %w", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("rule input: %w", err)
	}
	return doc, nil
}
