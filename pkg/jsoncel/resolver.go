package jsoncel

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/common-fate/clio"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/pkg/errors"
)

// ThisVar is bound to the entire context in every expression.
const ThisVar = "this"

var placeholder = regexp.MustCompile(`(?s)\{\{\s*(.*?)\s*\}\}`)

var (
	listType = reflect.TypeOf([]any{})
	mapType  = reflect.TypeOf(map[string]any{})
)

// Resolver renders templates. It is safe for concurrent use.
type Resolver struct {
	env *cel.Env

	mu sync.Mutex
	// programs caches compiled programs by expression source.
	programs map[string]cel.Program
}

func NewResolver() (*Resolver, error) {
	env, err := cel.NewEnv()
	if err != nil {
		return nil, err
	}
	return &Resolver{env: env, programs: map[string]cel.Program{}}, nil
}

// Resolve replaces each {{ }} placeholder in tpl with the value of its
// expression. Expressions referring to undefined variables or missing
// keys render as an empty string. A syntax error is returned as an error.
func (r *Resolver) Resolve(tpl string, vars map[string]any) (string, error) {
	var rerr error

	out := placeholder.ReplaceAllStringFunc(tpl, func(match string) string {
		if rerr != nil {
			return ""
		}
		expr := placeholder.FindStringSubmatch(match)[1]

		stringify := false
		if rest, ok := cutHelper(expr, "json"); ok {
			stringify = true
			expr = rest
		}

		val, found, err := r.Value(expr, vars)
		if err != nil {
			rerr = err
			return ""
		}
		if !found {
			return ""
		}
		if stringify {
			b, err := json.MarshalIndent(val, "", "  ")
			if err != nil {
				rerr = errors.Wrapf(err, "rendering %q as JSON", expr)
				return ""
			}
			return string(b)
		}
		s, err := Render(val)
		if err != nil {
			rerr = err
			return ""
		}
		return s
	})
	if rerr != nil {
		return "", rerr
	}
	return out, nil
}

// cutHelper strips a helper name followed by whitespace from the
// start of an expression.
func cutHelper(expr, helper string) (string, bool) {
	if !strings.HasPrefix(expr, helper) {
		return expr, false
	}
	rest := expr[len(helper):]
	trimmed := strings.TrimLeft(rest, " \t\n")
	if trimmed == rest || trimmed == "" {
		return expr, false
	}
	return trimmed, true
}

// Value evaluates a single expression. found is false when the
// expression refers to something that does not exist in vars.
func (r *Resolver) Value(expr string, vars map[string]any) (val any, found bool, err error) {
	prg, err := r.program(expr)
	if err != nil {
		return nil, false, err
	}

	activation := make(map[string]any, len(vars)+1)
	for k, v := range vars {
		activation[k] = v
	}
	if _, ok := activation[ThisVar]; !ok {
		activation[ThisVar] = vars
	}

	out, _, err := prg.Eval(activation)
	if err != nil {
		clio.Debugf("template expression %q did not resolve: %s", expr, err)
		return nil, false, nil
	}

	native, err := toNative(out)
	if err != nil {
		return nil, false, errors.Wrapf(err, "converting result of %q", expr)
	}
	return native, true, nil
}

func (r *Resolver) program(expr string) (cel.Program, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prg, ok := r.programs[expr]; ok {
		return prg, nil
	}

	// expressions are parsed but not type-checked, so that
	// references to variables which don't exist resolve at
	// evaluation time rather than failing compilation.
	ast, iss := r.env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errors.Wrapf(iss.Err(), "invalid template expression %q", expr)
	}
	prg, err := r.env.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid template expression %q", expr)
	}
	r.programs[expr] = prg
	return prg, nil
}

func toNative(v ref.Val) (any, error) {
	switch tv := v.(type) {
	case types.Null:
		return nil, nil
	case traits.Mapper:
		return tv.ConvertToNative(mapType)
	case traits.Lister:
		return tv.ConvertToNative(listType)
	}
	return v.Value(), nil
}

// Render formats a value for raw substitution into a template.
// Objects and arrays are rendered as compact JSON.
func Render(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10), nil
		}
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case fmt.Stringer:
		return t.String(), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
