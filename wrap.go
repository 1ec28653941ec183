package trclog

import (
	"context"
	"reflect"
	"runtime"
	"strconv"
	"strings"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Wrap returns a function of the same type as fn, which records every call to
// fn as a traced call with the given name. If name is empty, the name of fn as
// reported by the runtime is used. Params optionally names the arguments of
// fn, in order; unnamed arguments are called arg0, arg1, and so on.
//
// If the first parameter of fn is a context.Context, it determines the
// execution context of each call, and it isn't recorded as an argument.
// Otherwise, calls are recorded into the registry's fallback buffer.
//
// If the last result of fn is an error, a non-nil error is recorded as an
// exception. All results, including errors, are returned to the caller
// unchanged. If fn panics, the panic is recorded and then continues with the
// same value.
//
// If t is nil, or if fn isn't a non-nil function, fn is returned as-is.
//
//	divide := trclog.Wrap(tracer, "divide", func(a, b int) (int, error) {
//	    if b == 0 {
//	        return 0, errDivideByZero
//	    }
//	    return a / b, nil
//	}, "a", "b")
func Wrap[F any](t *Tracer, name string, fn F, params ...string) F {
	v := reflect.ValueOf(fn)
	if t == nil || v.Kind() != reflect.Func || v.IsNil() {
		return fn
	}

	typ := v.Type()
	if name == "" {
		name = funcName(v)
	}

	var (
		hasContext = typ.NumIn() > 0 && typ.In(0) == contextType
		hasError   = typ.NumOut() > 0 && typ.Out(typ.NumOut()-1) == errorType
		argNames   = makeArgNames(typ, hasContext, params)
	)

	wrapped := reflect.MakeFunc(typ, func(in []reflect.Value) (out []reflect.Value) {
		ctx := context.Background()
		if hasContext {
			if c, ok := in[0].Interface().(context.Context); ok && c != nil {
				ctx = c
			}
		}

		f := t.Enter(ctx, name, reflectArgs(in, argNames, hasContext)...)

		returned := false
		defer func() {
			if returned {
				return
			}
			x := recover()
			f.Panic(x)
			if x != nil {
				panic(x)
			}
		}()

		if typ.IsVariadic() {
			out = v.CallSlice(in)
		} else {
			out = v.Call(in)
		}
		returned = true

		results := out
		if hasError {
			last := out[len(out)-1]
			if !last.IsNil() {
				err, _ := last.Interface().(error)
				f.Fail(err)
				return out
			}
			results = out[:len(out)-1]
		}

		vals := make([]any, len(results))
		for i := range results {
			vals[i] = results[i].Interface()
		}
		f.Exit(vals...)

		return out
	})

	return wrapped.Interface().(F)
}

func makeArgNames(typ reflect.Type, hasContext bool, params []string) []string {
	names := make([]string, typ.NumIn())
	first := 0
	if hasContext {
		names[0] = "ctx"
		first = 1
	}
	for i, j := first, 0; i < len(names); i, j = i+1, j+1 {
		if j < len(params) && params[j] != "" {
			names[i] = params[j]
		} else {
			names[i] = "arg" + strconv.Itoa(j)
		}
	}
	return names
}

func reflectArgs(in []reflect.Value, names []string, hasContext bool) []Arg {
	first := 0
	if hasContext {
		first = 1
	}
	if len(in) <= first {
		return nil
	}

	args := make([]Arg, 0, len(in)-first)
	for i := first; i < len(in); i++ {
		args = append(args, Arg{Key: names[i], Value: in[i].Interface()})
	}
	return args
}

// funcName returns the fully-qualified name of the function value v.
func funcName(v reflect.Value) string {
	fn := runtime.FuncForPC(v.Pointer())
	if fn == nil {
		return v.Type().String()
	}
	return strings.TrimSuffix(fn.Name(), "-fm")
}
