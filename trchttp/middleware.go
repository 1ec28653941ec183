package trchttp

import (
	"net/http"
	"strconv"

	"github.com/peterbourgon/trclog"
)

// NameFunc returns the traced call name for a request.
type NameFunc func(*http.Request) string

// DefaultName names each request by its method and path.
func DefaultName(r *http.Request) string {
	return r.Method + " " + r.URL.Path
}

// Middleware decorates an HTTP handler so that each request begins a new
// execution context in the tracer's registry, which is released when the
// request ends. The handler itself is traced as a call, with the request's
// method, path, and remote address as arguments. Responses with 5xx status
// codes are recorded as exceptions, via a StatusError.
//
// The call name is determined by passing the request to getName. If getName is
// nil, DefaultName is used. If the tracer is nil, requests are served directly.
//
// This is meant as a convenience function for basic use cases. Users who want
// different or more sophisticated behavior should implement their own
// middlewares.
func Middleware(t *trclog.Tracer, getName NameFunc) func(http.Handler) http.Handler {
	if getName == nil {
		getName = DefaultName
	}

	return func(next http.Handler) http.Handler {
		if t == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, release := t.Registry().Begin(r.Context())
			defer release()

			f := t.Enter(ctx, getName(r),
				trclog.Param("method", r.Method),
				trclog.Param("path", r.URL.Path),
				trclog.Param("remote", r.RemoteAddr),
			)

			iw := newInterceptor(w)

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

			next.ServeHTTP(iw, r.WithContext(ctx))
			returned = true

			code := iw.Code()
			if code >= http.StatusInternalServerError {
				f.Fail(&StatusError{Code: code})
				return
			}
			f.Exit(code, iw.Written())
		})
	}
}

// StatusError records a response with a server error status code.
type StatusError struct {
	Code int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return "HTTP " + strconv.Itoa(e.Code) + " " + http.StatusText(e.Code)
}

//
//
//

type interceptor struct {
	http.ResponseWriter

	code int
	n    int
}

func newInterceptor(w http.ResponseWriter) *interceptor {
	return &interceptor{ResponseWriter: w}
}

func (i *interceptor) WriteHeader(code int) {
	if i.code == 0 {
		i.code = code
	}
	i.ResponseWriter.WriteHeader(code)
}

func (i *interceptor) Write(p []byte) (int, error) {
	if i.code == 0 {
		i.code = http.StatusOK
	}
	n, err := i.ResponseWriter.Write(p)
	i.n += n
	return n, err
}

func (i *interceptor) Unwrap() http.ResponseWriter {
	return i.ResponseWriter
}

func (i *interceptor) Code() int {
	if i.code == 0 {
		return http.StatusOK
	}
	return i.code
}

func (i *interceptor) Written() int {
	return i.n
}
