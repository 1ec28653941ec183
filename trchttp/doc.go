// Package trchttp provides an HTTP middleware that runs each incoming request
// in its own execution context, and traces the decorated handler as a call.
//
// A delegating logger used within the handler, with the request context, dumps
// the trace of that request alone.
package trchttp
