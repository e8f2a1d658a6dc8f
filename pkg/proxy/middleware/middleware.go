// Package middleware provides HTTP middlewares for the proxy and admin servers.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cappuccinotm/slogx/slogm"
	"github.com/google/uuid"
)

// Middleware is a function that intercepts the execution of an HTTP handler.
type Middleware func(http.Handler) http.Handler

// Wrap is a chain of middlewares. The first middleware is the outermost one.
func Wrap(base http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		base = mws[i](base)
	}
	return base
}

// Chain chains the middlewares.
func Chain(mws ...Middleware) Middleware {
	return func(next http.Handler) http.Handler {
		return Wrap(next, mws...)
	}
}

// AppInfo adds the app info to the response headers.
func AppInfo(app, author, version string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("App-Name", app)
			w.Header().Set("Author", author)
			w.Header().Set("App-Version", version)
			next.ServeHTTP(w, r)
		})
	}
}

// RequestIDHeader is the header to take the request ID from.
const RequestIDHeader = "X-Request-Id"

// RequestID puts the request ID into the logging context of the request.
// The ID is taken from the X-Request-Id header or generated, the request
// itself is left untouched.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		next.ServeHTTP(w, r.WithContext(slogm.ContextWithRequestID(r.Context(), id)))
	})
}

// Recoverer is a middleware that recovers from panics, logs the panic and
// responds with 500, if nothing was written yet.
// http.ErrAbortHandler is propagated, it signals an aborted response.
func Recoverer(responseMessage string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}

				if err, ok := rvr.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rvr)
				}

				slog.ErrorContext(r.Context(), "request panic",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote", r.RemoteAddr),
					slog.Any("panic", rvr))

				http.Error(w, responseMessage, http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Maybe is a middleware that conditionally applies the given middleware.
func Maybe(apply bool, mw Middleware) Middleware {
	if !apply {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}
