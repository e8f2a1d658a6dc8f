package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// Log logs the HTTP requests.
func Log(debug bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			rw := WrapResponseWriter(w)

			start := time.Now()
			defer func() {
				attrs := []any{
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote", r.RemoteAddr),
					slog.Duration("elapsed", time.Since(start)),
					slog.Int64("recv_size", r.ContentLength),
					slog.Int("status", rw.Status()),
					slog.Int64("send_size", rw.Size()),
				}

				if debug {
					attrs = append(attrs,
						slog.String("query", r.URL.RawQuery),
						slog.String("host", r.Host),
						slog.Any("request_header", filterHeader(r.Header)),
						slog.Any("response_header", filterHeader(rw.Header())),
					)
				}

				if rvr := recover(); rvr != nil {
					slog.WarnContext(ctx, "request aborted", append(attrs, slog.Any("panic", rvr))...)
					panic(rvr)
				}

				slog.InfoContext(ctx, "request", attrs...)
			}()

			next.ServeHTTP(rw, r)
		})
	}
}

var hideHeaders = map[string]struct{}{
	"Authorization":       {},
	"Proxy-Authorization": {},
	"Cookie":              {},
	"Set-Cookie":          {},
}

func filterHeader(h http.Header) http.Header {
	if h == nil {
		return nil
	}

	out := make(http.Header, len(h))
	for k, v := range h {
		if _, ok := hideHeaders[http.CanonicalHeaderKey(k)]; ok {
			out[k] = []string{"***"}
			continue
		}
		out[k] = v
	}

	return out
}

// ResponseWriter records the status code and the size of the response.
type ResponseWriter struct {
	http.ResponseWriter
	status int
	size   int64
}

// WrapResponseWriter returns the writer, recording the response stats.
// If w already records them, it is returned as is.
func WrapResponseWriter(w http.ResponseWriter) *ResponseWriter {
	if rw, ok := w.(*ResponseWriter); ok {
		return rw
	}
	return &ResponseWriter{ResponseWriter: w}
}

// WriteHeader records the status code. Informational responses,
// except for protocol switching, are not final and not recorded.
func (w *ResponseWriter) WriteHeader(code int) {
	if w.status == 0 && (code >= 200 || code == http.StatusSwitchingProtocols) {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

// Write records the size of the written data.
func (w *ResponseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.size += int64(n)
	return n, err
}

// Flush sends any buffered data to the client.
func (w *ResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying writer, for http.ResponseController.
func (w *ResponseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Status returns the status code of the response, 200 if the handler
// didn't write anything explicitly.
func (w *ResponseWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// Size returns the number of written body bytes.
func (w *ResponseWriter) Size() int64 { return w.size }
