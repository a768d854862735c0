package http

import (
	"net/http"
	"runtime/debug"

	"github.com/mkrupp/userstore/internal/infra/logging"
)

// RescueingMiddleware creates middleware that recovers from panics in HTTP handlers.
// The panic and stack are logged and the client gets a 500.
func RescueingMiddleware(next http.Handler, log logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			p := recover()
			if p == nil {
				return
			}

			log.ErrorContext(r.Context(), "handler panic",
				logging.Group("http", "method", r.Method, "uri", r.RequestURI),
				logging.Group("error", "panic", p, "stack", string(debug.Stack())),
			)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}
