package middleware

import (
	"log"
	"net/http"
	"runtime/debug"

	"billing-backend/pkg/utils"
)

// PanicRecovery converts a handler panic into a 500 response. The stack
// is logged; the client only sees a generic error.
func PanicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[Recovery] %s %s panicked: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
				utils.Error(w, http.StatusInternalServerError, "Internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}
