package observability

import (
	"fmt"
	"net/http"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with structured logging
//
// The function should be called in a defer statement. If a panic occurs,
// it will be recovered and logged at Error level with the panic value,
// the full stack trace, and context about where the panic occurred.
//
// After logging, the panic is NOT re-raised. This prevents the panic from
// crashing the process but may leave the system in an inconsistent state.
// Use carefully.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}

// MustRecover recovers from a panic and converts it to an error
//
//	func parseData() (result Data, err error) {
//	    defer func() {
//	        err = observability.MustRecover(recover())
//	    }()
//	    // ... code that might panic
//	    return data, nil
//	}
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}

// RecoveryMiddleware converts handler panics into 500 responses instead of
// tearing down the connection
func RecoveryMiddleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.WithField("panic", rec).
						WithField("stack", string(debug.Stack())).
						WithField("path", r.URL.Path).
						Error("PANIC recovered")
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					w.Write([]byte(`{"error":"internal server error"}`))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
