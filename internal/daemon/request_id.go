package daemon

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"bindery/internal/services"
)

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware tags every request with a correlation id, reusing a
// well-formed client supplied one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}
