package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

const headerBorrowerID = "X-Borrower-Id"

type ctxKey int

const borrowerIDKey ctxKey = iota

// requireBorrowerHeader rejects requests without a non-blank X-Borrower-Id
// and stores the value in the request context.
func (s *Server) requireBorrowerHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerBorrowerID))
		if id == "" {
			s.writeError(w, http.StatusBadRequest, "missing required headers: "+headerBorrowerID)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), borrowerIDKey, id)))
	})
}

// borrowerIDFrom returns the correlated borrower id, or "" outside the
// protected routes.
func borrowerIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(borrowerIDKey).(string)
	return id
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
