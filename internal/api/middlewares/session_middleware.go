package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Session attaches the caller's anonymous session id, minting a fresh
// one when the header is absent. The id is echoed back so the client
// can reuse it on subsequent requests.
func Session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := r.Header.Get("X-Session-ID")
		if sid == "" {
			sid = uuid.NewString()
		}
		w.Header().Set("X-Session-ID", sid)

		ctx := context.WithValue(r.Context(), sessionIDKey, sid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
