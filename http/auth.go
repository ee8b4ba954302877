package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/logs"
)

// VerifyTokenHandler rejects requests that do not carry the given bearer
// token. An empty token lets every request through.
func VerifyTokenHandler(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			logs.WithTag("path", r.URL.Path).
				WithTag("remote_addr", r.RemoteAddr).
				Warn("unauthorized request")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
