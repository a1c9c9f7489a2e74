package app

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"slices"

	"github.com/fiffu/pushpanel/config"
	"github.com/fiffu/pushpanel/lib"
)

type actorKey struct{}

// basicAuth authenticates against the configured credentials and stores the actor on the
// request context.
func basicAuth(realm string, creds map[string]config.Credential) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			cred, known := creds[user]
			if !ok || !known || subtle.ConstantTimeCompare([]byte(pass), []byte(cred.Password)) != 1 {
				w.Header().Add("WWW-Authenticate", fmt.Sprintf(`Basic realm="%s"`, realm))
				writeJSON(w, http.StatusUnauthorized, errorView{Error: "Authentication required"})
				return
			}

			ctx := context.WithValue(r.Context(), actorKey{}, lib.Actor{Username: user, Role: cred.Role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !slices.Contains(roles, actorFrom(r.Context()).Role) {
				writeJSON(w, http.StatusForbidden, errorView{Error: "Insufficient permissions"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func actorFrom(ctx context.Context) lib.Actor {
	actor, _ := ctx.Value(actorKey{}).(lib.Actor)
	return actor
}
