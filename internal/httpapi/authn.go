package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"clmhub.io/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
	tokenQuery = "access_token"
)

var errMissingBearer = errors.New("missing bearer token")

// withAuth resolves the bearer token into an identity. allowQuery also accepts
// ?access_token= for clients that cannot send headers.
func (a *API) withAuth(allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get(authHeader)
			if allowQuery && strings.TrimSpace(header) == "" {
				if t := strings.TrimSpace(r.URL.Query().Get(tokenQuery)); t != "" {
					header = bearer + t
				}
			}
			r, ok := a.identify(w, r, header)
			if !ok {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authenticated is withAuth for a single function endpoint.
func (a *API) authenticated(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r, ok := a.identify(w, r, r.Header.Get(authHeader))
		if !ok {
			return
		}
		h(w, r)
	}
}

func (a *API) identify(w http.ResponseWriter, r *http.Request, header string) (*http.Request, bool) {
	token, err := extractBearerToken(header)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return r, false
	}
	id, err := a.deps.Auth.Authenticate(r.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidToken):
			writeError(w, r, http.StatusUnauthorized, "invalid token")
		default:
			writeError(w, r, http.StatusInternalServerError, "authentication error")
		}
		return r, false
	}
	ctx := auth.ContextWithIdentity(r.Context(), id)
	ctx = auth.ContextWithToken(ctx, token)
	return r.WithContext(ctx), true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingBearer
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errMissingBearer
	}
	return token, nil
}

// identity returns the caller resolved by withAuth or authenticated.
func identity(r *http.Request) auth.Identity {
	id, _ := auth.IdentityFromContext(r.Context())
	return id
}

// require runs the guard for companyID: membership only when perm is empty,
// otherwise membership plus perm. It writes the error response itself.
func (a *API) require(w http.ResponseWriter, r *http.Request, companyID, perm string) (auth.Access, bool) {
	companyID = strings.TrimSpace(companyID)
	if companyID == "" {
		writeError(w, r, http.StatusBadRequest, "missing company_id")
		return auth.Access{}, false
	}
	id := identity(r)
	var (
		access auth.Access
		err    error
	)
	if perm == "" {
		access, err = a.deps.Guard.RequireMember(r.Context(), companyID, id.UserID)
	} else {
		access, err = a.deps.Guard.RequirePermission(r.Context(), companyID, id.UserID, perm)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return auth.Access{}, false
	}
	return access, true
}
