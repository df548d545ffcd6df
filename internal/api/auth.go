package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

const identityKey = "calhub.identity"

// Identity is the resolved user of an inbound request. Session issuance
// and verification live outside this service; the engine only consumes the
// result.
type Identity struct {
	UserID string
	Email  string
}

// Authenticator resolves the identity of an inbound request.
type Authenticator interface {
	Authenticate(r *http.Request) (*Identity, error)
}

var errNoIdentity = errors.New("no identity on request")

// HeaderAuthenticator trusts identity headers set by the fronting session
// layer (reverse proxy or app server). Deploy only behind such a layer.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		return nil, errNoIdentity
	}
	return &Identity{
		UserID: userID,
		Email:  r.Header.Get("X-User-Email"),
	}, nil
}

// RequireAuth rejects unauthenticated requests with 401 and stores the
// resolved identity on the context.
func RequireAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, err := auth.Authenticate(c.Request)
		if err != nil {
			AbortJSONError(c, http.StatusUnauthorized, ErrorCodeUnauthorized, "authentication required")
			return
		}
		c.Set(identityKey, ident)
		c.Next()
	}
}

func identityFrom(c *gin.Context) *Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	ident, _ := v.(*Identity)
	return ident
}
