package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/inferd-ai/inferd/internal/gateway/apierror"
)

// principalKey is the gin context key the middleware stores the caller under.
const principalKey = "auth.principal"

// Middleware authenticates the Authorization header and stores the principal
// on the request context. Routes that skip authentication simply do not
// mount it.
func Middleware(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))

		principal, err := a.Authenticate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(apierror.HTTPStatus(err), gin.H{
				"error": gin.H{
					"message": apierror.Message(err),
					"type":    "authentication_error",
				},
			})
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// PrincipalFrom returns the authenticated principal, if any.
func PrincipalFrom(c *gin.Context) (*Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*Principal)
	return p, ok
}

// bearerToken strips the Bearer scheme from an Authorization header.
func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	const scheme = "Bearer "
	if strings.HasPrefix(header, scheme) {
		return strings.TrimSpace(header[len(scheme):])
	}
	return strings.TrimSpace(header)
}
