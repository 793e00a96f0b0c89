package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/stwalsh4118/peritaje/internal/models"
	"github.com/stwalsh4118/peritaje/internal/session"
)

// IdentityKey is the context key for the resolved caller identity.
const IdentityKey = "identity"

// SessionOptions controls the session cookie.
type SessionOptions struct {
	Secure bool
	Path   string
}

// Session resolves the caller identity from a Bearer token or the session
// cookie. Callers without a usable cookie get a fresh anonymous session so
// every request carries an identity. An invalid Bearer token is rejected.
func Session(mgr *session.Manager, opts SessionOptions) gin.HandlerFunc {
	if opts.Path == "" {
		opts.Path = "/"
	}

	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			id, err := mgr.Parse(token)
			if err != nil {
				abortUnauthorized(c, "Token de sesión inválido o vencido")
				return
			}
			c.Set(IdentityKey, id)
			c.Next()
			return
		}

		if cookie, err := c.Cookie(session.CookieName); err == nil && cookie != "" {
			if id, err := mgr.Parse(cookie); err == nil {
				c.Set(IdentityKey, id)
				c.Next()
				return
			}
		}

		id, token, _, err := mgr.IssueAnonymous()
		if err != nil {
			if log := GetLogger(c); log != nil {
				log.Error("Failed to issue anonymous session", err, nil)
			}
			c.Next()
			return
		}

		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(session.CookieName, token, int(mgr.TTL().Seconds()), opts.Path, "", opts.Secure, true)
		c.Set(IdentityKey, id)
		c.Next()
	}
}

// GetIdentity retrieves the caller identity from the Gin context.
func GetIdentity(c *gin.Context) (models.Identity, bool) {
	if v, exists := c.Get(IdentityKey); exists {
		if id, ok := v.(models.Identity); ok && !id.Empty() {
			return id, true
		}
	}
	return models.Identity{}, false
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{
			"code":       "UNAUTHORIZED",
			"message":    message,
			"request_id": GetRequestID(c),
		},
	})
}
