package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/pario-ai/querygate/pkg/config"
)

const actorKey = "querygate.actor"

// authenticator verifies HS256 bearer tokens for privileged routes.
type authenticator struct {
	secret []byte
	opts   []jwt.ParserOption
}

func newAuthenticator(cfg config.AdminConfig) *authenticator {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &authenticator{secret: []byte(cfg.JWTSecret), opts: opts}
}

func (a *authenticator) keyFunc(*jwt.Token) (any, error) {
	return a.secret, nil
}

// middleware rejects requests without a valid token and stores the token
// subject as the acting operator.
func (a *authenticator) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(a.secret) == 0 {
			writeJSONError(c, http.StatusForbidden, "forbidden", "admin actions are disabled")
			return
		}
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeJSONError(c, http.StatusUnauthorized, "unauthorized", "missing or malformed Authorization header")
			return
		}
		token, err := jwt.Parse(strings.TrimPrefix(header, "Bearer "), a.keyFunc, a.opts...)
		if err != nil || !token.Valid {
			writeJSONError(c, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}
		sub, err := token.Claims.GetSubject()
		if err != nil || sub == "" {
			writeJSONError(c, http.StatusUnauthorized, "unauthorized", "token has no subject")
			return
		}
		c.Set(actorKey, sub)
		c.Next()
	}
}

func actorOf(c *gin.Context) string {
	return c.GetString(actorKey)
}

// SignAdminToken issues an HS256 token for actor valid for ttl.
func SignAdminToken(cfg config.AdminConfig, actor string, ttl time.Duration) (string, error) {
	if cfg.JWTSecret == "" {
		return "", fmt.Errorf("admin.jwt_secret is not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   actor,
		Issuer:    cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
}
