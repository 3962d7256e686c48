package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"venue-orders/internal/models"
)

const actorContextKey = "actor"

// Claims is the bearer token payload: the subject is the actor id
type Claims struct {
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Actor is the authenticated caller of a request
type Actor struct {
	ID   string
	Role models.Role
}

// IssueToken signs an HS256 token for actorID with the given role
func IssueToken(secret []byte, actorID string, role models.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// authMiddleware rejects requests without a valid bearer token and stores the Actor.
// The stream endpoint may carry the token in the access_token query parameter
// since EventSource cannot set headers.
func authMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := parseActor(c, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Unauthorized",
				"details": err.Error(),
			})
			return
		}
		c.Set(actorContextKey, actor)
		c.Next()
	}
}

func parseActor(c *gin.Context, secret []byte) (Actor, error) {
	tokenString, err := extractBearerToken(c)
	if err != nil {
		return Actor{}, err
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Actor{}, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims.Subject == "" {
		return Actor{}, errors.New("missing subject claim")
	}
	if !claims.Role.Valid() {
		return Actor{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	return Actor{ID: claims.Subject, Role: claims.Role}, nil
}

func extractBearerToken(c *gin.Context) (string, error) {
	auth := c.GetHeader("Authorization")
	if auth == "" {
		if token := c.Query("access_token"); token != "" {
			return token, nil
		}
		return "", errors.New("missing authorization header")
	}
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return "", errors.New("authorization header must be a bearer token")
	}
	return token, nil
}

func actorFrom(c *gin.Context) Actor {
	actor, _ := c.Get(actorContextKey)
	a, _ := actor.(Actor)
	return a
}

// requireRoles aborts with 403 unless the actor holds one of roles
func requireRoles(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorFrom(c)
		for _, role := range roles {
			if actor.Role == role {
				c.Next()
				return
			}
		}
		writeError(c, models.ErrForbidden)
		c.Abort()
	}
}
