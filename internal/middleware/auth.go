package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/aegisshield/compliance-tracker/internal/config"
	"github.com/aegisshield/compliance-tracker/internal/models"
)

const actorKey = "actor"

// WorkflowActor is attributed to changes pushed with the workflow API key
var WorkflowActor = models.Actor{ID: "workflow", Name: "background-check workflow", Role: models.RoleAutomated}

// Claims carried by tracker access tokens
type Claims struct {
	Name string      `json:"name"`
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator resolves the acting user of each request
type Authenticator struct {
	cfg    config.SecurityConfig
	logger *zap.Logger
}

// NewAuthenticator creates an Authenticator
func NewAuthenticator(cfg config.SecurityConfig, logger *zap.Logger) *Authenticator {
	return &Authenticator{cfg: cfg, logger: logger.Named("auth")}
}

// IssueToken signs an HS256 token for actor
func (a *Authenticator) IssueToken(actor models.Actor) (string, error) {
	now := time.Now()
	claims := &Claims{
		Name: actor.Name,
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    a.cfg.JWTIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.TokenTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a bearer token
func (a *Authenticator) ValidateToken(raw string) (models.Actor, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.cfg.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.JWTIssuer))
	}

	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return []byte(a.cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return models.Actor{}, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return models.Actor{}, errors.New("invalid token claims")
	}
	if claims.Subject == "" {
		return models.Actor{}, errors.New("token has no subject")
	}

	role := claims.Role
	if role == "" {
		role = models.RoleUser
	}
	return models.Actor{ID: claims.Subject, Name: claims.Name, Role: role}, nil
}

// Authenticate attaches the acting user to the request. With auth disabled
// the actor is read from X-Actor-ID, X-Actor-Name and X-Actor-Role.
func (a *Authenticator) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.cfg.AuthEnabled {
			setActor(c, headerActor(c))
			c.Next()
			return
		}

		if header := c.GetHeader("Authorization"); header != "" {
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				abort(c, http.StatusUnauthorized, "invalid authorization header format")
				return
			}
			actor, err := a.ValidateToken(raw)
			if err != nil {
				a.logger.Debug("Rejected bearer token", zap.Error(err))
				abort(c, http.StatusUnauthorized, "invalid token")
				return
			}
			setActor(c, actor)
			c.Next()
			return
		}

		if key := c.GetHeader(a.cfg.APIKeyHeader); key != "" && a.cfg.APIKeyHash != "" {
			if err := bcrypt.CompareHashAndPassword([]byte(a.cfg.APIKeyHash), []byte(key)); err != nil {
				abort(c, http.StatusUnauthorized, "invalid api key")
				return
			}
			setActor(c, WorkflowActor)
			c.Next()
			return
		}

		abort(c, http.StatusUnauthorized, "authentication required")
	}
}

// RequireAdmin rejects non-admin actors
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ActorFrom(c).IsAdmin() {
			abort(c, http.StatusForbidden, "admin role required")
			return
		}
		c.Next()
	}
}

// ActorFrom returns the actor set by Authenticate
func ActorFrom(c *gin.Context) models.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(models.Actor); ok {
			return actor
		}
	}
	return models.Actor{}
}

func headerActor(c *gin.Context) models.Actor {
	actor := models.Actor{
		ID:   c.GetHeader("X-Actor-ID"),
		Name: c.GetHeader("X-Actor-Name"),
		Role: models.Role(strings.ToLower(c.GetHeader("X-Actor-Role"))),
	}
	if actor.ID == "" {
		actor.ID = "anonymous"
	}
	switch actor.Role {
	case models.RoleAdmin, models.RoleUser, models.RoleAutomated:
	default:
		actor.Role = models.RoleUser
	}
	return actor
}

func setActor(c *gin.Context, actor models.Actor) {
	c.Set(actorKey, actor)
	c.Set("actor_id", actor.ID)
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": message})
}
