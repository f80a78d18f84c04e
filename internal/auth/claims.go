// Package auth validates bearer tokens and resolves them into attendance actors.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"example.com/attendance/internal/domain"
)

// Config holds signer verification parameters.
type Config struct {
	Secret string
	Issuer string
}

// Claims represents the payload extracted from a JWT.
type Claims struct {
	Subject   string
	TenantID  string
	ActorType domain.ActorType
	MemberID  string
	TrainerID string
	Scopes    map[string]struct{}
	ExpiresAt time.Time
}

// ErrMissingToken is returned when the Authorization header is absent.
var ErrMissingToken = errors.New("missing bearer token")

// ErrInvalidToken wraps parsing/validation errors.
var ErrInvalidToken = errors.New("invalid bearer token")

// Parse validates a JWT and returns normalized claims.
func Parse(token string, cfg Config) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}, jwt.WithIssuer(cfg.Issuer), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	subject, _ := claims["sub"].(string)
	tenantID, _ := claims["tenant_id"].(string)
	if subject == "" || tenantID == "" {
		return nil, ErrInvalidToken
	}
	memberID, _ := claims["member_id"].(string)
	trainerID, _ := claims["trainer_id"].(string)
	actorType, _ := claims["actor_type"].(string)

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	out := &Claims{
		Subject:   subject,
		TenantID:  tenantID,
		ActorType: inferActorType(actorType, memberID, trainerID),
		MemberID:  memberID,
		TrainerID: trainerID,
		Scopes:    normalizeScopes(claims["scopes"]),
	}
	if exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

// inferActorType falls back to the identity carried by the token when actor_type is omitted.
func inferActorType(raw, memberID, trainerID string) domain.ActorType {
	if raw = strings.ToLower(strings.TrimSpace(raw)); raw != "" {
		return domain.ActorType(raw)
	}
	switch {
	case memberID != "":
		return domain.ActorMember
	case trainerID != "":
		return domain.ActorTrainer
	default:
		return domain.ActorStaff
	}
}

func normalizeScopes(value interface{}) map[string]struct{} {
	out := make(map[string]struct{})
	switch v := value.(type) {
	case []interface{}:
		for _, item := range v {
			if str, ok := item.(string); ok && str != "" {
				out[str] = struct{}{}
			}
		}
	case []string:
		for _, str := range v {
			if str != "" {
				out[str] = struct{}{}
			}
		}
	case string:
		for _, str := range strings.Fields(v) {
			out[str] = struct{}{}
		}
	}
	return out
}

// HasScope reports whether the claim set includes the provided scope.
func (c *Claims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	_, ok := c.Scopes[scope]
	return ok
}

// HasAnyScope reports whether the claim set includes at least one of scopes.
func (c *Claims) HasAnyScope(scopes ...string) bool {
	for _, scope := range scopes {
		if c.HasScope(scope) {
			return true
		}
	}
	return false
}

// Actor converts the claims into the caller identity the session manager understands.
func (c *Claims) Actor() domain.Actor {
	if c == nil {
		return domain.Actor{}
	}
	return domain.Actor{
		ID:        c.Subject,
		TenantID:  c.TenantID,
		Type:      c.ActorType,
		MemberID:  c.MemberID,
		TrainerID: c.TrainerID,
	}
}
