package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"tripresence/internal/models"
)

// Reason classifies why a connection was refused
type Reason string

const (
	ReasonMissingToken Reason = "missing credential"
	ReasonInvalidToken Reason = "invalid or expired credential"
	ReasonInactiveUser Reason = "unknown or inactive user"
)

// AuthError refuses a connection with a specific reason
type AuthError struct {
	Reason Reason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// UserDirectory resolves a user id to its record
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
}

// Binder authenticates a bearer credential at connection time and
// resolves it to the identity attached to the connection for its
// lifetime. It runs exactly once per connection, before any
// trip-scoped event is accepted.
type Binder struct {
	secretKey string
	issuer    string
	users     UserDirectory
}

// NewBinder creates a new Binder
func NewBinder(secretKey, issuer string, users UserDirectory) *Binder {
	return &Binder{
		secretKey: secretKey,
		issuer:    issuer,
		users:     users,
	}
}

// Bind verifies the credential, loads the user record, and returns the
// identity snapshot for the connection. Failures carry an *AuthError.
func (b *Binder) Bind(ctx context.Context, credential string) (models.Identity, error) {
	if credential == "" {
		return models.Identity{}, &AuthError{Reason: ReasonMissingToken}
	}

	userID, err := verifyToken(b.secretKey, b.issuer, credential)
	if err != nil {
		return models.Identity{}, &AuthError{Reason: ReasonInvalidToken, Err: err}
	}

	user, err := b.users.GetUser(ctx, userID)
	if err != nil {
		return models.Identity{}, &AuthError{Reason: ReasonInactiveUser, Err: err}
	}
	if !user.Active {
		return models.Identity{}, &AuthError{Reason: ReasonInactiveUser}
	}

	return models.Identity{
		UserID: user.ID,
		Name:   user.Name,
		Avatar: user.Avatar,
	}, nil
}

// verifyToken parses and validates an HMAC-signed token and returns the
// subject claim.
func verifyToken(secretKey, issuer, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secretKey), nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	if issuer != "" {
		iss, ok := claims["iss"].(string)
		if !ok || iss != issuer {
			return "", fmt.Errorf("invalid token issuer")
		}
	}

	userID, ok := claims["sub"].(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("missing or invalid user ID in token")
	}

	return userID, nil
}
