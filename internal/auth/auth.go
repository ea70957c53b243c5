package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Operator is the authenticated cashier or supervisor driving the terminal.
type Operator struct {
	ID          string   `json:"id"`
	Permissions []string `json:"permissions,omitempty"`
}

func (o *Operator) HasPermission(permission string) bool {
	for _, p := range o.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// TokenGenerator issues and verifies operator tokens.
type TokenGenerator interface {
	GenerateAccessToken(operatorID string, permissions []string) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

type Claims struct {
	OperatorID  string   `json:"operator_id"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Operator() *Operator {
	return &Operator{ID: c.OperatorID, Permissions: c.Permissions}
}

type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrMissingToken = errors.New("missing token")
)

type operatorCtxKey struct{}

func ContextWithOperator(ctx context.Context, operator *Operator) context.Context {
	return context.WithValue(ctx, operatorCtxKey{}, operator)
}

func OperatorFromContext(ctx context.Context) (*Operator, bool) {
	operator, ok := ctx.Value(operatorCtxKey{}).(*Operator)
	return operator, ok && operator != nil
}
