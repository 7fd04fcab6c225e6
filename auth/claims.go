package auth

import "github.com/golang-jwt/jwt/v5"

// RoleAdmin may call every ops endpoint.
const RoleAdmin = "admin"

// Claims is the JWT payload accepted by the ops surfaces. Tokens are issued
// by the platform's auth service; the engine only verifies them.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Email  string `json:"email,omitempty"`
}
