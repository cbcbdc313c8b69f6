package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the JWT payload of access tokens issued by the identity provider.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// Caller converts claims into a capability-resolved caller.
func (c *JWTClaims) Caller() Caller {
	if c == nil {
		return Caller{}
	}
	return NewCaller(c.UserID, c.Role)
}
