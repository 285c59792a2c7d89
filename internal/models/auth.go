package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin     UserRole = "ADMIN"
	RoleReviewer  UserRole = "REVIEWER"
	RoleSubmitter UserRole = "SUBMITTER"
)

// JWTClaims represents the JWT payload for access tokens issued by the
// identity provider in front of the API.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}
