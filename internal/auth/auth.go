package auth

import "github.com/golang-jwt/jwt/v5"

// Authenticator validates storefront-issued access tokens. The payment
// service never mints tokens; the storefront auth service owns issuance.
type Authenticator interface {
	ValidateAccessToken(token string) (*jwt.Token, error)
}
