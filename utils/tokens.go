// utils/tokens.go
package utils

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2"

	"github.com/opengovern/resilient-authbridge/store"
)

// TokenExpiry reads the exp claim of a JWT access token without verifying
// its signature. The client never holds the signing key; the value is only
// used for logging and for filling oauth2.Token.Expiry.
func TokenExpiry(accessToken string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse access token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("access token has no exp claim")
	}
	return claims.ExpiresAt.Time, nil
}

// IsExpired reports whether the access token expires within leeway of now.
// Opaque tokens are never considered expired; the server decides.
func IsExpired(accessToken string, now time.Time, leeway time.Duration) bool {
	exp, err := TokenExpiry(accessToken)
	if err != nil {
		return false
	}
	return !now.Add(leeway).Before(exp)
}

// ToOAuth2Token converts stored credentials into an oauth2.Token. It returns
// nil when there is no access token.
func ToOAuth2Token(creds store.Credentials) *oauth2.Token {
	if !creds.HasAccessToken() {
		return nil
	}
	tok := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: creds.RefreshToken,
	}
	if exp, err := TokenExpiry(creds.AccessToken); err == nil {
		tok.Expiry = exp
	}
	return tok
}
