// Package tokeninfotest mints bearer credentials for tests.
package tokeninfotest

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSigningKey = "tokeninfotest"

// Mint signs claims with a throwaway HMAC key, signatures are never checked
// by the code under test.
func Mint(claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSigningKey))
	if err != nil {
		panic(err)
	}
	return signed
}

// MintExpiring mints a credential for email issued at iat and expiring at exp.
func MintExpiring(email string, iat, exp time.Time) string {
	return Mint(jwt.MapClaims{
		"email": email,
		"iat":   iat.Unix(),
		"exp":   exp.Unix(),
	})
}
