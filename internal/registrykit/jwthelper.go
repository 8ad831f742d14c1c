package registrykit

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims are embedded in the session cookie token.
type SessionClaims struct {
	UserID    int64  `json:"user_id"`
	UserLogin string `json:"user_login"`
	jwt.RegisteredClaims
}

// MintSessionJWT creates a signed HS256 session token for the user.
func MintSessionJWT(userID int64, userLogin string, issuer string, signingKey []byte, ttl time.Duration) (string, time.Time, error) {
	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserID:    userID,
		UserLogin: userLogin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userLogin,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(signingKey)
	return signed, expiresAt, err
}
