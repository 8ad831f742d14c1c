package registrykit

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const userContextKey = "request_user"

// RequireUser resolves the request identity from either a bearer API token or
// the session cookie and injects the user into the gin context. Requests that
// carry neither credential are rejected with 403, matching the behavior of
// identity-scoped resources.
func RequireUser(configuration ServerConfig, users UserStore) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		if rawToken := bearerToken(contextGin.Request); rawToken != "" {
			user, tokenErr := users.FindByApiToken(contextGin, rawToken)
			if tokenErr != nil {
				abortCredentialFailure(contextGin, tokenErr)
				return
			}
			contextGin.Set(userContextKey, user)
			contextGin.Next()
			return
		}

		claims, sessionErr := sessionClaims(contextGin, configuration)
		if sessionErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusForbidden, ErrorPayload("must be logged in to perform that action"))
			return
		}
		user, userErr := users.FindByID(contextGin, claims.UserID)
		if userErr != nil {
			abortCredentialFailure(contextGin, userErr)
			return
		}
		contextGin.Set(userContextKey, user)
		contextGin.Next()
	}
}

// RequestUser returns the user injected by RequireUser.
func RequestUser(contextGin *gin.Context) (User, bool) {
	value, found := contextGin.Get(userContextKey)
	if !found {
		return User{}, false
	}
	user, ok := value.(User)
	return user, ok
}

// abortCredentialFailure maps a bad credential to 403 and anything else, such
// as a store outage, to an opaque 500.
func abortCredentialFailure(contextGin *gin.Context, lookupErr error) {
	if errors.Is(lookupErr, ErrTokenNotFound) || errors.Is(lookupErr, ErrUserNotFound) {
		contextGin.AbortWithStatusJSON(http.StatusForbidden, ErrorPayload("must be logged in to perform that action"))
		return
	}
	contextGin.AbortWithStatus(http.StatusInternalServerError)
}

// bearerToken extracts the Authorization credential. Registry clients send the
// raw token value; an RFC 6750 "Bearer " prefix is also accepted.
func bearerToken(request *http.Request) string {
	header := strings.TrimSpace(request.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[len("bearer "):])
	}
	return header
}

func sessionClaims(contextGin *gin.Context, configuration ServerConfig) (*SessionClaims, error) {
	sessionCookie, cookieErr := contextGin.Request.Cookie(configuration.SessionCookieName)
	if cookieErr != nil || sessionCookie == nil || strings.TrimSpace(sessionCookie.Value) == "" {
		return nil, ErrUserNotFound
	}
	parsedToken, parseErr := jwt.ParseWithClaims(sessionCookie.Value, &SessionClaims{}, func(parsed *jwt.Token) (interface{}, error) {
		return configuration.SessionSigningKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if parseErr != nil || parsedToken == nil || !parsedToken.Valid {
		return nil, ErrUserNotFound
	}
	claims, ok := parsedToken.Claims.(*SessionClaims)
	if !ok || claims.Issuer != configuration.SessionIssuer {
		return nil, ErrUserNotFound
	}
	return claims, nil
}
