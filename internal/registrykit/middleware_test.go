package registrykit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type failingUsers struct {
	tokenErr error
	idErr    error
}

func (users failingUsers) Reconcile(ctx context.Context, profile GitHubProfile, accessToken string) (User, error) {
	return User{}, errors.New("unused")
}

func (users failingUsers) FindByID(ctx context.Context, userID int64) (User, error) {
	return User{}, users.idErr
}

func (users failingUsers) FindByLogin(ctx context.Context, login string) (User, error) {
	return User{}, ErrUserNotFound
}

func (users failingUsers) FindByApiToken(ctx context.Context, rawToken string) (User, error) {
	return User{}, users.tokenErr
}

func newRequireUserRouter(users UserStore, config ServerConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/protected", RequireUser(config, users), func(contextGin *gin.Context) {
		contextGin.Status(http.StatusOK)
	})
	return router
}

func TestRequireUserRejectsUnknownBearerToken(t *testing.T) {
	t.Parallel()
	router := newRequireUserRouter(failingUsers{tokenErr: ErrTokenNotFound}, ServerConfig{})

	request := httptest.NewRequest(http.MethodGet, "/protected", nil)
	request.Header.Set("Authorization", "Bearer bogus")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown token, got %d", recorder.Code)
	}
}

func TestRequireUserSurfacesStoreOutageAsServerError(t *testing.T) {
	t.Parallel()
	router := newRequireUserRouter(failingUsers{tokenErr: errors.New("connection refused")}, ServerConfig{})

	request := httptest.NewRequest(http.MethodGet, "/protected", nil)
	request.Header.Set("Authorization", "Bearer valid-looking")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for store outage, got %d", recorder.Code)
	}
}

func TestRequireUserSessionLookupOutage(t *testing.T) {
	t.Parallel()
	config := ServerConfig{
		SessionSigningKey: []byte("middleware-test-key"),
		SessionIssuer:     "pkgreg",
		SessionCookieName: "pkgreg_session",
	}
	router := newRequireUserRouter(failingUsers{idErr: errors.New("connection refused")}, config)

	sessionToken, _, mintErr := MintSessionJWT(5, "octocat", config.SessionIssuer, config.SessionSigningKey, time.Hour)
	if mintErr != nil {
		t.Fatalf("mint: %v", mintErr)
	}
	request := httptest.NewRequest(http.MethodGet, "/protected", nil)
	request.AddCookie(&http.Cookie{Name: config.SessionCookieName, Value: sessionToken})
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when the session user lookup fails, got %d", recorder.Code)
	}
}

func TestRequireUserSessionDeletedUser(t *testing.T) {
	t.Parallel()
	config := ServerConfig{
		SessionSigningKey: []byte("middleware-test-key"),
		SessionIssuer:     "pkgreg",
		SessionCookieName: "pkgreg_session",
	}
	router := newRequireUserRouter(failingUsers{idErr: ErrUserNotFound}, config)

	sessionToken, _, mintErr := MintSessionJWT(5, "octocat", config.SessionIssuer, config.SessionSigningKey, time.Hour)
	if mintErr != nil {
		t.Fatalf("mint: %v", mintErr)
	}
	request := httptest.NewRequest(http.MethodGet, "/protected", nil)
	request.AddCookie(&http.Cookie{Name: config.SessionCookieName, Value: sessionToken})
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a stale session user, got %d", recorder.Code)
	}
}
