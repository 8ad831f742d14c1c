package registrykit

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouteDependencies bundles the collaborators behind the HTTP surface.
type RouteDependencies struct {
	Logger   *zap.Logger
	Users    UserStore
	Tokens   ApiTokenStore
	Follows  FollowStore
	Packages PackageRepository
	States   StateStore
	Provider IdentityProvider
	Feed     *FeedService
	Metrics  MetricsRecorder
}

// ErrorPayload is the client-error wire shape: {"errors":[{"detail":"..."}]}.
func ErrorPayload(detail string) gin.H {
	return gin.H{"errors": []gin.H{{"detail": detail}}}
}

// MountRegistryRoutes registers the handshake, feed, follow, and token routes.
func MountRegistryRoutes(router gin.IRouter, configuration ServerConfig, dependencies RouteDependencies) {
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	record := func(event string) {
		if dependencies.Metrics != nil {
			dependencies.Metrics.Increment(event)
		}
	}

	router.GET("/authorize_url", func(contextGin *gin.Context) {
		state, issueErr := dependencies.States.Issue(contextGin)
		if issueErr != nil {
			logger.Error("state issue failed",
				zap.String("code", "handshake.issue_failed"),
				zap.Error(issueErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		record("handshake.begin")
		contextGin.JSON(http.StatusOK, gin.H{
			"url":   dependencies.Provider.AuthorizationURL(state),
			"state": state,
		})
	})

	router.GET("/authorize", func(contextGin *gin.Context) {
		// The state is consumed whatever happens next; a failed exchange forces
		// the user to restart at /authorize_url.
		state := strings.TrimSpace(contextGin.Query("state"))
		if state == "" {
			record("handshake.invalid_state")
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, ErrorPayload("invalid state provided"))
			return
		}
		if consumeErr := dependencies.States.Consume(contextGin, state); consumeErr != nil {
			record("handshake.invalid_state")
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, ErrorPayload("invalid state provided"))
			return
		}

		code := strings.TrimSpace(contextGin.Query("code"))
		if code == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, ErrorPayload("missing authorization code"))
			return
		}

		accessToken, exchangeErr := dependencies.Provider.ExchangeCode(contextGin, code)
		if exchangeErr != nil {
			logger.Warn("code exchange failed",
				zap.String("code", "handshake.exchange_failed"),
				zap.Error(exchangeErr))
			contextGin.AbortWithStatus(http.StatusBadGateway)
			return
		}
		profile, profileErr := dependencies.Provider.FetchProfile(contextGin, accessToken)
		if profileErr != nil {
			logger.Warn("profile fetch failed",
				zap.String("code", "handshake.profile_failed"),
				zap.Error(profileErr))
			contextGin.AbortWithStatus(http.StatusBadGateway)
			return
		}

		user, reconcileErr := dependencies.Users.Reconcile(contextGin, profile, accessToken)
		if reconcileErr != nil {
			logger.Error("identity reconcile failed",
				zap.String("code", "handshake.reconcile_failed"),
				zap.Int64("gh_id", profile.GitHubID),
				zap.Error(reconcileErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		sessionToken, sessionExpiresAt, mintErr := MintSessionJWT(user.ID, user.Login, configuration.SessionIssuer, configuration.SessionSigningKey, configuration.SessionTTL)
		if mintErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		writeSessionCookie(contextGin, configuration, sessionToken, sessionExpiresAt)
		record("handshake.complete")
		contextGin.JSON(http.StatusOK, gin.H{"user": UserPayload(user)})
	})

	router.POST("/logout", func(contextGin *gin.Context) {
		clearSessionCookie(contextGin, configuration)
		contextGin.Status(http.StatusNoContent)
	})

	router.GET("/api/v1/packages", func(contextGin *gin.Context) {
		ownerID, parseErr := strconv.ParseInt(strings.TrimSpace(contextGin.Query("user_id")), 10, 64)
		if parseErr != nil || ownerID < 1 {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, ErrorPayload("user_id must be provided"))
			return
		}
		owned, listErr := dependencies.Packages.FindPackagesByOwner(contextGin, ownerID)
		if listErr != nil {
			logger.Error("owned package listing failed",
				zap.String("code", "package.list_failed"),
				zap.Int64("user_id", ownerID),
				zap.Error(listErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		payloads := make([]gin.H, 0, len(owned))
		for _, record := range owned {
			payloads = append(payloads, packagePayload(record))
		}
		contextGin.JSON(http.StatusOK, gin.H{"packages": payloads})
	})

	if snapshotter, ok := dependencies.Metrics.(interface{ Snapshot() map[string]int64 }); ok {
		router.GET("/debug/counters", func(contextGin *gin.Context) {
			contextGin.JSON(http.StatusOK, snapshotter.Snapshot())
		})
	}

	authenticated := router.Group("", RequireUser(configuration, dependencies.Users))

	authenticated.GET("/me/updates", func(contextGin *gin.Context) {
		user, _ := RequestUser(contextGin)

		pageNumber, pageErr := positiveIntQuery(contextGin, "page", 1)
		if pageErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, ErrorPayload("page indexing starts from one"))
			return
		}
		perPage, perPageErr := positiveIntQuery(contextGin, "per_page", DefaultFeedPerPage)
		if perPageErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, ErrorPayload("invalid per_page value"))
			return
		}

		page, feedErr := dependencies.Feed.GetFeed(contextGin, user.ID, pageNumber, perPage)
		if feedErr != nil {
			if errors.Is(feedErr, ErrInvalidPage) {
				contextGin.AbortWithStatusJSON(http.StatusBadRequest, ErrorPayload("page indexing starts from one"))
				return
			}
			logger.Error("feed query failed",
				zap.String("code", "feed.query_failed"),
				zap.Int64("user_id", user.ID),
				zap.Error(feedErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		record("feed.page")

		versions := make([]gin.H, 0, len(page.Versions))
		for _, version := range page.Versions {
			versions = append(versions, versionPayload(version))
		}
		contextGin.JSON(http.StatusOK, gin.H{
			"versions": versions,
			"meta":     gin.H{"more": page.More},
		})
	})

	authenticated.PUT("/api/v1/packages/:name/follow", func(contextGin *gin.Context) {
		user, _ := RequestUser(contextGin)
		followed, findErr := dependencies.Packages.FindPackageByName(contextGin, contextGin.Param("name"))
		if findErr != nil {
			abortPackageLookup(contextGin, logger, findErr)
			return
		}
		if followErr := dependencies.Follows.Follow(contextGin, user.ID, followed.ID); followErr != nil {
			logger.Error("follow failed",
				zap.String("code", "follow.add_failed"),
				zap.Int64("user_id", user.ID),
				zap.Int64("package_id", followed.ID),
				zap.Error(followErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		record("follow.add")
		contextGin.JSON(http.StatusOK, gin.H{"ok": true})
	})

	authenticated.DELETE("/api/v1/packages/:name/follow", func(contextGin *gin.Context) {
		user, _ := RequestUser(contextGin)
		followed, findErr := dependencies.Packages.FindPackageByName(contextGin, contextGin.Param("name"))
		if findErr != nil {
			abortPackageLookup(contextGin, logger, findErr)
			return
		}
		if unfollowErr := dependencies.Follows.Unfollow(contextGin, user.ID, followed.ID); unfollowErr != nil {
			logger.Error("unfollow failed",
				zap.String("code", "follow.remove_failed"),
				zap.Int64("user_id", user.ID),
				zap.Int64("package_id", followed.ID),
				zap.Error(unfollowErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		record("follow.remove")
		contextGin.JSON(http.StatusOK, gin.H{"ok": true})
	})

	authenticated.GET("/api/v1/packages/:name/following", func(contextGin *gin.Context) {
		user, _ := RequestUser(contextGin)
		followed, findErr := dependencies.Packages.FindPackageByName(contextGin, contextGin.Param("name"))
		if findErr != nil {
			abortPackageLookup(contextGin, logger, findErr)
			return
		}
		following, stateErr := dependencies.Follows.IsFollowing(contextGin, user.ID, followed.ID)
		if stateErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"following": following})
	})

	authenticated.GET("/me/tokens", func(contextGin *gin.Context) {
		user, _ := RequestUser(contextGin)
		tokens, listErr := dependencies.Tokens.ListTokens(contextGin, user.ID)
		if listErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		payloads := make([]gin.H, 0, len(tokens))
		for _, token := range tokens {
			payloads = append(payloads, ApiTokenPayload(token))
		}
		contextGin.JSON(http.StatusOK, gin.H{"api_tokens": payloads})
	})

	authenticated.PUT("/me/tokens", func(contextGin *gin.Context) {
		user, _ := RequestUser(contextGin)
		var inbound struct {
			Name string `json:"name"`
		}
		if bindErr := contextGin.BindJSON(&inbound); bindErr != nil || strings.TrimSpace(inbound.Name) == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, ErrorPayload("token name must be provided"))
			return
		}
		token, issueErr := dependencies.Tokens.IssueToken(contextGin, user.ID, strings.TrimSpace(inbound.Name))
		if issueErr != nil {
			logger.Error("token issue failed",
				zap.String("code", "token.issue_failed"),
				zap.Int64("user_id", user.ID),
				zap.Error(issueErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		record("token.issue")
		payload := ApiTokenPayload(token)
		payload["token"] = token.Token
		contextGin.JSON(http.StatusOK, gin.H{"api_token": payload})
	})

	authenticated.DELETE("/me/tokens/:id", func(contextGin *gin.Context) {
		user, _ := RequestUser(contextGin)
		tokenID, parseErr := strconv.ParseInt(contextGin.Param("id"), 10, 64)
		if parseErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, ErrorPayload("invalid token id"))
			return
		}
		revokeErr := dependencies.Tokens.RevokeToken(contextGin, tokenID, user.ID)
		if revokeErr != nil {
			switch {
			case errors.Is(revokeErr, ErrTokenForbidden):
				contextGin.AbortWithStatusJSON(http.StatusForbidden, ErrorPayload("token belongs to another user"))
			case errors.Is(revokeErr, ErrTokenNotFound):
				contextGin.AbortWithStatusJSON(http.StatusNotFound, ErrorPayload("token not found"))
			default:
				contextGin.AbortWithStatus(http.StatusInternalServerError)
			}
			return
		}
		record("token.revoke")
		contextGin.JSON(http.StatusOK, gin.H{"ok": true})
	})
}

// UserPayload is the profile wire shape shared by /me, /authorize, and the
// public profile endpoint.
func UserPayload(user User) gin.H {
	return gin.H{
		"id":     user.ID,
		"login":  user.Login,
		"email":  user.Email,
		"name":   user.Name,
		"avatar": user.AvatarURL,
		"url":    "https://github.com/" + user.Login,
	}
}

func packagePayload(record Package) gin.H {
	return gin.H{
		"id":        record.ID,
		"name":      record.Name,
		"downloads": record.DownloadCount,
	}
}

func versionPayload(version Version) gin.H {
	return gin.H{
		"id":           version.ID,
		"package":      version.PackageName,
		"num":          version.Num,
		"published_at": version.PublishedAt.UTC().Format(time.RFC3339),
	}
}

// ApiTokenPayload is the token metadata wire shape. The raw secret is never
// included; creation responses attach it separately.
func ApiTokenPayload(token ApiToken) gin.H {
	payload := gin.H{
		"id":         token.ID,
		"name":       token.Name,
		"created_at": token.CreatedAt.UTC().Format(time.RFC3339),
	}
	if token.LastUsedAt.IsZero() {
		payload["last_used_at"] = nil
	} else {
		payload["last_used_at"] = token.LastUsedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func abortPackageLookup(contextGin *gin.Context, logger *zap.Logger, findErr error) {
	if errors.Is(findErr, ErrPackageNotFound) {
		contextGin.AbortWithStatusJSON(http.StatusNotFound, ErrorPayload("package not found"))
		return
	}
	logger.Error("package lookup failed",
		zap.String("code", "package.lookup_failed"),
		zap.Error(findErr))
	contextGin.AbortWithStatus(http.StatusInternalServerError)
}

func positiveIntQuery(contextGin *gin.Context, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(contextGin.Query(key))
	if raw == "" {
		return fallback, nil
	}
	value, parseErr := strconv.Atoi(raw)
	if parseErr != nil {
		return 0, parseErr
	}
	if value < 1 {
		return 0, ErrInvalidPage
	}
	return value, nil
}

func writeSessionCookie(contextGin *gin.Context, configuration ServerConfig, sessionToken string, expiresAt time.Time) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     configuration.SessionCookieName,
		Value:    sessionToken,
		Path:     "/",
		Domain:   configuration.CookieDomain,
		Expires:  expiresAt,
		Secure:   !configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	})
}

func clearSessionCookie(contextGin *gin.Context, configuration ServerConfig) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     configuration.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   configuration.CookieDomain,
		MaxAge:   -1,
		Secure:   !configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	})
}
