package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tyemirov/pkgreg/internal/registrykit"
)

// HandleWhoAmI resolves the authenticated user's own profile, including the
// metadata of their API tokens. Mounted behind RequireUser.
func HandleWhoAmI(logger *zap.Logger, tokens registrykit.ApiTokenStore) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tokens == nil {
		panic("token store is required")
	}

	return func(contextGin *gin.Context) {
		user, found := registrykit.RequestUser(contextGin)
		if !found {
			logger.Warn("missing request user on context",
				zap.String("code", "api.me.missing_user"))
			contextGin.AbortWithStatusJSON(http.StatusForbidden, registrykit.ErrorPayload("must be logged in to perform that action"))
			return
		}

		issued, listErr := tokens.ListTokens(contextGin, user.ID)
		if listErr != nil {
			logger.Error("token list failed",
				zap.String("code", "api.me.tokens_failed"),
				zap.Int64("user_id", user.ID),
				zap.Error(listErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		tokenPayloads := make([]gin.H, 0, len(issued))
		for _, token := range issued {
			tokenPayloads = append(tokenPayloads, registrykit.ApiTokenPayload(token))
		}
		contextGin.JSON(http.StatusOK, gin.H{
			"user":       registrykit.UserPayload(user),
			"api_tokens": tokenPayloads,
		})
	}
}

// HandleUserProfile serves the public profile for a login.
func HandleUserProfile(logger *zap.Logger, users registrykit.UserStore) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if users == nil {
		panic("user store is required")
	}

	return func(contextGin *gin.Context) {
		login := contextGin.Param("login")
		user, findErr := users.FindByLogin(contextGin, login)
		if findErr != nil {
			if errors.Is(findErr, registrykit.ErrUserNotFound) {
				contextGin.AbortWithStatusJSON(http.StatusNotFound, registrykit.ErrorPayload("user not found"))
				return
			}
			logger.Error("profile lookup failed",
				zap.String("code", "api.profile.lookup_failed"),
				zap.String("login", login),
				zap.Error(findErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		contextGin.JSON(http.StatusOK, gin.H{"user": publicUserPayload(user)})
	}
}

// HandleUserStats serves the download total over the packages a user owns.
// The path parameter is the numeric user id, not the login.
func HandleUserStats(logger *zap.Logger, feed *registrykit.FeedService) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if feed == nil {
		panic("feed service is required")
	}

	return func(contextGin *gin.Context) {
		userID, parseErr := strconv.ParseInt(contextGin.Param("login"), 10, 64)
		if parseErr != nil || userID < 1 {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, registrykit.ErrorPayload("invalid user id"))
			return
		}

		total, totalErr := feed.TotalDownloads(contextGin, userID)
		if totalErr != nil {
			logger.Error("download total failed",
				zap.String("code", "api.stats.total_failed"),
				zap.Int64("user_id", userID),
				zap.Error(totalErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		contextGin.JSON(http.StatusOK, gin.H{"total_downloads": total})
	}
}

func publicUserPayload(user registrykit.User) gin.H {
	return gin.H{
		"id":     user.ID,
		"login":  user.Login,
		"email":  user.Email,
		"name":   user.Name,
		"avatar": user.AvatarURL,
		"url":    "https://github.com/" + user.Login,
	}
}
