package registrykit

import (
	"context"
	"time"
)

// User is a registry account linked to an external GitHub identity.
// ID is assigned on first reconcile and never changes afterwards; GitHubID is
// the reconciliation key and is unique across all accounts.
type User struct {
	ID                int64
	GitHubID          int64
	Login             string
	Email             string
	Name              string
	AvatarURL         string
	GitHubAccessToken string
}

// GitHubProfile is the slice of the provider profile the account layer stores.
type GitHubProfile struct {
	GitHubID  int64
	Login     string
	Email     string
	Name      string
	AvatarURL string
}

// ApiToken is an opaque bearer credential owned by a user. Token carries the
// raw secret only on the value returned by IssueToken; stores keep a hash.
type ApiToken struct {
	ID         int64
	UserID     int64
	Name       string
	Token      string
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Package is the read model of a registry package.
type Package struct {
	ID            int64
	Name          string
	OwnerID       int64
	DownloadCount int64
}

// Version is the read model of a published package version.
type Version struct {
	ID          int64
	PackageID   int64
	PackageName string
	Num         string
	PublishedAt time.Time
}

// UserStore persists linked GitHub identities.
type UserStore interface {
	// Reconcile inserts or updates the account keyed by profile.GitHubID and
	// returns the canonical row. Repeated calls never change User.ID and never
	// touch the user's API tokens.
	Reconcile(ctx context.Context, profile GitHubProfile, accessToken string) (User, error)
	FindByID(ctx context.Context, userID int64) (User, error)
	// FindByLogin returns the most recently created account carrying the login;
	// logins are not unique because the provider allows renames.
	FindByLogin(ctx context.Context, login string) (User, error)
	// FindByApiToken resolves the owner of a raw bearer secret and touches the
	// token's last_used_at as a best-effort side effect.
	FindByApiToken(ctx context.Context, rawToken string) (User, error)
}

// ApiTokenStore mints and revokes opaque bearer credentials.
type ApiTokenStore interface {
	IssueToken(ctx context.Context, userID int64, name string) (ApiToken, error)
	ListTokens(ctx context.Context, userID int64) ([]ApiToken, error)
	// RevokeToken deletes the token only when requestingUserID owns it;
	// otherwise it fails with ErrTokenForbidden.
	RevokeToken(ctx context.Context, tokenID int64, requestingUserID int64) error
}

// FollowStore records which packages a user follows. Follow and Unfollow are
// idempotent: duplicate follows and missing unfollows succeed.
type FollowStore interface {
	Follow(ctx context.Context, userID int64, packageID int64) error
	Unfollow(ctx context.Context, userID int64, packageID int64) error
	IsFollowing(ctx context.Context, userID int64, packageID int64) (bool, error)
	FollowedPackageIDs(ctx context.Context, userID int64) ([]int64, error)
}

// PackageRepository is the read interface onto the registry's package data,
// owned by the publish pipeline and only consumed here.
type PackageRepository interface {
	FindPackageByName(ctx context.Context, name string) (Package, error)
	FindPackagesByOwner(ctx context.Context, ownerID int64) ([]Package, error)
	// FindVersionsForPackages returns versions of the given packages ordered by
	// published_at descending with version id descending as the tie break, so
	// offset pagination stays deterministic.
	FindVersionsForPackages(ctx context.Context, packageIDs []int64, limit int, offset int) ([]Version, error)
}

// IdentityProvider performs the external half of the OAuth handshake.
type IdentityProvider interface {
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code string) (string, error)
	FetchProfile(ctx context.Context, accessToken string) (GitHubProfile, error)
}
