package registrykit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("account_store.unsupported_dialect")

	errEmptyGitHubID       = errors.New("account_store.empty_github_id")
	errEmptyDatabaseURL    = errors.New("account_store.empty_database_url")
	errSQLiteEmptyPath     = errors.New("account_store.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("account_store.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("account_store.unsupported_no_scheme")
)

// DatabaseAccountStore persists users, API tokens, and follows using GORM.
type DatabaseAccountStore struct {
	db          *gorm.DB
	driverLabel string
	now         func() time.Time
}

var (
	_ UserStore     = (*DatabaseAccountStore)(nil)
	_ ApiTokenStore = (*DatabaseAccountStore)(nil)
	_ FollowStore   = (*DatabaseAccountStore)(nil)
)

// Driver exposes the selected database driver label.
func (store *DatabaseAccountStore) Driver() string {
	return store.driverLabel
}

type userRecord struct {
	ID            int64  `gorm:"column:id;primaryKey;autoIncrement"`
	GitHubID      int64  `gorm:"column:gh_id;uniqueIndex;not null"`
	Login         string `gorm:"column:gh_login;index;not null"`
	Email         string `gorm:"column:email;not null;default:''"`
	Name          string `gorm:"column:name;not null;default:''"`
	AvatarURL     string `gorm:"column:gh_avatar;not null;default:''"`
	AccessToken   string `gorm:"column:gh_access_token;not null;default:''"`
	CreatedAtUnix int64  `gorm:"column:created_at_unix;not null"`
	UpdatedAtUnix int64  `gorm:"column:updated_at_unix;not null"`
}

func (userRecord) TableName() string {
	return "users"
}

func (record userRecord) toUser() User {
	return User{
		ID:                record.ID,
		GitHubID:          record.GitHubID,
		Login:             record.Login,
		Email:             record.Email,
		Name:              record.Name,
		AvatarURL:         record.AvatarURL,
		GitHubAccessToken: record.AccessToken,
	}
}

type apiTokenRecord struct {
	ID             int64  `gorm:"column:id;primaryKey;autoIncrement"`
	UserID         int64  `gorm:"column:user_id;index;not null"`
	Name           string `gorm:"column:name;not null"`
	TokenHash      string `gorm:"column:token_hash;uniqueIndex;not null"`
	CreatedAtUnix  int64  `gorm:"column:created_at_unix;not null"`
	LastUsedAtUnix int64  `gorm:"column:last_used_at_unix;not null;default:0"`
}

func (apiTokenRecord) TableName() string {
	return "api_tokens"
}

func (record apiTokenRecord) toApiToken() ApiToken {
	token := ApiToken{
		ID:        record.ID,
		UserID:    record.UserID,
		Name:      record.Name,
		CreatedAt: time.Unix(record.CreatedAtUnix, 0).UTC(),
	}
	if record.LastUsedAtUnix != 0 {
		token.LastUsedAt = time.Unix(record.LastUsedAtUnix, 0).UTC()
	}
	return token
}

type followRecord struct {
	UserID        int64 `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	PackageID     int64 `gorm:"column:package_id;primaryKey;autoIncrement:false"`
	CreatedAtUnix int64 `gorm:"column:created_at_unix;not null"`
}

func (followRecord) TableName() string {
	return "follows"
}

// NewDatabaseAccountStore constructs a GORM-backed store and migrates its tables.
func NewDatabaseAccountStore(ctx context.Context, databaseURL string) (*DatabaseAccountStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("account_store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("account_store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&userRecord{}, &apiTokenRecord{}, &followRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("account_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseAccountStore{
		db:          gormDB,
		driverLabel: driverLabel,
		now:         time.Now,
	}, nil
}

// Reconcile inserts or updates the account keyed by the GitHub id inside one
// transaction. The unique index on gh_id plus the conflict-resolving upsert
// guarantees at most one row per external identity even under concurrent
// logins. The internal id and the user's API tokens are never touched.
func (store *DatabaseAccountStore) Reconcile(ctx context.Context, profile GitHubProfile, accessToken string) (User, error) {
	if profile.GitHubID == 0 {
		return User{}, fmt.Errorf("account_store.reconcile: %w", errEmptyGitHubID)
	}
	nowUnix := store.now().UTC().Unix()
	record := userRecord{
		GitHubID:      profile.GitHubID,
		Login:         profile.Login,
		Email:         profile.Email,
		Name:          profile.Name,
		AvatarURL:     profile.AvatarURL,
		AccessToken:   accessToken,
		CreatedAtUnix: nowUnix,
		UpdatedAtUnix: nowUnix,
	}
	var reconciled userRecord
	txErr := store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upsertErr := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "gh_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"gh_login", "email", "name", "gh_avatar", "gh_access_token", "updated_at_unix",
			}),
		}).Create(&record).Error
		if upsertErr != nil {
			return upsertErr
		}
		// Create only fills record.ID on a fresh insert; re-read by gh_id so the
		// caller always receives the canonical row.
		return tx.Where("gh_id = ?", profile.GitHubID).Take(&reconciled).Error
	})
	if txErr != nil {
		return User{}, fmt.Errorf("account_store.reconcile.%s: %w", store.driverLabel, txErr)
	}
	return reconciled.toUser(), nil
}

// FindByID returns the account with the given internal id.
func (store *DatabaseAccountStore) FindByID(ctx context.Context, userID int64) (User, error) {
	var record userRecord
	err := store.db.WithContext(ctx).Where("id = ?", userID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, fmt.Errorf("account_store.find_by_id.%s: %w", store.driverLabel, ErrUserNotFound)
		}
		return User{}, fmt.Errorf("account_store.find_by_id.%s: %w", store.driverLabel, err)
	}
	return record.toUser(), nil
}

// FindByLogin returns the most recently created account carrying the login.
func (store *DatabaseAccountStore) FindByLogin(ctx context.Context, login string) (User, error) {
	var record userRecord
	err := store.db.WithContext(ctx).Where("gh_login = ?", login).Order("id DESC").Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, fmt.Errorf("account_store.find_by_login.%s: %w", store.driverLabel, ErrUserNotFound)
		}
		return User{}, fmt.Errorf("account_store.find_by_login.%s: %w", store.driverLabel, err)
	}
	return record.toUser(), nil
}

// FindByApiToken resolves the owning account of a raw bearer secret.
func (store *DatabaseAccountStore) FindByApiToken(ctx context.Context, rawToken string) (User, error) {
	if strings.TrimSpace(rawToken) == "" {
		return User{}, fmt.Errorf("account_store.find_by_token.%s: %w", store.driverLabel, ErrTokenNotFound)
	}
	hashValue := hashTokenOpaque(rawToken)
	var tokenRow apiTokenRecord
	tokenErr := store.db.WithContext(ctx).Where("token_hash = ?", hashValue).Take(&tokenRow).Error
	if tokenErr != nil {
		if errors.Is(tokenErr, gorm.ErrRecordNotFound) {
			return User{}, fmt.Errorf("account_store.find_by_token.%s: %w", store.driverLabel, ErrTokenNotFound)
		}
		return User{}, fmt.Errorf("account_store.find_by_token.%s: %w", store.driverLabel, tokenErr)
	}

	user, userErr := store.FindByID(ctx, tokenRow.UserID)
	if userErr != nil {
		return User{}, userErr
	}

	// Advisory freshness only; a lost update here is acceptable.
	_ = store.db.WithContext(ctx).Model(&apiTokenRecord{}).
		Where("id = ?", tokenRow.ID).
		Update("last_used_at_unix", store.now().UTC().Unix()).Error

	return user, nil
}

// IssueToken mints a new bearer credential for the user. The returned value
// carries the raw secret; only its hash is stored.
func (store *DatabaseAccountStore) IssueToken(ctx context.Context, userID int64, name string) (ApiToken, error) {
	opaque, hashValue, randomErr := generateTokenOpaque()
	if randomErr != nil {
		return ApiToken{}, fmt.Errorf("account_store.issue_token.%s: %w", store.driverLabel, randomErr)
	}
	record := apiTokenRecord{
		UserID:        userID,
		Name:          name,
		TokenHash:     hashValue,
		CreatedAtUnix: store.now().UTC().Unix(),
	}
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		return ApiToken{}, fmt.Errorf("account_store.issue_token.%s: %w", store.driverLabel, err)
	}
	issued := record.toApiToken()
	issued.Token = opaque
	return issued, nil
}

// ListTokens returns the user's token metadata, newest first, without secrets.
func (store *DatabaseAccountStore) ListTokens(ctx context.Context, userID int64) ([]ApiToken, error) {
	var records []apiTokenRecord
	err := store.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("account_store.list_tokens.%s: %w", store.driverLabel, err)
	}
	tokens := make([]ApiToken, 0, len(records))
	for _, record := range records {
		tokens = append(tokens, record.toApiToken())
	}
	return tokens, nil
}

// RevokeToken deletes the token when the requesting user owns it.
func (store *DatabaseAccountStore) RevokeToken(ctx context.Context, tokenID int64, requestingUserID int64) error {
	var record apiTokenRecord
	findErr := store.db.WithContext(ctx).Where("id = ?", tokenID).Take(&record).Error
	if findErr != nil {
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			return fmt.Errorf("account_store.revoke_token.%s: %w", store.driverLabel, ErrTokenNotFound)
		}
		return fmt.Errorf("account_store.revoke_token.%s: %w", store.driverLabel, findErr)
	}
	if record.UserID != requestingUserID {
		return fmt.Errorf("account_store.revoke_token.%s: %w", store.driverLabel, ErrTokenForbidden)
	}
	if err := store.db.WithContext(ctx).Delete(&apiTokenRecord{}, record.ID).Error; err != nil {
		return fmt.Errorf("account_store.revoke_token.%s: %w", store.driverLabel, err)
	}
	return nil
}

// Follow records the pair; an existing pair is absorbed as success.
func (store *DatabaseAccountStore) Follow(ctx context.Context, userID int64, packageID int64) error {
	record := followRecord{
		UserID:        userID,
		PackageID:     packageID,
		CreatedAtUnix: store.now().UTC().Unix(),
	}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("account_store.follow.%s: %w", store.driverLabel, err)
	}
	return nil
}

// Unfollow removes the pair; a missing pair is absorbed as success.
func (store *DatabaseAccountStore) Unfollow(ctx context.Context, userID int64, packageID int64) error {
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND package_id = ?", userID, packageID).
		Delete(&followRecord{}).Error
	if err != nil {
		return fmt.Errorf("account_store.unfollow.%s: %w", store.driverLabel, err)
	}
	return nil
}

// IsFollowing reports whether the pair exists.
func (store *DatabaseAccountStore) IsFollowing(ctx context.Context, userID int64, packageID int64) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).Model(&followRecord{}).
		Where("user_id = ? AND package_id = ?", userID, packageID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("account_store.is_following.%s: %w", store.driverLabel, err)
	}
	return count > 0, nil
}

// FollowedPackageIDs returns the ids of all packages the user follows.
func (store *DatabaseAccountStore) FollowedPackageIDs(ctx context.Context, userID int64) ([]int64, error) {
	var packageIDs []int64
	err := store.db.WithContext(ctx).Model(&followRecord{}).
		Where("user_id = ?", userID).
		Order("package_id").
		Pluck("package_id", &packageIDs).Error
	if err != nil {
		return nil, fmt.Errorf("account_store.followed.%s: %w", store.driverLabel, err)
	}
	return packageIDs, nil
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("account_store.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("account_store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("account_store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("account_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
