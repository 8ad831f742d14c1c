package registrykit

import (
	"context"
	"fmt"
)

// DefaultFeedPerPage is applied when the caller does not supply per_page.
const DefaultFeedPerPage = 10

// FeedService assembles the followed-package activity feed and the per-user
// download totals. It is read-only and holds no state of its own.
type FeedService struct {
	follows  FollowStore
	packages PackageRepository
}

// NewFeedService wires the feed over the follow relation and the package reads.
func NewFeedService(follows FollowStore, packages PackageRepository) *FeedService {
	return &FeedService{
		follows:  follows,
		packages: packages,
	}
}

// FeedPage is one page of the activity feed.
type FeedPage struct {
	Versions []Version
	More     bool
}

// GetFeed returns page pageNumber (1-based) of the user's feed. It fetches
// perPage+1 rows so the More flag needs no separate count query. The signal is
// exact only within a single consistent read: publishes racing between page
// fetches can skip or duplicate a version across pages.
func (service *FeedService) GetFeed(ctx context.Context, userID int64, pageNumber int, perPage int) (FeedPage, error) {
	if pageNumber < 1 {
		return FeedPage{}, fmt.Errorf("feed.page: %w", ErrInvalidPage)
	}
	if perPage < 1 {
		perPage = DefaultFeedPerPage
	}

	followed, followErr := service.follows.FollowedPackageIDs(ctx, userID)
	if followErr != nil {
		return FeedPage{}, fmt.Errorf("feed.followed: %w", followErr)
	}
	if len(followed) == 0 {
		return FeedPage{Versions: []Version{}}, nil
	}

	offset := (pageNumber - 1) * perPage
	rows, queryErr := service.packages.FindVersionsForPackages(ctx, followed, perPage+1, offset)
	if queryErr != nil {
		return FeedPage{}, fmt.Errorf("feed.versions: %w", queryErr)
	}

	more := len(rows) > perPage
	if more {
		rows = rows[:perPage]
	}
	return FeedPage{Versions: rows, More: more}, nil
}

// TotalDownloads recomputes the sum of download counters over the packages
// the user owns. No running total is maintained; every call reads the current
// counters.
func (service *FeedService) TotalDownloads(ctx context.Context, userID int64) (int64, error) {
	owned, err := service.packages.FindPackagesByOwner(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("feed.total_downloads: %w", err)
	}
	var total int64
	for _, record := range owned {
		total += record.DownloadCount
	}
	return total, nil
}
