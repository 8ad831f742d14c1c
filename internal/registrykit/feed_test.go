package registrykit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type staticFollows struct {
	packageIDs []int64
}

func (follows staticFollows) Follow(ctx context.Context, userID int64, packageID int64) error {
	return nil
}

func (follows staticFollows) Unfollow(ctx context.Context, userID int64, packageID int64) error {
	return nil
}

func (follows staticFollows) IsFollowing(ctx context.Context, userID int64, packageID int64) (bool, error) {
	for _, candidate := range follows.packageIDs {
		if candidate == packageID {
			return true, nil
		}
	}
	return false, nil
}

func (follows staticFollows) FollowedPackageIDs(ctx context.Context, userID int64) ([]int64, error) {
	return follows.packageIDs, nil
}

func buildFeedFixture(t *testing.T, versionCount int) (*FeedService, *MemoryPackageRepository) {
	t.Helper()
	repository := NewMemoryPackageRepository()
	followed := repository.AddPackage("foo_fighters", 1, 0)
	base := time.Unix(1700000000, 0)
	for index := 0; index < versionCount; index++ {
		if _, err := repository.AddVersion(followed.ID, fmt.Sprintf("1.0.%d", index), base.Add(time.Duration(index)*time.Hour)); err != nil {
			t.Fatalf("add version: %v", err)
		}
	}
	service := NewFeedService(staticFollows{packageIDs: []int64{followed.ID}}, repository)
	return service, repository
}

func TestGetFeedRejectsNonPositivePage(t *testing.T) {
	t.Parallel()
	service, _ := buildFeedFixture(t, 3)

	for _, pageNumber := range []int{0, -1} {
		_, err := service.GetFeed(context.Background(), 1, pageNumber, 10)
		if !errors.Is(err, ErrInvalidPage) {
			t.Fatalf("expected ErrInvalidPage for page %d, got %v", pageNumber, err)
		}
	}
}

func TestGetFeedEmptyFollowSet(t *testing.T) {
	t.Parallel()
	repository := NewMemoryPackageRepository()
	service := NewFeedService(staticFollows{}, repository)

	page, err := service.GetFeed(context.Background(), 1, 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Versions) != 0 {
		t.Fatalf("expected empty feed, got %d versions", len(page.Versions))
	}
	if page.More {
		t.Fatalf("expected more=false for empty follow set")
	}
}

func TestGetFeedPaginationExactness(t *testing.T) {
	t.Parallel()
	service, _ := buildFeedFixture(t, 5)

	first, err := service.GetFeed(context.Background(), 1, 1, 2)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(first.Versions) != 2 || !first.More {
		t.Fatalf("expected full page with more=true, got %d versions more=%v", len(first.Versions), first.More)
	}

	second, err := service.GetFeed(context.Background(), 1, 2, 2)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(second.Versions) != 2 || !second.More {
		t.Fatalf("expected full page with more=true, got %d versions more=%v", len(second.Versions), second.More)
	}

	last, err := service.GetFeed(context.Background(), 1, 3, 2)
	if err != nil {
		t.Fatalf("page 3: %v", err)
	}
	if len(last.Versions) != 1 || last.More {
		t.Fatalf("expected remainder with more=false, got %d versions more=%v", len(last.Versions), last.More)
	}

	beyond, err := service.GetFeed(context.Background(), 1, 4, 2)
	if err != nil {
		t.Fatalf("page 4: %v", err)
	}
	if len(beyond.Versions) != 0 || beyond.More {
		t.Fatalf("expected empty page past the end, got %d versions more=%v", len(beyond.Versions), beyond.More)
	}
}

func TestGetFeedOrdersNewestFirst(t *testing.T) {
	t.Parallel()
	service, _ := buildFeedFixture(t, 3)

	page, err := service.GetFeed(context.Background(), 1, 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Versions) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(page.Versions))
	}
	for index := 1; index < len(page.Versions); index++ {
		previous := page.Versions[index-1]
		current := page.Versions[index]
		if previous.PublishedAt.Before(current.PublishedAt) {
			t.Fatalf("expected descending publish order, got %v before %v", previous.PublishedAt, current.PublishedAt)
		}
	}
}

func TestGetFeedTieBreakIsVersionIDDescending(t *testing.T) {
	t.Parallel()
	repository := NewMemoryPackageRepository()
	followed := repository.AddPackage("tied", 1, 0)
	publishedAt := time.Unix(1700000000, 0)
	firstVersion, _ := repository.AddVersion(followed.ID, "1.0.0", publishedAt)
	secondVersion, _ := repository.AddVersion(followed.ID, "1.0.1", publishedAt)
	service := NewFeedService(staticFollows{packageIDs: []int64{followed.ID}}, repository)

	page, err := service.GetFeed(context.Background(), 1, 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(page.Versions))
	}
	if page.Versions[0].ID != secondVersion.ID || page.Versions[1].ID != firstVersion.ID {
		t.Fatalf("expected id-descending tie break, got %d then %d", page.Versions[0].ID, page.Versions[1].ID)
	}
}

func TestTotalDownloadsSumsOnlyOwnedPackages(t *testing.T) {
	t.Parallel()
	repository := NewMemoryPackageRepository()
	first := repository.AddPackage("foo_krate1", 1, 10)
	repository.AddPackage("foo_krate2", 1, 20)
	repository.AddPackage("bar_krate1", 2, 2)
	service := NewFeedService(staticFollows{}, repository)

	total, err := service.TotalDownloads(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 30 {
		t.Fatalf("expected total 30, got %d", total)
	}

	if err := repository.SetDownloadCount(first.ID, 15); err != nil {
		t.Fatalf("set downloads: %v", err)
	}
	total, err = service.TotalDownloads(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 35 {
		t.Fatalf("expected recomputed total 35, got %d", total)
	}

	otherTotal, err := service.TotalDownloads(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if otherTotal != 2 {
		t.Fatalf("expected other owner's total 2, got %d", otherTotal)
	}
}
