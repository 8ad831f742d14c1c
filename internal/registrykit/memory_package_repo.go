package registrykit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryPackageRepository serves package and version reads from process
// memory. Intended for tests and local runs without a registry database.
type MemoryPackageRepository struct {
	mutex         sync.Mutex
	packages      map[int64]Package
	versions      []Version
	nextPackageID int64
	nextVersionID int64
}

var _ PackageRepository = (*MemoryPackageRepository)(nil)

// NewMemoryPackageRepository creates an empty repository.
func NewMemoryPackageRepository() *MemoryPackageRepository {
	return &MemoryPackageRepository{
		packages: make(map[int64]Package),
	}
}

// AddPackage registers a package and returns its assigned read model.
func (repository *MemoryPackageRepository) AddPackage(name string, ownerID int64, downloadCount int64) Package {
	repository.mutex.Lock()
	defer repository.mutex.Unlock()
	repository.nextPackageID++
	record := Package{
		ID:            repository.nextPackageID,
		Name:          name,
		OwnerID:       ownerID,
		DownloadCount: downloadCount,
	}
	repository.packages[record.ID] = record
	return record
}

// AddVersion registers a published version for an existing package.
func (repository *MemoryPackageRepository) AddVersion(packageID int64, num string, publishedAt time.Time) (Version, error) {
	repository.mutex.Lock()
	defer repository.mutex.Unlock()
	record, ok := repository.packages[packageID]
	if !ok {
		return Version{}, fmt.Errorf("package_repo.add_version: %w", ErrPackageNotFound)
	}
	repository.nextVersionID++
	version := Version{
		ID:          repository.nextVersionID,
		PackageID:   packageID,
		PackageName: record.Name,
		Num:         num,
		PublishedAt: publishedAt.UTC(),
	}
	repository.versions = append(repository.versions, version)
	return version, nil
}

// SetDownloadCount overwrites a package's download counter.
func (repository *MemoryPackageRepository) SetDownloadCount(packageID int64, downloadCount int64) error {
	repository.mutex.Lock()
	defer repository.mutex.Unlock()
	record, ok := repository.packages[packageID]
	if !ok {
		return fmt.Errorf("package_repo.set_downloads: %w", ErrPackageNotFound)
	}
	record.DownloadCount = downloadCount
	repository.packages[packageID] = record
	return nil
}

// FindPackageByName returns the package carrying the given name.
func (repository *MemoryPackageRepository) FindPackageByName(ctx context.Context, name string) (Package, error) {
	repository.mutex.Lock()
	defer repository.mutex.Unlock()
	for _, record := range repository.packages {
		if record.Name == name {
			return record, nil
		}
	}
	return Package{}, fmt.Errorf("package_repo.find_by_name: %w", ErrPackageNotFound)
}

// FindPackagesByOwner returns all packages owned by the user.
func (repository *MemoryPackageRepository) FindPackagesByOwner(ctx context.Context, ownerID int64) ([]Package, error) {
	repository.mutex.Lock()
	defer repository.mutex.Unlock()
	owned := make([]Package, 0)
	for _, record := range repository.packages {
		if record.OwnerID == ownerID {
			owned = append(owned, record)
		}
	}
	sort.Slice(owned, func(left, right int) bool {
		return owned[left].ID < owned[right].ID
	})
	return owned, nil
}

// FindVersionsForPackages returns a window of versions for the given packages,
// ordered by publish time descending with version id descending as tie break.
func (repository *MemoryPackageRepository) FindVersionsForPackages(ctx context.Context, packageIDs []int64, limit int, offset int) ([]Version, error) {
	repository.mutex.Lock()
	defer repository.mutex.Unlock()

	wanted := make(map[int64]struct{}, len(packageIDs))
	for _, packageID := range packageIDs {
		wanted[packageID] = struct{}{}
	}

	matched := make([]Version, 0)
	for _, version := range repository.versions {
		if _, ok := wanted[version.PackageID]; ok {
			matched = append(matched, version)
		}
	}
	sort.Slice(matched, func(left, right int) bool {
		if !matched[left].PublishedAt.Equal(matched[right].PublishedAt) {
			return matched[left].PublishedAt.After(matched[right].PublishedAt)
		}
		return matched[left].ID > matched[right].ID
	})

	if offset >= len(matched) {
		return []Version{}, nil
	}
	matched = matched[offset:]
	if limit >= 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}
