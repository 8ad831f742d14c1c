package registrypg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tyemirov/pkgreg/internal/registrykit"
)

// PostgresPackageRepository serves package and version reads from PostgreSQL.
// The registry writes these tables elsewhere; this repository only reads.
type PostgresPackageRepository struct {
	pool *pgxpool.Pool
}

var _ registrykit.PackageRepository = (*PostgresPackageRepository)(nil)

// NewPostgresPackageRepository constructs a Postgres-backed repository.
func NewPostgresPackageRepository(pool *pgxpool.Pool) *PostgresPackageRepository {
	return &PostgresPackageRepository{pool: pool}
}

// FindPackageByName returns the package carrying the given name.
func (repository *PostgresPackageRepository) FindPackageByName(ctx context.Context, name string) (registrykit.Package, error) {
	var record registrykit.Package
	row := repository.pool.QueryRow(ctx, `
SELECT id, name, owner_id, download_count
FROM packages
WHERE name = $1
`, name)
	if scanErr := row.Scan(&record.ID, &record.Name, &record.OwnerID, &record.DownloadCount); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return registrykit.Package{}, fmt.Errorf("package_repo.find_by_name: %w", registrykit.ErrPackageNotFound)
		}
		return registrykit.Package{}, scanErr
	}
	return record, nil
}

// FindPackagesByOwner returns all packages owned by the user.
func (repository *PostgresPackageRepository) FindPackagesByOwner(ctx context.Context, ownerID int64) ([]registrykit.Package, error) {
	rows, queryErr := repository.pool.Query(ctx, `
SELECT id, name, owner_id, download_count
FROM packages
WHERE owner_id = $1
ORDER BY id
`, ownerID)
	if queryErr != nil {
		return nil, queryErr
	}
	defer rows.Close()

	owned := make([]registrykit.Package, 0)
	for rows.Next() {
		var record registrykit.Package
		if scanErr := rows.Scan(&record.ID, &record.Name, &record.OwnerID, &record.DownloadCount); scanErr != nil {
			return nil, scanErr
		}
		owned = append(owned, record)
	}
	return owned, rows.Err()
}

// FindVersionsForPackages returns a window of versions for the given packages,
// newest publish first with version id descending as tie break.
func (repository *PostgresPackageRepository) FindVersionsForPackages(ctx context.Context, packageIDs []int64, limit int, offset int) ([]registrykit.Version, error) {
	if len(packageIDs) == 0 {
		return []registrykit.Version{}, nil
	}
	rows, queryErr := repository.pool.Query(ctx, `
SELECT v.id, v.package_id, p.name, v.num, v.published_at
FROM versions v
JOIN packages p ON p.id = v.package_id
WHERE v.package_id = ANY($1)
ORDER BY v.published_at DESC, v.id DESC
LIMIT $2 OFFSET $3
`, packageIDs, limit, offset)
	if queryErr != nil {
		return nil, queryErr
	}
	defer rows.Close()

	matched := make([]registrykit.Version, 0, limit)
	for rows.Next() {
		var record registrykit.Version
		if scanErr := rows.Scan(&record.ID, &record.PackageID, &record.PackageName, &record.Num, &record.PublishedAt); scanErr != nil {
			return nil, scanErr
		}
		matched = append(matched, record)
	}
	return matched, rows.Err()
}
