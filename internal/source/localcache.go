package source

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ttavares/comexsync/internal/domain"
)

// CacheStore is the locally cached embedded store. It is strictly a fallback
// read source; canonical writes never target it.
type CacheStore struct {
	db *sql.DB
}

// OpenCache opens the sqlite cache file read-only.
func OpenCache(path string) (*CacheStore, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open local cache %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping local cache %s: %w", path, err)
	}
	return &CacheStore{db: db}, nil
}

// Close releases the underlying handle.
func (c *CacheStore) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// DocumentNumbers returns the cached document numbers linked to a process,
// for one kind. The cache carries numbers only; CacheDiscoverer enriches them
// from the authoritative projection.
func (c *CacheStore) DocumentNumbers(ctx context.Context, processRef string, kind domain.DocumentKind) ([]string, error) {
	if c.db == nil {
		return nil, fmt.Errorf("local cache not initialized")
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT number FROM process_documents WHERE process_ref = ? AND kind = ? ORDER BY number`,
		processRef, string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query local cache: %w", err)
	}
	defer rows.Close()

	var numbers []string
	for rows.Next() {
		var number string
		if scanErr := rows.Scan(&number); scanErr != nil {
			return nil, fmt.Errorf("failed to scan cached number: %w", scanErr)
		}
		if number != "" {
			numbers = append(numbers, number)
		}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate cached numbers: %w", rowsErr)
	}
	return numbers, nil
}
