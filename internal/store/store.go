// Package store implements the entry store on PostgreSQL.
//
// An Entry is an immutable timestamped integer with a description. The store
// supports exactly three operations: insert, sum over a time range, and
// paginated listing. Concurrency control is delegated to PostgreSQL
// (serialized writes, consistent reads); Store itself is safe for concurrent
// use by multiple goroutines.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tallyd/tallyd/internal/log"
)

// Entry is a stored value. Immutable once created; there is no update or
// delete operation.
type Entry struct {
	ID          int64     `json:"id"`
	Value       int64     `json:"value"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// MarshalJSON emits CreatedAt as ISO-8601 UTC with millisecond precision,
// matching the wire form clients see on every surface.
func (e Entry) MarshalJSON() ([]byte, error) {
	type alias Entry
	data, err := json.Marshal(struct {
		alias
		CreatedAt string `json:"createdAt"`
	}{
		alias:     alias(e),
		CreatedAt: e.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal entry: %w", err)
	}
	return data, nil
}

// Page is one page of a listing, newest entries first.
type Page struct {
	Items    []Entry `json:"items"`
	Page     int     `json:"page"`
	PageSize int     `json:"pageSize"`
	Total    int64   `json:"total"`
	Pages    int64   `json:"pages"`
}

// Listing page size bounds.
const (
	MinPageSize     = 1
	MaxPageSize     = 100
	DefaultPageSize = 20
)

// Store provides access to the entries table.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New creates a Store backed by the given connection pool.
func New(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Pool exposes the underlying pool for readiness probes.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Insert stores a new entry and returns it with its assigned id and
// creation timestamp.
func (s *Store) Insert(ctx context.Context, value int64, description string) (*Entry, error) {
	const q = `
		INSERT INTO entries (value, description)
		VALUES ($1, $2)
		RETURNING id, value, description, created_at`

	var e Entry
	err := s.pool.QueryRow(ctx, q, value, description).
		Scan(&e.ID, &e.Value, &e.Description, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting entry: %w", err)
	}

	s.logger.Debug("inserted entry", "id", e.ID, "value", e.Value)
	return &e, nil
}

// SumRange returns the sum of values for entries created within [from, to].
// The bounds are ISO-8601 timestamp strings; PostgreSQL parses them, so a
// malformed bound fails the query rather than silently producing a wrong
// range.
func (s *Store) SumRange(ctx context.Context, from, to string) (int64, error) {
	const q = `
		SELECT COALESCE(SUM(value), 0)
		FROM entries
		WHERE created_at >= $1::timestamptz AND created_at <= $2::timestamptz`

	var total int64
	if err := s.pool.QueryRow(ctx, q, from, to).Scan(&total); err != nil {
		return 0, fmt.Errorf("summing entries in [%s, %s]: %w", from, to, err)
	}
	return total, nil
}

// List returns one page of entries ordered newest-created first.
// page is clamped to >= 1 and pageSize to [MinPageSize, MaxPageSize];
// a pageSize of 0 selects DefaultPageSize.
func (s *Store) List(ctx context.Context, page, pageSize int) (*Page, error) {
	page, pageSize = clampPage(page, pageSize)
	offset := (page - 1) * pageSize

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM entries`).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting entries: %w", err)
	}

	const q = `
		SELECT id, value, description, created_at
		FROM entries
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`

	rows, err := s.pool.Query(ctx, q, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	items := make([]Entry, 0, pageSize)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Value, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}

	return &Page{
		Items:    items,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
		Pages:    pagesFor(total, pageSize),
	}, nil
}

// clampPage normalizes pagination parameters.
func clampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if pageSize < MinPageSize {
		pageSize = MinPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// pagesFor computes the page count for a total row count.
func pagesFor(total int64, pageSize int) int64 {
	if total == 0 {
		return 0
	}
	return (total + int64(pageSize) - 1) / int64(pageSize)
}
