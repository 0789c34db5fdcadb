// Package records persists donation records in SQLite and saves the frame
// snapshot each record was classified from.
package records

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/projectlend/lend/internal/types"
)

// Store is SQLite-backed persistence for donations. Safe for concurrent use;
// database/sql serializes access to the single connection pool.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("open store: empty db path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("open store: create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// New returns a Store bound to an existing database handle. The caller is
// responsible for migration.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append inserts a donation record and returns its assigned ID. The record's
// Timestamp is used if set, otherwise now.
func (s *Store) Append(rec types.DonationRecord) (int64, error) {
	if s == nil || s.db == nil {
		return -1, fmt.Errorf("append donation: store is nil")
	}
	if !rec.Category.Valid() {
		return -1, fmt.Errorf("append donation: invalid category %q", rec.Category)
	}
	if rec.ItemName == "" {
		rec.ItemName = "unknown"
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	var weight any
	if rec.EstimatedWeightLbs != nil {
		weight = *rec.EstimatedWeightLbs
	}
	var expiry any
	if rec.EstimatedExpiry != nil {
		expiry = *rec.EstimatedExpiry
	}
	var imagePath any
	if rec.ImagePath != "" {
		imagePath = rec.ImagePath
	}
	var donorID any
	if rec.DonorID != nil && *rec.DonorID != "" {
		donorID = *rec.DonorID
	}

	result, err := s.db.Exec(
		`INSERT INTO donations (category, item_name, estimated_weight_lbs, estimated_expiry, timestamp, image_path, donor_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(rec.Category), rec.ItemName, weight, expiry,
		ts.Format(time.RFC3339Nano), imagePath, donorID,
	)
	if err != nil {
		return -1, fmt.Errorf("append donation: insert: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return -1, fmt.Errorf("append donation: last insert id: %w", err)
	}
	return id, nil
}

// All returns every donation ordered oldest first.
func (s *Store) All() ([]types.DonationRecord, error) {
	return s.query(`SELECT id, category, item_name, estimated_weight_lbs, estimated_expiry, timestamp, image_path, donor_id
		FROM donations ORDER BY id ASC`)
}

// Recent returns the newest donations, newest first, capped at limit.
func (s *Store) Recent(limit int) ([]types.DonationRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("recent donations: limit must be > 0")
	}
	return s.query(`SELECT id, category, item_name, estimated_weight_lbs, estimated_expiry, timestamp, image_path, donor_id
		FROM donations ORDER BY id DESC LIMIT ?`, limit)
}

// Get returns one donation by ID.
func (s *Store) Get(id int64) (types.DonationRecord, error) {
	recs, err := s.query(`SELECT id, category, item_name, estimated_weight_lbs, estimated_expiry, timestamp, image_path, donor_id
		FROM donations WHERE id = ?`, id)
	if err != nil {
		return types.DonationRecord{}, err
	}
	if len(recs) == 0 {
		return types.DonationRecord{}, fmt.Errorf("get donation: no donation with id %d", id)
	}
	return recs[0], nil
}

// Stats summarizes the ledger: total items, summed estimated weight, and
// per-category counts.
type Stats struct {
	TotalItems     int            `json:"total_items"`
	TotalWeightLbs float64        `json:"total_weight_lbs"`
	ByCategory     map[string]int `json:"by_category"`
}

// Stats computes ledger totals. Categories with zero donations still appear
// in ByCategory with a zero count.
func (s *Store) Stats() (Stats, error) {
	if s == nil || s.db == nil {
		return Stats{}, fmt.Errorf("donation stats: store is nil")
	}

	stats := Stats{ByCategory: make(map[string]int, len(types.Categories()))}
	for _, cat := range types.Categories() {
		stats.ByCategory[string(cat)] = 0
	}

	err := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(estimated_weight_lbs), 0) FROM donations`,
	).Scan(&stats.TotalItems, &stats.TotalWeightLbs)
	if err != nil {
		return Stats{}, fmt.Errorf("donation stats: totals: %w", err)
	}

	rows, err := s.db.Query(`SELECT category, COUNT(*) FROM donations GROUP BY category`)
	if err != nil {
		return Stats{}, fmt.Errorf("donation stats: by category: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return Stats{}, fmt.Errorf("donation stats: scan: %w", err)
		}
		stats.ByCategory[cat] = n
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("donation stats: rows: %w", err)
	}
	return stats, nil
}

func (s *Store) query(sqlString string, args ...any) ([]types.DonationRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("query donations: store is nil")
	}

	rows, err := s.db.Query(sqlString, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []types.DonationRecord{}, nil
		}
		return nil, fmt.Errorf("query donations: %w", err)
	}
	defer rows.Close()

	recs := make([]types.DonationRecord, 0)
	for rows.Next() {
		var rec types.DonationRecord
		var category, tsStr string
		var weight sql.NullFloat64
		var expiry, imagePath, donorID sql.NullString

		err = rows.Scan(&rec.ID, &category, &rec.ItemName, &weight, &expiry, &tsStr, &imagePath, &donorID)
		if err != nil {
			return nil, fmt.Errorf("query donations: scan: %w", err)
		}

		rec.Category = types.Category(category)
		rec.Timestamp, err = time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			return nil, fmt.Errorf("query donations: parse timestamp: %w", err)
		}
		if weight.Valid {
			w := weight.Float64
			rec.EstimatedWeightLbs = &w
		}
		if expiry.Valid {
			e := expiry.String
			rec.EstimatedExpiry = &e
		}
		if imagePath.Valid {
			rec.ImagePath = imagePath.String
		}
		if donorID.Valid {
			d := donorID.String
			rec.DonorID = &d
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query donations: rows: %w", err)
	}
	return recs, nil
}
