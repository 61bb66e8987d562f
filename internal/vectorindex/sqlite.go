// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package vectorindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
)

func init() {
	sqlite_vec.Auto()
}

var _ Index = (*SQLite)(nil)

// candidates is how many neighbours are fetched per query so ties can be
// broken on rowid rather than on vec0's internal order.
const candidates = 4

// SQLite is an Index backed by a sqlite-vec vec0 table opened read-only.
type SQLite struct {
	db     *sql.DB
	dim    int
	labels []string
}

// CreateSQLite writes vectors into a new index database at path. Row i is
// stored under rowid i+1. An existing file at path is replaced.
func CreateSQLite(ctx context.Context, path string, vectors [][]float32) error {
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return gateerr.New(gateerr.CodeIndexBuildInvalidInput, "no vectors to index", gateerr.FieldPath(path))
	}
	dim := len(vectors[0])

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return gateerr.Wrap(err, gateerr.CodeIndexBuildWriteFailure, "removing previous index", gateerr.FieldPath(path))
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=DELETE&_busy_timeout=5000")
	if err != nil {
		return gateerr.Wrap(err, gateerr.CodeIndexBuildWriteFailure, "opening index db", gateerr.FieldPath(path))
	}
	defer func() { _ = db.Close() }()

	ddl := []string{
		fmt.Sprintf(`CREATE VIRTUAL TABLE vectors USING vec0(embedding float[%d])`, dim),
		`CREATE TABLE index_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return gateerr.Wrap(err, gateerr.CodeIndexBuildWriteFailure, "creating index tables", gateerr.FieldPath(path))
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return gateerr.Wrap(err, gateerr.CodeIndexBuildWriteFailure, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	for i, v := range vectors {
		if len(v) != dim {
			return gateerr.Errorf(gateerr.CodeIndexBuildInvalidInput,
				"vector %d has %d dimensions, expected %d", i, len(v), dim)
		}
		blob, err := sqlite_vec.SerializeFloat32(v)
		if err != nil {
			return gateerr.Wrapf(err, gateerr.CodeIndexBuildWriteFailure, "serializing vector %d", i)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO vectors(rowid, embedding) VALUES (?, ?)`, i+1, blob); err != nil {
			return gateerr.Wrapf(err, gateerr.CodeIndexBuildWriteFailure, "inserting vector %d", i)
		}
	}

	meta := map[string]string{
		"dimension": strconv.Itoa(dim),
		"count":     strconv.Itoa(len(vectors)),
		"metric":    "l2",
	}
	for k, val := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO index_meta(key, value) VALUES (?, ?)`, k, val); err != nil {
			return gateerr.Wrapf(err, gateerr.CodeIndexBuildWriteFailure, "writing index meta %s", k)
		}
	}

	if err := tx.Commit(); err != nil {
		return gateerr.Wrap(err, gateerr.CodeIndexBuildWriteFailure, "committing index")
	}
	return nil
}

// OpenSQLite opens the index at path read-only and pairs its rows with
// labels. The row count must equal len(labels).
func OpenSQLite(ctx context.Context, path string, labels []string) (*SQLite, error) {
	db, dim, count, err := openReadOnly(ctx, path)
	if err != nil {
		return nil, err
	}

	if count != len(labels) {
		_ = db.Close()
		return nil, gateerr.New(gateerr.CodeIndexArtifactCorrupt,
			fmt.Sprintf("index has %d vectors but %d labels", count, len(labels)),
			gateerr.FieldPath(path))
	}

	return &SQLite{db: db, dim: dim, labels: labels}, nil
}

// ReadVectors returns every stored vector in row order.
func ReadVectors(ctx context.Context, path string) ([][]float32, error) {
	db, dim, count, err := openReadOnly(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, `SELECT rowid, embedding FROM vectors ORDER BY rowid`)
	if err != nil {
		return nil, corrupt(err, path, "reading vectors")
	}
	defer func() { _ = rows.Close() }()

	vectors := make([][]float32, 0, count)
	for rows.Next() {
		var (
			rowid int64
			blob  []byte
		)
		if err := rows.Scan(&rowid, &blob); err != nil {
			return nil, corrupt(err, path, "scanning vector")
		}
		if rowid != int64(len(vectors)+1) {
			return nil, gateerr.New(gateerr.CodeIndexArtifactCorrupt,
				fmt.Sprintf("index rowids are not contiguous at %d", rowid), gateerr.FieldPath(path))
		}
		v, err := decodeFloat32(blob, dim)
		if err != nil {
			return nil, gateerr.With(err, gateerr.FieldPath(path))
		}
		vectors = append(vectors, v)
	}
	if err := rows.Err(); err != nil {
		return nil, corrupt(err, path, "iterating vectors")
	}

	return vectors, nil
}

// Nearest returns the closest row. On equal distance the lowest row wins.
func (s *SQLite) Nearest(ctx context.Context, query []float32) (Match, error) {
	if err := checkQuery(query, s.dim); err != nil {
		return Match{}, err
	}

	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return Match{}, gateerr.Wrap(err, gateerr.CodeIndexQueryFailure, "serializing query vector")
	}

	const q = `SELECT rowid, distance FROM vectors
WHERE embedding MATCH ? AND k = ?
ORDER BY distance`

	rows, err := s.db.QueryContext(ctx, q, blob, min(candidates, len(s.labels)))
	if err != nil {
		return Match{}, gateerr.Wrap(err, gateerr.CodeIndexQueryFailure, "searching vectors")
	}
	defer func() { _ = rows.Close() }()

	var (
		bestRow  int64 = -1
		bestDist float64
	)
	for rows.Next() {
		var (
			rowid int64
			dist  float64
		)
		if err := rows.Scan(&rowid, &dist); err != nil {
			return Match{}, gateerr.Wrap(err, gateerr.CodeIndexQueryFailure, "scanning search result")
		}
		if bestRow < 0 || dist < bestDist || (dist == bestDist && rowid < bestRow) {
			bestRow, bestDist = rowid, dist
		}
	}
	if err := rows.Err(); err != nil {
		return Match{}, gateerr.Wrap(err, gateerr.CodeIndexQueryFailure, "iterating search results")
	}

	row := int(bestRow - 1)
	if bestRow < 1 || row >= len(s.labels) {
		return Match{}, gateerr.Errorf(gateerr.CodeIndexQueryFailure, "search returned no usable row (%d)", bestRow)
	}

	return Match{Row: row, Label: s.labels[row], Distance: float32(bestDist)}, nil
}

func (s *SQLite) Dim() int { return s.dim }

func (s *SQLite) Len() int { return len(s.labels) }

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func openReadOnly(ctx context.Context, path string) (*sql.DB, int, int, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, 0, 0, gateerr.Wrap(err, gateerr.CodeIndexArtifactNotFound, "index file unavailable", gateerr.FieldPath(path))
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, 0, 0, corrupt(err, path, "opening index db")
	}

	var dimRaw string
	if err := db.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = 'dimension'`).Scan(&dimRaw); err != nil {
		_ = db.Close()
		return nil, 0, 0, corrupt(err, path, "reading index dimension")
	}
	dim, err := strconv.Atoi(dimRaw)
	if err != nil || dim <= 0 {
		_ = db.Close()
		return nil, 0, 0, gateerr.New(gateerr.CodeIndexArtifactCorrupt,
			fmt.Sprintf("invalid index dimension %q", dimRaw), gateerr.FieldPath(path))
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors`).Scan(&count); err != nil {
		_ = db.Close()
		return nil, 0, 0, corrupt(err, path, "counting vectors")
	}
	if count == 0 {
		_ = db.Close()
		return nil, 0, 0, gateerr.New(gateerr.CodeIndexArtifactCorrupt, "index has no vectors", gateerr.FieldPath(path))
	}

	return db, dim, count, nil
}

// decodeFloat32 reverses sqlite_vec.SerializeFloat32 (little-endian float32).
func decodeFloat32(blob []byte, dim int) ([]float32, error) {
	if len(blob) != 4*dim {
		return nil, gateerr.Errorf(gateerr.CodeIndexArtifactCorrupt,
			"vector blob has %d bytes, expected %d", len(blob), 4*dim)
	}
	v := make([]float32, dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return v, nil
}

func corrupt(err error, path, msg string) error {
	return gateerr.Wrap(err, gateerr.CodeIndexArtifactCorrupt, msg, gateerr.FieldPath(path))
}
