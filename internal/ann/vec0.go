package ann

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register sqlite-vec extension
	sqlite_vec.Auto()
}

// Vec0 builds indexes in a private in-memory SQLite database using the
// sqlite-vec vec0 virtual table.
type Vec0 struct {
	once    sync.Once
	version string
	err     error
}

// NewVec0 returns the sqlite-vec backend.
func NewVec0() *Vec0 {
	return &Vec0{}
}

func (b *Vec0) Name() string { return NameVec0 }

// Available probes the extension once per backend.
func (b *Vec0) Available() error {
	b.once.Do(func() {
		db, err := sql.Open("sqlite3", ":memory:")
		if err != nil {
			b.err = fmt.Errorf("%w: %v", ErrUnavailable, err)
			return
		}
		defer db.Close()

		if err := db.QueryRow("SELECT vec_version()").Scan(&b.version); err != nil {
			b.err = fmt.Errorf("%w: sqlite-vec not loaded: %v", ErrUnavailable, err)
			return
		}
		log.Debug("sqlite-vec available", "version", b.version)
	})
	return b.err
}

// Build copies vectors into a fresh vec0 table.
func (b *Vec0) Build(vectors [][]float32) (Index, error) {
	dim, err := checkVectors(vectors)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return emptyIndex{}, nil
	}

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	idx := &vec0Index{db: db, n: len(vectors)}
	if err := idx.load(dim, vectors); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

type vec0Index struct {
	db *sql.DB
	n  int
}

func (x *vec0Index) load(dim int, vectors [][]float32) error {
	create := fmt.Sprintf(`
		CREATE VIRTUAL TABLE vectors USING vec0(
			row_id INTEGER PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		);
	`, dim)
	if _, err := x.db.Exec(create); err != nil {
		return fmt.Errorf("failed to create vector table: %w", err)
	}

	tx, err := x.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO vectors (row_id, embedding) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, v := range vectors {
		if _, err := stmt.Exec(i, float32Blob(v)); err != nil {
			return fmt.Errorf("failed to insert vector %d: %w", i, err)
		}
	}

	return tx.Commit()
}

func (x *vec0Index) Search(query []float32, k int) ([]int, []float64, error) {
	if k <= 0 || x.n == 0 {
		return nil, nil, nil
	}
	rows, err := x.db.Query(`
		SELECT row_id, distance
		FROM vectors
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance
	`, float32Blob(query), min(k, x.n))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to search vectors: %w", err)
	}
	defer rows.Close()

	var ids []int
	var scores []float64
	for rows.Next() {
		var id int
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, nil, fmt.Errorf("failed to scan result: %w", err)
		}
		ids = append(ids, id)
		scores = append(scores, 1-distance)
	}
	return ids, scores, rows.Err()
}

func (x *vec0Index) Len() int { return x.n }

func (x *vec0Index) Close() error { return x.db.Close() }

// float32Blob encodes a vector in the little-endian layout vec0 expects.
func float32Blob(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

type emptyIndex struct{}

func (emptyIndex) Search([]float32, int) ([]int, []float64, error) { return nil, nil, nil }
func (emptyIndex) Len() int                                        { return 0 }
func (emptyIndex) Close() error                                    { return nil }
