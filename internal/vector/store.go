// Package vector provides per-topic chunk stores with similarity search.
package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tana-search/tana/internal/models"
)

// Store is one topic's chunk table: a key-ordered SQLite table supporting
// filtered delete, batch insert, and brute-force cosine similarity search.
type Store struct {
	db         *sql.DB
	path       string
	dimensions int
}

// Hit is a single similarity search result.
type Hit struct {
	Chunk *models.Chunk
	Score float64
}

// Open opens or creates the chunk store at dbPath. Parent directories are
// created if they do not exist.
func Open(dbPath string, dimensions int) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db, path: dbPath, dimensions: dimensions}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_name TEXT NOT NULL,
		path TEXT NOT NULL,
		content TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		embedding BLOB NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document_name ON chunks(document_name);
	CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);
	`
	_, err := db.Exec(schema)
	return err
}

// Path returns the store's on-disk database path.
func (s *Store) Path() string {
	return s.path
}

// AddChunks inserts chunks in a single transaction.
func (s *Store) AddChunks(ctx context.Context, chunks []*models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, document_name, path, content, chunk_index, embedding, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, ch := range chunks {
		if len(ch.Embedding) != s.dimensions {
			return fmt.Errorf("chunk %s: embedding dimension %d, store expects %d", ch.ID, len(ch.Embedding), s.dimensions)
		}
		metadataJSON, err := json.Marshal(ch.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for chunk %s: %w", ch.ID, err)
		}
		ch.CreatedAt = now
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentName, ch.Path, ch.Content, ch.ChunkIndex,
			encodeVector(ch.Embedding), string(metadataJSON), ch.CreatedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteByDocumentName removes every chunk whose stored document name matches.
// Returns the number of chunks removed.
func (s *Store) DeleteByDocumentName(ctx context.Context, documentName string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_name = ?`, documentName)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Search returns the top-k chunks by cosine similarity to query (vectors are
// stored unit-length, so inner product is cosine). Brute force over the table;
// topics are independently embedded and stay small enough for a linear scan.
func (s *Store) Search(ctx context.Context, query []float32, k int) ([]*Hit, error) {
	if len(query) != s.dimensions {
		return nil, fmt.Errorf("query dimension %d, store expects %d", len(query), s.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_name, path, content, chunk_index, embedding, metadata, created_at FROM chunks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []*Hit
	for rows.Next() {
		var ch models.Chunk
		var blob []byte
		var metadataJSON string
		if err := rows.Scan(&ch.ID, &ch.DocumentName, &ch.Path, &ch.Content, &ch.ChunkIndex, &blob, &metadataJSON, &ch.CreatedAt); err != nil {
			return nil, err
		}
		if metadataJSON != "" && metadataJSON != "null" {
			_ = json.Unmarshal([]byte(metadataJSON), &ch.Metadata)
		}
		vec := decodeVector(blob)
		if len(vec) != s.dimensions {
			continue
		}
		var dot float64
		for i := 0; i < s.dimensions; i++ {
			dot += float64(query[i] * vec[i])
		}
		hits = append(hits, &Hit{Chunk: &ch, Score: dot})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// ChunksByID fetches specific chunks by ID. Missing IDs are skipped.
func (s *Store) ChunksByID(ctx context.Context, ids []string) (map[string]*models.Chunk, error) {
	out := make(map[string]*models.Chunk, len(ids))
	stmt, err := s.db.PrepareContext(ctx,
		`SELECT id, document_name, path, content, chunk_index, metadata, created_at FROM chunks WHERE id = ?`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	for _, id := range ids {
		var ch models.Chunk
		var metadataJSON string
		err := stmt.QueryRowContext(ctx, id).Scan(
			&ch.ID, &ch.DocumentName, &ch.Path, &ch.Content, &ch.ChunkIndex, &metadataJSON, &ch.CreatedAt)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		if metadataJSON != "" && metadataJSON != "null" {
			_ = json.Unmarshal([]byte(metadataJSON), &ch.Metadata)
		}
		out[id] = &ch
	}
	return out, nil
}

// CountChunks returns the total number of chunks in the store.
func (s *Store) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

// ChunkCountsByDocument returns the chunk count per stored document name.
func (s *Store) ChunkCountsByDocument(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_name, COUNT(*) FROM chunks GROUP BY document_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		counts[name] = n
	}
	return counts, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeVector(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[i*4:(i+1)*4], math.Float32bits(x))
	}
	return out
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4 : (i+1)*4]))
	}
	return out
}
