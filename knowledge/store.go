package knowledge

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE chunks (
	ordinal   INTEGER PRIMARY KEY,
	id        TEXT NOT NULL,
	source    TEXT NOT NULL,
	text      TEXT NOT NULL,
	embedding BLOB NOT NULL
);`

// save writes chunks to a fresh sqlite file at path, replacing any earlier
// index atomically via a rename.
func save(ctx context.Context, path, embedder string, opts Options, chunks []Chunk) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	_ = os.Remove(tmp)

	db, err := sql.Open("sqlite3", tmp+"?_journal=DELETE")
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	if err := writeAll(ctx, db, embedder, opts, chunks); err != nil {
		db.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("install index: %w", err)
	}
	return nil
}

func writeAll(ctx context.Context, db *sql.DB, embedder string, opts Options, chunks []Chunk) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	dims := 0
	if len(chunks) > 0 {
		dims = len(chunks[0].Embedding)
	}
	meta := map[string]string{
		"embedder":      embedder,
		"dims":          strconv.Itoa(dims),
		"chunk_size":    strconv.Itoa(opts.ChunkSize),
		"chunk_overlap": strconv.Itoa(opts.ChunkOverlap),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("write meta %s: %w", k, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks(ordinal, id, source, text, embedding) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.Ordinal, c.ID, c.Source, c.Text, encodeVector(c.Embedding)); err != nil {
			return fmt.Errorf("write chunk %d: %w", c.Ordinal, err)
		}
	}
	return tx.Commit()
}

// load reads the index at path. It fails when the index was built by
// another embedder or with vectors of another length than dims.
func load(ctx context.Context, path, embedder string, dims func() (int, error)) ([]Chunk, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer db.Close()

	var stored, storedDims string
	if err := db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'embedder'`).Scan(&stored); err != nil {
		return nil, fmt.Errorf("read index meta: %w", err)
	}
	if stored != embedder {
		return nil, fmt.Errorf("index %s was built with embedder %q, not %q", path, stored, embedder)
	}
	if err := db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'dims'`).Scan(&storedDims); err != nil {
		return nil, fmt.Errorf("read index meta: %w", err)
	}
	n, err := strconv.Atoi(storedDims)
	if err != nil {
		return nil, fmt.Errorf("index %s: bad dims %q", path, storedDims)
	}
	if n > 0 {
		want, err := dims()
		if err != nil {
			return nil, err
		}
		if n != want {
			return nil, fmt.Errorf("index %s holds %d-dim vectors, embedder %q yields %d", path, n, embedder, want)
		}
	}

	rows, err := db.QueryContext(ctx, `SELECT ordinal, id, source, text, embedding FROM chunks ORDER BY ordinal`)
	if err != nil {
		return nil, fmt.Errorf("read chunks: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var (
			c    Chunk
			blob []byte
		)
		if err := rows.Scan(&c.Ordinal, &c.ID, &c.Source, &c.Text, &blob); err != nil {
			return nil, err
		}
		c.Embedding, err = decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", c.Ordinal, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(x))
	}
	return b
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob of %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
