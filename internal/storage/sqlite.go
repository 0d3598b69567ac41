package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/hyperdb/internal/document"
	"github.com/hyperjump/hyperdb/internal/store"
)

// Archive is a SQLite copy of a store listing. Rows keep the store order
// through idx; the vector column is empty when the listing had no vectors.
type Archive struct {
	db *sql.DB
}

// OpenArchive opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func OpenArchive(dbPath string) (*Archive, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Archive{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		idx INTEGER PRIMARY KEY,
		document TEXT NOT NULL,
		vector BLOB,
		dimensions INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Write replaces the archive's rows with entries in a single transaction.
func (a *Archive) Write(ctx context.Context, entries iter.Seq[store.Entry]) (int, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return 0, fmt.Errorf("failed to clear entries: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entries (idx, document, vector, dimensions) VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	n := 0
	for e := range entries {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		docJSON, err := json.Marshal(e.Document)
		if err != nil {
			return 0, fmt.Errorf("entry %d: %w", e.Index, err)
		}
		var blob []byte
		if e.Vector != nil {
			if blob, err = encodeVector(e.Vector); err != nil {
				return 0, fmt.Errorf("entry %d: %w", e.Index, err)
			}
		}
		if _, err := stmt.ExecContext(ctx, n, string(docJSON), blob, len(e.Vector)); err != nil {
			return 0, fmt.Errorf("entry %d: %w", e.Index, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// Read returns every row in idx order. Vector is nil for rows stored without one.
func (a *Archive) Read(ctx context.Context) ([]store.Entry, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT idx, document, vector, dimensions FROM entries ORDER BY idx`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []store.Entry
	for rows.Next() {
		var (
			e       store.Entry
			docJSON string
			blob    []byte
			dim     int
		)
		if err := rows.Scan(&e.Index, &docJSON, &blob, &dim); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(docJSON), &e.Document); err != nil {
			return nil, fmt.Errorf("entry %d: bad document: %w", e.Index, err)
		}
		if dim > 0 {
			if e.Vector, err = decodeVector(blob); err != nil {
				return nil, fmt.Errorf("entry %d: %w", e.Index, err)
			}
			if len(e.Vector) != dim {
				return nil, fmt.Errorf("entry %d: vector has %d values, row says %d", e.Index, len(e.Vector), dim)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of archived rows.
func (a *Archive) Count(ctx context.Context) (int64, error) {
	var count int64
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

// ExportSQLite writes entries to a SQLite database at path, replacing any
// previous export there, and returns the number of rows written.
func ExportSQLite(ctx context.Context, path string, entries iter.Seq[store.Entry]) (int, error) {
	a, err := OpenArchive(path)
	if err != nil {
		return 0, err
	}
	defer a.Close()
	return a.Write(ctx, entries)
}

// ImportSQLite reads an export back as parallel document and vector slices,
// ready for Store.AddDocuments. vecs is nil when any row lacks a vector, in
// which case the caller's embedder has to produce them.
func ImportSQLite(ctx context.Context, path string) ([]document.Document, [][]float32, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil, fmt.Errorf("failed to open export: %w", err)
	}
	a, err := OpenArchive(path)
	if err != nil {
		return nil, nil, err
	}
	defer a.Close()

	entries, err := a.Read(ctx)
	if err != nil {
		return nil, nil, err
	}
	docs := make([]document.Document, len(entries))
	vecs := make([][]float32, len(entries))
	for i, e := range entries {
		docs[i] = e.Document
		if e.Vector == nil {
			vecs = nil
		} else if vecs != nil {
			vecs[i] = e.Vector
		}
	}
	return docs, vecs, nil
}
