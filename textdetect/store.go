package textdetect

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"imagefliter/logging"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists detected text per URI in sqlite, so repeat runs over the
// same library skip the OCR service entirely.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the text cache database.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS detected_texts (
		uri TEXT PRIMARY KEY,
		texts TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS text_ratios (
		uri TEXT PRIMARY KEY,
		ratio REAL NOT NULL,
		updated_at TEXT NOT NULL
	);`

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot create text cache schema: %v", err)
	}

	return &Store{db: db}, nil
}

// Get returns the cached text lines for a URI.
func (s *Store) Get(uri string) ([]string, bool) {
	var raw string
	err := s.db.QueryRow("SELECT texts FROM detected_texts WHERE uri = ?", uri).Scan(&raw)
	if err != nil {
		if err != sql.ErrNoRows {
			logging.LogError("text cache read failed for %s: %v", uri, err)
		}
		return nil, false
	}

	var texts []string
	if err := json.Unmarshal([]byte(raw), &texts); err != nil {
		logging.LogError("text cache entry corrupt for %s: %v", uri, err)
		return nil, false
	}
	return texts, true
}

// Put stores the text lines for a URI, replacing any previous entry.
// Write failures are logged, never raised.
func (s *Store) Put(uri string, texts []string) {
	raw, err := json.Marshal(texts)
	if err != nil {
		logging.LogError("text cache encode failed for %s: %v", uri, err)
		return
	}

	stmt, err := s.db.Prepare(`
		INSERT OR REPLACE INTO detected_texts (uri, texts, updated_at)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		logging.LogError("text cache prepare failed: %v", err)
		return
	}
	defer stmt.Close()

	if _, err := stmt.Exec(uri, string(raw), time.Now().Format(time.RFC3339)); err != nil {
		logging.LogError("text cache write failed for %s: %v", uri, err)
	}
}

// GetRatio returns the cached text-coverage ratio for a URI.
func (s *Store) GetRatio(uri string) (float64, bool) {
	var ratio float64
	err := s.db.QueryRow("SELECT ratio FROM text_ratios WHERE uri = ?", uri).Scan(&ratio)
	if err != nil {
		if err != sql.ErrNoRows {
			logging.LogError("ratio cache read failed for %s: %v", uri, err)
		}
		return 0, false
	}
	return ratio, true
}

// PutRatio stores the text-coverage ratio for a URI. Write failures are
// logged, never raised.
func (s *Store) PutRatio(uri string, ratio float64) {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO text_ratios (uri, ratio, updated_at)
		VALUES (?, ?, ?)
	`, uri, ratio, time.Now().Format(time.RFC3339))
	if err != nil {
		logging.LogError("ratio cache write failed for %s: %v", uri, err)
	}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
