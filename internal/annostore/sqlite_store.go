// Package annostore provides persistent storage for annotation classes and
// per-shape class assignments using SQLite.
package annostore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Class is a user-defined annotation category with a display color.
type Class struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

// Assignment ties one committed shape row to a class.
type Assignment struct {
	Dataset string `json:"dataset"`
	Element string `json:"element"`
	RowID   int64  `json:"row_id"`
	ClassID int64  `json:"class_id"`
}

// Store provides persistent storage for annotation state using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore creates a new SQLite-backed annotation store.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	// Foreign keys are off by default in SQLite and are a per-connection
	// setting, so they go through the DSN to cover every pooled connection.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS annotation_classes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		color TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS shape_assignments (
		dataset TEXT NOT NULL,
		element TEXT NOT NULL,
		row_id INTEGER NOT NULL,
		class_id INTEGER NOT NULL,
		PRIMARY KEY (dataset, element, row_id),
		FOREIGN KEY (class_id) REFERENCES annotation_classes(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_class ON shape_assignments(class_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateClass adds a new annotation class and returns it with its assigned
// id.
func (s *Store) CreateClass(name, color string) (*Class, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO annotation_classes (name, color, created_at) VALUES (?, ?, ?)
	`, name, color, now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to insert class: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Class{ID: id, Name: name, Color: color, CreatedAt: now}, nil
}

// ListClasses returns every class ordered by creation.
func (s *Store) ListClasses() ([]Class, error) {
	rows, err := s.db.Query(`
		SELECT id, name, color, created_at FROM annotation_classes ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Class
	for rows.Next() {
		var c Class
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Name, &c.Color, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteClass removes a class; its shape assignments cascade away.
func (s *Store) DeleteClass(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM annotation_classes WHERE id = ?`, id)
	return err
}

// Assign records or replaces the class for one shape row.
func (s *Store) Assign(a Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO shape_assignments (dataset, element, row_id, class_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (dataset, element, row_id) DO UPDATE SET class_id = excluded.class_id
	`, a.Dataset, a.Element, a.RowID, a.ClassID)
	return err
}

// Unassign removes the class assignment for one shape row.
func (s *Store) Unassign(dataset, element string, rowID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		DELETE FROM shape_assignments WHERE dataset = ? AND element = ? AND row_id = ?
	`, dataset, element, rowID)
	return err
}

// AssignmentsFor returns all assignments of an element keyed by row id.
func (s *Store) AssignmentsFor(dataset, element string) (map[int64]int64, error) {
	rows, err := s.db.Query(`
		SELECT row_id, class_id FROM shape_assignments WHERE dataset = ? AND element = ?
	`, dataset, element)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]int64)
	for rows.Next() {
		var rowID, classID int64
		if err := rows.Scan(&rowID, &classID); err != nil {
			return nil, err
		}
		out[rowID] = classID
	}
	return out, rows.Err()
}
