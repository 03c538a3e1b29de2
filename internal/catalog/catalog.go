// Package catalog persists per-file group/dataset/attribute metadata in
// SQLite so variables can be located without reopening every container.
package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gridcrop/server/internal/container"
)

// FileRecord is one registered container file.
type FileRecord struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// DatasetRecord is one dataset inside a registered container.
type DatasetRecord struct {
	ID          int64  `json:"id"`
	FileID      int64  `json:"file_id"`
	Name        string `json:"name"`
	FullPath    string `json:"full_path"`
	ParentPath  string `json:"parent_path"`
	Shape       []int  `json:"shape"`
	DType       string `json:"dtype"`
	Compression string `json:"compression,omitempty"`
}

// GroupRecord is one group inside a registered container.
type GroupRecord struct {
	ID         int64  `json:"id"`
	FileID     int64  `json:"file_id"`
	Name       string `json:"name"`
	FullPath   string `json:"full_path"`
	ParentPath string `json:"parent_path"`
}

// AttributeRecord is one attribute of a group or dataset.
type AttributeRecord struct {
	FileID     int64  `json:"file_id"`
	ParentPath string `json:"parent_path"`
	Name       string `json:"name"`
	Value      string `json:"value"`
}

// VariableBinding is everything an engine needs to operate on one variable:
// the container path plus the internal paths of the data and its coordinate
// datasets.
type VariableBinding struct {
	FilePath string `json:"file_path"`
	DataPath string `json:"data_path"`
	LatPath  string `json:"lat_path"`
	LonPath  string `json:"lon_path"`
	Group    string `json:"group"`
}

// Catalog is a SQLite-backed metadata index over registered containers.
type Catalog struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the catalog database.
func Open(dbPath string) (*Catalog, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	c := &Catalog{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return c, nil
}

// Close closes the database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		path TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS groups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		full_path TEXT NOT NULL,
		parent_path TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS datasets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		full_path TEXT NOT NULL,
		parent_path TEXT NOT NULL,
		shape TEXT,
		dtype TEXT,
		compression TEXT
	);
	CREATE TABLE IF NOT EXISTS attributes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		parent_path TEXT NOT NULL,
		name TEXT NOT NULL,
		value TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_datasets_file ON datasets(file_id);
	CREATE INDEX IF NOT EXISTS idx_attributes_file ON attributes(file_id);
	`
	_, err := c.db.Exec(schema)
	return err
}

// Register walks a container and records its full hierarchy. Re-registering
// the same name replaces the previous entry.
func (c *Catalog) Register(name, filePath string) (int64, error) {
	src, err := container.OpenDir(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open container %s: %w", filePath, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM files WHERE name = ?`, name); err != nil {
		return 0, err
	}
	res, err := tx.Exec(`INSERT INTO files (name, path, created_at) VALUES (?, ?, ?)`,
		name, filePath, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	fileID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	err = src.Walk(func(n container.Node) error {
		parent := path.Dir(n.Path)
		base := path.Base(n.Path)
		switch n.Kind {
		case container.KindGroup:
			if n.Path != "/" {
				if _, err := tx.Exec(
					`INSERT INTO groups (file_id, name, full_path, parent_path) VALUES (?, ?, ?, ?)`,
					fileID, base, n.Path, parent); err != nil {
					return err
				}
			}
		case container.KindDataset:
			shape, _ := json.Marshal(n.Meta.Shape)
			compression := ""
			if n.Meta.Compressor != nil {
				compression = n.Meta.Compressor.ID
			}
			if _, err := tx.Exec(
				`INSERT INTO datasets (file_id, name, full_path, parent_path, shape, dtype, compression) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				fileID, base, n.Path, parent, string(shape), string(n.Meta.DType), compression); err != nil {
				return err
			}
		}
		for attrName, attrValue := range n.Attrs {
			encoded, err := json.Marshal(attrValue)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(
				`INSERT INTO attributes (file_id, parent_path, name, value) VALUES (?, ?, ?, ?)`,
				fileID, n.Path, attrName, string(encoded)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to index container: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return fileID, nil
}

// Files lists registered files, newest first.
func (c *Catalog) Files() ([]FileRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query(`SELECT id, name, path, created_at FROM files ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var f FileRecord
		var createdAt string
		if err := rows.Scan(&f.ID, &f.Name, &f.Path, &createdAt); err != nil {
			return nil, err
		}
		f.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

// FileByName finds one registered file. Returns sql.ErrNoRows when absent.
func (c *Catalog) FileByName(name string) (*FileRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanFile(c.db.QueryRow(`SELECT id, name, path, created_at FROM files WHERE name = ?`, name))
}

// FileByID finds one registered file by id.
func (c *Catalog) FileByID(id int64) (*FileRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanFile(c.db.QueryRow(`SELECT id, name, path, created_at FROM files WHERE id = ?`, id))
}

func (c *Catalog) scanFile(row *sql.Row) (*FileRecord, error) {
	var f FileRecord
	var createdAt string
	if err := row.Scan(&f.ID, &f.Name, &f.Path, &createdAt); err != nil {
		return nil, err
	}
	f.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &f, nil
}

// Datasets lists the datasets of one file in path order.
func (c *Catalog) Datasets(fileID int64) ([]DatasetRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query(
		`SELECT id, file_id, name, full_path, parent_path, shape, dtype, compression FROM datasets WHERE file_id = ? ORDER BY full_path`,
		fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DatasetRecord
	for rows.Next() {
		var d DatasetRecord
		var shape, dtype, compression sql.NullString
		if err := rows.Scan(&d.ID, &d.FileID, &d.Name, &d.FullPath, &d.ParentPath, &shape, &dtype, &compression); err != nil {
			return nil, err
		}
		if shape.Valid {
			json.Unmarshal([]byte(shape.String), &d.Shape)
		}
		d.DType = dtype.String
		d.Compression = compression.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// Groups lists the groups of one file in path order.
func (c *Catalog) Groups(fileID int64) ([]GroupRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query(
		`SELECT id, file_id, name, full_path, parent_path FROM groups WHERE file_id = ? ORDER BY full_path`,
		fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GroupRecord
	for rows.Next() {
		var g GroupRecord
		if err := rows.Scan(&g.ID, &g.FileID, &g.Name, &g.FullPath, &g.ParentPath); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Attributes lists the attributes of one node of one file.
func (c *Catalog) Attributes(fileID int64, parentPath string) ([]AttributeRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query(
		`SELECT file_id, parent_path, name, value FROM attributes WHERE file_id = ? AND parent_path = ? ORDER BY name`,
		fileID, parentPath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AttributeRecord
	for rows.Next() {
		var a AttributeRecord
		var value sql.NullString
		if err := rows.Scan(&a.FileID, &a.ParentPath, &a.Name, &value); err != nil {
			return nil, err
		}
		a.Value = value.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// Remove deletes one file and its indexed hierarchy.
func (c *Catalog) Remove(fileID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, table := range []string{"attributes", "datasets", "groups"} {
		if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE file_id = ?`, table), fileID); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`DELETE FROM files WHERE id = ?`, fileID); err != nil {
		return err
	}
	return tx.Commit()
}

// ResolveVariable maps a variable name to its dataset path and coordinate
// dataset paths. Coordinates are inferred by name, preferring datasets in the
// variable's own group.
func (c *Catalog) ResolveVariable(fileID int64, variable string) (*VariableBinding, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	file, err := c.scanFile(c.db.QueryRow(`SELECT id, name, path, created_at FROM files WHERE id = ?`, fileID))
	if err != nil {
		return nil, fmt.Errorf("file %d not found: %w", fileID, err)
	}

	var dataPath, dataParent string
	err = c.db.QueryRow(
		`SELECT full_path, parent_path FROM datasets WHERE file_id = ? AND (name = ? OR full_path = ?) LIMIT 1`,
		fileID, variable, variable).Scan(&dataPath, &dataParent)
	if err != nil {
		return nil, fmt.Errorf("variable %q not found in file %d: %w", variable, fileID, err)
	}

	latPath, latParent, err := c.inferCoordinate(fileID, dataParent, "%lat%")
	if err != nil {
		return nil, fmt.Errorf("could not infer a latitude dataset for %q: %w", variable, err)
	}
	lonPath, _, err := c.inferCoordinate(fileID, latParent, "%lon%")
	if err != nil {
		return nil, fmt.Errorf("could not infer a longitude dataset in group %q: %w", latParent, err)
	}

	return &VariableBinding{
		FilePath: file.Path,
		DataPath: dataPath,
		LatPath:  latPath,
		LonPath:  lonPath,
		Group:    strings.TrimPrefix(latParent, "/"),
	}, nil
}

// Coordinates infers the latitude and longitude dataset paths of a file by
// name. The longitude must live in the latitude's group.
func (c *Catalog) Coordinates(fileID int64) (latPath, lonPath, group string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	latPath, latParent, err := c.inferCoordinate(fileID, "", "%lat%")
	if err != nil {
		return "", "", "", fmt.Errorf("could not infer a latitude dataset: %w", err)
	}
	lonPath, _, err = c.inferCoordinate(fileID, latParent, "%lon%")
	if err != nil {
		return "", "", "", fmt.Errorf("could not infer a longitude dataset in group %q: %w", latParent, err)
	}
	return latPath, lonPath, strings.TrimPrefix(latParent, "/"), nil
}

// inferCoordinate finds a dataset whose name matches the pattern, trying the
// preferred group first and falling back to the whole file.
func (c *Catalog) inferCoordinate(fileID int64, preferredParent, pattern string) (fullPath, parent string, err error) {
	err = c.db.QueryRow(
		`SELECT full_path, parent_path FROM datasets WHERE file_id = ? AND parent_path = ? AND LOWER(name) LIKE ? ORDER BY name LIMIT 1`,
		fileID, preferredParent, pattern).Scan(&fullPath, &parent)
	if err == nil {
		return fullPath, parent, nil
	}
	if err != sql.ErrNoRows {
		return "", "", err
	}
	err = c.db.QueryRow(
		`SELECT full_path, parent_path FROM datasets WHERE file_id = ? AND LOWER(name) LIKE ? ORDER BY full_path, name LIMIT 1`,
		fileID, pattern).Scan(&fullPath, &parent)
	return fullPath, parent, err
}
