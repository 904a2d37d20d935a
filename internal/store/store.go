// Package store persists the sample databases and run status for one
// problem identity in a SQLite file, so interrupted runs can resume
// from the last checkpoint.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Identity names one problem run: a numeric id plus the problem name.
// It keys the result database on disk.
type Identity struct {
	ID      int
	Problem string
}

func (id Identity) String() string {
	return fmt.Sprintf("%03d-%s", id.ID, id.Problem)
}

// Record is one evaluated sample point.
type Record struct {
	Iteration int
	Inputs    []float64
	Outputs   []float64
}

// Status is the persisted run status, written after every
// state-changing stage and read at startup to decide fresh vs. resume.
type Status struct {
	SurrogateTrained bool         `json:"surrogate_trained"`
	DimIn            int          `json:"dim_in"`
	DimOut           int          `json:"dim_out"`
	NConst           int          `json:"n_const"`
	RangeIn          [][2]float64 `json:"range_in"`
	RangeOut         [][2]float64 `json:"range_out,omitempty"`
}

// Store wraps the per-identity SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates (or reopens) the database for the given identity under
// dataDir and ensures the schema exists.
func Open(dataDir string, id Identity) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}
	path := Path(dataDir, id)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	s := &Store{db: db, path: path}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path for an identity.
func Path(dataDir string, id Identity) string {
	return filepath.Join(dataDir, id.String()+".db")
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS training_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		iteration INTEGER NOT NULL,
		inputs TEXT NOT NULL,
		outputs TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS verification_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		iteration INTEGER NOT NULL,
		inputs TEXT NOT NULL,
		outputs TEXT NOT NULL,
		merged INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS status (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		payload TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS run_config (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		payload TEXT NOT NULL
	)`)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Destroy closes the store and removes the database file.
func (s *Store) Destroy() error {
	if err := s.db.Close(); err != nil {
		return err
	}
	return os.Remove(s.path)
}

func appendRecords(tx *sql.Tx, table string, iteration int, inputs, outputs [][]float64) error {
	if len(inputs) != len(outputs) {
		return fmt.Errorf("store: %d inputs but %d outputs", len(inputs), len(outputs))
	}
	stmt, err := tx.Prepare(`INSERT INTO ` + table + ` (iteration, inputs, outputs) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := range inputs {
		in, err := json.Marshal(inputs[i])
		if err != nil {
			return err
		}
		out, err := json.Marshal(outputs[i])
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(iteration, string(in), string(out)); err != nil {
			return err
		}
	}
	return nil
}

// AppendTraining appends evaluated points to the training database.
func (s *Store) AppendTraining(iteration int, inputs, outputs [][]float64) error {
	return s.inTx(func(tx *sql.Tx) error {
		return appendRecords(tx, "training_samples", iteration, inputs, outputs)
	})
}

// AppendVerification appends evaluated points to the verification
// database.
func (s *Store) AppendVerification(cycle int, inputs, outputs [][]float64) error {
	return s.inTx(func(tx *sql.Tx) error {
		return appendRecords(tx, "verification_samples", cycle, inputs, outputs)
	})
}

func (s *Store) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) records(query string) ([]Record, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var in, out string
		if err := rows.Scan(&rec.Iteration, &in, &out); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(in), &rec.Inputs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(out), &rec.Outputs); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// TrainingRecords returns the training database in insertion order.
func (s *Store) TrainingRecords() ([]Record, error) {
	return s.records(`SELECT iteration, inputs, outputs FROM training_samples ORDER BY id`)
}

// VerificationRecords returns the verification database in insertion
// order, merged records included.
func (s *Store) VerificationRecords() ([]Record, error) {
	return s.records(`SELECT iteration, inputs, outputs FROM verification_samples ORDER BY id`)
}

// UnmergedVerificationCount returns the number of verification records
// that have not been folded into the training database.
func (s *Store) UnmergedVerificationCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM verification_samples WHERE merged = 0`).Scan(&n)
	return n, err
}

// MergeVerification appends all not-yet-merged verification records to
// the training database and tags them merged. Running it again is a
// no-op, so a crash between merge and the next checkpoint cannot
// double-count records.
func (s *Store) MergeVerification() (int, error) {
	merged := 0
	err := s.inTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`INSERT INTO training_samples (iteration, inputs, outputs)
			SELECT iteration, inputs, outputs FROM verification_samples WHERE merged = 0 ORDER BY id`)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		merged = int(n)
		_, err = tx.Exec(`UPDATE verification_samples SET merged = 1 WHERE merged = 0`)
		return err
	})
	return merged, err
}

// SaveStatus writes the status record (single row, replaced wholesale).
func (s *Store) SaveStatus(st *Status) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO status (id, payload) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`, string(payload))
	return err
}

// LoadStatus reads the status record. Returns (nil, nil) when no status
// has been written yet.
func (s *Store) LoadStatus() (*Status, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM status WHERE id = 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st := &Status{}
	if err := json.Unmarshal([]byte(payload), st); err != nil {
		// A corrupt status row is reported as missing; the restart
		// decision treats both the same way.
		return nil, nil
	}
	return st, nil
}

// SaveConfig stores the configuration fingerprint for the restart
// comparison.
func (s *Store) SaveConfig(payload string) error {
	_, err := s.db.Exec(`INSERT INTO run_config (id, payload) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`, payload)
	return err
}

// LoadConfig returns the stored configuration fingerprint, if any.
func (s *Store) LoadConfig() (string, bool, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM run_config WHERE id = 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return payload, true, nil
}
