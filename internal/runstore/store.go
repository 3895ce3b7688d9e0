// Package runstore keeps a SQLite-backed history of notebook runs.
package runstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/nb-runner/internal/domain"
)

// ErrNotFound is returned when a run does not exist
var ErrNotFound = errors.New("run not found")

// Store provides SQLite-backed run persistence
type Store struct {
	db *sql.DB
}

// New opens (and migrates) the database at dbPath
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection keeps :memory: databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun records a run as running
func (s *Store) StartRun(run *domain.Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.Status = domain.RunRunning

	_, err := s.db.Exec(`
		INSERT INTO runs (id, notebook, parameters_path, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		run.ID,
		run.NotebookPath,
		run.ParametersPath,
		string(run.Status),
		run.StartedAt.UTC(),
	)
	return err
}

// FinishRun stores the terminal state of a run
func (s *Store) FinishRun(run *domain.Run) error {
	if run.FinishedAt == nil {
		now := time.Now()
		run.FinishedAt = &now
	}

	res, err := s.db.Exec(`
		UPDATE runs SET
			status = ?,
			artifact_path = ?,
			rendered_path = ?,
			artifact_digest = ?,
			error = ?,
			finished_at = ?
		WHERE id = ?
	`,
		string(run.Status),
		run.ArtifactPath,
		run.RenderedPath,
		run.ArtifactDigest,
		run.Error,
		run.FinishedAt.UTC(),
		run.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

const selectRuns = `SELECT id, notebook, parameters_path, status, artifact_path, rendered_path, artifact_digest, error, started_at, finished_at FROM runs`

// GetRun retrieves a run by ID
func (s *Store) GetRun(id string) (*domain.Run, error) {
	run, err := scanRun(s.db.QueryRow(selectRuns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return run, err
}

// ListOptions specifies filters for listing runs
type ListOptions struct {
	Status domain.RunStatus
	Limit  int
}

// ListRuns returns runs newest first
func (s *Store) ListRuns(opts ListOptions) ([]*domain.Run, error) {
	query := selectRuns + ` WHERE 1=1`
	var args []interface{}

	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	query += " ORDER BY started_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.Run, error) {
	var run domain.Run
	var status string
	var paramsPath, artifact, rendered, digest, errMsg sql.NullString
	var finished sql.NullTime

	err := row.Scan(&run.ID, &run.NotebookPath, &paramsPath, &status, &artifact, &rendered, &digest, &errMsg, &run.StartedAt, &finished)
	if err != nil {
		return nil, err
	}

	run.Status = domain.RunStatus(status)
	run.ParametersPath = paramsPath.String
	run.ArtifactPath = artifact.String
	run.RenderedPath = rendered.String
	run.ArtifactDigest = digest.String
	run.Error = errMsg.String
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return &run, nil
}
