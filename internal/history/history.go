package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"teststability/internal/recorder"
	"teststability/internal/stability"

	_ "modernc.org/sqlite"
)

// Store keeps recorded builds and their per-test records in SQLite.
type Store struct {
	db *sql.DB
}

// RecordError reports a stored test record that could not be decoded.
type RecordError struct {
	Job         string
	BuildNumber int
	TestID      string
	Err         error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %q of %s build %d: %v", e.TestID, e.Job, e.BuildNumber, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// Tree is a stored build rebuilt as linked histories.
type Tree struct {
	Root    *stability.History
	Nodes   map[string]*stability.History
	Records map[string]*TestRecord
	Order   []string // test IDs, parents before children
}

// NewStore opens (or creates) the database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS builds (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job TEXT NOT NULL,
			build_number INTEGER NOT NULL,
			ingest_id TEXT NOT NULL,
			author TEXT,
			commit_message TEXT,
			hidden_tests TEXT NOT NULL DEFAULT '[]',
			recorded_at TEXT NOT NULL,
			UNIQUE(job, build_number)
		)`,
		`CREATE TABLE IF NOT EXISTS records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			build_id INTEGER NOT NULL REFERENCES builds(id),
			test_id TEXT NOT NULL,
			parent_id TEXT,
			name TEXT NOT NULL,
			publish INTEGER NOT NULL DEFAULT 0,
			stack_trace TEXT,
			head TEXT NOT NULL,
			tail TEXT NOT NULL,
			size TEXT NOT NULL,
			data TEXT NOT NULL,
			UNIQUE(build_id, test_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_builds_job_number ON builds(job, build_number DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_records_test ON records(test_id, build_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// SaveBuild stores a build and its test records in one transaction. An
// existing build with the same job and number is replaced.
func (s *Store) SaveBuild(ctx context.Context, rec *BuildRecord) (int64, error) {
	hidden := rec.HiddenTests
	if hidden == nil {
		hidden = []string{}
	}
	hiddenJSON, err := json.Marshal(hidden)
	if err != nil {
		return 0, fmt.Errorf("failed to encode hidden tests: %w", err)
	}

	recordedAt := rec.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := deleteBuild(ctx, tx, rec.Job, rec.BuildNumber); err != nil {
		return 0, err
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO builds
		(job, build_number, ingest_id, author, commit_message, hidden_tests, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.Job,
		rec.BuildNumber,
		rec.IngestID,
		rec.Author,
		rec.CommitMessage,
		string(hiddenJSON),
		recordedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert build record: %w", err)
	}

	buildID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records
		(build_id, test_id, parent_id, name, publish, stack_trace, head, tail, size, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare record insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range rec.Tests {
		var parentID *string
		if !t.IsRoot() {
			parentID = &t.ParentID
		}
		publish := 0
		if t.Publish {
			publish = 1
		}
		if _, err := stmt.ExecContext(ctx,
			buildID,
			t.TestID,
			parentID,
			t.Name,
			publish,
			t.StackTrace,
			t.Head,
			t.Tail,
			t.Size,
			t.Data,
		); err != nil {
			return 0, fmt.Errorf("failed to insert record %q: %w", t.TestID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit build %d: %w", rec.BuildNumber, err)
	}

	rec.ID = buildID
	rec.RecordedAt = recordedAt.UTC().Truncate(time.Second)
	return buildID, nil
}

const buildColumns = `id, job, build_number, ingest_id, author, commit_message, hidden_tests, recorded_at`

// LatestBuild returns the highest-numbered build of job, or nil if the job
// has none.
func (s *Store) LatestBuild(ctx context.Context, job string) (*BuildRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+buildColumns+`
		FROM builds
		WHERE job = ?
		ORDER BY build_number DESC
		LIMIT 1
	`, job)

	rec, err := scanBuildRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest build: %w", err)
	}
	return rec, nil
}

// GetBuild returns one build, or nil if it was never recorded.
func (s *Store) GetBuild(ctx context.Context, job string, number int) (*BuildRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+buildColumns+`
		FROM builds
		WHERE job = ? AND build_number = ?
	`, job, number)

	rec, err := scanBuildRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query build %d: %w", number, err)
	}
	return rec, nil
}

// ListBuilds returns up to limit builds of job, newest first.
func (s *Store) ListBuilds(ctx context.Context, job string, limit int) ([]BuildRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+buildColumns+`
		FROM builds
		WHERE job = ?
		ORDER BY build_number DESC
		LIMIT ?
	`, job, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query builds: %w", err)
	}
	defer rows.Close()

	var builds []BuildRecord
	for rows.Next() {
		rec, err := scanBuildRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan build record: %w", err)
		}
		builds = append(builds, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return builds, nil
}

// LatestBuilds returns the latest build of every job that has one.
func (s *Store) LatestBuilds(ctx context.Context) (map[string]*BuildRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b1.id, b1.job, b1.build_number, b1.ingest_id, b1.author,
		       b1.commit_message, b1.hidden_tests, b1.recorded_at
		FROM builds b1
		INNER JOIN (
			SELECT job, MAX(build_number) AS max_number
			FROM builds
			GROUP BY job
		) b2
		ON b1.job = b2.job AND b1.build_number = b2.max_number
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest builds: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*BuildRecord)
	for rows.Next() {
		rec, err := scanBuildRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan build record: %w", err)
		}
		result[rec.Job] = rec
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return result, nil
}

// JobStatus returns the latest build of job and up to limit recent builds.
func (s *Store) JobStatus(ctx context.Context, job string, limit int) (*JobStatus, error) {
	latest, err := s.LatestBuild(ctx, job)
	if err != nil {
		return nil, err
	}
	recent, err := s.ListBuilds(ctx, job, limit)
	if err != nil {
		return nil, err
	}
	if recent == nil {
		recent = []BuildRecord{}
	}
	return &JobStatus{Job: job, LatestBuild: latest, RecentBuilds: recent}, nil
}

const recordColumns = `r.test_id, r.parent_id, r.name, r.publish, r.stack_trace, r.head, r.tail, r.size, r.data`

// GetRecord returns the stored record of one test node, or nil if the build
// has no such node.
func (s *Store) GetRecord(ctx context.Context, job string, number int, testID string) (*TestRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM records r
		JOIN builds b ON b.id = r.build_id
		WHERE b.job = ? AND b.build_number = ? AND r.test_id = ?
	`, job, number, testID)

	rec, err := scanTestRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query record %q: %w", testID, err)
	}
	return rec, nil
}

// PreviousRecords returns, for every test node of job, its decoded history
// from the most recent build numbered below before. Records that cannot be
// decoded are left out and returned in skipped; the caller starts those
// nodes from an empty history.
func (s *Store) PreviousRecords(ctx context.Context, job string, before int) (prev recorder.PreviousRecords, skipped []*RecordError, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.build_number, `+recordColumns+`
		FROM records r
		JOIN builds b ON b.id = r.build_id
		JOIN (
			SELECT r2.test_id AS test_id, MAX(b2.build_number) AS build_number
			FROM records r2
			JOIN builds b2 ON b2.id = r2.build_id
			WHERE b2.job = ? AND b2.build_number < ?
			GROUP BY r2.test_id
		) latest
		ON latest.test_id = r.test_id AND latest.build_number = b.build_number
		WHERE b.job = ?
	`, job, before, job)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query previous records: %w", err)
	}
	defer rows.Close()

	prev = make(recorder.PreviousRecords)
	for rows.Next() {
		var buildNumber int
		rec, err := scanTestRecord(rows, &buildNumber)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan test record: %w", err)
		}

		h, err := stability.Decode(rec.Record)
		if err != nil {
			skipped = append(skipped, &RecordError{Job: job, BuildNumber: buildNumber, TestID: rec.TestID, Err: err})
			continue
		}
		h.SetStackTrace(rec.StackTrace)
		prev[rec.TestID] = h
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return prev, skipped, nil
}

// LoadTree rebuilds the history tree of one build. It returns nil if the
// build does not exist. Any record that fails to decode fails the load.
func (s *Store) LoadTree(ctx context.Context, job string, number int) (*Tree, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM records r
		JOIN builds b ON b.id = r.build_id
		WHERE b.job = ? AND b.build_number = ?
		ORDER BY r.id ASC
	`, job, number)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	tree := &Tree{
		Nodes:   make(map[string]*stability.History),
		Records: make(map[string]*TestRecord),
	}
	var records []*TestRecord
	for rows.Next() {
		rec, err := scanTestRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan test record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	for _, rec := range records {
		h, err := stability.Decode(rec.Record)
		if err != nil {
			return nil, &RecordError{Job: job, BuildNumber: number, TestID: rec.TestID, Err: err}
		}
		h.SetName(rec.Name)
		h.SetShouldPublish(rec.Publish)
		h.SetStackTrace(rec.StackTrace)

		tree.Nodes[rec.TestID] = h
		tree.Records[rec.TestID] = rec
		tree.Order = append(tree.Order, rec.TestID)

		if rec.IsRoot() {
			tree.Root = h
			continue
		}
		parent, ok := tree.Nodes[rec.ParentID]
		if !ok {
			return nil, fmt.Errorf("record %q references unknown parent %q", rec.TestID, rec.ParentID)
		}
		parent.AddChild(h)
	}

	if tree.Root == nil {
		return nil, fmt.Errorf("build %d of %s has no root record", number, job)
	}

	return tree, nil
}

// DeleteBuild removes a build and its records. It reports whether the build
// existed.
func (s *Store) DeleteBuild(ctx context.Context, job string, number int) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	deleted, err := deleteBuild(ctx, tx, job, number)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit delete: %w", err)
	}
	return deleted, nil
}

func deleteBuild(ctx context.Context, tx *sql.Tx, job string, number int) (bool, error) {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM records
		WHERE build_id IN (SELECT id FROM builds WHERE job = ? AND build_number = ?)
	`, job, number); err != nil {
		return false, fmt.Errorf("failed to delete records of build %d: %w", number, err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM builds WHERE job = ? AND build_number = ?`, job, number)
	if err != nil {
		return false, fmt.Errorf("failed to delete build %d: %w", number, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count deleted builds: %w", err)
	}
	return n > 0, nil
}

// scanner is an interface that both *sql.Row and *sql.Rows implement
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBuildRecord(s scanner) (*BuildRecord, error) {
	var rec BuildRecord
	var author, message sql.NullString
	var hiddenJSON, recordedAtStr string

	err := s.Scan(
		&rec.ID,
		&rec.Job,
		&rec.BuildNumber,
		&rec.IngestID,
		&author,
		&message,
		&hiddenJSON,
		&recordedAtStr,
	)
	if err != nil {
		return nil, err
	}

	rec.Author = author.String
	rec.CommitMessage = message.String

	if err := json.Unmarshal([]byte(hiddenJSON), &rec.HiddenTests); err != nil {
		return nil, fmt.Errorf("failed to parse hidden tests: %w", err)
	}
	if rec.HiddenTests == nil {
		rec.HiddenTests = []string{}
	}

	recordedAt, err := time.Parse(time.RFC3339, recordedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse recorded_at timestamp: %w", err)
	}
	rec.RecordedAt = recordedAt

	return &rec, nil
}

// scanTestRecord scans the record columns, preceded by any extra
// destinations the query selects first.
func scanTestRecord(s scanner, leading ...interface{}) (*TestRecord, error) {
	var rec TestRecord
	var parentID, stackTrace sql.NullString

	dest := append(leading,
		&rec.TestID,
		&parentID,
		&rec.Name,
		&rec.Publish,
		&stackTrace,
		&rec.Head,
		&rec.Tail,
		&rec.Size,
		&rec.Data,
	)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	rec.ParentID = parentID.String
	rec.StackTrace = stackTrace.String
	return &rec, nil
}
