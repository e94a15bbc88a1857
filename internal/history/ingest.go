package history

import (
	"context"
	"fmt"

	"teststability/internal/recorder"

	"github.com/jstemmer/go-junit-report/v2/junit"
)

// IngestResult is the outcome of recording and saving one build.
type IngestResult struct {
	Data  *recorder.BuildData
	Build *BuildRecord

	// Skipped lists earlier records that could not be decoded. The nodes
	// they belong to were recorded from an empty history.
	Skipped []*RecordError
}

// Ingest records build from suites on top of the job's stored history and
// saves the result. Callers serialize ingestion per job.
func (s *Store) Ingest(ctx context.Context, rec *recorder.Recorder, build recorder.Build, suites *junit.Testsuites) (*IngestResult, error) {
	prev, skipped, err := s.PreviousRecords(ctx, build.Job, build.Number)
	if err != nil {
		return nil, err
	}

	data, err := rec.Record(ctx, build, suites, prev)
	if err != nil {
		return nil, fmt.Errorf("failed to record build %d: %w", build.Number, err)
	}

	record := NewBuildRecord(data)
	if _, err := s.SaveBuild(ctx, record); err != nil {
		return nil, err
	}

	return &IngestResult{Data: data, Build: record, Skipped: skipped}, nil
}
