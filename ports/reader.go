package ports

import (
	"context"

	"abstat/domain/experiment"
)

// DatasetReaderPort provides tabular experiment records from an external
// source (file upload, spreadsheet, warehouse table). Parsing concerns stay
// behind this boundary; the engine only ever sees Observations.
type DatasetReaderPort interface {
	// ReadObservations loads all records for one experiment dataset.
	ReadObservations(ctx context.Context) ([]experiment.Observation, error)
}

// BucketerPort assigns a subject to exactly one group. Implementations must
// be pure functions of their inputs so assignment is reproducible.
type BucketerPort interface {
	AssignSubject(subjectID string) (experiment.GroupAssignment, error)
}
