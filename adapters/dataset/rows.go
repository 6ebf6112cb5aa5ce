package dataset

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"abstat/domain/core"
	"abstat/domain/experiment"
)

// Column names accepted in tabular inputs. Matching is case-insensitive and
// the group and timestamp columns are optional.
var (
	subjectColumns   = []string{"subject_id", "subject", "user_id", "id"}
	groupColumns     = []string{"group", "group_name", "variant", "arm"}
	valueColumns     = []string{"value", "metric", "outcome", "converted"}
	timestampColumns = []string{"at", "timestamp", "observed_at"}
)

type columnIndex struct {
	subject   int
	group     int
	value     int
	timestamp int
}

// ParseRows converts a header row plus data rows into observations. Every
// row must carry a subject and a numeric value; group and timestamp are
// optional so unassigned datasets can flow through bucketing later.
func ParseRows(headers []string, rows [][]string) ([]experiment.Observation, error) {
	idx, err := resolveColumns(headers)
	if err != nil {
		return nil, err
	}

	records := make([]experiment.Observation, 0, len(rows))
	for i, row := range rows {
		record, err := parseRow(idx, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		records = append(records, record)
	}
	return records, nil
}

func resolveColumns(headers []string) (columnIndex, error) {
	idx := columnIndex{subject: -1, group: -1, value: -1, timestamp: -1}
	for i, h := range headers {
		name := strings.ToLower(strings.TrimSpace(h))
		switch {
		case idx.subject < 0 && matches(name, subjectColumns):
			idx.subject = i
		case idx.group < 0 && matches(name, groupColumns):
			idx.group = i
		case idx.value < 0 && matches(name, valueColumns):
			idx.value = i
		case idx.timestamp < 0 && matches(name, timestampColumns):
			idx.timestamp = i
		}
	}
	if idx.subject < 0 {
		return idx, fmt.Errorf("no subject column found, expected one of %v", subjectColumns)
	}
	if idx.value < 0 {
		return idx, fmt.Errorf("no value column found, expected one of %v", valueColumns)
	}
	return idx, nil
}

func matches(name string, candidates []string) bool {
	for _, c := range candidates {
		if name == c {
			return true
		}
	}
	return false
}

func parseRow(idx columnIndex, row []string) (experiment.Observation, error) {
	cell := func(i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	subjectID, err := core.ParseSubjectID(cell(idx.subject))
	if err != nil {
		return experiment.Observation{}, err
	}

	value, err := strconv.ParseFloat(cell(idx.value), 64)
	if err != nil {
		return experiment.Observation{}, fmt.Errorf("value %q is not numeric", cell(idx.value))
	}

	record := experiment.Observation{
		SubjectID: subjectID,
		Group:     experiment.Group(strings.ToLower(cell(idx.group))),
		Value:     value,
	}

	if ts := cell(idx.timestamp); ts != "" {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return experiment.Observation{}, fmt.Errorf("timestamp %q is not RFC 3339", ts)
		}
		record.At = core.Timestamp(parsed)
	}
	return record, nil
}
