package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRows(t *testing.T) {
	headers := []string{"subject_id", "group", "value", "at"}
	rows := [][]string{
		{"u-1", "control", "0", "2026-03-01T10:00:00Z"},
		{"u-2", "Treatment", "1", ""},
	}

	records, err := ParseRows(headers, rows)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "u-1", records[0].SubjectID.String())
	assert.Equal(t, "control", string(records[0].Group))
	assert.Equal(t, 0.0, records[0].Value)
	assert.Equal(t, 2026, records[0].At.Time().Year())

	assert.Equal(t, "treatment", string(records[1].Group), "group names are lowercased")
	assert.True(t, records[1].At.IsZero(), "missing timestamps stay zero")
}

func TestParseRows_ColumnAliases(t *testing.T) {
	cases := []struct {
		name    string
		headers []string
	}{
		{"canonical", []string{"subject_id", "group", "value"}},
		{"warehouse export", []string{"user_id", "variant", "metric"}},
		{"conversion export", []string{"id", "arm", "converted"}},
		{"uppercase with padding", []string{" SUBJECT ", "GROUP_NAME", "Outcome"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			records, err := ParseRows(tc.headers, [][]string{{"u-9", "control", "1"}})
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, "u-9", records[0].SubjectID.String())
			assert.Equal(t, 1.0, records[0].Value)
		})
	}
}

func TestParseRows_OptionalColumns(t *testing.T) {
	// Group-less datasets flow through bucketing downstream.
	records, err := ParseRows([]string{"subject_id", "value"}, [][]string{{"u-1", "2.5"}})
	require.NoError(t, err)
	assert.Empty(t, string(records[0].Group))
	assert.Equal(t, 2.5, records[0].Value)
}

func TestParseRows_Errors(t *testing.T) {
	_, err := ParseRows([]string{"group", "value"}, nil)
	require.Error(t, err, "missing subject column")
	assert.Contains(t, err.Error(), "subject")

	_, err = ParseRows([]string{"subject_id", "group"}, nil)
	require.Error(t, err, "missing value column")

	_, err = ParseRows([]string{"subject_id", "value"}, [][]string{{"u-1", "not-a-number"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2", "errors name the spreadsheet row")

	_, err = ParseRows([]string{"subject_id", "value", "at"}, [][]string{{"u-1", "1", "March 1st"}})
	require.Error(t, err, "non RFC 3339 timestamp")

	_, err = ParseRows([]string{"subject_id", "value"}, [][]string{{"", "1"}})
	require.Error(t, err, "empty subject id")
}

func TestParseRows_ShortRowsReadAsEmptyCells(t *testing.T) {
	_, err := ParseRows([]string{"subject_id", "value"}, [][]string{{"u-1"}})
	require.Error(t, err, "missing value cell is not numeric")
}
