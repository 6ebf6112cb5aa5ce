package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	// Falls back to v4 if v7 is not available (for compatibility)
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	RunID         ID
	ReportID      ID
	SubjectID     ID
	ExperimentKey ID
)

// String conversions for domain IDs
func (id RunID) String() string         { return ID(id).String() }
func (id ReportID) String() string      { return ID(id).String() }
func (id SubjectID) String() string     { return ID(id).String() }
func (id ExperimentKey) String() string { return ID(id).String() }

// ParseSubjectID parses a string into SubjectID
func ParseSubjectID(s string) (SubjectID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("subject ID cannot be empty")
	}
	return SubjectID(s), nil
}

// ParseExperimentKey parses a string into ExperimentKey
func ParseExperimentKey(s string) (ExperimentKey, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("experiment key cannot be empty")
	}
	return ExperimentKey(s), nil
}

// ParseRunID parses a string into RunID
func ParseRunID(s string) (RunID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("run ID cannot be empty")
	}
	return RunID(s), nil
}
