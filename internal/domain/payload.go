package domain

import (
	"encoding/json"
	"strconv"
)

const (
	MinID int64 = 1
	MaxID int64 = 1_000_000_007

	// MaxIDsPerIngestion bounds a single submission.
	MaxIDsPerIngestion = 10_000
)

// IngestPayload is the wire shape of a submission.
type IngestPayload struct {
	IDs      []json.Number `json:"ids"`
	Priority string        `json:"priority"`
}

// Submission is a validated IngestPayload.
type Submission struct {
	IDs      []int64
	Priority Priority
}

// Validate checks the payload and converts it into a Submission.
func (p *IngestPayload) Validate() (Submission, error) {
	if len(p.IDs) == 0 {
		return Submission{}, &ValidationError{Field: "ids", Message: "must not be empty"}
	}
	if len(p.IDs) > MaxIDsPerIngestion {
		return Submission{}, &ValidationError{
			Field:   "ids",
			Message: "must contain at most " + strconv.Itoa(MaxIDsPerIngestion) + " values",
		}
	}

	prio, err := ParsePriority(p.Priority)
	if err != nil {
		return Submission{}, &ValidationError{Field: "priority", Message: err.Error()}
	}

	ids := make([]int64, 0, len(p.IDs))
	for i, raw := range p.IDs {
		// json.Number keeps "1.5" and "1e3" distinguishable from integers.
		n, err := strconv.ParseInt(raw.String(), 10, 64)
		if err != nil {
			return Submission{}, &ValidationError{
				Field:   "ids[" + strconv.Itoa(i) + "]",
				Message: "must be an integer",
			}
		}
		if n < MinID || n > MaxID {
			return Submission{}, &ValidationError{
				Field:   "ids[" + strconv.Itoa(i) + "]",
				Message: "must be between 1 and 1000000007",
			}
		}
		ids = append(ids, n)
	}

	return Submission{IDs: ids, Priority: prio}, nil
}
