package domain

// BatchStatus is the lifecycle state of a Batch.
type BatchStatus string

const (
	StatusYetToStart BatchStatus = "yet_to_start"
	StatusTriggered  BatchStatus = "triggered"
	StatusCompleted  BatchStatus = "completed"
	// StatusFailed is terminal and only reachable from triggered.
	StatusFailed BatchStatus = "failed"
)

// IngestionStatus is derived from the statuses of an ingestion's batches.
type IngestionStatus string

const (
	IngestionYetToStart IngestionStatus = "yet_to_start"
	IngestionTriggered  IngestionStatus = "triggered"
	IngestionCompleted  IngestionStatus = "completed"
)

func (s BatchStatus) String() string {
	return string(s)
}

func (s BatchStatus) Valid() bool {
	switch s {
	case StatusYetToStart, StatusTriggered, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

func (s BatchStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// batchTransitions is forward-only; every target has exactly one predecessor.
var batchTransitions = map[BatchStatus][]BatchStatus{
	StatusYetToStart: {StatusTriggered},
	StatusTriggered:  {StatusCompleted, StatusFailed},
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	for _, allowed := range batchTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Predecessor returns the only status a batch may hold right before next.
func Predecessor(next BatchStatus) (BatchStatus, bool) {
	for from, targets := range batchTransitions {
		for _, t := range targets {
			if t == next {
				return from, true
			}
		}
	}
	return "", false
}

// DeriveStatus computes an ingestion's status from its batch statuses.
// A failed batch keeps the ingestion out of completed for good.
func DeriveStatus(statuses []BatchStatus) IngestionStatus {
	if len(statuses) == 0 {
		return IngestionYetToStart
	}

	allCompleted, allPending := true, true
	for _, s := range statuses {
		if s != StatusCompleted {
			allCompleted = false
		}
		if s != StatusYetToStart {
			allPending = false
		}
	}

	switch {
	case allCompleted:
		return IngestionCompleted
	case allPending:
		return IngestionYetToStart
	default:
		return IngestionTriggered
	}
}
