package models

import "strings"

// FileStatus is the lifecycle state of a FileRecord.
type FileStatus string

const (
	StatusPending    FileStatus = "pending"
	StatusProcessing FileStatus = "processing"
	StatusCompleted  FileStatus = "completed"
	StatusFailed     FileStatus = "failed"
)

var allStatuses = []FileStatus{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

// AllStatuses returns the known statuses in lifecycle order.
func AllStatuses() []FileStatus {
	cp := make([]FileStatus, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known FileStatus.
func ParseStatus(value string) (FileStatus, bool) {
	normalized := FileStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range allStatuses {
		if s == normalized {
			return s, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transitions are allowed.
func (s FileStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether from -> to is an allowed edge of the
// record state machine. processing -> processing is a reclaim after an
// expired lease.
func CanTransition(from, to FileStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusProcessing || to == StatusPending || to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// TaskTypeReconcile is the asynq task type of the periodic reconciliation sweep.
const TaskTypeReconcile = "maintenance:reconcile"

// Notification event types.
const (
	EventFileCompleted = "file.completed"
	EventFileFailed    = "file.failed"
)
