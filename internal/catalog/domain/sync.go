package domain

import "time"

// SyncKind names what a sync run reconciled.
type SyncKind string

const (
	SyncKindCategories SyncKind = "categories"
	SyncKindCourses    SyncKind = "courses"
)

// ItemFailure is one source item that could not be reconciled. The rest of the run is unaffected.
type ItemFailure struct {
	ExternalID int64
	Name       string
	Reason     string
}

// SlugCollision records a derived slug that was already owned by another item and the suffixed
// slug assigned instead.
type SlugCollision struct {
	ExternalID    int64
	Base          string
	Assigned      string
	ConflictsWith int64
}

// SyncResult summarizes one reconciliation pass.
type SyncResult struct {
	Kind       SyncKind
	Total      int
	Created    int
	Updated    int
	Unchanged  int
	Failed     []ItemFailure
	Collisions []SlugCollision
	StartedAt  time.Time
	FinishedAt time.Time
}

// Written is the number of rows inserted or updated.
func (r *SyncResult) Written() int {
	if r == nil {
		return 0
	}
	return r.Created + r.Updated
}

// Duration is the wall time of the run.
func (r *SyncResult) Duration() time.Duration {
	if r == nil || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// FullSyncResult holds the category pass and, when it ran, the course pass.
type FullSyncResult struct {
	Categories *SyncResult
	Courses    *SyncResult
}
