package domain

import (
	"time"
)

// Enrollment links a local user to a local course. Its existence grants course access.
type Enrollment struct {
	UserID    string
	CourseID  string
	Status    Status
	Progress  float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)
