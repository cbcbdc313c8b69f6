package models

import (
	"fmt"
	"time"
)

// SessionType describes how a scheduled course session is delivered.
type SessionType string

const (
	SessionTypeLecture SessionType = "LECTURE"
	SessionTypeVirtual SessionType = "VIRTUAL"
	SessionTypeHybrid  SessionType = "HYBRID"
)

// Valid reports whether the session type is known.
func (t SessionType) Valid() bool {
	switch t {
	case SessionTypeLecture, SessionTypeVirtual, SessionTypeHybrid:
		return true
	}
	return false
}

// CourseSchedule is a recurring weekly slot bound to a lecturer, a class group and an optional classroom.
type CourseSchedule struct {
	ID           string      `db:"id" json:"id"`
	CourseID     string      `db:"course_id" json:"course_id"`
	ClassGroupID string      `db:"class_group_id" json:"class_group_id"`
	LecturerID   string      `db:"lecturer_id" json:"lecturer_id"`
	ClassroomID  *string     `db:"classroom_id" json:"classroom_id,omitempty"`
	DayOfWeek    int         `db:"day_of_week" json:"day_of_week"`
	StartTime    string      `db:"start_time" json:"start_time"`
	EndTime      string      `db:"end_time" json:"end_time"`
	SessionType  SessionType `db:"session_type" json:"session_type"`
	MeetingLink  *string     `db:"meeting_link" json:"meeting_link,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}

// IsVirtual reports whether the schedule has no classroom. This, not the
// client-declared method, decides onsite versus virtual attendance.
func (s CourseSchedule) IsVirtual() bool {
	return s.ClassroomID == nil
}

// Slot returns the schedule's parsed time range.
func (s CourseSchedule) Slot() (TimeRange, error) {
	return NewTimeRange(s.StartTime, s.EndTime)
}

// DuplicateKey is the natural key used to detect duplicate schedule rows.
func (s CourseSchedule) DuplicateKey() string {
	return fmt.Sprintf("%s|%s|%d|%s", s.CourseID, s.ClassGroupID, s.DayOfWeek, s.StartTime)
}

// ScheduleFilter describes query params for listing schedules.
type ScheduleFilter struct {
	LecturerID   string
	ClassGroupID string
	ClassroomID  string
	DayOfWeek    *int
	Page         int
	PageSize     int
}

// ConflictDimension names the contended resource of a scheduling conflict.
type ConflictDimension string

const (
	ConflictLecturer   ConflictDimension = "LECTURER"
	ConflictClassGroup ConflictDimension = "CLASS_GROUP"
	ConflictClassroom  ConflictDimension = "CLASSROOM"
)

// ScheduleConflict identifies the colliding schedule and the contended resource.
type ScheduleConflict struct {
	Dimension             ConflictDimension `json:"dimension"`
	ResourceID            string            `json:"resource_id"`
	ConflictingScheduleID string            `json:"conflicting_schedule_id"`
	DayOfWeek             int               `json:"day_of_week"`
	StartTime             string            `json:"start_time"`
	EndTime               string            `json:"end_time"`
}

// ScheduleConflictError is returned when a schedule collides with an existing one.
type ScheduleConflictError struct {
	Conflict ScheduleConflict `json:"conflict"`
}

// Error implements the error interface for conflict errors.
func (e *ScheduleConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s %s already booked from %s to %s by schedule %s",
		e.Conflict.Dimension, e.Conflict.ResourceID, e.Conflict.StartTime, e.Conflict.EndTime, e.Conflict.ConflictingScheduleID)
}
