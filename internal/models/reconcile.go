package models

import "time"

// ScheduleMerge records one duplicate folded into its kept schedule.
type ScheduleMerge struct {
	KeptID               string `json:"kept_id"`
	DuplicateID          string `json:"duplicate_id"`
	AttendanceMoved      int64  `json:"attendance_moved"`
	SupervisorLogsMoved  int64  `json:"supervisor_logs_moved"`
	VirtualSessionsMoved int64  `json:"virtual_sessions_moved"`
}

// ReconcileFailure records a duplicate whose merge rolled back.
type ReconcileFailure struct {
	KeptID      string `json:"kept_id"`
	DuplicateID string `json:"duplicate_id"`
	Error       string `json:"error"`
}

// ReconcileReport summarises a duplicate-schedule reconciliation pass.
type ReconcileReport struct {
	Scanned         int                `json:"scanned"`
	DuplicateGroups int                `json:"duplicate_groups"`
	Merges          []ScheduleMerge    `json:"merges"`
	Failures        []ReconcileFailure `json:"failures,omitempty"`
	StartedAt       time.Time          `json:"started_at"`
	FinishedAt      time.Time          `json:"finished_at"`
}
