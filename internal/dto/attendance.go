package dto

import "time"

// StudentPresenceRequest is one presence mark.
type StudentPresenceRequest struct {
	StudentID string `json:"studentId" validate:"required,max=64"`
	IsPresent bool   `json:"isPresent"`
}

// LocationRequest is a submitted GPS fix in decimal degrees.
type LocationRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
}

// SubmitAttendanceRequest carries a live or replayed attendance event.
type SubmitAttendanceRequest struct {
	SessionID string                   `json:"sessionId" validate:"required,max=64"`
	Timestamp *time.Time               `json:"timestamp" validate:"required"`
	Students  []StudentPresenceRequest `json:"students" validate:"omitempty,max=1000,dive"`
	Location  *LocationRequest         `json:"location" validate:"omitempty"`
	Remarks   *string                  `json:"remarks" validate:"omitempty,max=2000"`
}

// VerifyAttendanceRequest records a supervisor's verdict on a record.
type VerifyAttendanceRequest struct {
	Verified *bool   `json:"verified" validate:"required"`
	Comment  *string `json:"comment" validate:"omitempty,max=2000"`
}
