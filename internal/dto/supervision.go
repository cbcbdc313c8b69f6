package dto

import "time"

// SupervisorCheckRequest captures a supervisor spot check of a live session.
type SupervisorCheckRequest struct {
	ScheduleID         string     `json:"scheduleId" validate:"required,max=64"`
	Status             string     `json:"status" validate:"required,oneof=PRESENT ABSENT LATE TECHNICAL_ISSUES"`
	Comments           *string    `json:"comments" validate:"omitempty,max=2000"`
	Platform           *string    `json:"platform" validate:"omitempty,max=64"`
	ConnectionQuality  *string    `json:"connectionQuality" validate:"omitempty,oneof=EXCELLENT GOOD FAIR POOR"`
	StudentCountOnline *int       `json:"studentCountOnline" validate:"omitempty,min=0,max=10000"`
	CheckInTime        *time.Time `json:"checkInTime"`
}
