package models

import "time"

// SupervisorStatus is the observed state of a live session.
type SupervisorStatus string

const (
	SupervisorStatusPresent   SupervisorStatus = "PRESENT"
	SupervisorStatusAbsent    SupervisorStatus = "ABSENT"
	SupervisorStatusLate      SupervisorStatus = "LATE"
	SupervisorStatusTechnical SupervisorStatus = "TECHNICAL_ISSUES"
)

// Valid reports whether the status is known.
func (s SupervisorStatus) Valid() bool {
	switch s {
	case SupervisorStatusPresent, SupervisorStatusAbsent, SupervisorStatusLate, SupervisorStatusTechnical:
		return true
	}
	return false
}

// SupervisorLog is a supervisor's point-in-time check of a session.
type SupervisorLog struct {
	ID                 string           `db:"id" json:"id"`
	SupervisorID       string           `db:"supervisor_id" json:"supervisor_id"`
	CourseScheduleID   string           `db:"course_schedule_id" json:"course_schedule_id"`
	Status             SupervisorStatus `db:"status" json:"status"`
	Comments           *string          `db:"comments" json:"comments,omitempty"`
	Platform           *string          `db:"platform" json:"platform,omitempty"`
	ConnectionQuality  *string          `db:"connection_quality" json:"connection_quality,omitempty"`
	StudentCountOnline *int             `db:"student_count_online" json:"student_count_online,omitempty"`
	CheckInTime        time.Time        `db:"check_in_time" json:"check_in_time"`
	CreatedAt          time.Time        `db:"created_at" json:"created_at"`
}

// VerificationMode picks which of a day's supervisor logs is surfaced.
type VerificationMode string

const (
	VerificationFirst  VerificationMode = "first"
	VerificationLatest VerificationMode = "latest"
)

// VirtualSession is a dated occurrence of a virtual or hybrid schedule.
type VirtualSession struct {
	ID               string    `db:"id" json:"id"`
	CourseScheduleID string    `db:"course_schedule_id" json:"course_schedule_id"`
	SessionDate      time.Time `db:"session_date" json:"session_date"`
	MeetingLink      *string   `db:"meeting_link" json:"meeting_link,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// SessionVerification is the supervisor check surfaced for one day of a schedule.
type SessionVerification struct {
	ScheduleID  string           `json:"schedule_id"`
	Date        string           `json:"date"`
	Mode        VerificationMode `json:"mode"`
	TotalChecks int              `json:"total_checks"`
	Check       *SupervisorLog   `json:"check,omitempty"`
}
