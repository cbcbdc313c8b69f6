package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AttendanceMethod records whether a session was attended on site or virtually.
type AttendanceMethod string

const (
	AttendanceMethodOnsite  AttendanceMethod = "onsite"
	AttendanceMethodVirtual AttendanceMethod = "virtual"
)

// StudentPresence is one entry of a session's presence list.
type StudentPresence struct {
	StudentID string `json:"studentId"`
	IsPresent bool   `json:"isPresent"`
}

// StudentAttendanceData is the ordered presence list stored as JSONB. A nil list is stored as NULL.
type StudentAttendanceData []StudentPresence

// Value implements driver.Valuer.
func (d StudentAttendanceData) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	raw, err := json.Marshal([]StudentPresence(d))
	if err != nil {
		return nil, fmt.Errorf("encode student attendance data: %w", err)
	}
	return raw, nil
}

// Scan implements sql.Scanner.
func (d *StudentAttendanceData) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*d = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan student attendance data: unsupported type %T", src)
	}
	var list []StudentPresence
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("decode student attendance data: %w", err)
	}
	*d = list
	return nil
}

// AttendanceRecord is the evidentiary record that a lecturer ran a session occurrence.
type AttendanceRecord struct {
	ID                    string                `db:"id" json:"id"`
	LecturerID            string                `db:"lecturer_id" json:"lecturer_id"`
	CourseScheduleID      string                `db:"course_schedule_id" json:"course_schedule_id"`
	Timestamp             time.Time             `db:"timestamp" json:"timestamp"`
	Method                AttendanceMethod      `db:"method" json:"method"`
	GPSLatitude           *float64              `db:"gps_latitude" json:"gps_latitude,omitempty"`
	GPSLongitude          *float64              `db:"gps_longitude" json:"gps_longitude,omitempty"`
	DistanceMeters        *float64              `db:"distance_meters" json:"distance_meters,omitempty"`
	LocationVerified      bool                  `db:"location_verified" json:"location_verified"`
	StudentAttendanceData StudentAttendanceData `db:"student_attendance_data" json:"student_attendance_data,omitempty"`
	Remarks               *string               `db:"remarks" json:"remarks,omitempty"`
	SupervisorVerified    *bool                 `db:"supervisor_verified" json:"supervisor_verified,omitempty"`
	SupervisorComment     *string               `db:"supervisor_comment" json:"supervisor_comment,omitempty"`
	SupervisorVerifiedBy  *string               `db:"supervisor_verified_by" json:"supervisor_verified_by,omitempty"`
	SupervisorVerifiedAt  *time.Time            `db:"supervisor_verified_at" json:"supervisor_verified_at,omitempty"`
	CreatedAt             time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time             `db:"updated_at" json:"updated_at"`
}

// AttendanceFilter narrows attendance listings for a schedule.
type AttendanceFilter struct {
	CourseScheduleID string
	From             *time.Time
	To               *time.Time
	Limit            int
}

// SubmissionResult is the outcome of an attendance submission.
type SubmissionResult struct {
	RecordID         string           `json:"record_id"`
	Created          bool             `json:"created"`
	DuplicateOf      *string          `json:"duplicate_of,omitempty"`
	Method           AttendanceMethod `json:"method"`
	LocationVerified bool             `json:"location_verified"`
	DistanceMeters   *float64         `json:"distance_meters,omitempty"`
	Timestamp        time.Time        `json:"timestamp"`
}
