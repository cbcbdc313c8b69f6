package dto

// CreateScheduleRequest captures a new weekly course slot.
type CreateScheduleRequest struct {
	CourseID     string  `json:"courseId" validate:"required,max=64"`
	ClassGroupID string  `json:"classGroupId" validate:"required,max=64"`
	LecturerID   string  `json:"lecturerId" validate:"required,max=64"`
	ClassroomID  *string `json:"classroomId" validate:"omitempty,min=1,max=64"`
	DayOfWeek    *int    `json:"dayOfWeek" validate:"required,min=0,max=6"`
	StartTime    string  `json:"startTime" validate:"required,clock"`
	EndTime      string  `json:"endTime" validate:"required,clock"`
	SessionType  string  `json:"sessionType" validate:"required,oneof=LECTURE VIRTUAL HYBRID"`
	MeetingLink  *string `json:"meetingLink" validate:"omitempty,url,max=512"`
}

// UpdateScheduleLocationRequest adjusts the only mutable schedule fields.
type UpdateScheduleLocationRequest struct {
	MeetingLink    *string `json:"meetingLink" validate:"omitempty,url,max=512"`
	ClassroomID    *string `json:"classroomId" validate:"omitempty,min=1,max=64"`
	ClearClassroom bool    `json:"clearClassroom"`
}
