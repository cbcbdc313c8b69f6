package models

// UserRole is the role carried by an authenticated caller.
type UserRole string

const (
	RoleAdmin       UserRole = "ADMIN"
	RoleCoordinator UserRole = "COORDINATOR"
	RoleSupervisor  UserRole = "SUPERVISOR"
	RoleLecturer    UserRole = "LECTURER"
	RoleSystem      UserRole = "SYSTEM"
)

// Capability is a single permission checked by an operation.
type Capability string

const (
	CanCreateSchedule   Capability = "CanCreateSchedule"
	CanUpdateSchedule   Capability = "CanUpdateSchedule"
	CanRecordAttendance Capability = "CanRecordAttendance"
	CanSuperviseSession Capability = "CanSuperviseSession"
	CanVerifyAudit      Capability = "CanVerifyAudit"
	CanExportAudit      Capability = "CanExportAudit"
	CanCleanupAudit     Capability = "CanCleanupAudit"
	CanRunMaintenance   Capability = "CanRunMaintenance"
	CanViewSchedule     Capability = "CanViewSchedule"

	// CanViewAttendance alone limits reads to the caller's own sessions.
	CanViewAttendance    Capability = "CanViewAttendance"
	CanViewAnyAttendance Capability = "CanViewAnyAttendance"
)

var roleCapabilities = map[UserRole][]Capability{
	RoleAdmin: {
		CanCreateSchedule, CanUpdateSchedule, CanSuperviseSession,
		CanVerifyAudit, CanExportAudit, CanCleanupAudit, CanRunMaintenance,
		CanViewSchedule, CanViewAttendance, CanViewAnyAttendance,
	},
	RoleCoordinator: {
		CanCreateSchedule, CanUpdateSchedule, CanVerifyAudit, CanExportAudit,
		CanViewSchedule, CanViewAttendance, CanViewAnyAttendance,
	},
	RoleSupervisor: {CanSuperviseSession, CanViewSchedule, CanViewAttendance, CanViewAnyAttendance},
	RoleLecturer:   {CanRecordAttendance, CanViewSchedule, CanViewAttendance},
	RoleSystem:      {CanRunMaintenance, CanCleanupAudit},
}

// SystemUserID identifies entries written by maintenance processes.
const SystemUserID = "system"

// Caller is an authenticated identity with its capability set resolved once from the role.
type Caller struct {
	UserID string
	Role   UserRole
	caps   map[Capability]struct{}
}

// NewCaller resolves the capability set for role.
func NewCaller(userID string, role UserRole) Caller {
	caps := make(map[Capability]struct{})
	for _, c := range roleCapabilities[role] {
		caps[c] = struct{}{}
	}
	return Caller{UserID: userID, Role: role, caps: caps}
}

// SystemCaller is the identity used by out-of-band maintenance.
func SystemCaller() Caller {
	return NewCaller(SystemUserID, RoleSystem)
}

// Can reports whether the caller holds capability c.
func (c Caller) Can(capability Capability) bool {
	_, ok := c.caps[capability]
	return ok
}

// CanViewSessionOf reports whether the caller may read attendance data of a
// session taught by lecturerID.
func (c Caller) CanViewSessionOf(lecturerID string) bool {
	if c.Can(CanViewAnyAttendance) {
		return true
	}
	return c.Can(CanViewAttendance) && c.UserID != "" && c.UserID == lecturerID
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
