package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-attendance-api/internal/dto"
	"github.com/noah-isme/sma-attendance-api/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-api/pkg/errors"
)

var coordinator = models.NewCaller("coord-1", models.RoleCoordinator)

func strPtr(v string) *string { return &v }

func intPtr(v int) *int { return &v }

func newTestScheduleService(t *testing.T, existing ...models.CourseSchedule) (*ScheduleService, *memoryScheduleStore, *recordingAuditLogger) {
	t.Helper()
	store := newMemoryScheduleStore(existing...)
	audit := &recordingAuditLogger{}
	locator := stubClassroomLocator{locations: map[string]models.ClassroomLocation{
		"room-1": {ClassroomID: "room-1", BuildingID: "b-1"},
		"room-2": {ClassroomID: "room-2", BuildingID: "b-1"},
	}}
	svc := NewScheduleService(store, locator, audit, NewMetricsService(), nil, nil)
	return svc, store, audit
}

func lectureRequest(lecturer, group, room, start, end string) dto.CreateScheduleRequest {
	req := dto.CreateScheduleRequest{
		CourseID:     "course-1",
		ClassGroupID: group,
		LecturerID:   lecturer,
		DayOfWeek:    intPtr(1),
		StartTime:    start,
		EndTime:      end,
		SessionType:  string(models.SessionTypeLecture),
	}
	if room != "" {
		req.ClassroomID = strPtr(room)
	}
	return req
}

func existingSchedule(id, lecturer, group string, room *string, start, end string) models.CourseSchedule {
	return models.CourseSchedule{
		ID: id, CourseID: "course-0", ClassGroupID: group, LecturerID: lecturer, ClassroomID: room,
		DayOfWeek: 1, StartTime: start, EndTime: end, SessionType: models.SessionTypeLecture,
	}
}

func conflictOf(t *testing.T, err error) models.ScheduleConflict {
	t.Helper()
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrScheduleConflict.Code, appErr.Code)
	conflict, ok := appErr.Details.(models.ScheduleConflict)
	require.True(t, ok, "details should carry the conflict")
	return conflict
}

func TestCreateScheduleTouchingSlotsDoNotConflict(t *testing.T) {
	svc, store, audit := newTestScheduleService(t,
		existingSchedule("s-1", "lect-1", "group-1", strPtr("room-1"), "08:00", "10:00"))

	created, err := svc.CreateSchedule(context.Background(), coordinator, lectureRequest("lect-1", "group-1", "room-1", "10:00", "12:00"))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 2, store.count())
	assert.Equal(t, []string{models.AuditActionScheduleCreated}, audit.actions())
}

func TestCreateScheduleOneMinuteOverlapConflicts(t *testing.T) {
	svc, store, _ := newTestScheduleService(t,
		existingSchedule("s-1", "lect-1", "group-9", nil, "09:00", "10:01"))

	_, err := svc.CreateSchedule(context.Background(), coordinator, lectureRequest("lect-1", "group-1", "room-1", "10:00", "11:00"))
	conflict := conflictOf(t, err)
	assert.Equal(t, models.ConflictLecturer, conflict.Dimension)
	assert.Equal(t, "s-1", conflict.ConflictingScheduleID)
	assert.Equal(t, 1, store.count())
}

func TestCreateScheduleReportsLecturerBeforeGroupBeforeRoom(t *testing.T) {
	svc, _, _ := newTestScheduleService(t,
		existingSchedule("room-holder", "lect-8", "group-8", strPtr("room-1"), "09:00", "10:00"),
		existingSchedule("group-holder", "lect-9", "group-1", nil, "09:00", "10:00"),
	)

	_, err := svc.CreateSchedule(context.Background(), coordinator, lectureRequest("lect-1", "group-1", "room-1", "09:30", "10:30"))
	assert.Equal(t, models.ConflictClassGroup, conflictOf(t, err).Dimension)

	_, err = svc.CreateSchedule(context.Background(), coordinator, lectureRequest("lect-1", "group-2", "room-1", "09:30", "10:30"))
	assert.Equal(t, models.ConflictClassroom, conflictOf(t, err).Dimension)
}

func TestCreateVirtualScheduleSkipsClassroomCheck(t *testing.T) {
	svc, _, _ := newTestScheduleService(t,
		existingSchedule("s-1", "lect-8", "group-8", strPtr("room-1"), "09:00", "10:00"))

	req := lectureRequest("lect-1", "group-1", "", "09:00", "10:00")
	req.SessionType = string(models.SessionTypeVirtual)
	req.MeetingLink = strPtr("https://meet.example.com/abc")
	created, err := svc.CreateSchedule(context.Background(), coordinator, req)
	require.NoError(t, err)
	assert.True(t, created.IsVirtual())
}

func TestCreateScheduleValidation(t *testing.T) {
	svc, _, _ := newTestScheduleService(t)
	ctx := context.Background()

	cases := map[string]dto.CreateScheduleRequest{
		"end before start": lectureRequest("lect-1", "group-1", "room-1", "10:00", "09:00"),
		"bad clock":        lectureRequest("lect-1", "group-1", "room-1", "25:00", "26:00"),
		"lecture no room":  lectureRequest("lect-1", "group-1", "", "09:00", "10:00"),
	}
	virtualWithRoom := lectureRequest("lect-1", "group-1", "room-1", "09:00", "10:00")
	virtualWithRoom.SessionType = string(models.SessionTypeVirtual)
	cases["virtual with room"] = virtualWithRoom
	badDay := lectureRequest("lect-1", "group-1", "room-1", "09:00", "10:00")
	badDay.DayOfWeek = intPtr(7)
	cases["day out of range"] = badDay

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateSchedule(ctx, coordinator, req)
			require.Error(t, err)
			assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
		})
	}

	_, err := svc.CreateSchedule(ctx, coordinator, lectureRequest("lect-1", "group-1", "room-404", "09:00", "10:00"))
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.CreateSchedule(ctx, models.NewCaller("l-1", models.RoleLecturer), lectureRequest("lect-1", "group-1", "room-1", "09:00", "10:00"))
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestCreateScheduleConcurrentOverlapsAdmitOne(t *testing.T) {
	svc, store, _ := newTestScheduleService(t)
	const writers = 20

	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes, conflicts int
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := lectureRequest(fmt.Sprintf("lect-%d", i), fmt.Sprintf("group-%d", i), "room-1", "09:00", "10:00")
			_, err := svc.CreateSchedule(context.Background(), coordinator, req)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if appErrors.FromError(err).Code == appErrors.ErrScheduleConflict.Code {
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, writers-1, conflicts)
	assert.Equal(t, 1, store.count())
}

func TestCreateScheduleLocksEveryBookedResource(t *testing.T) {
	svc, store, _ := newTestScheduleService(t,
		existingSchedule("s-1", "lect-1", "group-1", nil, "13:00", "14:00"))
	ctx := context.Background()

	_, err := svc.CreateSchedule(ctx, coordinator, lectureRequest("lect-1", "group-1", "room-1", "09:00", "10:00"))
	require.NoError(t, err)
	_, err = svc.UpdateScheduleLocation(ctx, coordinator, "s-1", dto.UpdateScheduleLocationRequest{ClassroomID: strPtr("room-2")})
	require.NoError(t, err)

	locked := store.lockedKeys()
	require.Len(t, locked, 2)
	assert.Equal(t, []string{"group:group-1", "lecturer:lect-1", "room:room-1"}, locked[0])
	assert.Contains(t, locked[1], "room:room-2")
}

func TestCreateScheduleDisjointResourcesAllSucceed(t *testing.T) {
	svc, store, _ := newTestScheduleService(t)
	const writers = 10

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := lectureRequest(fmt.Sprintf("lect-%d", i), fmt.Sprintf("group-%d", i), "", "09:00", "10:00")
			req.SessionType = string(models.SessionTypeHybrid)
			_, errs[i] = svc.CreateSchedule(context.Background(), coordinator, req)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, writers, store.count())
}

func TestCreateScheduleMapsUniqueViolation(t *testing.T) {
	svc, store, _ := newTestScheduleService(t)
	store.insertErr = &pq.Error{Code: "23505"}

	_, err := svc.CreateSchedule(context.Background(), coordinator, lectureRequest("lect-1", "group-1", "room-1", "09:00", "10:00"))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrScheduleConflict.Code, appErr.Code)
	assert.Equal(t, appErrors.ErrScheduleConflict.Status, appErr.Status)
}

func TestCreateScheduleAuditFailureDoesNotFailWrite(t *testing.T) {
	svc, store, audit := newTestScheduleService(t)
	audit.err = fmt.Errorf("ledger down")

	_, err := svc.CreateSchedule(context.Background(), coordinator, lectureRequest("lect-1", "group-1", "room-1", "09:00", "10:00"))
	require.NoError(t, err)
	assert.Equal(t, 1, store.count())
}

func TestUpdateScheduleLocationExcludesSelf(t *testing.T) {
	svc, _, audit := newTestScheduleService(t,
		existingSchedule("s-1", "lect-1", "group-1", strPtr("room-1"), "09:00", "10:00"),
		existingSchedule("s-2", "lect-2", "group-2", strPtr("room-2"), "09:30", "10:30"),
	)
	ctx := context.Background()

	updated, err := svc.UpdateScheduleLocation(ctx, coordinator, "s-1", dto.UpdateScheduleLocationRequest{MeetingLink: strPtr("https://meet.example.com/x")})
	require.NoError(t, err)
	assert.Equal(t, "room-1", *updated.ClassroomID)

	_, err = svc.UpdateScheduleLocation(ctx, coordinator, "s-1", dto.UpdateScheduleLocationRequest{ClassroomID: strPtr("room-2")})
	conflict := conflictOf(t, err)
	assert.Equal(t, models.ConflictClassroom, conflict.Dimension)
	assert.Equal(t, "s-2", conflict.ConflictingScheduleID)

	assert.Equal(t, []string{models.AuditActionScheduleUpdated}, audit.actions())
}

func TestUpdateScheduleLocationRules(t *testing.T) {
	hybrid := existingSchedule("s-1", "lect-1", "group-1", strPtr("room-1"), "09:00", "10:00")
	hybrid.SessionType = models.SessionTypeHybrid
	svc, _, _ := newTestScheduleService(t,
		hybrid,
		existingSchedule("s-2", "lect-2", "group-2", strPtr("room-2"), "11:00", "12:00"),
	)
	ctx := context.Background()

	updated, err := svc.UpdateScheduleLocation(ctx, coordinator, "s-1", dto.UpdateScheduleLocationRequest{ClearClassroom: true})
	require.NoError(t, err)
	assert.True(t, updated.IsVirtual())

	_, err = svc.UpdateScheduleLocation(ctx, coordinator, "s-2", dto.UpdateScheduleLocationRequest{ClearClassroom: true})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.UpdateScheduleLocation(ctx, coordinator, "missing", dto.UpdateScheduleLocationRequest{ClearClassroom: true})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.UpdateScheduleLocation(ctx, coordinator, "s-1", dto.UpdateScheduleLocationRequest{})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestListSchedulesDefaults(t *testing.T) {
	svc, _, _ := newTestScheduleService(t,
		existingSchedule("s-1", "lect-1", "group-1", nil, "09:00", "10:00"))

	items, page, err := svc.ListSchedules(context.Background(), coordinator, models.ScheduleFilter{})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.PageSize)
	assert.Equal(t, 1, page.TotalCount)

	_, _, err = svc.ListSchedules(context.Background(), coordinator, models.ScheduleFilter{DayOfWeek: intPtr(9)})
	assert.Error(t, err)
}

func TestScheduleReadsRequireViewCapability(t *testing.T) {
	svc, _, _ := newTestScheduleService(t,
		existingSchedule("s-1", "lect-1", "group-1", nil, "09:00", "10:00"))
	ctx := context.Background()

	schedule, err := svc.GetSchedule(ctx, models.NewCaller("lect-2", models.RoleLecturer), "s-1")
	require.NoError(t, err)
	assert.Equal(t, "s-1", schedule.ID)

	_, err = svc.GetSchedule(ctx, models.SystemCaller(), "s-1")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	_, _, err = svc.ListSchedules(ctx, models.Caller{}, models.ScheduleFilter{})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}
