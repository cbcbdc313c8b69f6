package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/sma-attendance-api/internal/models"
	"github.com/noah-isme/sma-attendance-api/internal/repository"
)

type memoryAttendanceStore struct {
	lock    sync.Mutex
	mu      sync.Mutex
	records []models.AttendanceRecord
	nextID  int
}

func (m *memoryAttendanceStore) WithSubmissionLock(ctx context.Context, scheduleID, lecturerID string, fn func(store repository.AttendanceSubmissionStore) error) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	return fn(memorySubmissionTx{m})
}

func (m *memoryAttendanceStore) FindByID(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			rec := r
			return &rec, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryAttendanceStore) ListBySchedule(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AttendanceRecord
	for _, r := range m.records {
		if r.CourseScheduleID != filter.CourseScheduleID {
			continue
		}
		if filter.From != nil && r.Timestamp.Before(*filter.From) {
			continue
		}
		if filter.To != nil && r.Timestamp.After(*filter.To) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *memoryAttendanceStore) UpdateSupervisorVerification(ctx context.Context, params repository.SupervisorVerificationParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID != params.RecordID {
			continue
		}
		verified := params.Verified
		by := params.VerifiedBy
		at := params.VerifiedAt
		m.records[i].SupervisorVerified = &verified
		m.records[i].SupervisorComment = params.Comment
		m.records[i].SupervisorVerifiedBy = &by
		m.records[i].SupervisorVerifiedAt = &at
		return nil
	}
	return sql.ErrNoRows
}

func (m *memoryAttendanceStore) add(record models.AttendanceRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
}

func (m *memoryAttendanceStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type memorySubmissionTx struct {
	m *memoryAttendanceStore
}

func (t memorySubmissionTx) FindWithinWindow(ctx context.Context, scheduleID, lecturerID string, from, to time.Time) (*models.AttendanceRecord, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for _, r := range t.m.records {
		if r.CourseScheduleID != scheduleID || r.LecturerID != lecturerID {
			continue
		}
		if r.Timestamp.Before(from) || r.Timestamp.After(to) {
			continue
		}
		rec := r
		return &rec, nil
	}
	return nil, nil
}

func (t memorySubmissionTx) Insert(ctx context.Context, record *models.AttendanceRecord) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.m.nextID++
	record.ID = fmt.Sprintf("att-%03d", t.m.nextID)
	record.CreatedAt = time.Now().UTC()
	record.UpdatedAt = record.CreatedAt
	t.m.records = append(t.m.records, *record)
	return nil
}

type stubScheduleReader struct {
	schedules map[string]models.CourseSchedule
	err       error
}

func (s stubScheduleReader) FindByID(ctx context.Context, id string) (*models.CourseSchedule, error) {
	if s.err != nil {
		return nil, s.err
	}
	schedule, ok := s.schedules[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &schedule, nil
}
