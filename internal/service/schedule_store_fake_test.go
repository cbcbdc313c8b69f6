package service

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/sma-attendance-api/internal/models"
	"github.com/noah-isme/sma-attendance-api/internal/repository"
)

// memoryScheduleStore takes one mutex per lock key, in sorted order, so only
// writers sharing a key the service chose are serialised.
type memoryScheduleStore struct {
	keyMu     sync.Mutex
	keyLocks  map[string]*sync.Mutex
	mu        sync.Mutex
	schedules map[string]models.CourseSchedule
	nextID    int
	insertErr error
	lockedSet [][]string
}

func newMemoryScheduleStore(existing ...models.CourseSchedule) *memoryScheduleStore {
	store := &memoryScheduleStore{schedules: map[string]models.CourseSchedule{}, keyLocks: map[string]*sync.Mutex{}}
	for _, s := range existing {
		store.schedules[s.ID] = s
	}
	return store
}

func (m *memoryScheduleStore) WithSlotLock(ctx context.Context, keys []string, fn func(store repository.ScheduleSlotStore) error) error {
	ordered := append([]string(nil), keys...)
	sort.Strings(ordered)

	m.keyMu.Lock()
	m.lockedSet = append(m.lockedSet, ordered)
	locks := make([]*sync.Mutex, 0, len(ordered))
	for i, key := range ordered {
		if i > 0 && ordered[i-1] == key {
			continue
		}
		l, ok := m.keyLocks[key]
		if !ok {
			l = &sync.Mutex{}
			m.keyLocks[key] = l
		}
		locks = append(locks, l)
	}
	m.keyMu.Unlock()

	for _, l := range locks {
		l.Lock()
	}
	defer func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}()
	return fn(memorySlotTx{m})
}

func (m *memoryScheduleStore) lockedKeys() [][]string {
	m.keyMu.Lock()
	defer m.keyMu.Unlock()
	return append([][]string(nil), m.lockedSet...)
}

func (m *memoryScheduleStore) FindByID(ctx context.Context, id string) (*models.CourseSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (m *memoryScheduleStore) List(ctx context.Context, filter models.ScheduleFilter) ([]models.CourseSchedule, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CourseSchedule
	for _, s := range m.schedules {
		if filter.LecturerID != "" && s.LecturerID != filter.LecturerID {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memoryScheduleStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.schedules)
}

type memorySlotTx struct {
	m *memoryScheduleStore
}

func (t memorySlotTx) ListByResource(ctx context.Context, dimension models.ConflictDimension, resourceID string, dayOfWeek int, excludeID string) ([]models.CourseSchedule, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	var out []models.CourseSchedule
	for _, s := range t.m.schedules {
		if s.DayOfWeek != dayOfWeek || s.ID == excludeID {
			continue
		}
		var match bool
		switch dimension {
		case models.ConflictLecturer:
			match = s.LecturerID == resourceID
		case models.ConflictClassGroup:
			match = s.ClassGroupID == resourceID
		case models.ConflictClassroom:
			match = s.ClassroomID != nil && *s.ClassroomID == resourceID
		}
		if match {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out, nil
}

func (t memorySlotTx) FindByIDForUpdate(ctx context.Context, id string) (*models.CourseSchedule, error) {
	return t.m.FindByID(ctx, id)
}

func (t memorySlotTx) Insert(ctx context.Context, schedule *models.CourseSchedule) error {
	// Yield between the conflict check and the write so missing lock keys show up as double bookings.
	runtime.Gosched()
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.m.insertErr != nil {
		return t.m.insertErr
	}
	t.m.nextID++
	schedule.ID = fmt.Sprintf("sched-%03d", t.m.nextID)
	schedule.CreatedAt = time.Now().UTC()
	schedule.UpdatedAt = schedule.CreatedAt
	t.m.schedules[schedule.ID] = *schedule
	return nil
}

func (t memorySlotTx) UpdateLocation(ctx context.Context, schedule *models.CourseSchedule) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if _, ok := t.m.schedules[schedule.ID]; !ok {
		return sql.ErrNoRows
	}
	schedule.UpdatedAt = time.Now().UTC()
	t.m.schedules[schedule.ID] = *schedule
	return nil
}

type stubClassroomLocator struct {
	locations map[string]models.ClassroomLocation
}

func (s stubClassroomLocator) FindLocation(ctx context.Context, classroomID string) (*models.ClassroomLocation, error) {
	loc, ok := s.locations[classroomID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &loc, nil
}
