package service

import (
	"context"
	"fmt"

	"github.com/noah-isme/sma-attendance-api/internal/models"
)

// ScheduleCandidate is the slot being checked. ExcludeID skips the schedule being updated.
type ScheduleCandidate struct {
	ExcludeID    string
	DayOfWeek    int
	StartTime    string
	EndTime      string
	LecturerID   string
	ClassGroupID string
	ClassroomID  *string
}

type scheduleResourceLister interface {
	ListByResource(ctx context.Context, dimension models.ConflictDimension, resourceID string, dayOfWeek int, excludeID string) ([]models.CourseSchedule, error)
}

// DetectConflict checks the lecturer, the class group and then the classroom,
// returning the first dimension holding an overlapping schedule. A candidate
// without a classroom is exempt from the classroom check.
func DetectConflict(ctx context.Context, lister scheduleResourceLister, candidate ScheduleCandidate) (*models.ScheduleConflict, error) {
	slot, err := models.NewTimeRange(candidate.StartTime, candidate.EndTime)
	if err != nil {
		return nil, err
	}

	type check struct {
		dimension models.ConflictDimension
		resource  string
	}
	checks := []check{
		{models.ConflictLecturer, candidate.LecturerID},
		{models.ConflictClassGroup, candidate.ClassGroupID},
	}
	if candidate.ClassroomID != nil && *candidate.ClassroomID != "" {
		checks = append(checks, check{models.ConflictClassroom, *candidate.ClassroomID})
	}

	for _, c := range checks {
		existing, err := lister.ListByResource(ctx, c.dimension, c.resource, candidate.DayOfWeek, candidate.ExcludeID)
		if err != nil {
			return nil, err
		}
		for _, other := range existing {
			if other.ID == candidate.ExcludeID && candidate.ExcludeID != "" {
				continue
			}
			otherSlot, err := other.Slot()
			if err != nil {
				return nil, fmt.Errorf("stored schedule %s: %w", other.ID, err)
			}
			if slot.Overlaps(otherSlot) {
				return &models.ScheduleConflict{
					Dimension:             c.dimension,
					ResourceID:            c.resource,
					ConflictingScheduleID: other.ID,
					DayOfWeek:             other.DayOfWeek,
					StartTime:             other.StartTime,
					EndTime:               other.EndTime,
				}, nil
			}
		}
	}
	return nil, nil
}
