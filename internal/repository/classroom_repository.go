package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-attendance-api/internal/models"
)

// ClassroomRepository reads classroom and building location metadata.
type ClassroomRepository struct {
	db *sqlx.DB
}

// NewClassroomRepository constructs the repository.
func NewClassroomRepository(db *sqlx.DB) *ClassroomRepository {
	return &ClassroomRepository{db: db}
}

// FindLocation loads a classroom joined with its building centroid.
func (r *ClassroomRepository) FindLocation(ctx context.Context, classroomID string) (*models.ClassroomLocation, error) {
	const query = `SELECT c.id AS classroom_id, c.building_id, c.name, b.gps_latitude, b.gps_longitude, c.virtual_link
FROM classrooms c JOIN buildings b ON b.id = c.building_id WHERE c.id = $1`
	var location models.ClassroomLocation
	if err := r.db.GetContext(ctx, &location, query, classroomID); err != nil {
		return nil, err
	}
	return &location, nil
}
