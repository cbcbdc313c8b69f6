package models

// ClassroomLocation joins a classroom with its building coordinates.
type ClassroomLocation struct {
	ClassroomID  string   `db:"classroom_id" json:"classroom_id"`
	BuildingID   string   `db:"building_id" json:"building_id"`
	Name         string   `db:"name" json:"name"`
	GPSLatitude  *float64 `db:"gps_latitude" json:"gps_latitude,omitempty"`
	GPSLongitude *float64 `db:"gps_longitude" json:"gps_longitude,omitempty"`
	VirtualLink  *string  `db:"virtual_link" json:"virtual_link,omitempty"`
}

// HasCoordinates reports whether the building has a usable centroid.
func (l ClassroomLocation) HasCoordinates() bool {
	return l.GPSLatitude != nil && l.GPSLongitude != nil
}
