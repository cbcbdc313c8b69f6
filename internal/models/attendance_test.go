package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStudentAttendanceDataNilIsNull(t *testing.T) {
	var data StudentAttendanceData
	v, err := data.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestStudentAttendanceDataKeepsOrder(t *testing.T) {
	data := StudentAttendanceData{{StudentID: "s-2", IsPresent: false}, {StudentID: "s-1", IsPresent: true}}
	v, err := data.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"studentId":"s-2","isPresent":false},{"studentId":"s-1","isPresent":true}]`, string(v.([]byte)))

	var scanned StudentAttendanceData
	require.NoError(t, scanned.Scan(v))
	assert.Equal(t, data, scanned)

	require.NoError(t, scanned.Scan(nil))
	assert.Nil(t, scanned)
}

func TestStudentAttendanceDataRejectsUnknownType(t *testing.T) {
	var scanned StudentAttendanceData
	assert.Error(t, scanned.Scan(42))
}
