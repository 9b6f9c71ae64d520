package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"antigravity-biosync/internal/models"
)

func TestGenerateAttendanceExport_HeaderOnly(t *testing.T) {
	data, err := GenerateAttendanceExport(nil, time.UTC)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Attendance")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, AttendanceExportHeader, rows[0])
}

func TestGenerateAttendanceExport_FormatsRows(t *testing.T) {
	ist := time.FixedZone("IST", 330*60)
	date := time.Date(2026, 2, 18, 18, 30, 0, 0, time.UTC) // IST 2026-02-19 00:00
	checkIn := time.Date(2026, 2, 19, 3, 25, 0, 0, time.UTC)
	checkOut := time.Date(2026, 2, 19, 12, 40, 0, 0, time.UTC)
	hours := 9.25

	rows := []AttendanceRow{
		{
			Staff: models.StaffIdentity{
				StaffNumber: "QIX0013",
				FullName:    "Arjun Mehta",
				Department:  "Engineering",
			},
			Record: models.AttendanceRecord{
				Date:      date,
				CheckIn:   &checkIn,
				CheckOut:  &checkOut,
				WorkHours: &hours,
				Status:    models.StatusPresent,
				Method:    models.MethodBiometric,
			},
		},
		{
			Staff: models.StaffIdentity{
				StaffNumber: "QIX0021",
				FullName:    "Priya Nair",
			},
			Record: models.AttendanceRecord{
				Date:    date,
				CheckIn: &checkIn,
				Status:  models.StatusIncomplete,
				Method:  models.MethodBiometric,
			},
		},
	}

	data, err := GenerateAttendanceExport(rows, ist)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	got, err := f.GetRows("Attendance")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "QIX0013", got[1][0])
	assert.Equal(t, "Arjun Mehta", got[1][1])
	assert.Equal(t, "2026-02-19", got[1][3])
	assert.Equal(t, "08:55:00", got[1][4])
	assert.Equal(t, "18:10:00", got[1][5])
	assert.Equal(t, "9.25", got[1][6])
	assert.Equal(t, models.StatusPresent, got[1][7])

	// 缺失的签退与工时应为空单元格
	assert.Equal(t, "08:55:00", got[2][4])
	if len(got[2]) > 5 {
		assert.Equal(t, "", got[2][5])
	}
	assert.Equal(t, models.StatusIncomplete, got[2][7])
}
