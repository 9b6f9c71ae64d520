package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"antigravity-biosync/internal/models"
)

// AttendanceExportHeader 考勤导出表头
var AttendanceExportHeader = []string{
	"Staff Number",
	"Full Name",
	"Department",
	"Date",
	"Check In",
	"Check Out",
	"Work Hours",
	"Status",
	"Method",
}

// AttendanceRow 一行导出数据（考勤记录附带已解析的员工信息）
type AttendanceRow struct {
	Staff  models.StaffIdentity
	Record models.AttendanceRecord
}

// GenerateAttendanceExport 生成考勤导出 Excel 文件
// rows 为空时只生成表头；时间列按 loc 所在时区格式化
func GenerateAttendanceExport(rows []AttendanceRow, loc *time.Location) ([]byte, error) {
	f := excelize.NewFile()
	// WriteTo 需要文件保持打开状态，出错路径上单独 Close

	sheetName := "Attendance"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range AttendanceExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	columnWidths := []float64{
		14, // Staff Number
		24, // Full Name
		18, // Department
		12, // Date
		12, // Check In
		12, // Check Out
		12, // Work Hours
		14, // Status
		16, // Method
	}
	for i := range AttendanceExportHeader {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheetName, col, col, columnWidths[i]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, row := range rows {
		values := []any{
			row.Staff.StaffNumber,
			row.Staff.FullName,
			row.Staff.Department,
			row.Record.Date.In(loc).Format("2006-01-02"),
			formatPunch(row.Record.CheckIn, loc),
			formatPunch(row.Record.CheckOut, loc),
			formatHours(row.Record.WorkHours),
			row.Record.Status,
			row.Record.Method,
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write excel file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close excel file: %w", err)
	}
	return buf.Bytes(), nil
}

func formatPunch(t *time.Time, loc *time.Location) string {
	if t == nil {
		return ""
	}
	return t.In(loc).Format("15:04:05")
}

func formatHours(h *float64) string {
	if h == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *h)
}
