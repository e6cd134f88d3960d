// Package report turns attendance entries into tabular exports: a text
// table for chat, CSV and XLSX files.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"timeclock/internal/attendance"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

var Header = []string{"Employee", "Date", "Clock In", "Clock Out", "Break (min)", "Worked", "Status", "Notes"}

// Row is one entry rendered for export. Times are shown in the employee's
// own timezone.
type Row struct {
	Name          string
	Date          attendance.Date
	ClockIn       string
	ClockOut      string
	BreakMinutes  int
	Worked        string
	WorkedMinutes int
	Status        attendance.Status
	Notes         string
}

func (r Row) Strings() []string {
	return []string{
		r.Name,
		r.Date.String(),
		r.ClockIn,
		r.ClockOut,
		strconv.Itoa(r.BreakMinutes),
		r.Worked,
		string(r.Status),
		r.Notes,
	}
}

// Person is what a report needs to know about an employee.
type Person struct {
	ID       uuid.UUID
	Name     string
	Location *time.Location
}

// BuildRows renders entries sorted by name then date. Entries whose subject
// is not in people are skipped. Open entries count time up to now.
func BuildRows(people []Person, entries []*attendance.Entry, now time.Time) []Row {
	byID := make(map[uuid.UUID]Person, len(people))
	for _, p := range people {
		byID[p.ID] = p
	}

	rows := make([]Row, 0, len(entries))
	for _, e := range entries {
		p, ok := byID[e.SubjectID]
		if !ok {
			continue
		}
		loc := p.Location
		if loc == nil {
			loc = time.UTC
		}
		d := attendance.EntryDuration(e, now)
		rows = append(rows, Row{
			Name:          p.Name,
			Date:          e.Date,
			ClockIn:       clock(e.ClockIn, loc),
			ClockOut:      clock(e.ClockOut, loc),
			BreakMinutes:  e.BreakMinutes,
			Worked:        attendance.FormatClock(d),
			WorkedMinutes: int(d / time.Minute),
			Status:        e.Status,
			Notes:         e.Notes,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Name != rows[j].Name {
			return rows[i].Name < rows[j].Name
		}
		return rows[i].Date < rows[j].Date
	})
	return rows
}

func clock(t *time.Time, loc *time.Location) string {
	if t == nil {
		return ""
	}
	return t.In(loc).Format("15:04")
}

// Summary aggregates one employee's rows.
type Summary struct {
	Name    string
	Present int
	Late    int
	Absent  int
	Worked  time.Duration
}

func Summarize(rows []Row) []Summary {
	index := map[string]int{}
	var out []Summary
	for _, r := range rows {
		i, ok := index[r.Name]
		if !ok {
			i = len(out)
			index[r.Name] = i
			out = append(out, Summary{Name: r.Name})
		}
		s := &out[i]
		switch r.Status {
		case attendance.StatusPresent:
			s.Present++
		case attendance.StatusLate:
			s.Late++
		case attendance.StatusAbsent:
			s.Absent++
		}
		s.Worked += time.Duration(r.WorkedMinutes) * time.Minute
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("error writing csv header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write(r.Strings()); err != nil {
			return fmt.Errorf("error writing csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

const (
	detailSheet  = "Attendance"
	summarySheet = "Summary"
)

// WriteXLSX writes a workbook with a detail sheet and a per-employee summary.
func WriteXLSX(w io.Writer, title string, rows []Row) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(detailSheet)
	if err != nil {
		return err
	}
	f.SetActiveSheet(index)
	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}
	f.DeleteSheet("Sheet1")

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return err
	}

	lastCol, _ := excelize.ColumnNumberToName(len(Header))
	f.SetCellValue(detailSheet, "A1", title)
	f.MergeCell(detailSheet, "A1", lastCol+"1")
	f.SetCellStyle(detailSheet, "A1", lastCol+"1", headerStyle)
	f.SetRowHeight(detailSheet, 1, 25)

	for c, h := range Header {
		cell, _ := excelize.CoordinatesToCellName(c+1, 3)
		f.SetCellValue(detailSheet, cell, h)
	}
	f.SetCellStyle(detailSheet, "A3", lastCol+"3", headerStyle)

	for i, r := range rows {
		n := i + 4
		f.SetCellValue(detailSheet, fmt.Sprintf("A%d", n), r.Name)
		f.SetCellValue(detailSheet, fmt.Sprintf("B%d", n), r.Date.String())
		f.SetCellValue(detailSheet, fmt.Sprintf("C%d", n), r.ClockIn)
		f.SetCellValue(detailSheet, fmt.Sprintf("D%d", n), r.ClockOut)
		f.SetCellValue(detailSheet, fmt.Sprintf("E%d", n), r.BreakMinutes)
		f.SetCellValue(detailSheet, fmt.Sprintf("F%d", n), r.Worked)
		f.SetCellValue(detailSheet, fmt.Sprintf("G%d", n), string(r.Status))
		f.SetCellValue(detailSheet, fmt.Sprintf("H%d", n), r.Notes)
	}
	f.SetColWidth(detailSheet, "A", "A", 20)
	f.SetColWidth(detailSheet, "B", "B", 12)
	f.SetColWidth(detailSheet, "C", "G", 11)
	f.SetColWidth(detailSheet, "H", "H", 30)

	summaryHeader := []string{"Employee", "Present", "Late", "Absent", "Worked"}
	for c, h := range summaryHeader {
		cell, _ := excelize.CoordinatesToCellName(c+1, 1)
		f.SetCellValue(summarySheet, cell, h)
	}
	f.SetCellStyle(summarySheet, "A1", "E1", headerStyle)
	for i, s := range Summarize(rows) {
		n := i + 2
		f.SetCellValue(summarySheet, fmt.Sprintf("A%d", n), s.Name)
		f.SetCellValue(summarySheet, fmt.Sprintf("B%d", n), s.Present)
		f.SetCellValue(summarySheet, fmt.Sprintf("C%d", n), s.Late)
		f.SetCellValue(summarySheet, fmt.Sprintf("D%d", n), s.Absent)
		f.SetCellValue(summarySheet, fmt.Sprintf("E%d", n), attendance.FormatClock(s.Worked))
	}
	f.SetColWidth(summarySheet, "A", "A", 20)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// FormatText renders rows as a fixed-width table for a chat code block.
func FormatText(title string, rows []Row) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n```\n", title)
	fmt.Fprintf(&b, "%-16s %-10s %-5s %-5s %-6s %-7s\n", "EMPLOYEE", "DATE", "IN", "OUT", "WORKED", "STATUS")
	b.WriteString(strings.Repeat("-", 56) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-16s %-10s %-5s %-5s %-6s %-7s\n",
			truncate(r.Name, 16), r.Date, dash(r.ClockIn), dash(r.ClockOut), r.Worked, r.Status)
	}
	if len(rows) == 0 {
		b.WriteString("No attendance recorded\n")
	}
	b.WriteString("```")
	return b.String()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
