package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"presence-bot/internal/model"
	"presence-bot/internal/timeutil"
)

const (
	SheetName   = "Sessions"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var headers = []string{
	"User", "Date", "Check-in", "Check-out", "Break (min)", "Work (min)",
	"Breaks", "Updates", "Last status", "Notes",
}

var widths = []float64{16, 12, 18, 18, 12, 12, 8, 8, 40, 40}

// Workbook is a rendered session report.
type Workbook struct {
	f *excelize.File
}

// SessionsWorkbook renders one row per session. Times are shown in zone.
// The title goes in the first row, headers in the second.
func SessionsWorkbook(title string, sessions []*model.CheckinSession, zone *time.Location) (*Workbook, error) {
	if zone == nil {
		zone = time.UTC
	}

	f := excelize.NewFile()
	index, err := f.NewSheet(SheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create style: %w", err)
	}

	if err := f.SetCellValue(SheetName, "A1", title); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeRow(f, 2, toAny(headers)); err != nil {
		f.Close()
		return nil, err
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 2)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := f.SetCellStyle(SheetName, "A1", last, bold); err != nil {
		f.Close()
		return nil, fmt.Errorf("style headers: %w", err)
	}

	for idx, s := range sessions {
		if err := writeRow(f, idx+3, sessionRow(s, zone)); err != nil {
			f.Close()
			return nil, err
		}
	}

	for i, w := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetColWidth(SheetName, col, col, w); err != nil {
			f.Close()
			return nil, fmt.Errorf("set width %s: %w", col, err)
		}
	}

	return &Workbook{f: f}, nil
}

func writeRow(f *excelize.File, row int, values []any) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(SheetName, cell, v); err != nil {
			return fmt.Errorf("write %s: %w", cell, err)
		}
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func sessionRow(s *model.CheckinSession, zone *time.Location) []any {
	loc := timeutil.LoadZone(s.Timezone, zone)

	checkout := ""
	if s.CheckoutTime != nil {
		checkout = timeutil.FormatDateTime(*s.CheckoutTime, loc)
	}
	var work any = ""
	if s.TotalWorkTime != nil {
		work = *s.TotalWorkTime
	}

	var notes []string
	if s.Notes.Checkin != "" {
		notes = append(notes, "In: "+s.Notes.Checkin)
	}
	if s.Notes.Checkout != "" {
		notes = append(notes, "Out: "+s.Notes.Checkout)
	}

	return []any{
		s.Username,
		s.Date,
		timeutil.FormatDateTime(s.CheckinTime, loc),
		checkout,
		s.TotalBreakTime,
		work,
		s.BreakCount,
		s.StatusUpdateCount,
		s.LastWorkStatus,
		strings.Join(notes, " | "),
	}
}

// WriteTo writes the workbook as xlsx and reports the bytes written.
func (w *Workbook) WriteTo(out io.Writer) (int64, error) {
	buf, err := w.f.WriteToBuffer()
	if err != nil {
		return 0, fmt.Errorf("encode workbook: %w", err)
	}
	return buf.WriteTo(out)
}

func (w *Workbook) Close() error {
	return w.f.Close()
}

// Filename builds the download name, e.g. "presence_2026-03-02.xlsx".
func Filename(parts ...string) string {
	clean := make([]string, 0, len(parts)+1)
	clean = append(clean, "presence")
	for _, p := range parts {
		p = strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
				return r
			}
			return -1
		}, p)
		if p != "" {
			clean = append(clean, p)
		}
	}
	return strings.Join(clean, "_") + ".xlsx"
}
