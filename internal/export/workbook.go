package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

type SheetSpec struct {
	Title  string
	Header []string
	Rows   [][]string
}

type Workbook struct {
	File *excelize.File
}

// NewWorkbook — листы по порядку, первый занимает место стандартного Sheet1.
func NewWorkbook(sheets []SheetSpec) (*Workbook, error) {
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook: no sheets")
	}
	f := excelize.NewFile()
	for i, s := range sheets {
		name := s.Title
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return nil, fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("new sheet: %w", err)
		}

		for col, h := range s.Header {
			cell := fmt.Sprintf("%s1", colName(col+1))
			if err := f.SetCellStr(name, cell, h); err != nil {
				return nil, fmt.Errorf("set cell %s: %w", cell, err)
			}
		}
		for r, row := range s.Rows {
			for c, val := range row {
				if val == "" {
					continue
				}
				cell := fmt.Sprintf("%s%d", colName(c+1), r+2)
				if err := f.SetCellStr(name, cell, val); err != nil {
					return nil, fmt.Errorf("set cell %s: %w", cell, err)
				}
			}
		}
		if err := applyDefaultFormatting(f, name, s); err != nil {
			return nil, fmt.Errorf("format %s: %w", name, err)
		}
	}
	return &Workbook{File: f}, nil
}

func (w *Workbook) WriteTo(out io.Writer) (int64, error) { return w.File.WriteTo(out) }

// applyDefaultFormatting: жирный заголовок, автофильтр по первой строке,
// ширина колонок по длине заголовка и первых 50 строк.
func applyDefaultFormatting(f *excelize.File, sheet string, s SheetSpec) error {
	if len(s.Header) == 0 {
		return nil
	}
	end := colName(len(s.Header)) + "1"
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", end, bold); err != nil {
		return err
	}
	if err := f.AutoFilter(sheet, "A1:"+end, nil); err != nil {
		return err
	}

	for c := 1; c <= len(s.Header); c++ {
		maxim := visualLen(s.Header[c-1]) + 2
		for r := 0; r < min(50, len(s.Rows)); r++ {
			if c-1 < len(s.Rows[r]) {
				if l := visualLen(s.Rows[r][c-1]); l > maxim {
					maxim = l
				}
			}
		}
		w := float64(maxim) * 1.1
		if w < 10 {
			w = 10
		}
		if w > 60 {
			w = 60
		}
		if err := f.SetColWidth(sheet, colName(c), colName(c), w); err != nil {
			return err
		}
	}
	return nil
}

// colName: 1 -> A; 27 -> AA
func colName(n int) string {
	s := ""
	for n > 0 {
		n--
		s = string(rune('A'+(n%26))) + s
		n /= 26
	}
	return s
}

func visualLen(s string) int {
	n := 0
	for _, r := range s {
		if r == '\t' {
			n += 4
		} else {
			n++
		}
	}
	return n
}
