package report

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

const maxSheetName = 31

// Write renders sheets as an xlsx workbook. Columns are №, name, one column
// per question, score, percent and band.
func Write(w io.Writer, sheets []Sheet, labels Labels) error {
	f := excelize.NewFile()
	defer f.Close()

	used := make(map[string]bool)
	for i, sh := range sheets {
		name := uniqueSheetName(sanitizeSheetName(labels.Sheet(sh.Grade)), used)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
		if err := writeSheet(f, name, sh, labels); err != nil {
			return fmt.Errorf("write sheet %s: %w", name, err)
		}
	}
	f.SetActiveSheet(0)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, name string, sh Sheet, labels Labels) error {
	header := []any{labels.Number, labels.Name}
	for q := 1; q <= sh.Questions; q++ {
		header = append(header, q)
	}
	header = append(header, labels.Score, labels.Percent, labels.Band)
	if err := f.SetSheetRow(name, "A1", &header); err != nil {
		return err
	}

	for i, row := range sh.Rows {
		cells := []any{row.Seq, row.Name}
		for _, m := range row.Marks {
			cells = append(cells, blankOr(m))
		}
		cells = append(cells, blankOr(row.Score), blankOr(row.Percent), row.Band)
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(name, cell, &cells); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(name, "B", "B", 30); err != nil {
		return err
	}
	return f.SetPanes(name, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func blankOr(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}

// sanitizeSheetName drops characters Excel forbids in sheet names and
// truncates to 31 characters.
func sanitizeSheetName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '-'
		}
		return r
	}, s)
	s = strings.Trim(s, "'")
	if s == "" {
		s = "Sheet"
	}
	for utf8.RuneCountInString(s) > maxSheetName {
		_, size := utf8.DecodeLastRuneInString(s)
		s = s[:len(s)-size]
	}
	return s
}

func uniqueSheetName(name string, used map[string]bool) string {
	candidate := name
	for n := 2; used[strings.ToLower(candidate)]; n++ {
		suffix := fmt.Sprintf(" (%d)", n)
		base := name
		for utf8.RuneCountInString(base)+len(suffix) > maxSheetName {
			_, size := utf8.DecodeLastRuneInString(base)
			base = base[:len(base)-size]
		}
		candidate = base + suffix
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}
