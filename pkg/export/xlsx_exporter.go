package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const xlsxSheet = "Evaluation"

// XLSXExporter renders a dataset as a single sheet workbook.
type XLSXExporter struct{}

// NewXLSXExporter constructs an XLSX exporter.
func NewXLSXExporter() *XLSXExporter {
	return &XLSXExporter{}
}

// ContentType implements Renderer.
func (e *XLSXExporter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Extension implements Renderer.
func (e *XLSXExporter) Extension() string { return "xlsx" }

// Render writes the summary block followed by the table.
func (e *XLSXExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("xlsx requires at least one header")
	}
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	row := 1
	write := func(col int, v any) error {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return err
		}
		return f.SetCellValue(xlsxSheet, cell, v)
	}

	if data.Title != "" {
		if err := write(1, data.Title); err != nil {
			return nil, fmt.Errorf("write title: %w", err)
		}
		row += 2
	}
	for _, field := range data.Summary {
		if err := write(1, field.Label); err != nil {
			return nil, fmt.Errorf("write summary: %w", err)
		}
		if err := write(2, field.Value); err != nil {
			return nil, fmt.Errorf("write summary: %w", err)
		}
		row++
	}
	if len(data.Summary) > 0 {
		row++
	}

	headerRow := row
	for i, h := range data.Headers {
		if err := write(i+1, h); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	row++
	for _, r := range data.Rows {
		for i, v := range data.record(r) {
			if err := write(i+1, v); err != nil {
				return nil, fmt.Errorf("write row: %w", err)
			}
		}
		row++
	}

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		first, _ := excelize.CoordinatesToCellName(1, headerRow)
		last, _ := excelize.CoordinatesToCellName(len(data.Headers), headerRow)
		_ = f.SetCellStyle(xlsxSheet, first, last, style)
	}
	_ = f.SetColWidth(xlsxSheet, "A", "A", 28)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render xlsx: %w", err)
	}
	return bytes.Clone(buf.Bytes()), nil
}
