// Package report writes the per-job classification log.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	fileutil "docclassifier/internal/file"
)

const (
	CSVFileName  = "classification_log.csv"
	XLSXFileName = "classification_log.xlsx"
	sheetName    = "Classification"
)

// Header is the fixed column order of the classification log.
var Header = []string{"source_pdf", "page", "status", "is_receipt", "has_stamp", "stamp_details", "document_data"}

// Row is one classified page.
type Row struct {
	SourcePDF    string `json:"source_pdf"`
	Page         int    `json:"page"`
	Status       string `json:"status"`
	IsReceipt    bool   `json:"is_receipt"`
	HasStamp     bool   `json:"has_stamp"`
	StampDetails string `json:"stamp_details"`
	DocumentData string `json:"document_data"`
}

func (r Row) record() []string {
	return []string{
		r.SourcePDF,
		strconv.Itoa(r.Page),
		r.Status,
		strconv.FormatBool(r.IsReceipt),
		strconv.FormatBool(r.HasStamp),
		r.StampDetails,
		r.DocumentData,
	}
}

// WriteCSV writes the header and one record per row to path.
func WriteCSV(path string, rows []Row) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Header); err != nil {
		return fmt.Errorf("csv header: %w", err)
	}
	for _, r := range rows {
		if err := w.Write(r.record()); err != nil {
			return fmt.Errorf("csv row %s/%d: %w", r.SourcePDF, r.Page, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("csv flush: %w", err)
	}
	if err := fileutil.WriteBytesAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

// WriteXLSX writes the same log as a single-sheet workbook.
func WriteXLSX(path string, rows []Row) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("xlsx sheet: %w", err)
	}
	for i, h := range Header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}
	for r, row := range rows {
		values := []any{row.SourcePDF, row.Page, row.Status, row.IsReceipt, row.HasStamp, row.StampDetails, row.DocumentData}
		for c, v := range values {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			_ = f.SetCellValue(sheetName, cell, v)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 28) // source
	_ = f.SetColWidth(sheetName, "C", "C", 20) // status
	_ = f.SetColWidth(sheetName, "F", "F", 36) // stamp
	_ = f.SetColWidth(sheetName, "G", "G", 60) // data

	buf, err := f.WriteToBuffer()
	if err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	if err := fileutil.WriteBytesAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}
