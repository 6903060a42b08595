package importer

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/mmdatafocus/payroll_audit/models"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

var errorExportHeader = []string{"Row Number", "Field Name", "Error Message", "Row Data"}

const exportBatchSize = 1000

// eachImportError walks every error of an import in row order, one batch at a time.
func eachImportError(ctx context.Context, db *gorm.DB, importId int, fn func(models.ImportError) error) error {
	for offset := 0; ; offset += exportBatchSize {
		var batch []models.ImportError
		if err := db.WithContext(ctx).Where("import_history_id = ?", importId).
			Order("row_number ASC").Order("id ASC").
			Limit(exportBatchSize).Offset(offset).
			Find(&batch).Error; err != nil {
			return err
		}
		for _, e := range batch {
			if err := fn(e); err != nil {
				return err
			}
		}
		if len(batch) < exportBatchSize {
			return nil
		}
	}
}

// ExportErrorsCSV writes every error of an import as CSV.
func ExportErrorsCSV(ctx context.Context, db *gorm.DB, importId int, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(errorExportHeader); err != nil {
		return err
	}
	err := eachImportError(ctx, db, importId, func(e models.ImportError) error {
		return cw.Write([]string{strconv.Itoa(e.RowNumber), e.FieldName, e.ErrorMessage, string(e.RowData)})
	})
	if err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// ExportErrorsXLSX writes the same columns as ExportErrorsCSV to a single-sheet workbook.
func ExportErrorsXLSX(ctx context.Context, db *gorm.DB, importId int, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}
	header := make([]interface{}, len(errorExportHeader))
	for i, h := range errorExportHeader {
		header[i] = h
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}
	line := 2
	err = eachImportError(ctx, db, importId, func(e models.ImportError) error {
		cell, err := excelize.CoordinatesToCellName(1, line)
		if err != nil {
			return err
		}
		line++
		return sw.SetRow(cell, []interface{}{e.RowNumber, e.FieldName, e.ErrorMessage, string(e.RowData)})
	})
	if err != nil {
		return err
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	return f.Write(w)
}
