package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// PreviewRows is how many data rows a preview returns.
const PreviewRows = 10

var ErrEmptyFile = errors.New("file appears to be empty or invalid")

// RowReader streams records; the first record returned by Header is the header row.
type RowReader interface {
	Header() ([]string, error)
	Next() ([]string, error)
	Close() error
}

// NewRowReader picks a reader by file extension: .xlsx via excelize, anything else as CSV.
func NewRowReader(fileName string, r io.Reader) (RowReader, error) {
	if strings.EqualFold(filepath.Ext(fileName), ".xlsx") {
		return newXlsxReader(r)
	}
	return newCSVReader(r), nil
}

type csvReader struct {
	r      *csv.Reader
	header []string
}

func newCSVReader(r io.Reader) *csvReader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	return &csvReader{r: cr}
}

func (c *csvReader) Header() ([]string, error) {
	if c.header != nil {
		return c.header, nil
	}
	rec, err := c.r.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, err
	}
	if len(rec) > 0 {
		rec[0] = strings.TrimPrefix(rec[0], "\ufeff")
	}
	c.header = trimAll(rec)
	if isBlank(c.header) {
		return nil, ErrEmptyFile
	}
	return c.header, nil
}

func (c *csvReader) Next() ([]string, error) {
	return c.r.Read()
}

func (c *csvReader) Close() error { return nil }

type xlsxReader struct {
	f      *excelize.File
	rows   *excelize.Rows
	header []string
}

func newXlsxReader(r io.Reader) (*xlsxReader, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	sheet := f.GetSheetName(0)
	if sheet == "" {
		f.Close()
		return nil, ErrEmptyFile
	}
	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("unable to read sheet: %w", err)
	}
	return &xlsxReader{f: f, rows: rows}, nil
}

func (x *xlsxReader) Header() ([]string, error) {
	if x.header != nil {
		return x.header, nil
	}
	rec, err := x.Next()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, err
	}
	x.header = trimAll(rec)
	if isBlank(x.header) {
		return nil, ErrEmptyFile
	}
	return x.header, nil
}

// Next pads short rows to the header width; excelize drops trailing empty cells.
func (x *xlsxReader) Next() ([]string, error) {
	if !x.rows.Next() {
		if err := x.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	cols, err := x.rows.Columns()
	if err != nil {
		return nil, err
	}
	for len(cols) < len(x.header) {
		cols = append(cols, "")
	}
	return cols, nil
}

func (x *xlsxReader) Close() error {
	if err := x.rows.Close(); err != nil {
		x.f.Close()
		return err
	}
	return x.f.Close()
}

func trimAll(rec []string) []string {
	out := make([]string, len(rec))
	for i, v := range rec {
		out[i] = strings.TrimSpace(v)
	}
	return out
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

type Preview struct {
	Headers []string            `json:"headers"`
	Rows    []map[string]string `json:"rows"`
}

// PreviewFile returns the header and up to PreviewRows data rows whose width matches it.
func PreviewFile(fileName string, r io.Reader) (*Preview, error) {
	rr, err := NewRowReader(fileName, r)
	if err != nil {
		return nil, err
	}
	defer rr.Close()

	headers, err := rr.Header()
	if err != nil {
		return nil, err
	}
	p := &Preview{Headers: headers, Rows: []map[string]string{}}
	for len(p.Rows) < PreviewRows {
		rec, err := rr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) != len(headers) {
			continue
		}
		row := make(map[string]string, len(headers))
		for i, h := range headers {
			row[h] = rec[i]
		}
		p.Rows = append(p.Rows, row)
	}
	return p, nil
}

// CountDataRows counts non-blank records after the header.
func CountDataRows(fileName string, r io.Reader) (int, error) {
	rr, err := NewRowReader(fileName, r)
	if err != nil {
		return 0, err
	}
	defer rr.Close()
	if _, err := rr.Header(); err != nil {
		return 0, err
	}
	n := 0
	for {
		rec, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if !isBlank(rec) {
			n++
		}
	}
}

// Row is one mapped data row. Number is the 1-based line in the file (header is 1).
type Row struct {
	Number int
	Values map[string]string
}

// Get returns the cleaned value of field and whether it is present.
func (r Row) Get(field string) (string, bool) {
	v, ok := r.Values[field]
	return v, ok
}

// Snapshot renders the row for ImportError.row_data; absent mapped fields become null.
func (r Row) Snapshot(fields []string) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		if v, ok := r.Values[f]; ok {
			out[f] = v
		} else {
			out[f] = nil
		}
	}
	return out
}

// cleanValue trims and treats "", "NULL" and "null" as absent.
func cleanValue(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if v == "" || v == "NULL" || v == "null" {
		return "", false
	}
	return v, true
}

// mapRecord applies the header->field mapping to one record.
func mapRecord(headers []string, rec []string, mapping map[string]string) map[string]string {
	values := make(map[string]string, len(mapping))
	for i, h := range headers {
		field := mapping[h]
		if field == "" || field == IgnoreColumn || i >= len(rec) {
			continue
		}
		if v, ok := cleanValue(rec[i]); ok {
			values[field] = v
		}
	}
	return values
}

// ReadChunks streams mapped, non-blank rows in chunks of size and calls fn for each chunk.
// Processing stops at the first error from the reader or fn.
func ReadChunks(rr RowReader, mapping map[string]string, size int, fn func([]Row) error) error {
	headers, err := rr.Header()
	if err != nil {
		return err
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunk := make([]Row, 0, size)
	number := 1
	for {
		rec, err := rr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read row %d: %w", number+1, err)
		}
		number++
		if isBlank(rec) {
			continue
		}
		chunk = append(chunk, Row{Number: number, Values: mapRecord(headers, rec, mapping)})
		if len(chunk) >= size {
			if err := fn(chunk); err != nil {
				return err
			}
			chunk = make([]Row, 0, size)
		}
	}
	if len(chunk) > 0 {
		return fn(chunk)
	}
	return nil
}

// readAllBytes buffers an upload so it can be read more than once.
func readAllBytes(r io.Reader) (*bytes.Reader, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}
