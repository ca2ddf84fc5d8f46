package ingest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Options control how a source file is read.
type Options struct {
	// Sheet selects the worksheet of a workbook; empty means the first one.
	Sheet string
	// Encoding of CSV input: utf-8 (default), windows-1252 or latin1.
	Encoding string
	// Comma is the CSV separator; zero detects ',' or ';' from the header.
	Comma rune
}

var ErrNoHeader = errors.New("table has no header row")

// ReadFile loads rows from an .xlsx, .csv or .json file.
func ReadFile(path string, opts Options) ([]Row, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return ReadXLSX(path, opts.Sheet)
	case ".csv", ".txt":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ReadCSV(f, opts)
	case ".json":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ReadJSON(f)
	default:
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
}

// ReadXLSX reads a worksheet with its first row as the header. Cell values
// are read raw so dates arrive as serial numbers.
func ReadXLSX(path, sheet string) ([]Row, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return readWorkbook(f, sheet)
}

// ReadXLSXFrom reads a workbook from r.
func ReadXLSXFrom(r io.Reader, sheet string) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return readWorkbook(f, sheet)
}

func readWorkbook(f *excelize.File, sheet string) ([]Row, error) {
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	records, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	return tableRows(records)
}

// ReadCSV reads delimited text with a header row.
func ReadCSV(r io.Reader, opts Options) ([]Row, error) {
	enc, err := lookupEncoding(opts.Encoding)
	if err != nil {
		return nil, err
	}
	if enc != nil {
		r = transform.NewReader(r, enc.NewDecoder())
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.Comma = opts.Comma
	if cr.Comma == 0 {
		cr.Comma = detectComma(data)
	}
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return tableRows(records)
}

// ReadJSON reads an array of objects.
func ReadJSON(r io.Reader) ([]Row, error) {
	var raw []map[string]any
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("read json rows: %w", err)
	}
	rows := make([]Row, len(raw))
	for i, m := range raw {
		rows[i] = Row(m)
	}
	return rows, nil
}

func tableRows(records [][]string) ([]Row, error) {
	if len(records) == 0 {
		return nil, ErrNoHeader
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}
	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(Row, len(header))
		for i, name := range header {
			if name == "" {
				continue
			}
			if i < len(rec) {
				row[name] = rec[i]
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func detectComma(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	if bytes.Count(line, []byte(";")) > bytes.Count(line, []byte(",")) {
		return ';'
	}
	return ','
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	case "latin1", "iso-8859-1":
		return charmap.ISO8859_1, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
}

// Excel serial day numbers accepted as dates.
const (
	minSerial = 1
	maxSerial = 2958465
)

func fromSerial(f float64, loc *time.Location) (time.Time, bool) {
	if f < minSerial || f > maxSerial {
		return time.Time{}, false
	}
	t, err := excelize.ExcelDateToTime(f, false)
	if err != nil {
		return time.Time{}, false
	}
	return dateIn(t, loc), true
}
