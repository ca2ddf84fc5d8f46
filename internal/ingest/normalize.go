package ingest

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"masterplan/internal/domain"
	"masterplan/internal/logger"
)

// Row is one raw table row keyed by header. Values are strings, numbers,
// booleans, time.Time or nil.
type Row map[string]any

// Field alias lists. The first alias present with a non-blank value wins.
var (
	OrderAliases         = []string{"PO", "PO_ID", "PEDIDO", "ORDER"}
	ProjectAliases       = []string{"PROYECTO", "PROJECT", "DESCRIPCION"}
	ComponentAliases     = []string{"COMPONENTE", "COMPONENT", "TIPO"}
	PositionAliases      = []string{"POS", "POSICION", "LINE"}
	MaterialAliases      = []string{"MATERIAL", "MAT", "TYPE"}
	DueDateAliases       = []string{"F PRD", "FECHA", "DATE", "REQ DATE"}
	QuantityAliases      = []string{"CTD PEDIDO", "CANTIDAD", "QTY", "QUANTITY", "QTY + OVER"}
	SheetsAliases        = []string{"PLIEGOS", "SHEETS", "HOJAS"}
	MaterialDatesAliases = []string{"MC FECHAS", "FECHAS"}
	UpdateAliases        = []string{"UPDATE", "ESTADO", "STATUS"}
	UnitPriceAliases     = []string{"$/UND", "$ / UND", "$/und", "PRECIO", "PRICE", "UNIT_PRICE", "PRECIO UNITARIO"}
)

// FlagAliases maps each production step to the columns carrying its flag.
var FlagAliases = map[domain.ProcessKind][]string{
	domain.ProcessSheetPrep: {"RESMADO", "CORTE"},
	domain.ProcessPrint:     {"IMPRESION", "IMPRESIÓN"},
	domain.ProcessVarnish:   {"BARNIZ"},
	domain.ProcessLaminate:  {"LAMINADO"},
	domain.ProcessFoilStamp: {"ESTAMPADO"},
	domain.ProcessEmboss:    {"REALZADO"},
	domain.ProcessDieCut:    {"TROQUELADO"},
}

// Record is a normalized row: the item plus its raw process flags.
type Record struct {
	Index        int
	Item         domain.ProductionItem
	Flags        map[domain.ProcessKind]bool
	UpdateStatus string
}

// AnyFlag reports whether at least one process flag is set.
func (r Record) AnyFlag() bool {
	for _, v := range r.Flags {
		if v {
			return true
		}
	}
	return false
}

// Status maps the UPDATE column to a task lifecycle status.
func (r Record) Status() domain.Status {
	switch r.UpdateStatus {
	case "COMPLETED":
		return domain.StatusCompleted
	case "IN PROCESS":
		return domain.StatusInProgress
	case "CANCELED", "CANCELLED":
		return domain.StatusCancelled
	default:
		return domain.StatusPending
	}
}

// Report counts the outcome of a normalization pass.
type Report struct {
	Total       int   `json:"total"`
	Accepted    int   `json:"accepted"`
	Skipped     int   `json:"skipped"`
	SkippedRows []int `json:"skipped_rows,omitempty"`
}

// Normalizer turns raw rows into records.
type Normalizer struct {
	Location *time.Location
	Log      logger.Logger
}

// NormalizeAll normalizes rows in order, skipping and counting rows without
// identifying data.
func (n Normalizer) NormalizeAll(rows []Row) ([]Record, Report) {
	log := logger.OrNop(n.Log)
	rep := Report{Total: len(rows)}
	records := make([]Record, 0, len(rows))
	for i, row := range rows {
		rec, ok := n.Normalize(i, row)
		if !ok {
			rep.Skipped++
			rep.SkippedRows = append(rep.SkippedRows, i+1)
			log.Debugf("row %d skipped: no order, project or position", i+1)
			continue
		}
		rep.Accepted++
		records = append(records, rec)
	}
	if rep.Skipped > 0 {
		log.Infof("normalized %d of %d rows, %d skipped", rep.Accepted, rep.Total, rep.Skipped)
	}
	return records, rep
}

// Normalize converts one row. The index is the row position in its table and
// stands in for a missing position number in the item id.
func (n Normalizer) Normalize(index int, raw Row) (rec Record, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.OrNop(n.Log).Warnf("row %d skipped: %v", index+1, r)
			rec, ok = Record{}, false
		}
	}()
	row := canonicalKeys(raw)
	order := strings.TrimSpace(asString(lookup(row, OrderAliases)))
	project := strings.TrimSpace(asString(lookup(row, ProjectAliases)))
	posRaw := lookup(row, PositionAliases)
	if order == "" && project == "" && isBlank(posRaw) {
		return Record{}, false
	}

	loc := n.Location
	if loc == nil {
		loc = time.Local
	}
	pos := int(ParseNumber(posRaw))
	if pos == 0 {
		pos = index
	}
	dueRaw := lookup(row, DueDateAliases)
	due, _ := ParseDate(dueRaw, loc)

	item := domain.ProductionItem{
		ID:            fmt.Sprintf("%s-%d", order, pos),
		OrderID:       order,
		Position:      pos,
		Project:       project,
		Component:     strings.TrimSpace(asString(lookup(row, ComponentAliases))),
		Material:      strings.TrimSpace(asString(lookup(row, MaterialAliases))),
		Quantity:      toInt(ParseNumber(lookup(row, QuantityAliases))),
		Sheets:        toInt(ParseNumber(lookup(row, SheetsAliases))),
		DueDate:       due,
		DueRaw:        strings.TrimSpace(asString(dueRaw)),
		MaterialDates: strings.TrimSpace(asString(lookup(row, MaterialDatesAliases))),
		UnitPrice:     ParseNumber(lookup(row, UnitPriceAliases)),
	}
	flags := make(map[domain.ProcessKind]bool, len(FlagAliases))
	for kind, aliases := range FlagAliases {
		flags[kind] = ParseFlag(lookup(row, aliases))
	}
	return Record{
		Index:        index,
		Item:         item,
		Flags:        flags,
		UpdateStatus: strings.ToUpper(strings.TrimSpace(asString(lookup(row, UpdateAliases)))),
	}, true
}

// ParseNumber converts a cell to a number, detecting the decimal convention.
// When both separators appear the later one is the decimal mark; a lone comma
// is a decimal mark. Currency symbols are stripped. Unparseable input is 0.
func ParseNumber(v any) float64 {
	switch x := v.(type) {
	case nil:
		return 0
	case float64:
		return finite(x)
	case float32:
		return finite(float64(x))
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case bool:
		return 0
	case string:
		return parseNumberString(x)
	default:
		return parseNumberString(asString(v))
	}
}

func parseNumberString(s string) float64 {
	cleaned := strings.TrimSpace(strings.ReplaceAll(strings.TrimSpace(s), "$", ""))
	if cleaned == "" {
		return 0
	}
	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")
	switch {
	case lastComma > lastDot:
		cleaned = strings.Replace(strings.ReplaceAll(cleaned, ".", ""), ",", ".", 1)
	case lastDot > lastComma:
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return finite(f)
}

// ParseFlag accepts TRUE, 1, SÍ, SI or a native true.
func ParseFlag(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x == 1
	case int:
		return x == 1
	}
	s := strings.ToUpper(norm.NFC.String(strings.TrimSpace(asString(v))))
	switch s {
	case "TRUE", "1", "SÍ", "SI":
		return true
	default:
		return false
	}
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"2/1/2006",
	"1/2/2006",
	"2-1-2006",
	"2-Jan-2006",
	"Jan 2, 2006",
}

// ParseDate reads a due date as a calendar day in loc. It accepts ISO dates,
// day-first slash dates (falling back to month-first), and Excel serial
// numbers.
func ParseDate(v any, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	switch x := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		if x.IsZero() {
			return time.Time{}, false
		}
		return dateIn(x, loc), true
	case float64:
		return fromSerial(x, loc)
	case int:
		return fromSerial(float64(x), loc)
	}
	s := strings.TrimSpace(asString(v))
	if s == "" {
		return time.Time{}, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromSerial(f, loc)
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return dateIn(t, loc), true
		}
	}
	return time.Time{}, false
}

func dateIn(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func canonicalKeys(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[norm.NFC.String(k)] = v
	}
	return out
}

func lookup(row Row, aliases []string) any {
	for _, name := range aliases {
		if v, ok := row[name]; ok && !isBlank(v) {
			return v
		}
	}
	return nil
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	return strings.TrimSpace(asString(v)) == ""
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format("2006-01-02")
	default:
		return fmt.Sprint(x)
	}
}

func toInt(f float64) int {
	return int(math.Trunc(f))
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
