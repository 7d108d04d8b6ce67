// Package ingest turns uploaded CSV or XLSX partner sheets into staging rows.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/xuri/excelize/v2"

	"github.com/Ramsey-B/partnermap/pkg/models"
	"github.com/Ramsey-B/partnermap/pkg/normalizers"
	"github.com/Ramsey-B/partnermap/pkg/utils"
)

const (
	ColumnNodeName           = "node_name"
	ColumnWebsite            = "website"
	ColumnEntityName         = "entity_name"
	ColumnNodeCategory       = "node_category"
	ColumnDirection          = "direction"
	ColumnNotes              = "notes"
	ColumnConnectTargets     = "connect_targets"
	ColumnProtocolsSupported = "protocols_supported"
	ColumnDataTypesSupported = "data_types_supported"
)

var RequiredColumns = []string{ColumnNodeName, ColumnWebsite, ColumnEntityName, ColumnNodeCategory, ColumnDirection}

var OptionalColumns = []string{ColumnNotes, ColumnConnectTargets, ColumnProtocolsSupported, ColumnDataTypesSupported}

// MaxRows bounds a single upload.
const MaxRows = 10000

var ErrEmptyUpload = errors.New("upload contains no header row")

// Row is one uploaded line after cell normalization.
type Row struct {
	RowNumber          int      `csv:"-"`
	NodeName           string   `csv:"node_name" validate:"required,max=255"`
	Website            string   `csv:"website" validate:"required,max=2048"`
	EntityName         string   `csv:"entity_name" validate:"required,max=255"`
	NodeCategory       string   `csv:"node_category" validate:"required,node_category"`
	Direction          string   `csv:"direction" validate:"required,direction"`
	Notes              string   `csv:"notes" validate:"max=4000"`
	ConnectTargets     []string `csv:"connect_targets" validate:"dive,max=255"`
	ProtocolsSupported []string `csv:"protocols_supported" validate:"dive,protocol"`
	DataTypesSupported []string `csv:"data_types_supported" validate:"dive,data_type"`
}

// Result is a parsed upload. Staging rows carry no ids yet.
type Result struct {
	TotalRows         int
	Rows              []models.StagingNode
	Errors            []models.RowError
	DuplicateWarnings int
}

func (r *Result) InvalidRows() int {
	return r.TotalRows - len(r.Rows)
}

var xlsxMagic = []byte("PK\x03\x04")

// Parse reads XLSX when the name ends in .xlsx or the content starts with the
// zip magic. Anything else is read as CSV.
func Parse(filename string, content io.Reader) (*Result, error) {
	reader := bufio.NewReader(content)
	if strings.EqualFold(filepath.Ext(filename), ".xlsx") {
		return ParseXLSX(reader)
	}
	head, err := reader.Peek(len(xlsxMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "failed to read upload: %s", err.Error())
	}
	if bytes.Equal(head, xlsxMagic) {
		return ParseXLSX(reader)
	}
	return ParseCSV(reader)
}

func ParseCSV(content io.Reader) (*Result, error) {
	reader := csv.NewReader(content)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "failed to read CSV: %s", err.Error())
	}
	return parseRecords(records)
}

func ParseXLSX(content io.Reader) (*Result, error) {
	f, err := excelize.OpenReader(content)
	if err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "failed to open Excel file: %s", err.Error())
	}
	defer f.Close()

	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "no sheets found in Excel file")
	}

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "failed to read rows: %s", err.Error())
	}
	return parseRecords(rows)
}

func parseRecords(records [][]string) (*Result, error) {
	if len(records) == 0 {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, ErrEmptyUpload.Error())
	}

	columns, err := mapHeader(records[0])
	if err != nil {
		return nil, err
	}

	result := &Result{}
	seen := map[string]bool{}
	rowNumber := 0
	for _, record := range records[1:] {
		if isEmptyRecord(record) {
			continue
		}
		rowNumber++
		result.TotalRows++
		if result.TotalRows > MaxRows {
			return nil, httperror.NewHTTPErrorf(http.StatusRequestEntityTooLarge, "upload exceeds %d rows", MaxRows)
		}

		row := toRow(rowNumber, record, columns)
		if rowErrs := validateRow(row); len(rowErrs) > 0 {
			result.Errors = append(result.Errors, rowErrs...)
			continue
		}

		key := strings.ToLower(row.NodeName) + "\x00" + row.NodeCategory
		if seen[key] {
			result.DuplicateWarnings++
		}
		seen[key] = true

		result.Rows = append(result.Rows, row.staging())
	}

	return result, nil
}

// mapHeader resolves column positions. Names are matched ignoring case,
// surrounding whitespace, a UTF-8 BOM, and spaces versus underscores.
func mapHeader(header []string) (map[string]int, error) {
	columns := map[string]int{}
	for i, h := range header {
		name := strings.TrimPrefix(h, "\ufeff")
		name = strings.ToLower(normalizers.ApplyChain(name, normalizers.CellChain...))
		name = strings.ReplaceAll(name, " ", "_")
		if _, dup := columns[name]; !dup && name != "" {
			columns[name] = i
		}
	}

	var missing []string
	for _, c := range RequiredColumns {
		if _, ok := columns[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "missing required columns: %s", strings.Join(missing, ", ")).
			AddMetaValue("missing_columns", missing)
	}
	return columns, nil
}

func toRow(rowNumber int, record []string, columns map[string]int) Row {
	cell := func(name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return normalizers.ApplyChain(record[i], normalizers.CellChain...)
	}

	return Row{
		RowNumber:          rowNumber,
		NodeName:           cell(ColumnNodeName),
		Website:            cell(ColumnWebsite),
		EntityName:         cell(ColumnEntityName),
		NodeCategory:       canonicalEnum(cell(ColumnNodeCategory), categoryNames()),
		Direction:          canonicalEnum(cell(ColumnDirection), directionNames()),
		Notes:              cell(ColumnNotes),
		ConnectTargets:     SplitList(cell(ColumnConnectTargets)),
		ProtocolsSupported: canonicalList(SplitList(cell(ColumnProtocolsSupported)), models.Protocols),
		DataTypesSupported: canonicalList(SplitList(cell(ColumnDataTypesSupported)), models.DataTypes),
	}
}

func (r Row) staging() models.StagingNode {
	return models.StagingNode{
		RowNumber:          r.RowNumber,
		NodeName:           r.NodeName,
		Website:            r.Website,
		EntityName:         r.EntityName,
		NodeCategory:       models.NodeCategory(r.NodeCategory),
		Direction:          models.Direction(r.Direction),
		Notes:              r.Notes,
		ConnectTargets:     nonNil(r.ConnectTargets),
		ProtocolsSupported: nonNil(r.ProtocolsSupported),
		DataTypesSupported: nonNil(r.DataTypesSupported),
		Decision:           models.StagingDecisionPending,
	}
}

func validateRow(row Row) []models.RowError {
	var errs []models.RowError
	for _, issue := range utils.FieldIssues(row) {
		errs = append(errs, models.RowError{
			Row:     row.RowNumber,
			Field:   issue.Field,
			Message: issueMessage(issue),
		})
	}
	if row.Website != "" && normalizers.Domain(row.Website) == "" {
		errs = append(errs, models.RowError{Row: row.RowNumber, Field: ColumnWebsite, Message: "is not a valid website or domain"})
	}
	return errs
}

func issueMessage(issue utils.FieldIssue) string {
	switch issue.Rule {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", issue.Param)
	case "node_category":
		return "must be one of " + strings.Join(categoryNames(), ", ")
	case "direction":
		return "must be one of " + strings.Join(directionNames(), ", ")
	case "protocol":
		return "must be one of " + strings.Join(models.Protocols, ", ")
	case "data_type":
		return "must be one of " + strings.Join(models.DataTypes, ", ")
	}
	return "failed " + issue.Rule
}

// SplitList splits a list cell on ';', '|' or ',' and drops empty items.
func SplitList(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ';' || r == '|' || r == ','
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// canonicalEnum returns the option equal to value ignoring case, or value unchanged.
func canonicalEnum(value string, options []string) string {
	for _, o := range options {
		if strings.EqualFold(o, value) {
			return o
		}
	}
	return value
}

func canonicalList(values, options []string) []string {
	for i, v := range values {
		values[i] = canonicalEnum(v, options)
	}
	return values
}

func categoryNames() []string {
	out := make([]string, 0, len(models.NodeCategories))
	for _, c := range models.NodeCategories {
		out = append(out, string(c))
	}
	return out
}

func directionNames() []string {
	out := make([]string, 0, len(models.Directions))
	for _, d := range models.Directions {
		out = append(out, string(d))
	}
	return out
}

func isEmptyRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
