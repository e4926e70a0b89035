// CLAUDE:SUMMARY Parses bill-of-materials CSV exports into ordered Component descriptors.
// Package bom reads a tabular bill of materials and produces one Component
// per data row, in row order.
//
// Header names are matched case- and space-insensitively, and the aliases
// used by design-tool exports (Aurora, Helioscope, distributor quotes) are
// accepted alongside the canonical Part Name / Part Number / Manufacturer /
// Qty columns.
//
// Usage:
//
//	comps, err := bom.ParseFile("project/bom.csv")
package bom

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Component is one BOM row. RowIndex is 1-based and assigned by position
// among data rows, never taken from the data.
type Component struct {
	RowIndex     int    `json:"row_index"`
	PartName     string `json:"part_name"`
	PartNumber   string `json:"part_number"`
	Manufacturer string `json:"manufacturer"`
	Quantity     int    `json:"quantity"`
}

// Label returns the most human-readable identifier of the component.
func (c Component) Label() string {
	switch {
	case c.PartName != "":
		return c.PartName
	case c.PartNumber != "":
		return c.PartNumber
	default:
		return fmt.Sprintf("row %d", c.RowIndex)
	}
}

// ErrInputNotFound is returned when the BOM file does not exist.
var ErrInputNotFound = errors.New("bom: input not found")

// ParseError reports an unreadable or malformed BOM.
type ParseError struct {
	Path string // empty when parsing from a reader
	Line int    // 0 when not tied to a line
	Err  error
}

func (e *ParseError) Error() string {
	where := e.Path
	if where == "" {
		where = "bom"
	}
	if e.Line > 0 {
		return fmt.Sprintf("bom: parse %s line %d: %v", where, e.Line, e.Err)
	}
	return fmt.Sprintf("bom: parse %s: %v", where, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type field int

const (
	fieldName field = iota
	fieldNumber
	fieldManufacturer
	fieldQty
)

// headerAliases maps normalised header text to a logical column.
var headerAliases = map[string]field{
	"part name":    fieldName,
	"component":    fieldName,
	"description":  fieldName,
	"item":         fieldName,
	"part number":  fieldNumber,
	"part no":      fieldNumber,
	"part #":       fieldNumber,
	"model":        fieldNumber,
	"model number": fieldNumber,
	"sku":          fieldNumber,
	"manufacturer": fieldManufacturer,
	"make":         fieldManufacturer,
	"brand":        fieldManufacturer,
	"mfr":          fieldManufacturer,
	"qty":          fieldQty,
	"quantity":     fieldQty,
	"count":        fieldQty,
}

// ParseFile opens path and parses it as a BOM.
func ParseFile(path string) ([]Component, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrInputNotFound, path)
		}
		return nil, &ParseError{Path: path, Err: err}
	}
	defer f.Close()

	comps, err := Parse(f)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return nil, err
	}
	return comps, nil
}

// Parse reads a CSV BOM with a header row. Completely empty lines are not
// data rows. Field content is not validated: a non-numeric quantity
// becomes 1, a negative one is kept as-is.
func Parse(r io.Reader) ([]Component, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, &ParseError{Err: errors.New("missing header row")}
	}
	if err != nil {
		return nil, &ParseError{Line: lineOf(err), Err: err}
	}

	cols := mapHeader(header)
	if len(cols) == 0 {
		return nil, &ParseError{Line: 1, Err: fmt.Errorf("no recognised columns in header %q", header)}
	}

	var comps []Component
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ParseError{Line: lineOf(err), Err: err}
		}
		comps = append(comps, buildComponent(len(comps)+1, row, cols))
	}
	return comps, nil
}

// mapHeader returns logical column → cell index. The first matching
// header wins when an export repeats a column.
func mapHeader(header []string) map[field]int {
	cols := make(map[field]int, 4)
	for i, h := range header {
		f, ok := headerAliases[normalizeHeader(h)]
		if !ok {
			continue
		}
		if _, seen := cols[f]; !seen {
			cols[f] = i
		}
	}
	return cols
}

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, "_", " ")
	return strings.Join(strings.Fields(h), " ")
}

func buildComponent(index int, row []string, cols map[field]int) Component {
	cell := func(f field) string {
		i, ok := cols[f]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	return Component{
		RowIndex:     index,
		PartName:     cell(fieldName),
		PartNumber:   cell(fieldNumber),
		Manufacturer: cell(fieldManufacturer),
		Quantity:     parseQty(cell(fieldQty)),
	}
}

func parseQty(s string) int {
	if s == "" {
		return 1
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	// Spreadsheet exports write whole numbers as "2.0".
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	return 1
}

func lineOf(err error) int {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return pe.Line
	}
	return 0
}
