// Package export renders records into the files users download: the
// cold-call CSV and the HTML-table lead spreadsheet.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tableturnerr/ttcrm/internal/crm"
)

// Mode selects how CSV fields are escaped.
type Mode int

const (
	// ModeLegacy joins fields with commas without any quoting. Fields that
	// contain commas or newlines shift columns; existing consumers depend on
	// this exact output.
	ModeLegacy Mode = iota
	// ModeRFC4180 quotes fields as needed.
	ModeRFC4180
)

func (m Mode) String() string {
	if m == ModeRFC4180 {
		return "rfc4180"
	}
	return "legacy"
}

// ColdCallHeaders is the header row of the cold-call export.
var ColdCallHeaders = []string{"Date", "Company", "Phone", "Recipient", "Outcome", "Interest Level", "Claimed By"}

// ColdCallRow renders one call. Dates are formatted like "Jun 1, 2025" in loc.
func ColdCallRow(c crm.ColdCall, loc *time.Location) []string {
	if loc == nil {
		loc = time.UTC
	}
	var date string
	if !c.Created.IsZero() {
		date = c.Created.In(loc).Format("Jan 2, 2006")
	}
	company := c.CompanyName()
	if company == "" {
		company = "Unknown"
	}
	return []string{
		date,
		company,
		c.PhoneNumber,
		c.Recipients,
		string(c.Outcome),
		strconv.Itoa(c.InterestLevel),
		c.ClaimedByName(),
	}
}

// ColdCallsCSV writes the header and one row per call.
func ColdCallsCSV(w io.Writer, calls []crm.ColdCall, mode Mode, loc *time.Location) error {
	rows := make([][]string, 0, len(calls))
	for _, c := range calls {
		rows = append(rows, ColdCallRow(c, loc))
	}
	return WriteCSV(w, ColdCallHeaders, rows, mode)
}

// ColdCallsFilename names the export of day t.
func ColdCallsFilename(t time.Time) string {
	return "cold-calls-" + t.UTC().Format("2006-01-02") + ".csv"
}

// WriteCSV writes header and rows in mode.
func WriteCSV(w io.Writer, header []string, rows [][]string, mode Mode) error {
	if mode == ModeRFC4180 {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("writing csv header: %w", err)
		}
		if err := cw.WriteAll(rows); err != nil {
			return fmt.Errorf("writing csv rows: %w", err)
		}
		return nil
	}

	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, strings.Join(header, ","))
	for _, r := range rows {
		lines = append(lines, strings.Join(r, ","))
	}
	if _, err := io.WriteString(w, strings.Join(lines, "\n")); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	return nil
}
