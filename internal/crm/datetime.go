package crm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tableturnerr/ttcrm/internal/pocketbase"
)

// DateTime is a store datetime field. The empty string decodes to the zero
// value and the zero value encodes back to the empty string.
type DateTime struct {
	time.Time
}

// At wraps t as a DateTime.
func At(t time.Time) DateTime {
	return DateTime{Time: t}
}

var dateTimeLayouts = []string{
	pocketbase.DateTimeLayout,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.000Z07:00",
	time.RFC3339Nano,
	"2006-01-02",
}

// ParseDateTime accepts the store layout as well as RFC 3339.
func ParseDateTime(s string) (DateTime, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DateTime{}, nil
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateTime{Time: t}, nil
		}
	}
	return DateTime{}, fmt.Errorf("invalid datetime %q", s)
}

// String renders the store layout, or "" for the zero value.
func (d DateTime) String() string {
	if d.IsZero() {
		return ""
	}
	return d.UTC().Format(pocketbase.DateTimeLayout)
}

func (d DateTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *DateTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("datetime must be a string: %w", err)
	}
	parsed, err := ParseDateTime(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
