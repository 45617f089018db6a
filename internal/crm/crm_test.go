package crm

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDateTime_RoundTripsStoreLayout(t *testing.T) {
	var rec struct {
		At    DateTime `json:"at"`
		Empty DateTime `json:"empty"`
	}
	if err := json.Unmarshal([]byte(`{"at":"2025-01-02 03:04:05.678Z","empty":""}`), &rec); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	want := time.Date(2025, 1, 2, 3, 4, 5, 678000000, time.UTC)
	if !rec.At.Equal(want) {
		t.Errorf("At = %v, want %v", rec.At, want)
	}
	if !rec.Empty.IsZero() {
		t.Errorf("Empty = %v, want zero", rec.Empty)
	}

	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"at":"2025-01-02 03:04:05.678Z","empty":""}` {
		t.Errorf("Marshal = %s", b)
	}
}

func TestParseDateTime_AcceptsRFC3339(t *testing.T) {
	d, err := ParseDateTime("2025-06-01T10:00:00+05:00")
	if err != nil {
		t.Fatalf("ParseDateTime: %v", err)
	}
	if got := d.String(); got != "2025-06-01 05:00:00.000Z" {
		t.Errorf("String = %q", got)
	}
	if _, err := ParseDateTime("yesterday"); err == nil {
		t.Error("expected error for free text")
	}
}

func TestNoteStateFromFlags(t *testing.T) {
	tests := []struct {
		archived, deleted bool
		want              NoteState
	}{
		{false, false, NoteActive},
		{true, false, NoteArchived},
		{false, true, NoteDeleted},
		{true, true, NoteDeleted},
	}
	for _, tt := range tests {
		if got := NoteStateFromFlags(tt.archived, tt.deleted); got != tt.want {
			t.Errorf("NoteStateFromFlags(%v, %v) = %v, want %v", tt.archived, tt.deleted, got, tt.want)
		}
	}
	for _, s := range []NoteState{NoteActive, NoteArchived, NoteDeleted} {
		a, d := s.Flags()
		if a && d {
			t.Errorf("%v.Flags() produced both flags", s)
		}
		if NoteStateFromFlags(a, d) != s {
			t.Errorf("%v does not round-trip through Flags", s)
		}
		parsed, err := ParseNoteState(s.String())
		if err != nil || parsed != s {
			t.Errorf("ParseNoteState(%q) = %v, %v", s.String(), parsed, err)
		}
	}
}

func TestEnumValidation(t *testing.T) {
	if err := CompanyStatus("Warm").Validate(); err != nil {
		t.Errorf("Warm: %v", err)
	}
	if err := CompanyStatus("").Validate(); err != nil {
		t.Errorf("empty status: %v", err)
	}
	if err := CompanyStatus("Lukewarm").Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("Lukewarm err = %v, want ErrValidation", err)
	}
	if err := CallOutcome("Busy").Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("Busy err = %v, want ErrValidation", err)
	}
	if err := Role("owner").Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("owner err = %v, want ErrValidation", err)
	}
	if err := UserStatus("away").Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("away err = %v, want ErrValidation", err)
	}
	if err := ValidateInterest(11); !errors.Is(err, ErrValidation) {
		t.Errorf("interest 11 err = %v, want ErrValidation", err)
	}
	if err := ValidateInterest(0); err != nil {
		t.Errorf("interest 0: %v", err)
	}
}

func TestDerivedID(t *testing.T) {
	a := DerivedID("interaction", "call123")
	if len(a) != 15 {
		t.Fatalf("len = %d, want 15", len(a))
	}
	if a != DerivedID("interaction", "call123") {
		t.Error("DerivedID is not stable")
	}
	if a == DerivedID("interaction", "call124") {
		t.Error("different sources produced the same id")
	}
}

func TestColdCall_ExpandHelpers(t *testing.T) {
	var c ColdCall
	if err := json.Unmarshal([]byte(`{"id":"c1","expand":{"company":{"id":"co","company_name":"Acme Co"},"claimed_by":{"id":"u","name":"Ana"}}}`), &c); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if c.CompanyName() != "Acme Co" || c.ClaimedByName() != "Ana" {
		t.Errorf("expand = %q/%q", c.CompanyName(), c.ClaimedByName())
	}
	if (ColdCall{}).CompanyName() != "" {
		t.Error("unexpanded company name should be empty")
	}
}
