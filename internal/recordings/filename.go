package recordings

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultZone is the offset of times embedded in recorder file names.
const DefaultZone = "+05:00"

var filenamePattern = regexp.MustCompile(`^recording_(\d{2}-\d{2}-\d{4})_(\d{2}-\d{2}-\d{2})_(.+)$`)

// Metadata is what is known about a recording before it is uploaded.
type Metadata struct {
	PhoneNumber   string
	RecordingDate time.Time
	Note          string
}

// ParseFilename extracts the phone number and recording time from a file
// named recording_<DD-MM-YYYY>_<HH-MM-SS>_<phone>.<ext>. Times are read in
// loc. ok is false when name does not follow the pattern.
func ParseFilename(name string, loc *time.Location) (meta Metadata, ok bool) {
	if loc == nil {
		loc = time.UTC
	}
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	m := filenamePattern.FindStringSubmatch(base)
	if m == nil {
		return Metadata{}, false
	}
	date, clock, phone := m[1], m[2], m[3]
	t, err := time.ParseInLocation("02-01-2006 15-04-05", date+" "+clock, loc)
	if err != nil {
		return Metadata{}, false
	}
	return Metadata{
		PhoneNumber:   phone,
		RecordingDate: t,
		Note:          fmt.Sprintf("Call on %s at %s", date, strings.ReplaceAll(clock, "-", ":")),
	}, true
}

// Resolve merges the explicit metadata of u with what its file name carries.
// Explicit values win over file name values.
func Resolve(u Upload, loc *time.Location) Metadata {
	meta, _ := ParseFilename(u.Name, loc)
	if u.PhoneNumber != "" {
		meta.PhoneNumber = u.PhoneNumber
	}
	if !u.RecordingDate.IsZero() {
		meta.RecordingDate = u.RecordingDate
	}
	if u.Note != "" {
		meta.Note = u.Note
	}
	return meta
}

var offsetPattern = regexp.MustCompile(`^([+-])(\d{2}):?(\d{2})$`)

// ParseZone accepts a UTC offset such as "+05:00" or an IANA zone name.
func ParseZone(s string) (*time.Location, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		s = DefaultZone
	}
	if m := offsetPattern.FindStringSubmatch(s); m != nil {
		hours, _ := strconv.Atoi(m[2])
		mins, _ := strconv.Atoi(m[3])
		secs := hours*3600 + mins*60
		if m[1] == "-" {
			secs = -secs
		}
		return time.FixedZone(s, secs), nil
	}
	loc, err := time.LoadLocation(s)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", s, err)
	}
	return loc, nil
}
