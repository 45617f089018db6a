package crm

import "fmt"

// NoteState is the lifecycle of a note. The store keeps it as the pair
// is_archived / is_deleted; only three of the four combinations are meaningful.
type NoteState int

const (
	NoteActive NoteState = iota
	NoteArchived
	NoteDeleted
)

func (s NoteState) String() string {
	switch s {
	case NoteActive:
		return "active"
	case NoteArchived:
		return "archived"
	case NoteDeleted:
		return "deleted"
	}
	return fmt.Sprintf("NoteState(%d)", int(s))
}

// ParseNoteState accepts the names returned by String.
func ParseNoteState(s string) (NoteState, error) {
	switch s {
	case "active":
		return NoteActive, nil
	case "archived":
		return NoteArchived, nil
	case "deleted":
		return NoteDeleted, nil
	}
	return 0, invalid("note state", s)
}

// NoteStateFromFlags maps the stored pair to a state. A row that is both
// archived and deleted is treated as deleted.
func NoteStateFromFlags(archived, deleted bool) NoteState {
	switch {
	case deleted:
		return NoteDeleted
	case archived:
		return NoteArchived
	}
	return NoteActive
}

// Flags returns the stored pair for s.
func (s NoteState) Flags() (archived, deleted bool) {
	switch s {
	case NoteArchived:
		return true, false
	case NoteDeleted:
		return false, true
	}
	return false, false
}
