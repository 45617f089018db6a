package crm

import (
	"crypto/sha256"
	"encoding/hex"
)

// Collection names in the record store.
const (
	Users           = "users"
	Companies       = "companies"
	ColdCalls       = "cold_calls"
	CallTranscripts = "call_transcripts"
	EventLogs       = "event_logs"
	InstaActors     = "insta_actors"
	Notes           = "notes"
	PhoneNumbers    = "phone_numbers"
	CallLogs        = "call_logs"
	FollowUps       = "follow_ups"
	CompanyNotes    = "company_notes"
	Interactions    = "interactions"
	Recordings      = "recordings"
)

// Record holds the fields every stored record carries.
type Record struct {
	ID             string   `json:"id"`
	CollectionName string   `json:"collectionName,omitempty"`
	Created        DateTime `json:"created"`
	Updated        DateTime `json:"updated"`
}

// RecordID returns the record id. Every model embeds Record, so this lets
// generic code key lists by id.
func (r Record) RecordID() string { return r.ID }

type User struct {
	Record
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Role         Role       `json:"role"`
	Status       UserStatus `json:"status"`
	LastActivity DateTime   `json:"last_activity"`
}

type Company struct {
	Record
	CompanyName    string        `json:"company_name"`
	OwnerName      string        `json:"owner_name,omitempty"`
	Location       string        `json:"company_location,omitempty"`
	GoogleMapsLink string        `json:"google_maps_link,omitempty"`
	PhoneNumbers   string        `json:"phone_numbers,omitempty"`
	Source         string        `json:"source,omitempty"`
	Instagram      string        `json:"instagram_handle,omitempty"`
	Email          string        `json:"email,omitempty"`
	Status         CompanyStatus `json:"status,omitempty"`
	FirstContacted DateTime      `json:"first_contacted"`
	LastContacted  DateTime      `json:"last_contacted"`
	Notes          string        `json:"notes,omitempty"`
	ContactSource  string        `json:"contact_source,omitempty"`
}

// CompanyFields are the inline-editable company fields.
var CompanyFields = []string{
	"company_name", "owner_name", "company_location", "google_maps_link", "phone_numbers",
	"source", "instagram_handle", "email", "status", "notes", "contact_source",
}

type ColdCall struct {
	Record
	Company          string      `json:"company"`
	CallerName       string      `json:"caller_name"`
	Recipients       string      `json:"recipients"`
	Outcome          CallOutcome `json:"call_outcome"`
	InterestLevel    int         `json:"interest_level"`
	Objections       []string    `json:"objections"`
	PainPoints       []string    `json:"pain_points"`
	FollowUpActions  []string    `json:"follow_up_actions"`
	Summary          string      `json:"call_summary"`
	DurationEstimate string      `json:"call_duration_estimate,omitempty"`
	ModelUsed        string      `json:"model_used,omitempty"`
	PhoneNumber      string      `json:"phone_number"`
	OwnerName        string      `json:"owner_name"`
	ClaimedBy        string      `json:"claimed_by"`
	Expand           struct {
		Company   *Company `json:"company,omitempty"`
		ClaimedBy *User    `json:"claimed_by,omitempty"`
	} `json:"expand"`
}

// CompanyName returns the expanded company name, or "".
func (c ColdCall) CompanyName() string {
	if c.Expand.Company != nil {
		return c.Expand.Company.CompanyName
	}
	return ""
}

// ClaimedByName returns the expanded claimer's name, or "".
func (c ColdCall) ClaimedByName() string {
	if c.Expand.ClaimedBy != nil {
		return c.Expand.ClaimedBy.Name
	}
	return ""
}

type CallTranscript struct {
	Record
	Call       string `json:"call"`
	Transcript string `json:"transcript"`
}

type Recording struct {
	Record
	PhoneNumber       string   `json:"phone_number"`
	Uploader          string   `json:"uploader"`
	File              string   `json:"file"`
	Note              string   `json:"note"`
	RecordingDate     DateTime `json:"recording_date"`
	Duration          float64  `json:"duration"`
	CallLog           string   `json:"call_log"`
	Company           string   `json:"company"`
	PhoneNumberRecord string   `json:"phone_number_record"`
	Expand            struct {
		Uploader          *User        `json:"uploader,omitempty"`
		Company           *Company     `json:"company,omitempty"`
		PhoneNumberRecord *PhoneNumber `json:"phone_number_record,omitempty"`
	} `json:"expand"`
}

type Note struct {
	Record
	Title        string   `json:"title"`
	Text         string   `json:"note_text"`
	CreatedBy    string   `json:"created_by"`
	LastEditedBy string   `json:"last_edited_by"`
	IsArchived   bool     `json:"is_archived"`
	IsDeleted    bool     `json:"is_deleted"`
	DeletedAt    DateTime `json:"deleted_at"`
	Expand       struct {
		CreatedBy *User `json:"created_by,omitempty"`
	} `json:"expand"`
}

// State returns the lifecycle state, normalizing the archived+deleted pair.
func (n Note) State() NoteState {
	return NoteStateFromFlags(n.IsArchived, n.IsDeleted)
}

type PhoneNumber struct {
	Record
	Company          string   `json:"company"`
	PhoneNumber      string   `json:"phone_number"`
	Label            string   `json:"label,omitempty"`
	LocationName     string   `json:"location_name,omitempty"`
	LocationAddress  string   `json:"location_address,omitempty"`
	ReceptionistName string   `json:"receptionist_name,omitempty"`
	LastCalled       DateTime `json:"last_called"`
}

type CallLog struct {
	Record
	Company           string        `json:"company"`
	PhoneNumberRecord string        `json:"phone_number_record"`
	Caller            string        `json:"caller"`
	CallTime          DateTime      `json:"call_time"`
	Duration          float64       `json:"duration"`
	Outcome           CallOutcome   `json:"call_outcome"`
	OwnerNameFound    string        `json:"owner_name_found"`
	ReceptionistName  string        `json:"receptionist_name"`
	PostCallNotes     string        `json:"post_call_notes"`
	InterestLevel     int           `json:"interest_level"`
	StatusChangedTo   CompanyStatus `json:"status_changed_to"`
	HasRecording      bool          `json:"has_recording"`
	Expand            struct {
		PhoneNumberRecord *PhoneNumber `json:"phone_number_record,omitempty"`
		Caller            *User        `json:"caller,omitempty"`
	} `json:"expand"`
}

type CompanyNote struct {
	Record
	Company           string   `json:"company"`
	PhoneNumberRecord string   `json:"phone_number_record,omitempty"`
	NoteType          NoteType `json:"note_type"`
	Content           string   `json:"content"`
	CreatedBy         string   `json:"created_by"`
	Expand            struct {
		CreatedBy *User `json:"created_by,omitempty"`
	} `json:"expand"`
}

type Interaction struct {
	Record
	Company   string    `json:"company"`
	Channel   Channel   `json:"channel"`
	Direction Direction `json:"direction"`
	Timestamp DateTime  `json:"timestamp"`
	User      string    `json:"user"`
	Summary   string    `json:"summary"`
	CallLog   string    `json:"call_log"`
	Expand    struct {
		User *User `json:"user,omitempty"`
	} `json:"expand"`
}

type FollowUp struct {
	Record
	CallLog        string         `json:"call_log"`
	Company        string         `json:"company"`
	ScheduledTime  DateTime       `json:"scheduled_time"`
	ClientTimezone string         `json:"client_timezone"`
	AssignedTo     string         `json:"assigned_to"`
	Notes          string         `json:"notes"`
	Status         FollowUpStatus `json:"status"`
	CompletedAt    DateTime       `json:"completed_at"`
}

type EventLog struct {
	Record
	EventType string `json:"event_type"`
	Actor     string `json:"actor"`
	User      string `json:"user"`
	Company   string `json:"company"`
	ColdCall  string `json:"cold_call"`
	Details   string `json:"details"`
	Source    string `json:"source"`
}

// EventOutreach is the event_type of an outbound DM.
const EventOutreach = "Outreach"

type InstaActor struct {
	Record
	Username     string   `json:"username"`
	Owner        string   `json:"owner"`
	Status       string   `json:"status"`
	LastActivity DateTime `json:"last_activity"`
	Expand       struct {
		Owner *User `json:"owner,omitempty"`
	} `json:"expand"`
}

// idAlphabet-compatible ids are 15 lowercase alphanumerics.
const idLength = 15

// DerivedID returns a stable record id for a record that is the side effect
// of another record, so replaying the side effect never creates a duplicate.
func DerivedID(kind, sourceID string) string {
	sum := sha256.Sum256([]byte(kind + ":" + sourceID))
	return hex.EncodeToString(sum[:])[:idLength]
}
