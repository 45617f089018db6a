package crm

import (
	"errors"
	"fmt"
)

// ErrValidation is wrapped by every locally detected invalid write.
var ErrValidation = errors.New("validation failed")

func invalid(kind, value string) error {
	return fmt.Errorf("%w: invalid %s %q", ErrValidation, kind, value)
}

type CompanyStatus string

const (
	StatusColdNoReply CompanyStatus = "Cold No Reply"
	StatusReplied     CompanyStatus = "Replied"
	StatusWarm        CompanyStatus = "Warm"
	StatusBooked      CompanyStatus = "Booked"
	StatusPaid        CompanyStatus = "Paid"
	StatusClient      CompanyStatus = "Client"
	StatusExcluded    CompanyStatus = "Excluded"
)

// CompanyStatuses lists the pipeline in display order.
var CompanyStatuses = []CompanyStatus{
	StatusColdNoReply, StatusReplied, StatusWarm, StatusBooked, StatusPaid, StatusClient, StatusExcluded,
}

// Valid reports whether s is a known status. The empty status is valid.
func (s CompanyStatus) Valid() bool {
	if s == "" {
		return true
	}
	for _, v := range CompanyStatuses {
		if s == v {
			return true
		}
	}
	return false
}

func (s CompanyStatus) Validate() error {
	if !s.Valid() {
		return invalid("company status", string(s))
	}
	return nil
}

type CallOutcome string

const (
	OutcomeInterested    CallOutcome = "Interested"
	OutcomeNotInterested CallOutcome = "Not Interested"
	OutcomeCallback      CallOutcome = "Callback"
	OutcomeNoAnswer      CallOutcome = "No Answer"
	OutcomeWrongNumber   CallOutcome = "Wrong Number"
	OutcomeOther         CallOutcome = "Other"
)

var CallOutcomes = []CallOutcome{
	OutcomeInterested, OutcomeNotInterested, OutcomeCallback, OutcomeNoAnswer, OutcomeWrongNumber, OutcomeOther,
}

func (o CallOutcome) Valid() bool {
	if o == "" {
		return true
	}
	for _, v := range CallOutcomes {
		if o == v {
			return true
		}
	}
	return false
}

func (o CallOutcome) Validate() error {
	if !o.Valid() {
		return invalid("call outcome", string(o))
	}
	return nil
}

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleMember   Role = "member"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleOperator || r == RoleMember
}

func (r Role) Validate() error {
	if !r.Valid() {
		return invalid("role", string(r))
	}
	return nil
}

type UserStatus string

const (
	UserOnline    UserStatus = "online"
	UserOffline   UserStatus = "offline"
	UserSuspended UserStatus = "suspended"
)

func (s UserStatus) Valid() bool {
	return s == UserOnline || s == UserOffline || s == UserSuspended
}

func (s UserStatus) Validate() error {
	if !s.Valid() {
		return invalid("user status", string(s))
	}
	return nil
}

type NoteType string

const (
	NotePreCall  NoteType = "pre_call"
	NoteResearch NoteType = "research"
	NoteGeneral  NoteType = "general"
)

func (t NoteType) Valid() bool {
	return t == NotePreCall || t == NoteResearch || t == NoteGeneral
}

type Channel string

const (
	ChannelPhone     Channel = "phone"
	ChannelInstagram Channel = "instagram"
	ChannelEmail     Channel = "email"
)

type Direction string

const (
	Outbound Direction = "outbound"
	Inbound  Direction = "inbound"
)

type FollowUpStatus string

const (
	FollowUpPending   FollowUpStatus = "pending"
	FollowUpCompleted FollowUpStatus = "completed"
	FollowUpDismissed FollowUpStatus = "dismissed"
)

func (s FollowUpStatus) Valid() bool {
	return s == FollowUpPending || s == FollowUpCompleted || s == FollowUpDismissed
}

// InterestLevel bounds.
const (
	MinInterest = 0
	MaxInterest = 10
)

// ValidateInterest rejects scores outside 0..10.
func ValidateInterest(n int) error {
	if n < MinInterest || n > MaxInterest {
		return fmt.Errorf("%w: interest level %d outside %d..%d", ErrValidation, n, MinInterest, MaxInterest)
	}
	return nil
}
