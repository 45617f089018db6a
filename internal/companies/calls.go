package companies

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tableturnerr/ttcrm/internal/crm"
	"github.com/tableturnerr/ttcrm/internal/pocketbase"
)

// Outbox job types handled by this package.
const (
	JobCallSideEffects = "call_side_effects"
	JobInteraction     = "interaction"
)

// CallInput describes a finished call.
type CallInput struct {
	CallTime         time.Time
	Duration         float64 // seconds
	Outcome          crm.CallOutcome
	OwnerNameFound   string
	ReceptionistName string
	Notes            string
	InterestLevel    int
	StatusChangedTo  crm.CompanyStatus
	HasRecording     bool
}

func (in CallInput) validate() error {
	if in.Outcome == "" {
		return fmt.Errorf("%w: call outcome is required", crm.ErrValidation)
	}
	if err := in.Outcome.Validate(); err != nil {
		return err
	}
	if err := crm.ValidateInterest(in.InterestLevel); err != nil {
		return err
	}
	return in.StatusChangedTo.Validate()
}

// LogCallResult is the outcome of LogCall. The call log always exists when
// LogCall returns without error; Pending reports side effects left to the
// outbox worker.
type LogCallResult struct {
	CallLog   crm.CallLog `json:"call_log"`
	JobID     string      `json:"job_id"`
	Pending   bool        `json:"pending"`
	LastError string      `json:"last_error,omitempty"`
}

// callSideEffects is the outbox payload of a logged call.
type callSideEffects struct {
	CallLog         string            `json:"call_log"`
	Company         string            `json:"company"`
	Phone           string            `json:"phone,omitempty"`
	CallTime        crm.DateTime      `json:"call_time"`
	Receptionist    string            `json:"receptionist,omitempty"`
	User            string            `json:"user"`
	Summary         string            `json:"summary"`
	StatusChangedTo crm.CompanyStatus `json:"status_changed_to,omitempty"`
}

type interactionPayload struct {
	ID        string        `json:"id"`
	Company   string        `json:"company"`
	Channel   crm.Channel   `json:"channel"`
	Direction crm.Direction `json:"direction"`
	Timestamp crm.DateTime  `json:"timestamp"`
	User      string        `json:"user"`
	Summary   string        `json:"summary"`
	CallLog   string        `json:"call_log,omitempty"`
}

// CallSummary renders the interaction summary of a call.
func CallSummary(outcome crm.CallOutcome, notes string) string {
	return fmt.Sprintf("Call: %s - %s...", outcome, truncate(notes, summaryLength))
}

// LogCall records a call against a company and one of its phone numbers.
// The call log is written first; the phone update, the interaction and the
// optional company status change are then run through the outbox, inline
// first and by the worker after a failure.
func (s *Service) LogCall(ctx context.Context, companyID, phoneID string, in CallInput) (LogCallResult, error) {
	if err := in.validate(); err != nil {
		return LogCallResult{}, err
	}
	if in.CallTime.IsZero() {
		in.CallTime = s.now()
	}
	user := s.auth.UserID()

	body := map[string]any{
		"company":             companyID,
		"phone_number_record": phoneID,
		"caller":              user,
		"call_time":           crm.At(in.CallTime),
		"duration":            in.Duration,
		"call_outcome":        string(in.Outcome),
		"owner_name_found":    in.OwnerNameFound,
		"receptionist_name":   in.ReceptionistName,
		"post_call_notes":     in.Notes,
		"interest_level":      in.InterestLevel,
		"status_changed_to":   string(in.StatusChangedTo),
		"has_recording":       in.HasRecording,
	}
	var log crm.CallLog
	if err := s.store.Create(ctx, crm.CallLogs, body, &log); err != nil {
		return LogCallResult{}, fmt.Errorf("creating call log: %w", err)
	}

	rc, err := s.outbox.Submit(ctx, JobCallSideEffects, callSideEffects{
		CallLog:         log.ID,
		Company:         companyID,
		Phone:           phoneID,
		CallTime:        crm.At(in.CallTime),
		Receptionist:    in.ReceptionistName,
		User:            user,
		Summary:         CallSummary(in.Outcome, in.Notes),
		StatusChangedTo: in.StatusChangedTo,
	})
	if err != nil {
		return LogCallResult{CallLog: log}, fmt.Errorf("queueing side effects of call %s: %w", log.ID, err)
	}

	res := LogCallResult{CallLog: log, JobID: rc.JobID, Pending: rc.Pending}
	if rc.LastError != nil {
		res.LastError = rc.LastError.Error()
		s.logger.Warn("call side effects deferred", "call_log", log.ID, "job_id", rc.JobID, "error", rc.LastError)
	}
	return res, nil
}

// handleCallSideEffects applies every sibling write of a logged call. Each
// step is idempotent so a replay after a partial failure converges.
func (s *Service) handleCallSideEffects(ctx context.Context, raw json.RawMessage) error {
	var p callSideEffects
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	if p.Phone != "" {
		body := map[string]any{"last_called": p.CallTime}
		if p.Receptionist != "" {
			body["receptionist_name"] = p.Receptionist
		}
		if err := s.store.Update(ctx, crm.PhoneNumbers, p.Phone, body, nil); err != nil {
			return fmt.Errorf("updating phone %s: %w", p.Phone, err)
		}
	}

	err := s.createInteractionOnce(ctx, interactionPayload{
		ID:        crm.DerivedID("call_interaction", p.CallLog),
		Company:   p.Company,
		Channel:   crm.ChannelPhone,
		Direction: crm.Outbound,
		Timestamp: p.CallTime,
		User:      p.User,
		Summary:   p.Summary,
		CallLog:   p.CallLog,
	})
	if err != nil {
		return err
	}

	if p.StatusChangedTo != "" {
		var updated crm.Company
		body := map[string]any{"status": string(p.StatusChangedTo), "last_contacted": p.CallTime}
		if err := s.store.Update(ctx, crm.Companies, p.Company, body, &updated); err != nil {
			return fmt.Errorf("updating company %s status: %w", p.Company, err)
		}
		s.views.Patch(p.Company, func(c *crm.Company) { *c = updated })
	}
	return nil
}

func (s *Service) handleInteraction(ctx context.Context, raw json.RawMessage) error {
	var p interactionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	return s.createInteractionOnce(ctx, p)
}

// createInteractionOnce creates the interaction with its derived id unless a
// previous attempt already did.
func (s *Service) createInteractionOnce(ctx context.Context, p interactionPayload) error {
	err := s.store.One(ctx, crm.Interactions, p.ID, pocketbase.ListOptions{Fields: "id"}, nil)
	if err == nil {
		return nil
	}
	if !pocketbase.IsNotFound(err) {
		return fmt.Errorf("checking interaction %s: %w", p.ID, err)
	}
	if err := s.store.Create(ctx, crm.Interactions, p, nil); err != nil {
		if isDuplicateID(err) {
			return nil
		}
		return fmt.Errorf("creating interaction: %w", err)
	}
	return nil
}
