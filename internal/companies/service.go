// Package companies manages company records and their child records:
// phone numbers, call logs, pre-call notes, interactions and follow-ups.
package companies

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/tableturnerr/ttcrm/internal/crm"
	"github.com/tableturnerr/ttcrm/internal/outbox"
	"github.com/tableturnerr/ttcrm/internal/pocketbase"
	"github.com/tableturnerr/ttcrm/internal/view"
)

// searchFields are matched by the free-text company search.
var searchFields = []string{"company_name", "owner_name", "phone_numbers", "instagram_handle", "email"}

// Query is the filter state of the company list.
type Query struct {
	Search  string
	Status  crm.CompanyStatus
	Sort    string
	Desc    bool
	PerPage int
}

func (q Query) Key() string {
	return fmt.Sprintf("%s|%s|%s|%t|%d", q.Search, q.Status, q.Sort, q.Desc, q.PerPage)
}

// Filter renders the store filter of q.
func (q Query) Filter() string {
	var status string
	if q.Status != "" {
		status = pocketbase.Eq("status", string(q.Status))
	}
	return pocketbase.And(pocketbase.SearchAny(q.Search, searchFields...), status)
}

func (q Query) sort() string {
	if q.Sort == "" {
		return "-created"
	}
	return pocketbase.Sort(q.Sort, q.Desc)
}

type Service struct {
	store   pocketbase.Records
	auth    *pocketbase.AuthStore
	outbox  *outbox.Outbox
	tokens  view.Tokens
	views   *view.Views[crm.Company, Query]
	perPage int
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Service)

func WithPerPage(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.perPage = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates the service and registers its side-effect handlers on
// ob, so the outbox worker can replay them.
func NewService(store pocketbase.Records, auth *pocketbase.AuthStore, ob *outbox.Outbox, opts ...Option) *Service {
	s := &Service{
		store:   store,
		auth:    auth,
		outbox:  ob,
		perPage: 30,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.views = view.NewViews("Failed to load companies", s.fetch)
	ob.Handle(JobCallSideEffects, s.handleCallSideEffects)
	ob.Handle(JobInteraction, s.handleInteraction)
	return s
}

// Cached returns the company list of the last load.
func (s *Service) Cached() *view.List[crm.Company] {
	return s.views.Default().List()
}

// Banner returns the error message of the last failed list load of view
// viewID, or "".
func (s *Service) Banner(viewID string) string {
	return s.views.Get(viewID).Banner()
}

func (s *Service) DismissBanner(viewID string) {
	s.views.Get(viewID).DismissBanner()
}

// List loads one page of companies into the default view. A newer List
// supersedes this one.
func (s *Service) List(ctx context.Context, q Query, page int) (view.Page[crm.Company], error) {
	return s.views.Default().Load(ctx, q, page)
}

// ListView is List for the client view viewID. Views never supersede each
// other.
func (s *Service) ListView(ctx context.Context, viewID string, q Query, page int) (view.Page[crm.Company], error) {
	return s.views.Get(viewID).Load(ctx, q, page)
}

// Fetch reads one page without touching any view.
func (s *Service) Fetch(ctx context.Context, q Query, page int) (view.Page[crm.Company], error) {
	return view.FetchPage(ctx, s.fetch, q, page)
}

func (s *Service) fetch(ctx context.Context, q Query, page int) (view.Page[crm.Company], error) {
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = s.perPage
	}
	var items []crm.Company
	res, err := s.store.List(ctx, crm.Companies, pocketbase.ListOptions{
		Page:    page,
		PerPage: perPage,
		Sort:    q.sort(),
		Filter:  q.Filter(),
	}, &items)
	if err != nil {
		return view.Page[crm.Company]{}, fmt.Errorf("listing companies: %w", err)
	}
	return view.Page[crm.Company]{
		Items:      items,
		Page:       res.Page,
		PerPage:    res.PerPage,
		TotalItems: res.TotalItems,
		TotalPages: res.TotalPages,
	}, nil
}

// Get reads one company.
func (s *Service) Get(ctx context.Context, id string) (crm.Company, error) {
	var c crm.Company
	if err := s.store.One(ctx, crm.Companies, id, pocketbase.ListOptions{}, &c); err != nil {
		return crm.Company{}, fmt.Errorf("loading company %s: %w", id, err)
	}
	return c, nil
}

// ErrUnknownField is returned for an inline edit of a field that is not
// editable.
var ErrUnknownField = fmt.Errorf("%w: field is not editable", crm.ErrValidation)

// UpdateField writes a single company field and patches the cached list with
// the stored record. When a newer edit of the same field was issued while
// this one was in flight, the response is dropped and view.ErrStale returned.
func (s *Service) UpdateField(ctx context.Context, id, field, value string) (crm.Company, error) {
	if !slices.Contains(crm.CompanyFields, field) {
		return crm.Company{}, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	if field == "status" {
		if err := crm.CompanyStatus(value).Validate(); err != nil {
			return crm.Company{}, err
		}
	}
	if field == "company_name" && value == "" {
		return crm.Company{}, fmt.Errorf("%w: company name is required", crm.ErrValidation)
	}

	var updated crm.Company
	err := s.tokens.Guard(ctx, view.Key(id, field), func(ctx context.Context) error {
		return s.store.Update(ctx, crm.Companies, id, map[string]any{field: value}, &updated)
	}, func() {
		s.views.Patch(id, func(c *crm.Company) { *c = updated })
	})
	if err != nil {
		return crm.Company{}, fmt.Errorf("updating company %s %s: %w", id, field, err)
	}
	return updated, nil
}

// Input holds the fields of a new company.
type Input struct {
	CompanyName    string
	OwnerName      string
	Location       string
	GoogleMapsLink string
	PhoneNumbers   string
	Source         string
	Instagram      string
	Email          string
	Status         crm.CompanyStatus
	Notes          string
	ContactSource  string
}

// Create inserts a company and prepends it to the cached list.
func (s *Service) Create(ctx context.Context, in Input) (crm.Company, error) {
	if in.CompanyName == "" {
		return crm.Company{}, fmt.Errorf("%w: company name is required", crm.ErrValidation)
	}
	if err := in.Status.Validate(); err != nil {
		return crm.Company{}, err
	}
	body := map[string]any{
		"company_name":     in.CompanyName,
		"owner_name":       in.OwnerName,
		"company_location": in.Location,
		"google_maps_link": in.GoogleMapsLink,
		"phone_numbers":    in.PhoneNumbers,
		"source":           in.Source,
		"instagram_handle": in.Instagram,
		"email":            in.Email,
		"status":           string(in.Status),
		"notes":            in.Notes,
		"contact_source":   in.ContactSource,
	}
	var created crm.Company
	if err := s.store.Create(ctx, crm.Companies, body, &created); err != nil {
		return crm.Company{}, fmt.Errorf("creating company: %w", err)
	}
	s.views.Prepend(created)
	return created, nil
}

// PhoneInput holds the fields of a new phone number.
type PhoneInput struct {
	PhoneNumber      string
	Label            string
	LocationName     string
	LocationAddress  string
	ReceptionistName string
}

func (s *Service) AddPhone(ctx context.Context, companyID string, in PhoneInput) (crm.PhoneNumber, error) {
	if in.PhoneNumber == "" {
		return crm.PhoneNumber{}, fmt.Errorf("%w: phone number is required", crm.ErrValidation)
	}
	body := map[string]any{
		"company":           companyID,
		"phone_number":      in.PhoneNumber,
		"label":             in.Label,
		"location_name":     in.LocationName,
		"location_address":  in.LocationAddress,
		"receptionist_name": in.ReceptionistName,
	}
	var created crm.PhoneNumber
	if err := s.store.Create(ctx, crm.PhoneNumbers, body, &created); err != nil {
		return crm.PhoneNumber{}, fmt.Errorf("adding phone to company %s: %w", companyID, err)
	}
	return created, nil
}

// FindPhone returns the phone_numbers record with the exact number.
func (s *Service) FindPhone(ctx context.Context, number string) (crm.PhoneNumber, error) {
	var p crm.PhoneNumber
	err := s.store.FirstListItem(ctx, crm.PhoneNumbers, pocketbase.ListOptions{Filter: pocketbase.Eq("phone_number", number)}, &p)
	if err != nil {
		return crm.PhoneNumber{}, fmt.Errorf("finding phone %s: %w", number, err)
	}
	return p, nil
}

// AddNote stores a pre-call note and logs an interaction for it through the
// outbox.
func (s *Service) AddNote(ctx context.Context, companyID, phoneID, content string) (crm.CompanyNote, outbox.Receipt, error) {
	if content == "" {
		return crm.CompanyNote{}, outbox.Receipt{}, fmt.Errorf("%w: note content is required", crm.ErrValidation)
	}
	body := map[string]any{
		"company":             companyID,
		"phone_number_record": phoneID,
		"note_type":           string(crm.NotePreCall),
		"content":             content,
		"created_by":          s.auth.UserID(),
	}
	var note crm.CompanyNote
	if err := s.store.Create(ctx, crm.CompanyNotes, body, &note); err != nil {
		return crm.CompanyNote{}, outbox.Receipt{}, fmt.Errorf("adding note to company %s: %w", companyID, err)
	}

	rc, err := s.outbox.Submit(ctx, JobInteraction, interactionPayload{
		ID:        crm.DerivedID("note_interaction", note.ID),
		Company:   companyID,
		Channel:   crm.ChannelEmail,
		Direction: crm.Outbound,
		Timestamp: crm.At(s.now()),
		User:      s.auth.UserID(),
		Summary:   "Added pre-call note: " + truncate(content, summaryLength) + "...",
	})
	if err != nil {
		return note, outbox.Receipt{}, fmt.Errorf("queueing note interaction: %w", err)
	}
	return note, rc, nil
}

// FollowUpInput holds the fields of a new follow-up.
type FollowUpInput struct {
	CallLog        string
	ScheduledTime  time.Time
	ClientTimezone string
	AssignedTo     string
	Notes          string
}

// ScheduleFollowUp creates a pending follow-up. It is assigned to the
// session user unless AssignedTo is set.
func (s *Service) ScheduleFollowUp(ctx context.Context, companyID string, in FollowUpInput) (crm.FollowUp, error) {
	if in.ScheduledTime.IsZero() {
		return crm.FollowUp{}, fmt.Errorf("%w: scheduled time is required", crm.ErrValidation)
	}
	assignee := in.AssignedTo
	if assignee == "" {
		assignee = s.auth.UserID()
	}
	body := map[string]any{
		"call_log":        in.CallLog,
		"company":         companyID,
		"scheduled_time":  crm.At(in.ScheduledTime),
		"client_timezone": in.ClientTimezone,
		"assigned_to":     assignee,
		"notes":           in.Notes,
		"status":          string(crm.FollowUpPending),
	}
	var f crm.FollowUp
	if err := s.store.Create(ctx, crm.FollowUps, body, &f); err != nil {
		return crm.FollowUp{}, fmt.Errorf("scheduling follow-up for company %s: %w", companyID, err)
	}
	return f, nil
}

// CompleteFollowUp marks a follow-up completed now.
func (s *Service) CompleteFollowUp(ctx context.Context, id string) (crm.FollowUp, error) {
	return s.closeFollowUp(ctx, id, crm.FollowUpCompleted)
}

// DismissFollowUp drops a follow-up without completing it.
func (s *Service) DismissFollowUp(ctx context.Context, id string) (crm.FollowUp, error) {
	return s.closeFollowUp(ctx, id, crm.FollowUpDismissed)
}

func (s *Service) closeFollowUp(ctx context.Context, id string, status crm.FollowUpStatus) (crm.FollowUp, error) {
	body := map[string]any{"status": string(status)}
	if status == crm.FollowUpCompleted {
		body["completed_at"] = crm.At(s.now())
	}
	var f crm.FollowUp
	if err := s.store.Update(ctx, crm.FollowUps, id, body, &f); err != nil {
		return crm.FollowUp{}, fmt.Errorf("marking follow-up %s %s: %w", id, status, err)
	}
	return f, nil
}

const summaryLength = 50

// truncate returns the first n runes of s.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func isDuplicateID(err error) bool {
	var re *pocketbase.ResponseError
	if !errors.As(err, &re) {
		return false
	}
	_, ok := re.Data["id"]
	return re.Status == 400 && ok
}
