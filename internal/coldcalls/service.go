// Package coldcalls lists, claims and exports analysed cold calls.
package coldcalls

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/tableturnerr/ttcrm/internal/crm"
	"github.com/tableturnerr/ttcrm/internal/export"
	"github.com/tableturnerr/ttcrm/internal/pocketbase"
	"github.com/tableturnerr/ttcrm/internal/view"
)

const (
	defaultPerPage = 20
	expand         = "company,claimed_by"
)

var searchFields = []string{"expand.company.company_name", "phone_number", "owner_name"}

// Query is the filter state of the cold-call list.
type Query struct {
	Search      string
	Outcomes    []crm.CallOutcome
	MinInterest int
	Sort        string
	Desc        bool
	PerPage     int
}

func (q Query) Key() string {
	outcomes := make([]string, len(q.Outcomes))
	for i, o := range q.Outcomes {
		outcomes[i] = string(o)
	}
	return fmt.Sprintf("%s|%s|%d|%s|%t|%d", q.Search, strings.Join(outcomes, ","), q.MinInterest, q.Sort, q.Desc, q.PerPage)
}

// Filter renders the store filter of q.
func (q Query) Filter() string {
	outcomes := make([]string, 0, len(q.Outcomes))
	for _, o := range q.Outcomes {
		outcomes = append(outcomes, pocketbase.Eq("call_outcome", string(o)))
	}
	var interest string
	if q.MinInterest > 0 {
		interest = pocketbase.Gte("interest_level", q.MinInterest)
	}
	return pocketbase.And(
		pocketbase.SearchAny(q.Search, searchFields...),
		pocketbase.Or(outcomes...),
		interest,
	)
}

func (q Query) sort() string {
	if q.Sort == "" {
		return "-created"
	}
	return pocketbase.Sort(q.Sort, q.Desc)
}

func (q Query) validate() error {
	for _, o := range q.Outcomes {
		if err := o.Validate(); err != nil {
			return err
		}
	}
	return crm.ValidateInterest(q.MinInterest)
}

type Service struct {
	store  pocketbase.Records
	auth   *pocketbase.AuthStore
	tokens view.Tokens
	views  *view.Views[crm.ColdCall, Query]
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Service)

// WithLocation sets the zone export dates are rendered in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(store pocketbase.Records, auth *pocketbase.AuthStore, opts ...Option) *Service {
	s := &Service{
		store:  store,
		auth:   auth,
		loc:    time.Local,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.views = view.NewViews("Failed to load cold calls", s.fetch)
	return s
}

// Cached returns the cold calls of the last committed load.
func (s *Service) Cached() *view.List[crm.ColdCall] {
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

// List loads one page of cold calls into the default view. A newer List
// supersedes this one.
func (s *Service) List(ctx context.Context, q Query, page int) (view.Page[crm.ColdCall], error) {
	return s.ListView(ctx, view.DefaultView, q, page)
}

// ListView is List for the client view viewID.
func (s *Service) ListView(ctx context.Context, viewID string, q Query, page int) (view.Page[crm.ColdCall], error) {
	if err := q.validate(); err != nil {
		return view.Page[crm.ColdCall]{}, err
	}
	return s.views.Get(viewID).Load(ctx, q, page)
}

// Fetch reads one page without touching any view.
func (s *Service) Fetch(ctx context.Context, q Query, page int) (view.Page[crm.ColdCall], error) {
	if err := q.validate(); err != nil {
		return view.Page[crm.ColdCall]{}, err
	}
	return view.FetchPage(ctx, s.fetch, q, page)
}

func (s *Service) fetch(ctx context.Context, q Query, page int) (view.Page[crm.ColdCall], error) {
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	var items []crm.ColdCall
	res, err := s.store.List(ctx, crm.ColdCalls, pocketbase.ListOptions{
		Page:    page,
		PerPage: perPage,
		Sort:    q.sort(),
		Filter:  q.Filter(),
		Expand:  expand,
	}, &items)
	if err != nil {
		return view.Page[crm.ColdCall]{}, fmt.Errorf("listing cold calls: %w", err)
	}
	return view.Page[crm.ColdCall]{
		Items:      items,
		Page:       res.Page,
		PerPage:    res.PerPage,
		TotalItems: res.TotalItems,
		TotalPages: res.TotalPages,
	}, nil
}

// Detail is a cold call with its transcript, when one was stored.
type Detail struct {
	Call       crm.ColdCall        `json:"call"`
	Transcript *crm.CallTranscript `json:"transcript,omitempty"`
}

// Get reads one cold call and its transcript. The call is shown without a
// transcript when the transcript lookup fails.
func (s *Service) Get(ctx context.Context, id string) (Detail, error) {
	var d Detail
	if err := s.store.One(ctx, crm.ColdCalls, id, pocketbase.ListOptions{Expand: expand}, &d.Call); err != nil {
		return Detail{}, fmt.Errorf("loading cold call %s: %w", id, err)
	}

	var transcripts []crm.CallTranscript
	_, err := s.store.List(ctx, crm.CallTranscripts, pocketbase.ListOptions{
		Page:    1,
		PerPage: 1,
		Filter:  pocketbase.Eq("call", id),
	}, &transcripts)
	switch {
	case err != nil && !pocketbase.IsNotFound(err):
		s.logger.Warn("transcript lookup failed", "cold_call", id, "error", err)
	case len(transcripts) > 0:
		d.Transcript = &transcripts[0]
	}
	return d, nil
}

// Claim assigns the cold call to the session user.
func (s *Service) Claim(ctx context.Context, id string) (crm.ColdCall, error) {
	var me crm.User
	if err := s.auth.Record(&me); err != nil {
		return crm.ColdCall{}, fmt.Errorf("claiming cold call %s: %w", id, err)
	}
	return s.setClaimer(ctx, id, &me)
}

// Release clears the claim of a cold call.
func (s *Service) Release(ctx context.Context, id string) (crm.ColdCall, error) {
	return s.setClaimer(ctx, id, nil)
}

func (s *Service) setClaimer(ctx context.Context, id string, user *crm.User) (crm.ColdCall, error) {
	var claimer string
	if user != nil {
		claimer = user.ID
	}

	var updated crm.ColdCall
	err := s.tokens.Guard(ctx, view.Key(id, "claimed_by"), func(ctx context.Context) error {
		return s.store.Update(ctx, crm.ColdCalls, id, map[string]any{"claimed_by": claimer}, &updated)
	}, func() {
		s.views.Patch(id, func(c *crm.ColdCall) {
			company := c.Expand.Company
			*c = updated
			c.Expand.Company = company
			c.Expand.ClaimedBy = user
		})
	})
	if err != nil {
		return crm.ColdCall{}, fmt.Errorf("setting claimer of cold call %s: %w", id, err)
	}
	if cached, ok := s.views.Default().List().Get(id); ok {
		return cached, nil
	}
	updated.Expand.ClaimedBy = user
	return updated, nil
}

// Export writes calls as CSV.
func (s *Service) Export(w io.Writer, calls []crm.ColdCall, mode export.Mode) error {
	return export.ColdCallsCSV(w, calls, mode, s.loc)
}

// Filename names an export made now.
func (s *Service) Filename() string {
	return export.ColdCallsFilename(s.now())
}
