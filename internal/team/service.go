// Package team manages workspace users and Instagram actors and reports
// their activity.
package team

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tableturnerr/ttcrm/internal/crm"
	"github.com/tableturnerr/ttcrm/internal/pocketbase"
	"github.com/tableturnerr/ttcrm/internal/stats"
	"github.com/tableturnerr/ttcrm/internal/view"
)

// ErrSelfModification is returned when a user tries to change their own
// role or status.
var ErrSelfModification = fmt.Errorf("%w: you cannot change your own role or status", crm.ErrValidation)

const (
	userLimit  = 50
	actorLimit = 100
)

// Member is a user with their activity counts.
type Member struct {
	crm.User
	Calls      int       `json:"calls"`
	DMs        int       `json:"dms"`
	LastActive time.Time `json:"last_active"`

	lastCall time.Time
	lastDM   time.Time
}

// Actor is an Instagram actor with the number of DMs it sent to companies.
type Actor struct {
	crm.InstaActor
	OwnerName string `json:"owner_name"`
	DMs       int    `json:"dms"`
}

type Service struct {
	store  pocketbase.Records
	list   *view.List[crm.User]
	limit  int
	logger *slog.Logger
}

type Option func(*Service)

// WithConcurrency bounds the number of rows whose stats load at once.
func WithConcurrency(n int) Option {
	return func(s *Service) { s.limit = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(store pocketbase.Records, opts ...Option) *Service {
	s := &Service{
		store:  store,
		list:   view.NewList[crm.User](),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cached returns the users of the last listing.
func (s *Service) Cached() *view.List[crm.User] {
	return s.list
}

func outreachBy(field, id string) string {
	return pocketbase.And(pocketbase.Eq(field, id), pocketbase.Eq("event_type", crm.EventOutreach))
}

// ListWithStats returns the users sorted by name with their claimed calls,
// sent DMs and last activity. A failing count is reported as 0.
func (s *Service) ListWithStats(ctx context.Context) ([]Member, error) {
	var users []crm.User
	_, err := s.store.List(ctx, crm.Users, pocketbase.ListOptions{Page: 1, PerPage: userLimit, Sort: "name"}, &users)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	s.list.Replace(users)

	members, err := stats.Collect(ctx, users, stats.Options{Limit: s.limit, Logger: s.logger},
		func(u crm.User) Member { return Member{User: u} },
		stats.CountStep(s.store, "calls", crm.ColdCalls,
			func(u crm.User) string { return pocketbase.Eq("claimed_by", u.ID) },
			func(m *Member, n int) { m.Calls = n }),
		stats.CountStep(s.store, "dms", crm.EventLogs,
			func(u crm.User) string { return outreachBy("user", u.ID) },
			func(m *Member, n int) { m.DMs = n }),
		s.latestStep("last_call", crm.ColdCalls,
			func(u crm.User) string { return pocketbase.Eq("claimed_by", u.ID) },
			func(m *Member, t time.Time) { m.lastCall = t }),
		s.latestStep("last_dm", crm.EventLogs,
			func(u crm.User) string { return outreachBy("user", u.ID) },
			func(m *Member, t time.Time) { m.lastDM = t }),
	)
	if err != nil {
		return nil, err
	}
	for i := range members {
		m := &members[i]
		m.LastActive = stats.LastActivity(m.Updated.Time, m.Created.Time, m.LastActivity.Time, m.lastCall, m.lastDM)
	}
	return members, nil
}

// latestStep finds the creation time of the newest record matching filter.
func (s *Service) latestStep(name, collection string, filter func(crm.User) string, set func(*Member, time.Time)) stats.Step[crm.User, Member] {
	return stats.Step[crm.User, Member]{
		Name: name,
		Run: func(ctx context.Context, u crm.User, m *Member) error {
			var recs []crm.Record
			_, err := s.store.List(ctx, collection, pocketbase.ListOptions{
				Page: 1, PerPage: 1, Sort: "-created", Filter: filter(u), Fields: "id,created",
			}, &recs)
			if err != nil {
				return err
			}
			if len(recs) > 0 {
				set(m, recs[0].Created.Time)
			}
			return nil
		},
	}
}

// ActorsWithStats returns the Instagram actors, most recently active first,
// with the number of DMs each sent to a company.
func (s *Service) ActorsWithStats(ctx context.Context) ([]Actor, error) {
	var actors []crm.InstaActor
	_, err := s.store.List(ctx, crm.InstaActors, pocketbase.ListOptions{
		Page: 1, PerPage: actorLimit, Sort: "-last_activity", Expand: "owner",
	}, &actors)
	if err != nil {
		return nil, fmt.Errorf("listing actors: %w", err)
	}

	return stats.Collect(ctx, actors, stats.Options{Limit: s.limit, Logger: s.logger},
		func(a crm.InstaActor) Actor {
			owner := "Unassigned"
			if a.Expand.Owner != nil && a.Expand.Owner.Name != "" {
				owner = a.Expand.Owner.Name
			}
			return Actor{InstaActor: a, OwnerName: owner}
		},
		stats.CountStep(s.store, "dms", crm.EventLogs,
			func(a crm.InstaActor) string {
				return pocketbase.And(outreachBy("actor", a.ID), pocketbase.Neq("company", ""))
			},
			func(a *Actor, n int) { a.DMs = n }),
	)
}

// SetRole changes the role of userID on behalf of actor.
func (s *Service) SetRole(ctx context.Context, actor, userID string, role crm.Role) (crm.User, error) {
	if actor == userID {
		return crm.User{}, ErrSelfModification
	}
	if err := role.Validate(); err != nil {
		return crm.User{}, err
	}
	return s.update(ctx, userID, map[string]any{"role": string(role)})
}

// SetStatus changes the status of userID on behalf of actor.
func (s *Service) SetStatus(ctx context.Context, actor, userID string, status crm.UserStatus) (crm.User, error) {
	if actor == userID {
		return crm.User{}, ErrSelfModification
	}
	if err := status.Validate(); err != nil {
		return crm.User{}, err
	}
	return s.update(ctx, userID, map[string]any{"status": string(status)})
}

// ToggleSuspend suspends userID, or lifts the suspension to offline.
func (s *Service) ToggleSuspend(ctx context.Context, actor, userID string) (crm.User, error) {
	if actor == userID {
		return crm.User{}, ErrSelfModification
	}
	u, ok := s.list.Get(userID)
	if !ok {
		if err := s.store.One(ctx, crm.Users, userID, pocketbase.ListOptions{}, &u); err != nil {
			return crm.User{}, fmt.Errorf("loading user %s: %w", userID, err)
		}
	}
	next := crm.UserSuspended
	if u.Status == crm.UserSuspended {
		next = crm.UserOffline
	}
	return s.SetStatus(ctx, actor, userID, next)
}

func (s *Service) update(ctx context.Context, userID string, body map[string]any) (crm.User, error) {
	var updated crm.User
	if err := s.store.Update(ctx, crm.Users, userID, body, &updated); err != nil {
		return crm.User{}, fmt.Errorf("updating user %s: %w", userID, err)
	}
	s.list.Patch(userID, func(u *crm.User) { *u = updated })
	return updated, nil
}

// MemberInput holds the fields of a new team member.
type MemberInput struct {
	Email    string
	Password string
	Name     string
}

// AddMember creates an offline member account.
func (s *Service) AddMember(ctx context.Context, in MemberInput) (crm.User, error) {
	if in.Email == "" || in.Password == "" {
		return crm.User{}, fmt.Errorf("%w: email and password are required", crm.ErrValidation)
	}
	body := map[string]any{
		"email":           in.Email,
		"password":        in.Password,
		"passwordConfirm": in.Password,
		"name":            in.Name,
		"role":            string(crm.RoleMember),
		"status":          string(crm.UserOffline),
	}
	var created crm.User
	if err := s.store.Create(ctx, crm.Users, body, &created); err != nil {
		return crm.User{}, fmt.Errorf("adding member %s: %w", in.Email, err)
	}
	s.list.Prepend(created)
	return created, nil
}
