package companies

import (
	"context"
	"fmt"

	"github.com/tableturnerr/ttcrm/internal/crm"
	"github.com/tableturnerr/ttcrm/internal/pocketbase"
	"golang.org/x/sync/errgroup"
)

// Detail is a company with all of its child records.
type Detail struct {
	Company      crm.Company       `json:"company"`
	Phones       []crm.PhoneNumber `json:"phones"`
	CallLogs     []crm.CallLog     `json:"call_logs"`
	Notes        []crm.CompanyNote `json:"notes"`
	Interactions []crm.Interaction `json:"interactions"`
	FollowUps    []crm.FollowUp    `json:"follow_ups"`
}

// Detail loads a company and its children concurrently. Any failed read
// fails the whole detail.
func (s *Service) Detail(ctx context.Context, id string) (Detail, error) {
	var d Detail
	byCompany := pocketbase.Eq("company", id)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.store.One(gctx, crm.Companies, id, pocketbase.ListOptions{}, &d.Company)
	})
	g.Go(func() error {
		return s.store.FullList(gctx, crm.PhoneNumbers, pocketbase.ListOptions{
			Filter: byCompany, Sort: "created",
		}, &d.Phones)
	})
	g.Go(func() error {
		return s.store.FullList(gctx, crm.CallLogs, pocketbase.ListOptions{
			Filter: byCompany, Sort: "-call_time", Expand: "phone_number_record,caller",
		}, &d.CallLogs)
	})
	g.Go(func() error {
		return s.store.FullList(gctx, crm.CompanyNotes, pocketbase.ListOptions{
			Filter: byCompany, Sort: "-created", Expand: "created_by",
		}, &d.Notes)
	})
	g.Go(func() error {
		return s.store.FullList(gctx, crm.Interactions, pocketbase.ListOptions{
			Filter: byCompany, Sort: "-timestamp", Expand: "user",
		}, &d.Interactions)
	})
	g.Go(func() error {
		return s.store.FullList(gctx, crm.FollowUps, pocketbase.ListOptions{
			Filter: pocketbase.And(byCompany, pocketbase.Eq("status", string(crm.FollowUpPending))),
			Sort:   "scheduled_time",
		}, &d.FollowUps)
	})
	if err := g.Wait(); err != nil {
		return Detail{}, fmt.Errorf("loading company %s detail: %w", id, err)
	}
	return d, nil
}
