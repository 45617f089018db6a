package coldcalls

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/tableturnerr/ttcrm/internal/crm"
	"github.com/tableturnerr/ttcrm/internal/export"
	"github.com/tableturnerr/ttcrm/internal/pocketbase/pbtest"
)

func newTestService(t *testing.T) (*pbtest.Server, *Service) {
	t.Helper()
	srv := pbtest.NewServer(t)
	client := srv.NewClient("")
	rec, _ := json.Marshal(map[string]any{"id": "u1", "name": "Ana"})
	client.Auth().Save("token-u1", "u1", rec)
	now := func() time.Time { return time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC) }
	return srv, NewService(client, client.Auth(), WithLocation(time.UTC), WithClock(now))
}

func seedCalls(srv *pbtest.Server) {
	srv.Seed(crm.ColdCalls,
		map[string]any{
			"id": "call1", "created": "2025-06-01 10:00:00.000Z", "phone_number": "555-0100",
			"call_outcome": "Interested", "interest_level": 8, "owner_name": "Sam",
			"expand": map[string]any{"company": map[string]any{"id": "co1", "company_name": "Acme Co"}},
		},
		map[string]any{
			"id": "call2", "created": "2025-06-01 11:00:00.000Z", "phone_number": "555-0200",
			"call_outcome": "Callback", "interest_level": 3,
			"expand": map[string]any{"company": map[string]any{"id": "co2", "company_name": "Bistro"}},
		},
		map[string]any{
			"id": "call3", "created": "2025-06-01 12:00:00.000Z", "phone_number": "555-0300",
			"call_outcome": "No Answer", "interest_level": 0,
		},
	)
}

func TestQuery_Filter(t *testing.T) {
	tests := []struct {
		name string
		q    Query
		want string
	}{
		{"empty", Query{}, ""},
		{"search", Query{Search: "acme"}, `(expand.company.company_name ~ "acme" || phone_number ~ "acme" || owner_name ~ "acme")`},
		{"outcomes", Query{Outcomes: []crm.CallOutcome{crm.OutcomeInterested, crm.OutcomeCallback}},
			`(call_outcome = "Interested" || call_outcome = "Callback")`},
		{"interest", Query{MinInterest: 5}, `interest_level >= 5`},
		{"combined", Query{Search: "55", Outcomes: []crm.CallOutcome{crm.OutcomeInterested}, MinInterest: 1},
			`(expand.company.company_name ~ "55" || phone_number ~ "55" || owner_name ~ "55") && call_outcome = "Interested" && interest_level >= 1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.Filter(); got != tt.want {
				t.Errorf("Filter() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestList_FiltersAndDefaults(t *testing.T) {
	srv, svc := newTestService(t)
	seedCalls(srv)

	page, err := svc.List(context.Background(), Query{}, 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Items) != 3 || page.Items[0].ID != "call3" {
		t.Errorf("default list = %+v, want newest first", page.Items)
	}
	reqs := srv.Requests(http.MethodGet, crm.ColdCalls)
	last := reqs[len(reqs)-1]
	if last.Query["perPage"] != "20" || last.Query["expand"] != "company,claimed_by" || last.Query["sort"] != "-created" {
		t.Errorf("query = %v", last.Query)
	}

	page, err = svc.List(context.Background(), Query{Search: "acme"}, 1)
	if err != nil {
		t.Fatalf("List search: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].CompanyName() != "Acme Co" {
		t.Errorf("search result = %+v", page.Items)
	}

	page, err = svc.List(context.Background(), Query{MinInterest: 3}, 1)
	if err != nil {
		t.Fatalf("List interest: %v", err)
	}
	if len(page.Items) != 2 {
		t.Errorf("interest >= 3 gave %d calls, want 2", len(page.Items))
	}
}

func TestList_RejectsUnknownOutcome(t *testing.T) {
	_, svc := newTestService(t)
	_, err := svc.List(context.Background(), Query{Outcomes: []crm.CallOutcome{"Maybe"}}, 1)
	if err == nil || !strings.Contains(err.Error(), "invalid call outcome") {
		t.Errorf("err = %v, want invalid call outcome", err)
	}
}

func TestGet_WithAndWithoutTranscript(t *testing.T) {
	srv, svc := newTestService(t)
	seedCalls(srv)
	srv.Seed(crm.CallTranscripts, map[string]any{"call": "call1", "transcript": "Hello?"})

	d, err := svc.Get(context.Background(), "call1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d.Transcript == nil || d.Transcript.Transcript != "Hello?" {
		t.Errorf("transcript = %+v", d.Transcript)
	}

	d, err = svc.Get(context.Background(), "call2")
	if err != nil {
		t.Fatalf("Get call2: %v", err)
	}
	if d.Transcript != nil {
		t.Errorf("call2 transcript = %+v, want none", d.Transcript)
	}

	srv.Fail(http.MethodGet, crm.CallTranscripts, http.StatusNotFound, 1)
	d, err = svc.Get(context.Background(), "call1")
	if err != nil {
		t.Fatalf("Get with failing transcript lookup: %v", err)
	}
	if d.Call.ID != "call1" || d.Transcript != nil {
		t.Errorf("detail = %+v", d)
	}
}

func TestGet_MissingCall(t *testing.T) {
	_, svc := newTestService(t)
	if _, err := svc.Get(context.Background(), "nope"); err == nil {
		t.Fatal("Get of a missing call succeeded")
	}
}

func TestClaimAndRelease_PatchCache(t *testing.T) {
	srv, svc := newTestService(t)
	seedCalls(srv)
	if _, err := svc.List(context.Background(), Query{}, 1); err != nil {
		t.Fatalf("List: %v", err)
	}

	got, err := svc.Claim(context.Background(), "call1")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if got.ClaimedBy != "u1" || got.ClaimedByName() != "Ana" {
		t.Errorf("claimed call = %+v", got)
	}
	cached, _ := svc.Cached().Get("call1")
	if cached.ClaimedByName() != "Ana" || cached.CompanyName() != "Acme Co" {
		t.Errorf("cached call = %+v", cached)
	}
	if rec, _ := srv.Record(crm.ColdCalls, "call1"); rec["claimed_by"] != "u1" {
		t.Errorf("stored claimed_by = %v", rec["claimed_by"])
	}
	if ids := cacheIDs(svc); strings.Join(ids, ",") != "call3,call2,call1" {
		t.Errorf("cache order = %v", ids)
	}

	if _, err := svc.Release(context.Background(), "call1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	cached, _ = svc.Cached().Get("call1")
	if cached.ClaimedBy != "" || cached.Expand.ClaimedBy != nil {
		t.Errorf("released call = %+v", cached)
	}
}

func TestClaim_FailureLeavesCache(t *testing.T) {
	srv, svc := newTestService(t)
	seedCalls(srv)
	if _, err := svc.List(context.Background(), Query{}, 1); err != nil {
		t.Fatalf("List: %v", err)
	}
	srv.Fail(http.MethodPatch, crm.ColdCalls, http.StatusForbidden, 1)

	if _, err := svc.Claim(context.Background(), "call1"); err == nil {
		t.Fatal("Claim succeeded against a failing store")
	}
	cached, _ := svc.Cached().Get("call1")
	if cached.ClaimedBy != "" {
		t.Errorf("cache changed after failed claim: %+v", cached)
	}
}

func TestExport(t *testing.T) {
	srv, svc := newTestService(t)
	seedCalls(srv)
	page, err := svc.List(context.Background(), Query{Outcomes: []crm.CallOutcome{crm.OutcomeInterested}}, 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	var buf bytes.Buffer
	if err := svc.Export(&buf, page.Items, export.ModeLegacy); err != nil {
		t.Fatalf("Export: %v", err)
	}
	want := "Date,Company,Phone,Recipient,Outcome,Interest Level,Claimed By\nJun 1, 2025,Acme Co,555-0100,,Interested,8,"
	if buf.String() != want {
		t.Errorf("export = %q", buf.String())
	}
	if svc.Filename() != "cold-calls-2025-06-02.csv" {
		t.Errorf("Filename() = %q", svc.Filename())
	}
}

func cacheIDs(svc *Service) []string {
	var ids []string
	for _, c := range svc.Cached().Items() {
		ids = append(ids, c.ID)
	}
	return ids
}
