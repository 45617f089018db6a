package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tableturnerr/ttcrm/internal/coldcalls"
	"github.com/tableturnerr/ttcrm/internal/companies"
	"github.com/tableturnerr/ttcrm/internal/crm"
	"github.com/tableturnerr/ttcrm/internal/notes"
	"github.com/tableturnerr/ttcrm/internal/outbox"
	"github.com/tableturnerr/ttcrm/internal/pocketbase/pbtest"
	"github.com/tableturnerr/ttcrm/internal/storage"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *pbtest.Server) {
	t.Helper()
	srv := pbtest.NewServer(t)
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	client := srv.NewClient("user1")
	clock := func() time.Time { return testNow }
	return MCPDeps{
		Companies: companies.NewService(client, client.Auth(), outbox.New(store), companies.WithClock(clock)),
		ColdCalls: coldcalls.NewService(client, client.Auth(), coldcalls.WithClock(clock)),
		Notes:     notes.NewService(client, client.Auth()),
		Counter:   client,
		Jobs:      store,
	}, srv
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_SearchCompanies(t *testing.T) {
	deps, srv := newTestMCPDeps(t)
	srv.Seed(crm.Companies,
		map[string]any{"company_name": "Acme Co", "owner_name": "Lee", "status": "Warm"},
		map[string]any{"company_name": "Bistro", "status": "Cold No Reply"},
	)

	result, err := mcpSearchCompanies(deps)(context.Background(), makeCallToolRequest("search_companies", map[string]interface{}{
		"query": "lee",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var found []struct {
		ID   string `json:"id"`
		Name string `json:"company_name"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &found); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(found) != 1 || found[0].Name != "Acme Co" {
		t.Fatalf("found = %+v", found)
	}

	reqs := srv.Requests(http.MethodGet, crm.Companies)
	if got := reqs[len(reqs)-1].Query["perPage"]; got != "10" {
		t.Errorf("perPage = %s, want 10", got)
	}
}

func TestMCPTool_SearchCompanies_BadStatus(t *testing.T) {
	deps, srv := newTestMCPDeps(t)
	result, err := mcpSearchCompanies(deps)(context.Background(), makeCallToolRequest("search_companies", map[string]interface{}{
		"status": "Lukewarm",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if n := len(srv.Requests(http.MethodGet, crm.Companies)); n != 0 {
		t.Errorf("requests = %d, want 0", n)
	}
}

func TestMCPTool_GetCompany(t *testing.T) {
	deps, srv := newTestMCPDeps(t)
	id := srv.Seed(crm.Companies, map[string]any{"company_name": "Acme Co"})[0]
	srv.Seed(crm.PhoneNumbers, map[string]any{"company": id, "phone_number": "555-0100"})

	result, err := mcpGetCompany(deps)(context.Background(), makeCallToolRequest("get_company", map[string]interface{}{"id": id}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var d companies.Detail
	if err := json.Unmarshal([]byte(toolText(t, result)), &d); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if d.Company.CompanyName != "Acme Co" || len(d.Phones) != 1 {
		t.Errorf("detail = %+v", d)
	}
}

func TestMCPTool_GetCompany_MissingID(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	result, err := mcpGetCompany(deps)(context.Background(), makeCallToolRequest("get_company", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError || toolText(t, result) != "id is required" {
		t.Fatalf("result = %+v", result)
	}
}

func TestMCPTool_LogCall(t *testing.T) {
	deps, srv := newTestMCPDeps(t)
	companyID := srv.Seed(crm.Companies, map[string]any{"company_name": "Acme Co"})[0]
	phoneID := srv.Seed(crm.PhoneNumbers, map[string]any{"company": companyID, "phone_number": "555-0100"})[0]

	result, err := mcpLogCall(deps)(context.Background(), makeCallToolRequest("log_call", map[string]interface{}{
		"company_id":     companyID,
		"phone_id":       phoneID,
		"outcome":        "Interested",
		"interest_level": 8,
		"notes":          "wants a demo",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if !strings.HasPrefix(toolText(t, result), "Logged call ") {
		t.Errorf("text = %q", toolText(t, result))
	}

	logs := srv.Records(crm.CallLogs)
	if len(logs) != 1 || logs[0]["interest_level"] != float64(8) || logs[0]["call_time"] != "2025-06-01 10:30:00.000Z" {
		t.Errorf("call logs = %+v", logs)
	}
	inter := srv.Records(crm.Interactions)
	if len(inter) != 1 || inter[0]["summary"] != "Call: Interested - wants a demo..." {
		t.Errorf("interactions = %+v", inter)
	}
}

func TestMCPTool_LogCall_InvalidInterest(t *testing.T) {
	deps, srv := newTestMCPDeps(t)
	companyID := srv.Seed(crm.Companies, map[string]any{"company_name": "Acme Co"})[0]

	result, err := mcpLogCall(deps)(context.Background(), makeCallToolRequest("log_call", map[string]interface{}{
		"company_id":     companyID,
		"outcome":        "Interested",
		"interest_level": 11,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if n := len(srv.Records(crm.CallLogs)); n != 0 {
		t.Errorf("call logs = %d, want 0", n)
	}
}

func TestMCPTool_ListAndClaimColdCalls(t *testing.T) {
	deps, srv := newTestMCPDeps(t)
	ids := srv.Seed(crm.ColdCalls,
		map[string]any{"phone_number": "555-0100", "call_outcome": "Interested", "interest_level": 8},
		map[string]any{"phone_number": "555-0200", "call_outcome": "No Answer", "interest_level": 0},
	)

	result, err := mcpListColdCalls(deps)(context.Background(), makeCallToolRequest("list_cold_calls", map[string]interface{}{
		"outcomes":     []interface{}{"Interested", "Callback"},
		"min_interest": 5,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var calls []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &calls); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(calls) != 1 || calls[0].ID != ids[0] {
		t.Fatalf("calls = %+v", calls)
	}

	result, err = mcpClaimColdCall(deps)(context.Background(), makeCallToolRequest("claim_cold_call", map[string]interface{}{"id": ids[0]}))
	if err != nil || result.IsError {
		t.Fatalf("claim: %v %+v", err, result)
	}
	rec, _ := srv.Record(crm.ColdCalls, ids[0])
	if rec["claimed_by"] != "user1" {
		t.Errorf("claimed_by = %v", rec["claimed_by"])
	}

	result, err = mcpClaimColdCall(deps)(context.Background(), makeCallToolRequest("claim_cold_call", map[string]interface{}{"id": ids[0], "release": true}))
	if err != nil || result.IsError {
		t.Fatalf("release: %v %+v", err, result)
	}
	rec, _ = srv.Record(crm.ColdCalls, ids[0])
	if rec["claimed_by"] != "" {
		t.Errorf("claimed_by after release = %v", rec["claimed_by"])
	}
}

func TestMCPTool_SetNoteState(t *testing.T) {
	deps, srv := newTestMCPDeps(t)
	id := srv.Seed(crm.Notes, map[string]any{"title": "Pitch", "is_archived": false, "is_deleted": false})[0]

	result, err := mcpSetNoteState(deps)(context.Background(), makeCallToolRequest("set_note_state", map[string]interface{}{
		"id": id, "state": "deleted",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	rec, _ := srv.Record(crm.Notes, id)
	if rec["is_deleted"] != true || rec["deleted_at"] != "2025-06-01 10:30:00.000Z" {
		t.Errorf("note = %+v", rec)
	}

	// deleted -> archived is not a valid move.
	result, err = mcpSetNoteState(deps)(context.Background(), makeCallToolRequest("set_note_state", map[string]interface{}{
		"id": id, "state": "archived",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestMCPResource_Dashboard(t *testing.T) {
	deps, srv := newTestMCPDeps(t)
	srv.Seed(crm.Companies, map[string]any{"company_name": "Acme Co"})
	srv.Seed(crm.ColdCalls, map[string]any{"claimed_by": ""}, map[string]any{"claimed_by": "u2"})

	contents, err := mcpResourceDashboard(deps)(context.Background(), makeReadResourceRequest("crm://dashboard"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var d struct {
		Companies int `json:"companies"`
		ColdCalls int `json:"cold_calls"`
		Unclaimed int `json:"unclaimed_cold_calls"`
	}
	if err := json.Unmarshal([]byte(tc.Text), &d); err != nil {
		t.Fatalf("failed to parse resource: %v", err)
	}
	if d.Companies != 1 || d.ColdCalls != 2 || d.Unclaimed != 1 {
		t.Errorf("dashboard = %+v", d)
	}
}

func TestMCPResource_Outbox(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	contents, err := mcpResourceOutbox(deps)(context.Background(), makeReadResourceRequest("crm://outbox"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc := contents[0].(mcp.TextResourceContents)
	if !strings.Contains(tc.Text, `"pending":0`) {
		t.Errorf("outbox = %s", tc.Text)
	}
}

func TestNewMCPServer_RegistersTools(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	s := NewMCPServer(deps)

	msg := s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, name := range []string{"search_companies", "get_company", "log_call", "list_cold_calls", "claim_cold_call", "set_note_state"} {
		if !strings.Contains(string(b), `"name":"`+name+`"`) {
			t.Errorf("tool %s not registered", name)
		}
	}
}
