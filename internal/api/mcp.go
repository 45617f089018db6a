package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tableturnerr/ttcrm/internal/coldcalls"
	"github.com/tableturnerr/ttcrm/internal/companies"
	"github.com/tableturnerr/ttcrm/internal/crm"
	"github.com/tableturnerr/ttcrm/internal/notes"
	"github.com/tableturnerr/ttcrm/internal/stats"
)

// JobCounter reports outbox job counts per status.
type JobCounter interface {
	CountJobs() (map[string]int, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Companies *companies.Service
	ColdCalls *coldcalls.Service
	Notes     *notes.Service
	Counter   stats.Counter
	Jobs      JobCounter // optional; if nil, the outbox resource is not registered
	Version   string
	Logger    *slog.Logger
}

// NewMCPServer creates an MCP server with the CRM tools and resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"ttcrm",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("ttcrm: search companies, log calls and work the cold call queue of the shared CRM."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_companies",
			mcp.WithDescription("Search companies by name, owner, phone, Instagram handle or email."),
			mcp.WithString("query", mcp.Description("Free-text search")),
			mcp.WithString("status", mcp.Description("Only companies with this status")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpSearchCompanies(deps),
	)

	s.AddTool(
		mcp.NewTool("get_company",
			mcp.WithDescription("Get a company with its phone numbers, call logs, notes, interactions and pending follow-ups."),
			mcp.WithString("id", mcp.Description("Company id"), mcp.Required()),
		),
		mcpGetCompany(deps),
	)

	s.AddTool(
		mcp.NewTool("log_call",
			mcp.WithDescription("Record a finished call against a company and one of its phone numbers."),
			mcp.WithString("company_id", mcp.Description("Company id"), mcp.Required()),
			mcp.WithString("phone_id", mcp.Description("Phone number record id")),
			mcp.WithString("outcome", mcp.Description("Call outcome"), mcp.Required()),
			mcp.WithNumber("interest_level", mcp.Description("Interest from 0 to 10")),
			mcp.WithNumber("duration", mcp.Description("Duration in seconds")),
			mcp.WithString("notes", mcp.Description("Post-call notes")),
			mcp.WithString("owner_name_found", mcp.Description("Owner name learned on the call")),
			mcp.WithString("receptionist_name", mcp.Description("Receptionist name learned on the call")),
			mcp.WithString("status_changed_to", mcp.Description("New company status")),
		),
		mcpLogCall(deps),
	)

	s.AddTool(
		mcp.NewTool("list_cold_calls",
			mcp.WithDescription("List analysed cold calls, newest first."),
			mcp.WithString("query", mcp.Description("Search company name, phone number or owner")),
			mcp.WithArray("outcomes", mcp.Description("Only these call outcomes"), mcp.Items(map[string]any{"type": "string"})),
			mcp.WithNumber("min_interest", mcp.Description("Minimum interest level")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
		),
		mcpListColdCalls(deps),
	)

	s.AddTool(
		mcp.NewTool("claim_cold_call",
			mcp.WithDescription("Claim a cold call for the session user, or release it."),
			mcp.WithString("id", mcp.Description("Cold call id"), mcp.Required()),
			mcp.WithBoolean("release", mcp.Description("Release the claim instead")),
		),
		mcpClaimColdCall(deps),
	)

	s.AddTool(
		mcp.NewTool("set_note_state",
			mcp.WithDescription("Move a note between active, archived and deleted."),
			mcp.WithString("id", mcp.Description("Note id"), mcp.Required()),
			mcp.WithString("state", mcp.Description("active, archived or deleted"), mcp.Required()),
		),
		mcpSetNoteState(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"crm://dashboard",
			"Dashboard",
			mcp.WithResourceDescription("Headline counts of the workspace"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceDashboard(deps),
	)

	if deps.Jobs != nil {
		s.AddResource(
			mcp.NewResource(
				"crm://outbox",
				"Outbox",
				mcp.WithResourceDescription("Queued side-effect jobs per status"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceOutbox(deps),
		)
	}

	return s
}

func mcpSearchCompanies(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := clampLimit(req.GetInt("limit", 10), 10)
		q := companies.Query{
			Search:  req.GetString("query", ""),
			Status:  crm.CompanyStatus(req.GetString("status", "")),
			PerPage: limit,
		}
		if err := q.Status.Validate(); err != nil {
			return mcpError(err.Error()), nil
		}
		page, err := deps.Companies.Fetch(ctx, q, 1)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		type companyResult struct {
			ID        string            `json:"id"`
			Name      string            `json:"company_name"`
			Owner     string            `json:"owner_name,omitempty"`
			Phones    string            `json:"phone_numbers,omitempty"`
			Status    crm.CompanyStatus `json:"status,omitempty"`
			Location  string            `json:"company_location,omitempty"`
			Contacted string            `json:"last_contacted,omitempty"`
		}
		results := make([]companyResult, len(page.Items))
		for i, c := range page.Items {
			results[i] = companyResult{
				ID:        c.ID,
				Name:      c.CompanyName,
				Owner:     c.OwnerName,
				Phones:    c.PhoneNumbers,
				Status:    c.Status,
				Location:  c.Location,
				Contacted: c.LastContacted.String(),
			}
		}
		return mcpJSON(results)
	}
}

func mcpGetCompany(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		d, err := deps.Companies.Detail(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load company: %v", err)), nil
		}
		return mcpJSON(d)
	}
}

func mcpLogCall(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		companyID, err := req.RequireString("company_id")
		if err != nil {
			return mcpError("company_id is required"), nil
		}
		outcome, err := req.RequireString("outcome")
		if err != nil {
			return mcpError("outcome is required"), nil
		}

		res, err := deps.Companies.LogCall(ctx, companyID, req.GetString("phone_id", ""), companies.CallInput{
			Duration:         req.GetFloat("duration", 0),
			Outcome:          crm.CallOutcome(outcome),
			OwnerNameFound:   req.GetString("owner_name_found", ""),
			ReceptionistName: req.GetString("receptionist_name", ""),
			Notes:            req.GetString("notes", ""),
			InterestLevel:    req.GetInt("interest_level", 0),
			StatusChangedTo:  crm.CompanyStatus(req.GetString("status_changed_to", "")),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to log call: %v", err)), nil
		}
		if res.Pending {
			return mcpText(fmt.Sprintf("Logged call %s; follow-up writes queued as job %s (%s)", res.CallLog.ID, res.JobID, res.LastError)), nil
		}
		return mcpText(fmt.Sprintf("Logged call %s", res.CallLog.ID)), nil
	}
}

func mcpListColdCalls(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q := coldcalls.Query{
			Search:      req.GetString("query", ""),
			MinInterest: req.GetInt("min_interest", 0),
			PerPage:     clampLimit(req.GetInt("limit", 20), 20),
		}
		for _, o := range req.GetStringSlice("outcomes", nil) {
			q.Outcomes = append(q.Outcomes, crm.CallOutcome(o))
		}
		page, err := deps.ColdCalls.Fetch(ctx, q, 1)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list cold calls: %v", err)), nil
		}

		type callResult struct {
			ID        string          `json:"id"`
			Company   string          `json:"company"`
			Phone     string          `json:"phone_number"`
			Outcome   crm.CallOutcome `json:"call_outcome"`
			Interest  int             `json:"interest_level"`
			Summary   string          `json:"call_summary"`
			ClaimedBy string          `json:"claimed_by,omitempty"`
			Created   string          `json:"created"`
		}
		results := make([]callResult, len(page.Items))
		for i, c := range page.Items {
			results[i] = callResult{
				ID:        c.ID,
				Company:   c.CompanyName(),
				Phone:     c.PhoneNumber,
				Outcome:   c.Outcome,
				Interest:  c.InterestLevel,
				Summary:   c.Summary,
				ClaimedBy: c.ClaimedByName(),
				Created:   c.Created.Time.Format(time.RFC3339),
			}
		}
		return mcpJSON(results)
	}
}

func mcpClaimColdCall(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		if req.GetBool("release", false) {
			if _, err := deps.ColdCalls.Release(ctx, id); err != nil {
				return mcpError(fmt.Sprintf("failed to release: %v", err)), nil
			}
			return mcpText(fmt.Sprintf("Released cold call %s", id)), nil
		}
		c, err := deps.ColdCalls.Claim(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to claim: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Claimed cold call %s for %s", id, c.ClaimedByName())), nil
	}
}

func mcpSetNoteState(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		state, err := req.RequireString("state")
		if err != nil {
			return mcpError("state is required"), nil
		}
		to, err := crm.ParseNoteState(state)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		if err := deps.Notes.SetState(ctx, id, to); err != nil {
			return mcpError(fmt.Sprintf("failed to set note state: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Note %s is now %s", id, to)), nil
	}
}

func mcpResourceDashboard(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		d, err := stats.LoadDashboard(ctx, deps.Counter, deps.Logger)
		if err != nil {
			return nil, fmt.Errorf("loading dashboard: %w", err)
		}
		return jsonResource(req.Params.URI, d)
	}
}

func mcpResourceOutbox(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		counts, err := deps.Jobs.CountJobs()
		if err != nil {
			return nil, fmt.Errorf("counting jobs: %w", err)
		}
		return jsonResource(req.Params.URI, counts)
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func clampLimit(n, def int) int {
	if n <= 0 {
		return def
	}
	if n > 50 {
		return 50
	}
	return n
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
