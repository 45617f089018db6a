package api

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tableturnerr/ttcrm/internal/coldcalls"
	"github.com/tableturnerr/ttcrm/internal/companies"
	"github.com/tableturnerr/ttcrm/internal/crm"
	"github.com/tableturnerr/ttcrm/internal/export"
	"github.com/tableturnerr/ttcrm/internal/metrics"
	"github.com/tableturnerr/ttcrm/internal/notes"
	"github.com/tableturnerr/ttcrm/internal/pocketbase"
	"github.com/tableturnerr/ttcrm/internal/recordings"
	"github.com/tableturnerr/ttcrm/internal/stats"
	"github.com/tableturnerr/ttcrm/internal/storage"
	"github.com/tableturnerr/ttcrm/internal/team"
	"github.com/tableturnerr/ttcrm/internal/view"
)

// JobStore exposes the outbox queue to the API.
type JobStore interface {
	ListJobs(status string, limit int) ([]storage.Job, error)
	CountJobs() (map[string]int, error)
	RetryJob(id string) error
}

// Drainer replays due outbox jobs.
type Drainer interface {
	Drain(ctx context.Context) (int, error)
}

type AppDeps struct {
	Auth       *pocketbase.AuthStore
	Companies  *companies.Service
	ColdCalls  *coldcalls.Service
	Recordings *recordings.Service
	Notes      *notes.Service
	Team       *team.Service
	Counter    stats.Counter
	Jobs       JobStore
	Worker     Drainer         // optional; if nil, POST /outbox/drain is not served
	Token      string
	Metrics    *metrics.Metrics  // optional; if nil, /metrics is not served
	MCP        *server.MCPServer // optional; if nil, /mcp is not served
	Logger     *slog.Logger
}

func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
		r.Handle("/metrics", deps.Metrics.Handler())
	}
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/companies", handleListCompanies(deps))
		r.Get("/companies/banner", handleBanner(deps.Companies, false))
		r.Delete("/companies/banner", handleBanner(deps.Companies, true))
		r.Post("/companies", handleCreateCompany(deps))
		r.Get("/companies/{id}", handleCompanyDetail(deps))
		r.Patch("/companies/{id}", handleUpdateCompany(deps))
		r.Post("/companies/{id}/phones", handleAddPhone(deps))
		r.Post("/companies/{id}/notes", handleAddCompanyNote(deps))
		r.Post("/companies/{id}/calls", handleLogCall(deps))
		r.Post("/companies/{id}/follow-ups", handleScheduleFollowUp(deps))
		r.Post("/follow-ups/{id}/complete", handleCloseFollowUp(deps, crm.FollowUpCompleted))
		r.Post("/follow-ups/{id}/dismiss", handleCloseFollowUp(deps, crm.FollowUpDismissed))

		r.Get("/cold-calls", handleListColdCalls(deps))
		r.Get("/cold-calls/export", handleExportColdCalls(deps))
		r.Get("/cold-calls/banner", handleBanner(deps.ColdCalls, false))
		r.Delete("/cold-calls/banner", handleBanner(deps.ColdCalls, true))
		r.Get("/cold-calls/{id}", handleGetColdCall(deps))
		r.Post("/cold-calls/{id}/claim", handleClaimColdCall(deps, true))
		r.Delete("/cold-calls/{id}/claim", handleClaimColdCall(deps, false))

		r.Get("/recordings", handleListRecordings(deps))
		r.Get("/recordings/banner", handleBanner(deps.Recordings, false))
		r.Delete("/recordings/banner", handleBanner(deps.Recordings, true))
		r.Patch("/recordings/{id}", handleUpdateRecordingNote(deps))
		r.Delete("/recordings/{id}", handleDeleteRecording(deps))

		r.Get("/notes", handleListNotes(deps))
		r.Post("/notes", handleSaveNote(deps))
		r.Put("/notes/{id}", handleSaveNote(deps))
		r.Post("/notes/{id}/state", handleSetNoteState(deps))
		r.Delete("/notes/{id}", handlePurgeNote(deps))

		r.Get("/team", handleListTeam(deps))
		r.Get("/team/actors", handleListActors(deps))
		r.Patch("/team/{id}", handleUpdateMember(deps))

		r.Get("/stats", handleStats(deps))
		r.Get("/outbox", handleListJobs(deps))
		r.Post("/outbox/{id}/retry", handleRetryJob(deps))
		if deps.Worker != nil {
			r.Post("/outbox/drain", handleDrain(deps))
		}

		if deps.MCP != nil {
			r.Handle("/mcp", server.NewStreamableHTTPServer(deps.MCP))
		}
	})

	return r
}

// --- companies ---

func handleListCompanies(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		query := companies.Query{
			Search:  q.Get("q"),
			Status:  crm.CompanyStatus(q.Get("status")),
			Sort:    q.Get("sort"),
			Desc:    q.Get("desc") == "true",
			PerPage: parseIntParam(r, "per_page", 0, 500),
		}
		if err := query.Status.Validate(); err != nil {
			writeErr(w, err)
			return
		}
		var (
			page view.Page[crm.Company]
			err  error
		)
		if id, ok := viewOf(r); ok {
			page, err = deps.Companies.ListView(r.Context(), id, query, pageParam(r))
		} else {
			page, err = deps.Companies.Fetch(r.Context(), query, pageParam(r))
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

type companyRequest struct {
	CompanyName    string            `json:"company_name"`
	OwnerName      string            `json:"owner_name"`
	Location       string            `json:"company_location"`
	GoogleMapsLink string            `json:"google_maps_link"`
	PhoneNumbers   string            `json:"phone_numbers"`
	Source         string            `json:"source"`
	Instagram      string            `json:"instagram_handle"`
	Email          string            `json:"email"`
	Status         crm.CompanyStatus `json:"status"`
	Notes          string            `json:"notes"`
	ContactSource  string            `json:"contact_source"`
}

func handleCreateCompany(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req companyRequest
		if !decode(w, r, &req) {
			return
		}
		c, err := deps.Companies.Create(r.Context(), companies.Input{
			CompanyName:    req.CompanyName,
			OwnerName:      req.OwnerName,
			Location:       req.Location,
			GoogleMapsLink: req.GoogleMapsLink,
			PhoneNumbers:   req.PhoneNumbers,
			Source:         req.Source,
			Instagram:      req.Instagram,
			Email:          req.Email,
			Status:         req.Status,
			Notes:          req.Notes,
			ContactSource:  req.ContactSource,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}
}

func handleCompanyDetail(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := deps.Companies.Detail(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func handleUpdateCompany(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Field string `json:"field"`
			Value string `json:"value"`
		}
		if !decode(w, r, &req) {
			return
		}
		c, err := deps.Companies.UpdateField(r.Context(), chi.URLParam(r, "id"), req.Field, req.Value)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func handleAddPhone(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PhoneNumber      string `json:"phone_number"`
			Label            string `json:"label"`
			LocationName     string `json:"location_name"`
			LocationAddress  string `json:"location_address"`
			ReceptionistName string `json:"receptionist_name"`
		}
		if !decode(w, r, &req) {
			return
		}
		p, err := deps.Companies.AddPhone(r.Context(), chi.URLParam(r, "id"), companies.PhoneInput{
			PhoneNumber:      req.PhoneNumber,
			Label:            req.Label,
			LocationName:     req.LocationName,
			LocationAddress:  req.LocationAddress,
			ReceptionistName: req.ReceptionistName,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func handleAddCompanyNote(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Phone   string `json:"phone_number_record"`
			Content string `json:"content"`
		}
		if !decode(w, r, &req) {
			return
		}
		note, rc, err := deps.Companies.AddNote(r.Context(), chi.URLParam(r, "id"), req.Phone, req.Content)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"note":    note,
			"job_id":  rc.JobID,
			"pending": rc.Pending,
		})
	}
}

type logCallRequest struct {
	Phone            string            `json:"phone_number_record"`
	CallTime         time.Time         `json:"call_time"`
	Duration         float64           `json:"duration"`
	Outcome          crm.CallOutcome   `json:"call_outcome"`
	OwnerNameFound   string            `json:"owner_name_found"`
	ReceptionistName string            `json:"receptionist_name"`
	Notes            string            `json:"post_call_notes"`
	InterestLevel    int               `json:"interest_level"`
	StatusChangedTo  crm.CompanyStatus `json:"status_changed_to"`
	HasRecording     bool              `json:"has_recording"`
}

func (req logCallRequest) input() companies.CallInput {
	return companies.CallInput{
		CallTime:         req.CallTime,
		Duration:         req.Duration,
		Outcome:          req.Outcome,
		OwnerNameFound:   req.OwnerNameFound,
		ReceptionistName: req.ReceptionistName,
		Notes:            req.Notes,
		InterestLevel:    req.InterestLevel,
		StatusChangedTo:  req.StatusChangedTo,
		HasRecording:     req.HasRecording,
	}
}

func handleLogCall(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req logCallRequest
		if !decode(w, r, &req) {
			return
		}
		res, err := deps.Companies.LogCall(r.Context(), chi.URLParam(r, "id"), req.Phone, req.input())
		if err != nil {
			writeErr(w, err)
			return
		}
		status := http.StatusCreated
		if res.Pending {
			status = http.StatusAccepted
		}
		writeJSON(w, status, res)
	}
}

func handleScheduleFollowUp(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			CallLog        string    `json:"call_log"`
			ScheduledTime  time.Time `json:"scheduled_time"`
			ClientTimezone string    `json:"client_timezone"`
			AssignedTo     string    `json:"assigned_to"`
			Notes          string    `json:"notes"`
		}
		if !decode(w, r, &req) {
			return
		}
		f, err := deps.Companies.ScheduleFollowUp(r.Context(), chi.URLParam(r, "id"), companies.FollowUpInput{
			CallLog:        req.CallLog,
			ScheduledTime:  req.ScheduledTime,
			ClientTimezone: req.ClientTimezone,
			AssignedTo:     req.AssignedTo,
			Notes:          req.Notes,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, f)
	}
}

func handleCloseFollowUp(deps AppDeps, status crm.FollowUpStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var (
			f   crm.FollowUp
			err error
		)
		if status == crm.FollowUpCompleted {
			f, err = deps.Companies.CompleteFollowUp(r.Context(), id)
		} else {
			f, err = deps.Companies.DismissFollowUp(r.Context(), id)
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, f)
	}
}

// --- cold calls ---

func coldCallQuery(r *http.Request) coldcalls.Query {
	q := r.URL.Query()
	query := coldcalls.Query{
		Search:      q.Get("q"),
		MinInterest: parseIntParam(r, "min_interest", 0, 0),
		Sort:        q.Get("sort"),
		Desc:        q.Get("desc") == "true",
		PerPage:     parseIntParam(r, "per_page", 0, 500),
	}
	for _, o := range strings.Split(q.Get("outcome"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			query.Outcomes = append(query.Outcomes, crm.CallOutcome(o))
		}
	}
	return query
}

func handleListColdCalls(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			page view.Page[crm.ColdCall]
			err  error
		)
		if id, ok := viewOf(r); ok {
			page, err = deps.ColdCalls.ListView(r.Context(), id, coldCallQuery(r), pageParam(r))
		} else {
			page, err = deps.ColdCalls.Fetch(r.Context(), coldCallQuery(r), pageParam(r))
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func handleExportColdCalls(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := deps.ColdCalls.Fetch(r.Context(), coldCallQuery(r), pageParam(r))
		if err != nil {
			writeErr(w, err)
			return
		}
		mode := export.ModeLegacy
		if r.URL.Query().Get("quote") == "true" {
			mode = export.ModeRFC4180
		}
		var buf bytes.Buffer
		if err := deps.ColdCalls.Export(&buf, page.Items, mode); err != nil {
			writeErr(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+deps.ColdCalls.Filename()+`"`)
		if _, err := buf.WriteTo(w); err != nil {
			deps.Logger.Warn("sending cold call export", "error", err)
		}
	}
}

func handleGetColdCall(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := deps.ColdCalls.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func handleClaimColdCall(deps AppDeps, claim bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var (
			c   crm.ColdCall
			err error
		)
		if claim {
			c, err = deps.ColdCalls.Claim(r.Context(), id)
		} else {
			c, err = deps.ColdCalls.Release(r.Context(), id)
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

// --- recordings ---

func handleListRecordings(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := recordings.Query{
			Search:  r.URL.Query().Get("q"),
			PerPage: parseIntParam(r, "per_page", 0, 500),
		}
		var (
			page view.Page[crm.Recording]
			err  error
		)
		if id, ok := viewOf(r); ok {
			page, err = deps.Recordings.ListView(r.Context(), id, query, pageParam(r))
		} else {
			page, err = deps.Recordings.Fetch(r.Context(), query, pageParam(r))
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func handleUpdateRecordingNote(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Note string `json:"note"`
		}
		if !decode(w, r, &req) {
			return
		}
		rec, err := deps.Recordings.UpdateNote(r.Context(), chi.URLParam(r, "id"), req.Note)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleDeleteRecording(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Recordings.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// --- notes ---

func handleListNotes(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tab := crm.NoteActive
		if s := r.URL.Query().Get("state"); s != "" {
			var err error
			if tab, err = crm.ParseNoteState(s); err != nil {
				writeErr(w, err)
				return
			}
		}
		if _, err := deps.Notes.Refresh(r.Context()); err != nil {
			writeErr(w, err)
			return
		}
		items := deps.Notes.Filter(tab, r.URL.Query().Get("q"))
		if items == nil {
			items = []crm.Note{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func handleSaveNote(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title string `json:"title"`
			Text  string `json:"note_text"`
		}
		if !decode(w, r, &req) {
			return
		}
		id := chi.URLParam(r, "id")
		n, err := deps.Notes.Save(r.Context(), notes.Input{ID: id, Title: req.Title, Text: req.Text})
		if err != nil {
			writeErr(w, err)
			return
		}
		status := http.StatusOK
		if id == "" {
			status = http.StatusCreated
		}
		writeJSON(w, status, n)
	}
}

func handleSetNoteState(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			State string `json:"state"`
		}
		if !decode(w, r, &req) {
			return
		}
		to, err := crm.ParseNoteState(req.State)
		if err != nil {
			writeErr(w, err)
			return
		}
		id := chi.URLParam(r, "id")
		if err := deps.Notes.SetState(r.Context(), id, to); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "state": to.String()})
	}
}

func handlePurgeNote(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Notes.Purge(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// --- team ---

func handleListTeam(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		members, err := deps.Team.ListWithStats(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, members)
	}
}

func handleListActors(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actors, err := deps.Team.ActorsWithStats(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, actors)
	}
}

func handleUpdateMember(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Role   crm.Role       `json:"role"`
			Status crm.UserStatus `json:"status"`
		}
		if !decode(w, r, &req) {
			return
		}
		id := chi.URLParam(r, "id")
		actor := deps.Auth.UserID()
		var (
			u   crm.User
			err error
		)
		switch {
		case req.Role != "":
			u, err = deps.Team.SetRole(r.Context(), actor, id, req.Role)
			if err == nil && req.Status != "" {
				u, err = deps.Team.SetStatus(r.Context(), actor, id, req.Status)
			}
		case req.Status != "":
			u, err = deps.Team.SetStatus(r.Context(), actor, id, req.Status)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "role or status is required")
			return
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

// --- stats and outbox ---

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := stats.LoadDashboard(r.Context(), deps.Counter, deps.Logger)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func handleListJobs(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := deps.Jobs.CountJobs()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count jobs: %v", err)
			return
		}
		jobs, err := deps.Jobs.ListJobs(r.URL.Query().Get("status"), parseIntParam(r, "limit", 20, 100))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list jobs: %v", err)
			return
		}
		if jobs == nil {
			jobs = []storage.Job{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"counts": counts, "jobs": jobs})
	}
}

func handleRetryJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Jobs.RetryJob(id); err != nil {
			if err == storage.ErrNotFound {
				httpError(w, http.StatusNotFound, "not_found", "no failed job %s", id)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to retry job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
	}
}

func handleDrain(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Worker.Drain(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"attempted": n})
	}
}

// viewHeader names the client view a list request belongs to. Requests of
// one view supersede each other; requests without it are stateless.
const viewHeader = "X-Ttcrm-View"

func viewOf(r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(viewHeader))
	return id, id != "" && len(id) <= 128
}

func pageParam(r *http.Request) int {
	return parseIntParam(r, "page", 1, 0)
}

type bannerView interface {
	Banner(viewID string) string
	DismissBanner(viewID string)
}

// handleBanner shows or dismisses the load error banner of the caller's view.
func handleBanner(b bannerView, dismiss bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := viewOf(r)
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "missing %s header", viewHeader)
			return
		}
		if dismiss {
			b.DismissBanner(id)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"banner": b.Banner(id)})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
