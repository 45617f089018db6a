// Package recordings uploads call recordings without creating duplicates and
// manages the stored ones.
package recordings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tableturnerr/ttcrm/internal/crm"
	"github.com/tableturnerr/ttcrm/internal/pocketbase"
	"github.com/tableturnerr/ttcrm/internal/view"
)

// ErrDuplicate is returned when a recording with the same phone number and
// recording date is already stored.
var ErrDuplicate = errors.New("recording already uploaded")

const (
	defaultPerPage     = 50
	defaultConcurrency = 4
	expand             = "uploader,company,phone_number_record"
)

// Store is the record store plus file URL building.
type Store interface {
	pocketbase.Records
	FileURL(collection, recordID, filename string) string
}

// Upload is one file to upload. Zero fields are filled from the file name
// when it follows the recorder's naming pattern.
type Upload struct {
	Name          string
	Open          func() (io.ReadCloser, error)
	PhoneNumber   string
	RecordingDate time.Time
	Note          string
	Duration      float64 // seconds
	CallLog       string
	Company       string
}

// FileUpload returns an upload of the file at path.
func FileUpload(path string) Upload {
	return Upload{
		Name: filepath.Base(path),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

// Failure is an upload that could not be completed.
type Failure struct {
	Name string `json:"name"`
	Err  error  `json:"-"`
}

// Report aggregates the outcome of UploadAll.
type Report struct {
	Uploaded []crm.Recording `json:"uploaded"`
	Skipped  []string        `json:"skipped"`
	Failed   []Failure       `json:"failed"`
}

// Query is the filter state of the recording list.
type Query struct {
	Search  string
	PerPage int
}

func (q Query) Key() string {
	return fmt.Sprintf("%s|%d", q.Search, q.PerPage)
}

func (q Query) Filter() string {
	return pocketbase.SearchAny(q.Search, "phone_number", "note")
}

type Service struct {
	store       Store
	auth        *pocketbase.AuthStore
	views       *view.Views[crm.Recording, Query]
	tokens      view.Tokens
	locks       keyedMutex
	loc         *time.Location
	concurrency int
	logger      *slog.Logger
}

type Option func(*Service)

// WithLocation sets the zone of times embedded in file names.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithConcurrency bounds the number of simultaneous uploads and deletes.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(store Store, auth *pocketbase.AuthStore, opts ...Option) *Service {
	loc, _ := ParseZone(DefaultZone)
	s := &Service{
		store:       store,
		auth:        auth,
		loc:         loc,
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.views = view.NewViews("Failed to load recordings", s.fetch)
	return s
}

// Resolve returns the metadata an upload will be stored with.
func (s *Service) Resolve(u Upload) Metadata {
	return Resolve(u, s.loc)
}

func (s *Service) Cached() *view.List[crm.Recording] {
	return s.views.Default().List()
}

// List loads one page of recordings into the default view, newest
// recording first.
func (s *Service) List(ctx context.Context, q Query, page int) (view.Page[crm.Recording], error) {
	return s.views.Default().Load(ctx, q, page)
}

// ListView is List for the client view viewID.
func (s *Service) ListView(ctx context.Context, viewID string, q Query, page int) (view.Page[crm.Recording], error) {
	return s.views.Get(viewID).Load(ctx, q, page)
}

// Fetch reads one page without touching any view.
func (s *Service) Fetch(ctx context.Context, q Query, page int) (view.Page[crm.Recording], error) {
	return view.FetchPage(ctx, s.fetch, q, page)
}

func (s *Service) Banner(viewID string) string {
	return s.views.Get(viewID).Banner()
}

func (s *Service) DismissBanner(viewID string) {
	s.views.Get(viewID).DismissBanner()
}

func (s *Service) fetch(ctx context.Context, q Query, page int) (view.Page[crm.Recording], error) {
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	var items []crm.Recording
	res, err := s.store.List(ctx, crm.Recordings, pocketbase.ListOptions{
		Page:    page,
		PerPage: perPage,
		Sort:    "-recording_date,-created",
		Filter:  q.Filter(),
		Expand:  expand,
	}, &items)
	if err != nil {
		return view.Page[crm.Recording]{}, fmt.Errorf("listing recordings: %w", err)
	}
	return view.Page[crm.Recording]{
		Items:      items,
		Page:       res.Page,
		PerPage:    res.PerPage,
		TotalItems: res.TotalItems,
		TotalPages: res.TotalPages,
	}, nil
}

// UploadAll uploads every file in parallel and reports the outcome of each
// once all have finished. Uploads of the same phone number and recording
// date are serialized so only the first of them is stored.
func (s *Service) UploadAll(ctx context.Context, uploads []Upload) Report {
	type result struct {
		rec crm.Recording
		err error
	}
	results := make([]result, len(uploads))
	sem := semaphore.NewWeighted(int64(s.concurrency))

	var wg sync.WaitGroup
	for i, u := range uploads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i].err = err
				return
			}
			defer sem.Release(1)
			results[i].rec, results[i].err = s.Upload(ctx, u)
		}()
	}
	wg.Wait()

	var rep Report
	for i, r := range results {
		name := uploads[i].Name
		switch {
		case r.err == nil:
			rep.Uploaded = append(rep.Uploaded, r.rec)
		case errors.Is(r.err, ErrDuplicate):
			rep.Skipped = append(rep.Skipped, name)
		default:
			s.logger.Warn("recording upload failed", "file", name, "error", r.err)
			rep.Failed = append(rep.Failed, Failure{Name: name, Err: r.err})
		}
	}
	return rep
}

// Upload stores one recording. It returns ErrDuplicate without uploading
// when a recording with the same phone number and date exists.
func (s *Service) Upload(ctx context.Context, u Upload) (crm.Recording, error) {
	meta := s.Resolve(u)
	if meta.PhoneNumber != "" && !meta.RecordingDate.IsZero() {
		unlock := s.locks.Lock(meta.PhoneNumber + "|" + crm.At(meta.RecordingDate).String())
		defer unlock()

		exists, err := s.exists(ctx, meta)
		if err != nil {
			return crm.Recording{}, fmt.Errorf("checking %s for duplicates: %w", u.Name, err)
		}
		if exists {
			return crm.Recording{}, fmt.Errorf("%s: %w", u.Name, ErrDuplicate)
		}
	}

	fields := map[string]string{"uploader": s.auth.UserID()}
	if u.CallLog != "" {
		fields["call_log"] = u.CallLog
	}
	if u.Company != "" {
		fields["company"] = u.Company
	}
	if meta.PhoneNumber != "" {
		fields["phone_number"] = meta.PhoneNumber
		s.link(ctx, meta.PhoneNumber, fields)
	}
	if !meta.RecordingDate.IsZero() {
		fields["recording_date"] = crm.At(meta.RecordingDate).String()
	}
	if meta.Note != "" {
		fields["note"] = meta.Note
	}
	if u.Duration > 0 {
		fields["duration"] = strconv.Itoa(int(math.Round(u.Duration)))
	}

	if u.Open == nil {
		return crm.Recording{}, fmt.Errorf("uploading %s: no content", u.Name)
	}
	f, err := u.Open()
	if err != nil {
		return crm.Recording{}, fmt.Errorf("opening %s: %w", u.Name, err)
	}
	defer f.Close()

	var rec crm.Recording
	form := pocketbase.Form{
		Fields: fields,
		Files:  []pocketbase.File{{Field: "file", Name: u.Name, Content: f}},
	}
	if err := s.store.CreateMultipart(ctx, crm.Recordings, form, &rec); err != nil {
		return crm.Recording{}, fmt.Errorf("uploading %s: %w", u.Name, err)
	}
	s.views.Prepend(rec)
	return rec, nil
}

func (s *Service) exists(ctx context.Context, meta Metadata) (bool, error) {
	filter := pocketbase.And(
		pocketbase.Eq("phone_number", meta.PhoneNumber),
		pocketbase.EqTime("recording_date", meta.RecordingDate),
	)
	var rec crm.Recording
	err := s.store.FirstListItem(ctx, crm.Recordings, pocketbase.ListOptions{Filter: filter, Fields: "id"}, &rec)
	if err == nil {
		return true, nil
	}
	if pocketbase.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// link points the recording at the phone_numbers record of number, and at
// its company unless one was given. An unknown number is kept as typed.
func (s *Service) link(ctx context.Context, number string, fields map[string]string) {
	var p crm.PhoneNumber
	err := s.store.FirstListItem(ctx, crm.PhoneNumbers, pocketbase.ListOptions{Filter: pocketbase.Eq("phone_number", number)}, &p)
	if err != nil {
		if !pocketbase.IsNotFound(err) {
			s.logger.Warn("phone lookup failed", "phone_number", number, "error", err)
		}
		return
	}
	fields["phone_number_record"] = p.ID
	fields["phone_number"] = p.PhoneNumber
	if _, ok := fields["company"]; !ok && p.Company != "" {
		fields["company"] = p.Company
	}
}

// UpdateNote rewrites the note of a recording.
func (s *Service) UpdateNote(ctx context.Context, id, note string) (crm.Recording, error) {
	var updated crm.Recording
	err := s.tokens.Guard(ctx, view.Key(id, "note"), func(ctx context.Context) error {
		return s.store.Update(ctx, crm.Recordings, id, map[string]any{"note": note}, &updated)
	}, func() {
		s.views.Patch(id, func(r *crm.Recording) {
			expand := r.Expand
			*r = updated
			r.Expand = expand
		})
	})
	if err != nil {
		return crm.Recording{}, fmt.Errorf("updating note of recording %s: %w", id, err)
	}
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, crm.Recordings, id); err != nil {
		return fmt.Errorf("deleting recording %s: %w", id, err)
	}
	s.views.Remove(id)
	return nil
}

// DeleteAll deletes recordings in parallel. Every id is attempted; the
// returned error joins the failures.
func (s *Service) DeleteAll(ctx context.Context, ids []string) (deleted []string, err error) {
	errs := make([]error, len(ids))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			errs[i] = s.Delete(ctx, id)
			return nil
		})
	}
	g.Wait()

	for i, id := range ids {
		if errs[i] == nil {
			deleted = append(deleted, id)
		}
	}
	return deleted, errors.Join(errs...)
}

// FileURL returns the download URL of a recording's audio.
func (s *Service) FileURL(rec crm.Recording) string {
	return s.store.FileURL(crm.Recordings, rec.ID, rec.File)
}
