// Package notes implements the shared notepad: notes move between active,
// archived and deleted, and can be purged from the trash.
package notes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tableturnerr/ttcrm/internal/crm"
	"github.com/tableturnerr/ttcrm/internal/pocketbase"
	"github.com/tableturnerr/ttcrm/internal/view"
)

// ErrInvalidTransition is returned for a lifecycle change the current state
// does not allow.
var ErrInvalidTransition = fmt.Errorf("%w: invalid note transition", crm.ErrValidation)

const (
	listLimit    = 200
	defaultTitle = "Untitled"
)

var transitions = map[crm.NoteState][]crm.NoteState{
	crm.NoteActive:   {crm.NoteArchived, crm.NoteDeleted},
	crm.NoteArchived: {crm.NoteActive, crm.NoteDeleted},
	crm.NoteDeleted:  {crm.NoteActive},
}

// CanTransition reports whether a note in state from may move to state to.
func CanTransition(from, to crm.NoteState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transitionBody is the update that moves n to state to. Only the lifecycle
// flag changes, except that restoring a row flagged both archived and
// deleted also clears is_archived.
func transitionBody(n crm.Note, to crm.NoteState) (map[string]any, error) {
	from := n.State()
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}
	switch {
	case to == crm.NoteDeleted:
		return map[string]any{"is_deleted": true}, nil
	case from == crm.NoteDeleted:
		body := map[string]any{"is_deleted": false}
		if n.IsArchived {
			body["is_archived"] = false
		}
		return body, nil
	case to == crm.NoteArchived:
		return map[string]any{"is_archived": true}, nil
	default:
		return map[string]any{"is_archived": false}, nil
	}
}

type Service struct {
	store  pocketbase.Records
	auth   *pocketbase.AuthStore
	list   *view.List[crm.Note]
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(store pocketbase.Records, auth *pocketbase.AuthStore, opts ...Option) *Service {
	s := &Service{
		store:  store,
		auth:   auth,
		list:   view.NewList[crm.Note](),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cached returns the notes of the last refresh.
func (s *Service) Cached() *view.List[crm.Note] {
	return s.list
}

// Refresh reloads the most recently updated notes.
func (s *Service) Refresh(ctx context.Context) ([]crm.Note, error) {
	var items []crm.Note
	_, err := s.store.List(ctx, crm.Notes, pocketbase.ListOptions{
		Page:    1,
		PerPage: listLimit,
		Sort:    "-updated",
		Expand:  "created_by",
	}, &items)
	if err != nil {
		return nil, fmt.Errorf("loading notes: %w", err)
	}
	s.list.Replace(items)
	return s.list.Items(), nil
}

// Filter returns the cached notes in state tab whose title or text contains
// search, ignoring case.
func (s *Service) Filter(tab crm.NoteState, search string) []crm.Note {
	search = strings.ToLower(strings.TrimSpace(search))
	var out []crm.Note
	for _, n := range s.list.Items() {
		if n.State() != tab {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(n.Title), search) &&
			!strings.Contains(strings.ToLower(n.Text), search) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func (s *Service) Archive(ctx context.Context, id string) error {
	return s.SetState(ctx, id, crm.NoteArchived)
}

func (s *Service) Unarchive(ctx context.Context, id string) error {
	return s.SetState(ctx, id, crm.NoteActive)
}

// Delete moves a note to the trash.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.SetState(ctx, id, crm.NoteDeleted)
}

// Restore brings a note back from the trash.
func (s *Service) Restore(ctx context.Context, id string) error {
	return s.SetState(ctx, id, crm.NoteActive)
}

// SetState moves a note to state to and reloads the list.
func (s *Service) SetState(ctx context.Context, id string, to crm.NoteState) error {
	n, err := s.note(ctx, id)
	if err != nil {
		return err
	}
	body, err := transitionBody(n, to)
	if err != nil {
		return err
	}
	if err := s.store.Update(ctx, crm.Notes, id, body, nil); err != nil {
		return fmt.Errorf("moving note %s to %s: %w", id, to, err)
	}
	if _, err := s.Refresh(ctx); err != nil {
		return err
	}
	return nil
}

// Purge permanently deletes a note from the trash.
func (s *Service) Purge(ctx context.Context, id string) error {
	n, err := s.note(ctx, id)
	if err != nil {
		return err
	}
	if n.State() != crm.NoteDeleted {
		return fmt.Errorf("%w: only deleted notes can be purged", ErrInvalidTransition)
	}
	if err := s.store.Delete(ctx, crm.Notes, id); err != nil {
		return fmt.Errorf("purging note %s: %w", id, err)
	}
	if _, err := s.Refresh(ctx); err != nil {
		return err
	}
	return nil
}

// note returns the cached note, or reads it when it is not cached.
func (s *Service) note(ctx context.Context, id string) (crm.Note, error) {
	if n, ok := s.list.Get(id); ok {
		return n, nil
	}
	var n crm.Note
	if err := s.store.One(ctx, crm.Notes, id, pocketbase.ListOptions{}, &n); err != nil {
		return crm.Note{}, fmt.Errorf("loading note %s: %w", id, err)
	}
	return n, nil
}

// Input is the editable content of a note. An empty ID creates a note.
type Input struct {
	ID    string
	Title string
	Text  string
}

// Save creates or updates a note and reloads the list.
func (s *Service) Save(ctx context.Context, in Input) (crm.Note, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = defaultTitle
	}
	user := s.auth.UserID()
	body := map[string]any{
		"title":          title,
		"note_text":      in.Text,
		"last_edited_by": user,
	}

	var saved crm.Note
	if in.ID == "" {
		body["created_by"] = user
		body["is_archived"] = false
		body["is_deleted"] = false
		if err := s.store.Create(ctx, crm.Notes, body, &saved); err != nil {
			return crm.Note{}, fmt.Errorf("creating note: %w", err)
		}
	} else if err := s.store.Update(ctx, crm.Notes, in.ID, body, &saved); err != nil {
		return crm.Note{}, fmt.Errorf("saving note %s: %w", in.ID, err)
	}

	if _, err := s.Refresh(ctx); err != nil {
		s.logger.Warn("note saved but reload failed", "note", saved.ID, "error", err)
	}
	return saved, nil
}
