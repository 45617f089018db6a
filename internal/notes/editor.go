package notes

import (
	"context"
	"errors"
	"fmt"

	"github.com/tableturnerr/ttcrm/internal/crm"
	"github.com/tableturnerr/ttcrm/internal/storage"
)

// Editable note fields.
const (
	FieldTitle = "title"
	FieldText  = "note_text"
)

// DraftStore persists unsaved edits between runs.
type DraftStore interface {
	SaveDraft(d storage.Draft) error
	GetDraft(recordKey, field string) (storage.Draft, error)
	DeleteDraft(recordKey, field string) error
	DeleteDrafts(recordKey string) error
}

// Editor edits notes through local drafts. A draft shadows the stored value
// until it is saved or discarded.
type Editor struct {
	svc    *Service
	drafts DraftStore
}

func NewEditor(svc *Service, drafts DraftStore) *Editor {
	return &Editor{svc: svc, drafts: drafts}
}

func synced(n crm.Note, field string) (string, error) {
	switch field {
	case FieldTitle:
		return n.Title, nil
	case FieldText:
		return n.Text, nil
	}
	return "", fmt.Errorf("%w: unknown note field %q", crm.ErrValidation, field)
}

// Value returns what to show for field of n and whether it is an unsaved
// draft. A zero n stands for the note being created.
func (e *Editor) Value(n crm.Note, field string) (value string, dirty bool, err error) {
	stored, err := synced(n, field)
	if err != nil {
		return "", false, err
	}
	d, err := e.drafts.GetDraft(storage.DraftKey(n.ID), field)
	if errors.Is(err, storage.ErrNotFound) {
		return stored, false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading draft: %w", err)
	}
	return d.Value, true, nil
}

// Edit records value as the draft of field. Editing back to the stored
// value drops the draft.
func (e *Editor) Edit(n crm.Note, field, value string) error {
	stored, err := synced(n, field)
	if err != nil {
		return err
	}
	key := storage.DraftKey(n.ID)
	if value == stored {
		return e.drafts.DeleteDraft(key, field)
	}
	return e.drafts.SaveDraft(storage.Draft{RecordKey: key, Field: field, Value: value})
}

// Discard drops the drafts of n.
func (e *Editor) Discard(n crm.Note) error {
	if err := e.drafts.DeleteDrafts(storage.DraftKey(n.ID)); err != nil {
		return fmt.Errorf("discarding drafts: %w", err)
	}
	return nil
}

// Save writes the shown values of n. Drafts are removed only once the store
// confirmed the write.
func (e *Editor) Save(ctx context.Context, n crm.Note) (crm.Note, error) {
	title, _, err := e.Value(n, FieldTitle)
	if err != nil {
		return crm.Note{}, err
	}
	text, _, err := e.Value(n, FieldText)
	if err != nil {
		return crm.Note{}, err
	}
	saved, err := e.svc.Save(ctx, Input{ID: n.ID, Title: title, Text: text})
	if err != nil {
		return crm.Note{}, err
	}
	if err := e.Discard(n); err != nil {
		return saved, err
	}
	return saved, nil
}
