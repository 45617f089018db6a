package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tableturnerr/ttcrm/internal/crm"
	"github.com/tableturnerr/ttcrm/internal/notes"
	"github.com/tableturnerr/ttcrm/internal/pocketbase"
	"github.com/tableturnerr/ttcrm/internal/storage"
)

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Team notes",
}

var notesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notes in one tab",
	RunE: func(cmd *cobra.Command, args []string) error {
		stateName, _ := cmd.Flags().GetString("state")
		search, _ := cmd.Flags().GetString("search")
		asJSON, _ := cmd.Flags().GetBool("json")
		state, err := crm.ParseNoteState(stateName)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.notes.Refresh(cmd.Context()); err != nil {
			return err
		}
		items := a.notes.Filter(state, search)
		if asJSON {
			return printJSON(cmd.OutOrStdout(), items)
		}
		if len(items) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No %s notes.\n", state)
			return nil
		}

		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintln(tw, "ID\tUPDATED\tTITLE\tAUTHOR\tTEXT")
		for _, n := range items {
			author := ""
			if n.Expand.CreatedBy != nil {
				author = displayName(*n.Expand.CreatedBy)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				n.ID, shortTime(n.Updated), clip(n.Title, 30), orDash(author),
				clip(strings.ReplaceAll(n.Text, "\n", " "), 50))
		}
		return tw.Flush()
	},
}

var notesNewCmd = &cobra.Command{
	Use:   "new [text]",
	Short: "Write a new note",
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		text := strings.Join(args, " ")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		var n crm.Note
		if title != "" {
			if err := a.editor.Edit(n, notes.FieldTitle, title); err != nil {
				return err
			}
		}
		if text == "" {
			current, _, err := a.editor.Value(n, notes.FieldText)
			if err != nil {
				return err
			}
			if text, err = editText(current); err != nil {
				return err
			}
		}
		if err := a.editor.Edit(n, notes.FieldText, text); err != nil {
			return err
		}

		saved, err := a.editor.Save(cmd.Context(), n)
		if err != nil {
			printWarning("Your text is kept as a draft. Run `ttcrm notes draft --save new` to retry.")
			return err
		}
		printSuccess("Created note %s (%s)", saved.ID, saved.Title)
		return nil
	},
}

var notesEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit a note",
	Long: `Edit a note. Without --title or --text the note text opens in $EDITOR.
Edits are kept as local drafts until the store confirms the save, so nothing
is lost when saving fails.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetBool("draft")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := loadNote(cmd.Context(), a, args[0])
		if err != nil {
			return err
		}

		edited := false
		for _, field := range []struct{ flag, name string }{{"title", notes.FieldTitle}, {"text", notes.FieldText}} {
			if !cmd.Flags().Changed(field.flag) {
				continue
			}
			v, _ := cmd.Flags().GetString(field.flag)
			if err := a.editor.Edit(n, field.name, v); err != nil {
				return err
			}
			edited = true
		}
		if !edited {
			current, _, err := a.editor.Value(n, notes.FieldText)
			if err != nil {
				return err
			}
			text, err := editText(current)
			if err != nil {
				return err
			}
			if err := a.editor.Edit(n, notes.FieldText, text); err != nil {
				return err
			}
		}

		if keep {
			printSuccess("Draft saved for note %s", n.ID)
			return nil
		}
		if _, err := a.editor.Save(cmd.Context(), n); err != nil {
			printWarning("Your edits are kept as a draft. Run `ttcrm notes draft --save %s` to retry.", n.ID)
			return err
		}
		printSuccess("Saved note %s", n.ID)
		return nil
	},
}

var notesDraftCmd = &cobra.Command{
	Use:   "draft [id|new]",
	Short: "List, save or discard unsaved note edits",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		save, _ := cmd.Flags().GetBool("save")
		discard, _ := cmd.Flags().GetBool("discard")
		if (save || discard) && len(args) == 0 {
			return fmt.Errorf("%w: --save and --discard need a note id", crm.ErrValidation)
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 0 {
			drafts, err := a.store.ListDrafts("")
			if err != nil {
				return err
			}
			if len(drafts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No drafts.")
				return nil
			}
			return printDrafts(cmd, drafts)
		}

		var n crm.Note
		if args[0] != "new" {
			if n, err = loadNote(cmd.Context(), a, args[0]); err != nil {
				return err
			}
		}
		switch {
		case discard:
			if err := a.editor.Discard(n); err != nil {
				return err
			}
			printSuccess("Discarded drafts of %s", args[0])
		case save:
			saved, err := a.editor.Save(cmd.Context(), n)
			if err != nil {
				return err
			}
			printSuccess("Saved note %s", saved.ID)
		default:
			drafts, err := a.store.ListDrafts(storage.DraftKey(n.ID))
			if err != nil {
				return err
			}
			if len(drafts) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No drafts for %s.\n", args[0])
				return nil
			}
			return printDrafts(cmd, drafts)
		}
		return nil
	},
}

func printDrafts(cmd *cobra.Command, drafts []storage.Draft) error {
	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintln(tw, "NOTE\tFIELD\tEDITED\tVALUE")
	for _, d := range drafts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			strings.TrimPrefix(d.RecordKey, "unsaved_"),
			d.Field, ago(d.UpdatedAt), clip(strings.ReplaceAll(d.Value, "\n", " "), 50))
	}
	return tw.Flush()
}

// noteStateCmd returns a command that moves notes to state to.
func noteStateCmd(use, short, done string, to crm.NoteState) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			for _, id := range args {
				if err := a.notes.SetState(cmd.Context(), id, to); err != nil {
					return err
				}
				printSuccess("%s note %s", done, id)
			}
			return nil
		},
	}
}

var notesPurgeCmd = &cobra.Command{
	Use:   "purge <id>...",
	Short: "Permanently delete notes from the trash",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		for _, id := range args {
			if err := a.notes.Purge(cmd.Context(), id); err != nil {
				return err
			}
			printSuccess("Purged note %s", id)
		}
		return nil
	},
}

func loadNote(ctx context.Context, a *app, id string) (crm.Note, error) {
	var n crm.Note
	if err := a.client.One(ctx, crm.Notes, id, pocketbase.ListOptions{}, &n); err != nil {
		return crm.Note{}, fmt.Errorf("loading note %s: %w", id, err)
	}
	return n, nil
}

// editText opens initial in $EDITOR and returns the edited text.
var editText = func(initial string) (string, error) {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}

	tmpFile, err := os.CreateTemp("", "ttcrm-note-*.md")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.WriteString(initial); err != nil {
		tmpFile.Close()
		return "", err
	}
	tmpFile.Close()

	editorCmd := exec.Command(editor, tmpPath)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr
	if err := editorCmd.Run(); err != nil {
		return "", fmt.Errorf("editor exited with error: %w", err)
	}

	edited, err := os.ReadFile(tmpPath)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(edited), "\n"), nil
}

func init() {
	notesListCmd.Flags().String("state", "active", "tab to list: active, archived or deleted")
	notesListCmd.Flags().String("search", "", "search title and text")
	notesListCmd.Flags().Bool("json", false, "print JSON")

	notesNewCmd.Flags().String("title", "", "note title (default: Untitled)")

	notesEditCmd.Flags().String("title", "", "new title")
	notesEditCmd.Flags().String("text", "", "new text")
	notesEditCmd.Flags().Bool("draft", false, "keep the edit as a draft without saving")

	notesDraftCmd.Flags().Bool("save", false, "save the drafts of the note")
	notesDraftCmd.Flags().Bool("discard", false, "discard the drafts of the note")

	notesCmd.AddCommand(notesListCmd, notesNewCmd, notesEditCmd, notesDraftCmd,
		noteStateCmd("archive", "Archive notes", "Archived", crm.NoteArchived),
		noteStateCmd("unarchive", "Move archived notes back to active", "Unarchived", crm.NoteActive),
		noteStateCmd("delete", "Move notes to the trash", "Deleted", crm.NoteDeleted),
		noteStateCmd("restore", "Restore notes from the trash", "Restored", crm.NoteActive),
		notesPurgeCmd,
	)
}
