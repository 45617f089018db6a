package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tableturnerr/ttcrm/internal/crm"
	"github.com/tableturnerr/ttcrm/internal/pocketbase"
	"github.com/tableturnerr/ttcrm/internal/recordings"
)

var recordingsCmd = &cobra.Command{
	Use:     "recordings",
	Aliases: []string{"rec"},
	Short:   "Upload and manage call recordings",
}

var recordingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recordings, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		search, _ := cmd.Flags().GetString("search")
		page, _ := cmd.Flags().GetInt("page")
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.recordings.List(cmd.Context(), recordings.Query{Search: search}, page)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), res)
		}
		if len(res.Items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No recordings found.")
			return nil
		}

		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintln(tw, "ID\tRECORDED\tPHONE\tCOMPANY\tUPLOADER\tNOTE")
		for _, r := range res.Items {
			company, uploader := "", ""
			if r.Expand.Company != nil {
				company = r.Expand.Company.CompanyName
			}
			if r.Expand.Uploader != nil {
				uploader = displayName(*r.Expand.Uploader)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, shortTime(r.RecordingDate), orDash(r.PhoneNumber), orDash(clip(company, 30)),
				orDash(uploader), clip(r.Note, 40))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nPage %d of %d (%d recordings)\n", res.Page, max(res.TotalPages, 1), res.TotalItems)
		return nil
	},
}

var recordingsUploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload recordings",
	Long: `Upload audio files. Files named recording_<DD-MM-YYYY>_<HH-MM-SS>_<phone>
get their phone number and date from the name, read in recordings.timezone.
A file matching an already stored phone number and date is skipped.

Examples:
  ttcrm recordings upload ~/Calls/recording_01-06-2025_15-30-00_5550100.m4a
  ttcrm recordings upload --phone 555-0100 --note "demo call" call.mp3`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		phone, _ := cmd.Flags().GetString("phone")
		note, _ := cmd.Flags().GetString("note")
		callLog, _ := cmd.Flags().GetString("call-log")
		company, _ := cmd.Flags().GetString("company")
		at, _ := cmd.Flags().GetString("at")
		if len(args) > 1 && (phone != "" || at != "") {
			return fmt.Errorf("%w: --phone and --at apply to a single file", crm.ErrValidation)
		}

		uploads := make([]recordings.Upload, 0, len(args))
		for _, path := range args {
			u := recordings.FileUpload(path)
			u.PhoneNumber, u.Note, u.CallLog, u.Company = phone, note, callLog, company
			if at != "" {
				t, err := crm.ParseDateTime(at)
				if err != nil {
					return fmt.Errorf("%w: --at: %v", crm.ErrValidation, err)
				}
				u.RecordingDate = t.Time
			}
			uploads = append(uploads, u)
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		printStep("Uploading %d file(s)...", len(uploads))
		rep := a.recordings.UploadAll(cmd.Context(), uploads)
		for _, r := range rep.Uploaded {
			printSuccess("Uploaded %s (%s)", r.File, r.ID)
		}
		for _, name := range rep.Skipped {
			printWarning("Skipped %s: already uploaded", filepath.Base(name))
		}
		for _, f := range rep.Failed {
			printError("Failed %s: %v", f.Name, f.Err)
		}
		if len(rep.Failed) > 0 {
			return fmt.Errorf("%d of %d uploads failed", len(rep.Failed), len(uploads))
		}
		return nil
	},
}

var recordingsSetNoteCmd = &cobra.Command{
	Use:   "set-note <id> <note>",
	Short: "Replace the note of a recording",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.recordings.UpdateNote(cmd.Context(), args[0], strings.Join(args[1:], " ")); err != nil {
			return err
		}
		printSuccess("Updated note of %s", args[0])
		return nil
	},
}

var recordingsDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete recordings",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		deleted, err := a.recordings.DeleteAll(cmd.Context(), args)
		if len(deleted) > 0 {
			printSuccess("Deleted %d recording(s)", len(deleted))
		}
		return err
	},
}

var recordingsURLCmd = &cobra.Command{
	Use:   "url <id>",
	Short: "Print the download URL of a recording",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		var rec crm.Recording
		if err := a.client.One(cmd.Context(), crm.Recordings, args[0], pocketbase.ListOptions{}, &rec); err != nil {
			return fmt.Errorf("reading recording %s: %w", args[0], err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), a.recordings.FileURL(rec))
		return nil
	},
}

func init() {
	recordingsListCmd.Flags().String("search", "", "search phone number and note")
	recordingsListCmd.Flags().Int("page", 1, "page number")
	recordingsListCmd.Flags().Bool("json", false, "print JSON")

	recordingsUploadCmd.Flags().String("phone", "", "phone number (default: from the file name)")
	recordingsUploadCmd.Flags().String("at", "", "recording time (default: from the file name)")
	recordingsUploadCmd.Flags().String("note", "", "note")
	recordingsUploadCmd.Flags().String("call-log", "", "call log id to link")
	recordingsUploadCmd.Flags().String("company", "", "company id to link")

	recordingsCmd.AddCommand(recordingsListCmd, recordingsUploadCmd, recordingsSetNoteCmd, recordingsDeleteCmd, recordingsURLCmd)
}
