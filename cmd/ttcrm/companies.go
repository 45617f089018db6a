package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tableturnerr/ttcrm/internal/companies"
	"github.com/tableturnerr/ttcrm/internal/crm"
)

var companiesCmd = &cobra.Command{
	Use:     "companies",
	Aliases: []string{"company", "co"},
	Short:   "Browse and edit companies",
}

var companiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List companies",
	RunE: func(cmd *cobra.Command, args []string) error {
		search, _ := cmd.Flags().GetString("search")
		status, _ := cmd.Flags().GetString("status")
		sort, _ := cmd.Flags().GetString("sort")
		desc, _ := cmd.Flags().GetBool("desc")
		page, _ := cmd.Flags().GetInt("page")
		asJSON, _ := cmd.Flags().GetBool("json")

		q := companies.Query{Search: search, Status: crm.CompanyStatus(status), Sort: sort, Desc: desc}
		if err := q.Status.Validate(); err != nil {
			return err
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.companies.List(cmd.Context(), q, page)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), res)
		}
		if len(res.Items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No companies found.")
			return nil
		}

		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintln(tw, "ID\tCOMPANY\tOWNER\tSTATUS\tPHONES\tLAST CONTACTED")
		for _, c := range res.Items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				c.ID, clip(c.CompanyName, 40), orDash(c.OwnerName), orDash(string(c.Status)),
				orDash(c.PhoneNumbers), shortTime(c.LastContacted))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nPage %d of %d (%d companies)\n", res.Page, max(res.TotalPages, 1), res.TotalItems)
		return nil
	},
}

var companiesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a company with its phones, calls, notes and follow-ups",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.companies.Detail(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), d)
		}

		w := cmd.OutOrStdout()
		c := d.Company
		fmt.Fprintf(w, "%s  %s\n", colorize(colorBold, c.CompanyName), orDash(string(c.Status)))
		fmt.Fprintf(w, "  owner:     %s\n", orDash(c.OwnerName))
		fmt.Fprintf(w, "  location:  %s\n", orDash(c.Location))
		fmt.Fprintf(w, "  email:     %s\n", orDash(c.Email))
		fmt.Fprintf(w, "  instagram: %s\n", orDash(c.Instagram))
		fmt.Fprintf(w, "  contacted: %s (first %s)\n", shortTime(c.LastContacted), shortTime(c.FirstContacted))

		if len(d.Phones) > 0 {
			fmt.Fprintf(w, "\n%s\n", colorize(colorCyan, "Phones"))
			for _, p := range d.Phones {
				fmt.Fprintf(w, "  %s  %s  %s  last called %s\n", p.ID, p.PhoneNumber, orDash(p.Label), shortTime(p.LastCalled))
			}
		}
		if len(d.CallLogs) > 0 {
			fmt.Fprintf(w, "\n%s\n", colorize(colorCyan, "Calls"))
			for _, l := range d.CallLogs {
				fmt.Fprintf(w, "  %s  %s  interest %d  %s\n", shortTime(l.CallTime), l.Outcome, l.InterestLevel, clip(l.PostCallNotes, 60))
			}
		}
		if len(d.Notes) > 0 {
			fmt.Fprintf(w, "\n%s\n", colorize(colorCyan, "Notes"))
			for _, n := range d.Notes {
				fmt.Fprintf(w, "  %s  %s\n", shortTime(n.Created), clip(n.Content, 80))
			}
		}
		if len(d.FollowUps) > 0 {
			fmt.Fprintf(w, "\n%s\n", colorize(colorCyan, "Follow-ups"))
			for _, f := range d.FollowUps {
				fmt.Fprintf(w, "  %s  %s  %s  %s\n", f.ID, shortTime(f.ScheduledTime), f.Status, clip(f.Notes, 60))
			}
		}
		return nil
	},
}

var companiesSetCmd = &cobra.Command{
	Use:   "set <id> <field> <value>",
	Short: "Update one company field",
	Long:  "Update one company field. Editable fields: " + strings.Join(crm.CompanyFields, ", "),
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.companies.UpdateField(cmd.Context(), args[0], args[1], args[2]); err != nil {
			return err
		}
		printSuccess("Set %s = %s", args[1], args[2])
		return nil
	},
}

var companiesCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a company",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := companies.Input{CompanyName: args[0]}
		in.OwnerName, _ = cmd.Flags().GetString("owner")
		in.Location, _ = cmd.Flags().GetString("location")
		in.GoogleMapsLink, _ = cmd.Flags().GetString("maps")
		in.PhoneNumbers, _ = cmd.Flags().GetString("phones")
		in.Source, _ = cmd.Flags().GetString("source")
		in.Instagram, _ = cmd.Flags().GetString("instagram")
		in.Email, _ = cmd.Flags().GetString("email")
		in.Notes, _ = cmd.Flags().GetString("notes")
		status, _ := cmd.Flags().GetString("status")
		in.Status = crm.CompanyStatus(status)

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := a.companies.Create(cmd.Context(), in)
		if err != nil {
			return err
		}
		printSuccess("Created company %s (%s)", c.CompanyName, c.ID)
		return nil
	},
}

var companiesAddPhoneCmd = &cobra.Command{
	Use:   "add-phone <company-id> <number>",
	Short: "Add a phone number to a company",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := companies.PhoneInput{PhoneNumber: args[1]}
		in.Label, _ = cmd.Flags().GetString("label")
		in.LocationName, _ = cmd.Flags().GetString("location-name")
		in.LocationAddress, _ = cmd.Flags().GetString("address")
		in.ReceptionistName, _ = cmd.Flags().GetString("receptionist")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.companies.AddPhone(cmd.Context(), args[0], in)
		if err != nil {
			return err
		}
		printSuccess("Added phone %s (%s)", p.PhoneNumber, p.ID)
		return nil
	},
}

var companiesAddNoteCmd = &cobra.Command{
	Use:   "add-note <company-id> <text>",
	Short: "Add a pre-call note to a company",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		phone, _ := cmd.Flags().GetString("phone")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		note, receipt, err := a.companies.AddNote(cmd.Context(), args[0], phone, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		printSuccess("Added note %s", note.ID)
		if receipt.Pending {
			printWarning("Interaction queued for retry: %v", receipt.LastError)
		}
		return nil
	},
}

var companiesLogCallCmd = &cobra.Command{
	Use:   "log-call <company-id>",
	Short: "Log a finished call",
	Long: `Log a finished call. The call log is written first. Updating the
phone, the company and the interaction history follows, and is retried by the
outbox when the store is unreachable.

Examples:
  ttcrm companies log-call r1 --phone 555-0100 --outcome Interested --interest 8 --notes "wants a demo"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		phone, _ := cmd.Flags().GetString("phone")
		outcome, _ := cmd.Flags().GetString("outcome")
		at, _ := cmd.Flags().GetString("at")
		status, _ := cmd.Flags().GetString("status")

		in := companies.CallInput{Outcome: crm.CallOutcome(outcome), StatusChangedTo: crm.CompanyStatus(status)}
		in.InterestLevel, _ = cmd.Flags().GetInt("interest")
		in.Duration, _ = cmd.Flags().GetFloat64("duration")
		in.Notes, _ = cmd.Flags().GetString("notes")
		in.OwnerNameFound, _ = cmd.Flags().GetString("owner")
		in.ReceptionistName, _ = cmd.Flags().GetString("receptionist")
		in.HasRecording, _ = cmd.Flags().GetBool("recording")
		if at != "" {
			t, err := crm.ParseDateTime(at)
			if err != nil {
				return fmt.Errorf("%w: --at: %v", crm.ErrValidation, err)
			}
			in.CallTime = t.Time
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		phoneID, err := resolvePhone(cmd, a, phone)
		if err != nil {
			return err
		}
		res, err := a.companies.LogCall(cmd.Context(), args[0], phoneID, in)
		if err != nil {
			return err
		}
		printSuccess("Logged call %s", res.CallLog.ID)
		if res.Pending {
			printWarning("Follow-up updates queued as job %s: %s", res.JobID, res.LastError)
		}
		return nil
	},
}

// resolvePhone accepts a phone record id or a phone number.
func resolvePhone(cmd *cobra.Command, a *app, phone string) (string, error) {
	if !isPhoneNumber(phone) {
		return phone, nil
	}
	p, err := a.companies.FindPhone(cmd.Context(), phone)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

func isPhoneNumber(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && !strings.ContainsRune("+-() ", r) {
			return false
		}
	}
	return s != ""
}

var followUpCmd = &cobra.Command{
	Use:   "follow-up",
	Short: "Schedule and close follow-ups",
}

var followUpScheduleCmd = &cobra.Command{
	Use:   "schedule <company-id>",
	Short: "Schedule a follow-up call",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		at, _ := cmd.Flags().GetString("at")
		var in companies.FollowUpInput
		in.CallLog, _ = cmd.Flags().GetString("call-log")
		in.ClientTimezone, _ = cmd.Flags().GetString("timezone")
		in.AssignedTo, _ = cmd.Flags().GetString("assign")
		in.Notes, _ = cmd.Flags().GetString("notes")
		t, err := crm.ParseDateTime(at)
		if err != nil {
			return fmt.Errorf("%w: --at: %v", crm.ErrValidation, err)
		}
		in.ScheduledTime = t.Time

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := a.companies.ScheduleFollowUp(cmd.Context(), args[0], in)
		if err != nil {
			return err
		}
		printSuccess("Scheduled follow-up %s for %s", f.ID, f.ScheduledTime.Format(time.RFC1123))
		return nil
	},
}

var followUpCompleteCmd = &cobra.Command{
	Use:   "complete <follow-up-id>",
	Short: "Mark a follow-up as done",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.companies.CompleteFollowUp(cmd.Context(), args[0]); err != nil {
			return err
		}
		printSuccess("Completed follow-up %s", args[0])
		return nil
	},
}

var followUpDismissCmd = &cobra.Command{
	Use:   "dismiss <follow-up-id>",
	Short: "Dismiss a follow-up",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.companies.DismissFollowUp(cmd.Context(), args[0]); err != nil {
			return err
		}
		printSuccess("Dismissed follow-up %s", args[0])
		return nil
	},
}

func init() {
	companiesListCmd.Flags().String("search", "", "search name, owner, phones, instagram and email")
	companiesListCmd.Flags().String("status", "", "only companies with this status")
	companiesListCmd.Flags().String("sort", "", "sort field (default: newest first)")
	companiesListCmd.Flags().Bool("desc", false, "sort descending")
	companiesListCmd.Flags().Int("page", 1, "page number")
	companiesListCmd.Flags().Bool("json", false, "print JSON")

	companiesShowCmd.Flags().Bool("json", false, "print JSON")

	companiesCreateCmd.Flags().String("owner", "", "owner name")
	companiesCreateCmd.Flags().String("location", "", "company location")
	companiesCreateCmd.Flags().String("maps", "", "Google Maps link")
	companiesCreateCmd.Flags().String("phones", "", "phone numbers as text")
	companiesCreateCmd.Flags().String("source", "", "lead source")
	companiesCreateCmd.Flags().String("instagram", "", "instagram handle")
	companiesCreateCmd.Flags().String("email", "", "email address")
	companiesCreateCmd.Flags().String("status", "", "pipeline status")
	companiesCreateCmd.Flags().String("notes", "", "free-form notes")

	companiesAddPhoneCmd.Flags().String("label", "", "label such as Main or Owner cell")
	companiesAddPhoneCmd.Flags().String("location-name", "", "branch name")
	companiesAddPhoneCmd.Flags().String("address", "", "branch address")
	companiesAddPhoneCmd.Flags().String("receptionist", "", "receptionist name")

	companiesAddNoteCmd.Flags().String("phone", "", "phone record id the note is about")

	companiesLogCallCmd.Flags().String("phone", "", "phone record id or number called")
	companiesLogCallCmd.Flags().String("outcome", "", "call outcome")
	companiesLogCallCmd.Flags().Int("interest", 0, "interest level from 0 to 10")
	companiesLogCallCmd.Flags().Float64("duration", 0, "duration in seconds")
	companiesLogCallCmd.Flags().String("notes", "", "post-call notes")
	companiesLogCallCmd.Flags().String("owner", "", "owner name learned on the call")
	companiesLogCallCmd.Flags().String("receptionist", "", "receptionist name learned on the call")
	companiesLogCallCmd.Flags().String("status", "", "new company status")
	companiesLogCallCmd.Flags().String("at", "", "call time (default: now)")
	companiesLogCallCmd.Flags().Bool("recording", false, "the call was recorded")

	followUpScheduleCmd.Flags().String("at", "", "scheduled time, RFC 3339")
	followUpScheduleCmd.Flags().String("call-log", "", "call log the follow-up belongs to")
	followUpScheduleCmd.Flags().String("timezone", "", "client timezone")
	followUpScheduleCmd.Flags().String("assign", "", "user id to assign (default: you)")
	followUpScheduleCmd.Flags().String("notes", "", "notes")
	followUpCmd.AddCommand(followUpScheduleCmd, followUpCompleteCmd, followUpDismissCmd)

	companiesCmd.AddCommand(companiesListCmd, companiesShowCmd, companiesSetCmd, companiesCreateCmd,
		companiesAddPhoneCmd, companiesAddNoteCmd, companiesLogCallCmd, followUpCmd)
}
